package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RedisConfig connects the redis storage backend. Either URL or Host and Port
// must be set.
type RedisConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// The store issues one command per override or plan write, so a small pool is enough.
	PoolSize        int           `envconfig:"POOL_SIZE" default:"10" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"2" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Startup ping, retried with doubling backoff.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address is what redis.Options.Addr expects: the URL when set, host:port otherwise.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Host + ":" + c.Port
}

// Validate is called only when the redis storage backend is selected.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else {
		if err := validateHost(c.Host, "redis"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "redis"); err != nil {
			return err
		}
		if environment == EnvironmentProduction {
			if c.Password == "" {
				return fmt.Errorf("redis password is required in production environment")
			}
			if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
				return err
			}
			if !c.TLSEnabled {
				return fmt.Errorf("redis TLS must be enabled in production environment")
			}
		}
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("redis min idle conns (%d) cannot exceed pool size (%d)", c.MinIdleConns, c.PoolSize)
	}
	return nil
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// validateRedisURL accepts redis:// and rediss:// URLs with an optional /<db> path.
func validateRedisURL(redisURL string) error {
	parsed, err := parseAndValidateURL(redisURL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	db := strings.Trim(parsed.Path, "/")
	if db == "" {
		return nil
	}
	n, err := strconv.Atoi(db)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", db)
	}
	if n < 0 || n > 15 {
		return fmt.Errorf("database number must be between 0 and 15, got %d", n)
	}
	return nil
}
