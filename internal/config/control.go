package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// ControlPlaneConfig configures the admin REST API that operators use to
// flip flags, set overrides and drive rollouts.
type ControlPlaneConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// APIKeyHash is the hex SHA-256 of the key accepted in X-API-Key or a
	// Bearer token. Empty disables authentication outside production.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate checks the listen address and, in production, that rollout
// mutations cannot be made without a key or over plain HTTP. A disabled
// control plane is not checked.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if !c.Enabled {
		return nil
	}
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if c.APIKeyHash == "" {
			return fmt.Errorf("API key hash is required in production environment")
		}
		if !c.TLSEnabled {
			return fmt.Errorf("TLS must be enabled in production environment")
		}
	}
	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if c.TLSEnabled {
		if c.TLSCert == "" || c.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		for _, f := range []string{c.TLSCert, c.TLSKey} {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("control plane TLS: %w", err)
			}
		}
	}
	return nil
}

func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
