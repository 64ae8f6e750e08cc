package config

import (
	"time"
)

// DataPlaneConfig configures the gRPC server that publishes integration
// and rollout health through the grpc.health.v1 protocol. Load balancers and
// deploy tooling watch integration.<name> and rollout.<flag> services on it.
type DataPlaneConfig struct {
	// Enabled starts the health publisher; Reflection exposes it to grpcurl.
	Enabled    bool `envconfig:"ENABLED" default:"true"`
	Reflection bool `envconfig:"REFLECTION" default:"false"`

	Port string `envconfig:"PORT" default:"50051"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Watch streams are long lived: one per watched service per client.
	MaxConcurrentStreams uint32        `envconfig:"MAX_CONCURRENT_STREAMS" default:"100"`
	KeepaliveTime        time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout     time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge     time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`
}

// Validate checks the listen address. A disabled data plane is not checked.
func (c *DataPlaneConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validatePort(c.Port, "data plane"); err != nil {
		return err
	}
	return validateHost(c.Host, "data plane")
}
