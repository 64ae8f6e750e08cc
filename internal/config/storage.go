package config

import (
	"fmt"
	"time"
)

// StorageConfig selects the persisted key-value backend used for overrides,
// rollout plans, rollout history and integration entity maps.
type StorageConfig struct {
	Backend   string `envconfig:"BACKEND" default:"memory" validate:"oneof=memory redis postgres"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"featuregate"`

	// L1 is an in-process otter cache placed in front of remote backends.
	// A capacity of 0 disables it.
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"1000" validate:"min=0"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"30s"`

	// OperationTimeout bounds every single read or write against the backend.
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"2s"`
}

// Validate checks StorageConfig fields that tags cannot express.
func (s *StorageConfig) Validate() error {
	if err := validateNoWhitespace(s.KeyPrefix, "storage key prefix"); err != nil {
		return err
	}
	if s.L1Capacity > 0 && s.L1TTL <= 0 {
		return fmt.Errorf("storage L1 TTL must be positive when the L1 cache is enabled")
	}
	if s.OperationTimeout <= 0 {
		return fmt.Errorf("storage operation timeout must be positive")
	}
	return nil
}

// AuditConfig selects the read-only audit source consulted for error rates.
type AuditConfig struct {
	Backend string `envconfig:"BACKEND" default:"memory" validate:"oneof=memory postgres"`

	// Window is the look-back period used when computing error rates.
	Window time.Duration `envconfig:"WINDOW" default:"1h"`

	// MemoryCapacity bounds the in-process audit log.
	MemoryCapacity int `envconfig:"MEMORY_CAPACITY" default:"10000" validate:"min=1"`
}
