package config

import (
	"fmt"
	"strings"
	"time"
)

// IntegrationConfig holds the retry policy applied to integrations registered at startup.
type IntegrationConfig struct {
	MaxRetries int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0,max=30"`
	BaseDelay  time.Duration `envconfig:"BASE_DELAY" default:"1s"`

	// Endpoints maps a flag name to an HTTP health URL. Each entry becomes an
	// integration named after the URL host, gated by that flag.
	Endpoints EndpointMap `envconfig:"ENDPOINTS"`

	// HealthReportInterval controls how often integration health is published over gRPC.
	HealthReportInterval time.Duration `envconfig:"HEALTH_REPORT_INTERVAL" default:"15s"`
}

// EndpointMap is decoded from comma-separated flag=url pairs, e.g.
// "export_pdf=http://pdf.local/healthz,calendar_sync=https://cal.local/ping".
// envconfig's own map syntax splits on ':' and cannot carry URLs.
type EndpointMap map[string]string

// Decode implements envconfig.Decoder.
func (m *EndpointMap) Decode(value string) error {
	out := make(EndpointMap)
	for pair := range strings.SplitSeq(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		flag, rawURL, ok := strings.Cut(pair, "=")
		flag, rawURL = strings.TrimSpace(flag), strings.TrimSpace(rawURL)
		if !ok || flag == "" || rawURL == "" {
			return fmt.Errorf("invalid endpoint %q: want flag=url", pair)
		}
		if _, dup := out[flag]; dup {
			return fmt.Errorf("flag %q has more than one endpoint", flag)
		}
		out[flag] = rawURL
	}
	*m = out
	return nil
}

// RolloutConfig holds the default options for new rollout plans.
type RolloutConfig struct {
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"60s"`
	ErrorThreshold      float64       `envconfig:"ERROR_THRESHOLD" default:"0.05"`
	MinSampleSize       int           `envconfig:"MIN_SAMPLE_SIZE" default:"10" validate:"min=0"`
	PauseOnError        bool          `envconfig:"PAUSE_ON_ERROR" default:"true"`
	AutoAdvance         bool          `envconfig:"AUTO_ADVANCE" default:"false"`
	RollbackOnFailure   bool          `envconfig:"ROLLBACK_ON_FAILURE" default:"false"`
	TargetStage         string        `envconfig:"TARGET_STAGE" default:"FULL"`
}

// Validate checks RolloutConfig fields for correctness.
func (r *RolloutConfig) Validate() error {
	if r.HealthCheckInterval < 10*time.Millisecond {
		return fmt.Errorf("rollout health check interval must be at least 10ms, got %s", r.HealthCheckInterval)
	}
	if r.ErrorThreshold < 0 || r.ErrorThreshold > 1 {
		return fmt.Errorf("rollout error threshold must be between 0 and 1, got %v", r.ErrorThreshold)
	}
	if err := validateNoWhitespace(r.TargetStage, "rollout target stage"); err != nil {
		return err
	}
	return nil
}
