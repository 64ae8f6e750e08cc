package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfigCommand(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    []string
		wantErr string
	}{
		{
			name: "defaults",
			want: []string{"configuration ok", "storage:       memory", "flags:         0", "target stage:  FULL"},
		},
		{
			name: "flag file and endpoints",
			env: map[string]string{
				"FEATUREGATE_FLAGS_FILE":            "", // set below
				"FEATUREGATE_INTEGRATION_ENDPOINTS": "new_checkout=http://payments.internal/health",
				"FEATUREGATE_ROLLOUT_TARGET_STAGE":  "HALF",
			},
			want: []string{"flags:         2", "integrations:  1", "target stage:  HALF"},
		},
		{
			name:    "unknown target stage",
			env:     map[string]string{"FEATUREGATE_ROLLOUT_TARGET_STAGE": "EVERYONE"},
			wantErr: "rollout defaults",
		},
		{
			name:    "endpoint without scheme",
			env:     map[string]string{"FEATUREGATE_INTEGRATION_ENDPOINTS": "new_checkout=payments.internal"},
			wantErr: "integration endpoint for flag new_checkout",
		},
		{
			name:    "threshold out of range",
			env:     map[string]string{"FEATUREGATE_ROLLOUT_ERROR_THRESHOLD": "1.5"},
			wantErr: "config validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				if k == "FEATUREGATE_FLAGS_FILE" {
					v = writeFlagFile(t, testFlags)
				}
				t.Setenv(k, v)
			}

			out, err := run(t, New(), "check-config")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}
