package rollout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/rollout"
)

func TestDefaultStages(t *testing.T) {
	t.Parallel()

	stages := rollout.DefaultStages()
	require.NoError(t, rollout.ValidateStages(stages))

	names := make([]string, 0, len(stages))
	percents := make([]int, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name)
		percents = append(percents, s.Percent)
	}
	assert.Equal(t, []string{"DISABLED", "INTERNAL", "BETA", "CANARY", "EARLY", "HALF", "FULL"}, names)
	assert.Equal(t, []int{0, 1, 5, 10, 25, 50, 100}, percents)
	assert.Equal(t, []string{"internal", "beta"}, stages[2].Cohorts)
}

func TestValidateStages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stages  []rollout.Stage
		wantErr bool
	}{
		{
			name:   "two stages",
			stages: []rollout.Stage{{Name: "OFF", Percent: 0}, {Name: "ON", Percent: 100}},
		},
		{
			name:    "single stage",
			stages:  []rollout.Stage{{Name: "ON", Percent: 100}},
			wantErr: true,
		},
		{
			name:    "does not start at zero",
			stages:  []rollout.Stage{{Name: "A", Percent: 5}, {Name: "B", Percent: 100}},
			wantErr: true,
		},
		{
			name:    "does not end at hundred",
			stages:  []rollout.Stage{{Name: "A", Percent: 0}, {Name: "B", Percent: 50}},
			wantErr: true,
		},
		{
			name:    "not strictly increasing",
			stages:  []rollout.Stage{{Name: "A", Percent: 0}, {Name: "B", Percent: 10}, {Name: "C", Percent: 10}, {Name: "D", Percent: 100}},
			wantErr: true,
		},
		{
			name:    "duplicate name",
			stages:  []rollout.Stage{{Name: "A", Percent: 0}, {Name: "A", Percent: 100}},
			wantErr: true,
		},
		{
			name:    "empty name",
			stages:  []rollout.Stage{{Name: "A", Percent: 0}, {Name: "", Percent: 100}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := rollout.ValidateStages(tt.stages)

			if tt.wantErr {
				assert.ErrorIs(t, err, rollout.ErrInvalidStages)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
