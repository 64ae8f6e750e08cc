// Package rollout implements the rollout engine: staged increases of a flag's
// rollout percentage driven by a recurring, per-flag health check that can
// pause or roll back the rollout on its own.
package rollout

import (
	"fmt"
	"slices"
)

// Stage names of the default stage list.
const (
	StageDisabled = "DISABLED"
	StageInternal = "INTERNAL"
	StageBeta     = "BETA"
	StageCanary   = "CANARY"
	StageEarly    = "EARLY"
	StageHalf     = "HALF"
	StageFull     = "FULL"
)

// Cohorts referenced by the default stage list.
const (
	CohortInternal = "internal"
	CohortBeta     = "beta"
)

// Stage is one step of a rollout. Applying a stage sets the flag's percentage
// to Percent and its allowlist to Cohorts.
type Stage struct {
	Name    string   `json:"name" yaml:"name"`
	Percent int      `json:"percent" yaml:"percent"`
	Cohorts []string `json:"cohorts,omitempty" yaml:"cohorts"`
}

// DefaultStages returns the built-in progression from DISABLED (0%) to FULL (100%).
func DefaultStages() []Stage {
	return []Stage{
		{Name: StageDisabled, Percent: 0},
		{Name: StageInternal, Percent: 1, Cohorts: []string{CohortInternal}},
		{Name: StageBeta, Percent: 5, Cohorts: []string{CohortInternal, CohortBeta}},
		{Name: StageCanary, Percent: 10, Cohorts: []string{"all"}},
		{Name: StageEarly, Percent: 25, Cohorts: []string{"all"}},
		{Name: StageHalf, Percent: 50, Cohorts: []string{"all"}},
		{Name: StageFull, Percent: 100, Cohorts: []string{"all"}},
	}
}

// ValidateStages checks a custom stage list: it must start at 0%, end at 100%,
// increase strictly and use unique, non-empty names.
func ValidateStages(stages []Stage) error {
	if len(stages) < 2 {
		return fmt.Errorf("%w: need at least 2 stages, got %d", ErrInvalidStages, len(stages))
	}
	if stages[0].Percent != 0 {
		return fmt.Errorf("%w: first stage %q must be 0%%", ErrInvalidStages, stages[0].Name)
	}
	if last := stages[len(stages)-1]; last.Percent != 100 {
		return fmt.Errorf("%w: last stage %q must be 100%%", ErrInvalidStages, last.Name)
	}

	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidStages, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidStages, s.Name)
		}
		seen[s.Name] = struct{}{}
		if i > 0 && s.Percent <= stages[i-1].Percent {
			return fmt.Errorf("%w: stage %q (%d%%) does not increase on %q (%d%%)",
				ErrInvalidStages, s.Name, s.Percent, stages[i-1].Name, stages[i-1].Percent)
		}
	}
	return nil
}

// stageList is a validated, ordered stage list.
type stageList []Stage

func (l stageList) index(name string) int {
	return slices.IndexFunc(l, func(s Stage) bool { return s.Name == name })
}

func (l stageList) lookup(name string) (Stage, error) {
	i := l.index(name)
	if i < 0 {
		return Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return l[i], nil
}

// next returns the successor of name. ok is false at the last stage.
func (l stageList) next(name string) (Stage, bool) {
	i := l.index(name)
	if i < 0 || i+1 >= len(l) {
		return Stage{}, false
	}
	return l[i+1], true
}

func (l stageList) first() Stage { return l[0] }

func (l stageList) last() Stage { return l[len(l)-1] }
