package flags

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a flag record against the configuration invariants:
// a non-empty name, a percentage in [0,100] and a window that does not end
// before it starts.
func Validate(f FeatureFlag) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidFlag, f.Name, err)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return fmt.Errorf("%w %q: end date %s is before start date %s",
			ErrInvalidFlag, f.Name, f.EndDate.Format(time.RFC3339), f.StartDate.Format(time.RFC3339))
	}
	return nil
}
