package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig wraps every rejection of run parameters. It is
	// returned before any step executes.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStopped is returned by Step once the integrator is stopped.
	ErrStopped = errors.New("integrator stopped")

	// ErrNotInitialized is returned by a zero-value Integrator.
	ErrNotInitialized = errors.New("integrator not initialized")
)

// NumericInstabilityError reports the first non-finite population state.
// The step that produced it is discarded; Last holds the populations as they
// were after the last good step.
type NumericInstabilityError struct {
	// Step is the number of the failing step, counting from 1.
	Step       int
	Time       float64
	Population string
	Index      int
	Value      float64
	Last       Snapshot
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability at step %d (t=%g): %s[%d] = %v",
		e.Step, e.Time, e.Population, e.Index, e.Value)
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
