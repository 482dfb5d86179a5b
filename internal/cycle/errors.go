package cycle

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCycleFinished     = errors.New("cycle is finished")
	ErrEventNotEditable  = errors.New("event cannot be edited")
	ErrEventNotDeletable = errors.New("event cannot be deleted")
	// ErrStaleAggregate means an event write succeeded but the cycle's
	// derived fields could not be updated. RecomputeAggregate repairs it.
	ErrStaleAggregate = errors.New("cycle aggregate is stale")
)

// ValidationError rejects user input before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
