package lifecycle

import (
	"errors"
	"fmt"

	"qms/frontdesk-service/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStorage            = errors.New("storage failure")
)

// PreconditionError reports a transition refused because the ticket is missing or
// not in the status the action requires. It matches ErrPreconditionFailed and
// its Cause under errors.Is.
type PreconditionError struct {
	Action string
	Number string
	Cause  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Number, e.Cause)
}

func (e *PreconditionError) Unwrap() []error {
	return []error{ErrPreconditionFailed, e.Cause}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func classify(action, number string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTicketNotFound), errors.Is(err, store.ErrInvalidState):
		return &PreconditionError{Action: action, Number: number, Cause: err}
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorage, action, err)
	}
}
