package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAcquisition means local capture was denied or unavailable. The
	// session continues text-only.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrDescriptionApplication aborts the current negotiation attempt only.
	ErrDescriptionApplication = errors.New("description application failed")

	// ErrCandidateApplication is logged and the candidate dropped.
	ErrCandidateApplication = errors.New("candidate application failed")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("negotiation closed")
)

// Error records the engine operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, kind, err error) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", kind, err)}
}
