package participation

import (
	"errors"
	"fmt"

	"acteezer/cmd/internal/eligibility"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrCapacityExceeded = errors.New("activity is full")
	ErrNotEligible      = errors.New("not eligible")
	ErrConflict         = errors.New("participant already exists")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// DeniedError carries the eligibility decision that blocked a join request.
type DeniedError struct {
	Decision eligibility.Decision
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrNotEligible, e.Decision.Code, e.Decision.Reason)
}

func (e DeniedError) Unwrap() error { return ErrNotEligible }

// AsDenied extracts the eligibility decision from err, if any.
func AsDenied(err error) (eligibility.Decision, bool) {
	var de DeniedError
	if errors.As(err, &de) {
		return de.Decision, true
	}
	return eligibility.Decision{}, false
}

func opErr(op string, kind error, msg string) error {
	return OpError{Op: op, Kind: kind, Msg: msg}
}

// wrapStoreErr keeps sentinel kinds visible under the operation name.
func wrapStoreErr(op string, err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrCapacityExceeded, ErrConflict, ErrInvalidInput, ErrForbidden} {
		if errors.Is(err, kind) {
			return OpError{Op: op, Kind: kind}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
