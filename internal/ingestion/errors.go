package ingestion

import (
	"errors"
	"fmt"
)

// Failure kinds. Each is contained to the smallest unit of work (one item, one
// candidate, one source) and never aborts a whole run.
var (
	ErrFetchFailure        = errors.New("fetch failure")
	ErrParseFailure        = errors.New("parse failure")
	ErrDateAmbiguous       = errors.New("date ambiguous")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrSafetyRejected      = errors.New("safety rejected")
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// UnitError ties a failure kind to the unit of work that produced it.
type UnitError struct {
	Kind error
	Unit string
	Err  error
}

// NewUnitError wraps err as a failure of kind for unit.
func NewUnitError(kind error, unit string, err error) *UnitError {
	return &UnitError{Kind: kind, Unit: unit, Err: err}
}

func (e *UnitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Unit, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Unit, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *UnitError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify returns the failure kind of err, defaulting to ErrFetchFailure for
// errors that carry no kind.
func Classify(err error) error {
	for _, kind := range []error{
		ErrSafetyRejected,
		ErrBackendUnavailable,
		ErrParseFailure,
		ErrDateAmbiguous,
		ErrPersistenceConflict,
		ErrFetchFailure,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrFetchFailure
}
