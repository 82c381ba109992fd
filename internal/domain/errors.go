package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict marks a lost optimistic-concurrency race or an order number
	// collision. Callers may retry the whole operation.
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency unavailable")
)

// Machine-readable error kinds surfaced in HTTP error bodies.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindDependency = "dependency"
)

// ErrorKind classifies err into one of the Kind constants. Unclassified
// errors are reported as dependency failures.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindDependency
	}
}
