// Package errs defines the engine's error taxonomy.
//
// Every rejection surfaced by the engine carries exactly one Kind so callers
// can branch with errors.Is and the transport layer can map it to a single
// user-visible notification.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds.
var (
	// ErrValidation reports malformed or missing required input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrGradingClosed reports a grade submitted outside the grading window.
	ErrGradingClosed = errors.New("grading closed")
	// ErrStaleTrack reports a grade targeting a track that is no longer current.
	ErrStaleTrack = errors.New("stale track")
	// ErrAlreadyGraded reports a second grade from one user for one track.
	ErrAlreadyGraded = errors.New("already graded")
	// ErrInvalidTransition reports a session phase change that is not allowed.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrConflict reports optimistic-concurrency contention that outlived all retries.
	ErrConflict = errors.New("concurrency conflict")
	// ErrTransport reports an unreachable or failing backend.
	ErrTransport = errors.New("transport failure")
	// ErrUnauthorized reports a missing, invalid or revoked identity.
	ErrUnauthorized = errors.New("unauthorized")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrGradingClosed,
	ErrStaleTrack,
	ErrAlreadyGraded,
	ErrInvalidTransition,
	ErrConflict,
	ErrTransport,
	ErrUnauthorized,
}

// Error is an operation-scoped error of a known Kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an error of the given kind for op.
func New(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Newf returns an error of the given kind with a formatted detail message.
func Newf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapKind attaches kind and op to cause.
func WrapKind(op string, kind, cause error) error {
	if cause == nil {
		return New(op, kind)
	}
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Wrap attaches op to err, preserving an existing kind. Errors without a
// known kind are classified as transport failures.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != nil {
		return &Error{Op: op, Kind: k, Err: err}
	}
	return &Error{Op: op, Kind: ErrTransport, Err: err}
}

// KindOf returns the sentinel kind carried by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation_error"
	case ErrNotFound:
		return "not_found"
	case ErrGradingClosed:
		return "grading_closed"
	case ErrStaleTrack:
		return "stale_track"
	case ErrAlreadyGraded:
		return "already_graded"
	case ErrInvalidTransition:
		return "invalid_transition"
	case ErrConflict:
		return "concurrency_conflict"
	case ErrTransport:
		return "transport_error"
	case ErrUnauthorized:
		return "unauthorized"
	default:
		return "internal_error"
	}
}
