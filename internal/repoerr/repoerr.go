// Package repoerr enumerates the semantic error kinds of the repository
// core (spec §7) and a small typed-error wrapper so callers can branch on
// kind with errors.As instead of string-matching messages.
package repoerr

import "fmt"

// Kind is one of the repository's semantic failure categories.
type Kind string

const (
	ItemExists          Kind = "item_exists"
	ItemNotFound        Kind = "item_not_found"
	PathNotFound        Kind = "path_not_found"
	NoSuchItemState     Kind = "no_such_item_state"
	StaleItemState      Kind = "stale_item_state"
	ConstraintViolation Kind = "constraint_violation"
	ValueFormat         Kind = "value_format"
	ReferentialIntegrity Kind = "referential_integrity"
	InvalidNodeTypeDef  Kind = "invalid_node_type_def"
	NodeTypeConflict    Kind = "node_type_conflict"
	Lock                Kind = "lock"
	Version             Kind = "version"
	AccessDenied        Kind = "access_denied"
	Unsupported         Kind = "unsupported"
	Internal            Kind = "internal"
)

// Error is the concrete error type returned across package boundaries in the
// core. Wrap a lower-level cause with Wrap; compare kinds with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, repoerr.New(kind, "")) to match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a *Error,
// otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
