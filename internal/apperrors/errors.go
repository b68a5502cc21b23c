// Package apperrors classifies every error the orchestration engine can
// surface into the taxonomy the rollout and scan engines dispatch on.
// Standard kinds (NotFound, Conflict, Validation, AuthFailed, Timeout)
// are backed by github.com/juju/errors so callers can keep using its
// Is/Annotate helpers; the domain-specific kinds below have no stdlib
// or juju/errors analogue and are modeled as a small sentinel type.
package apperrors

import (
	"fmt"

	jujuerrors "github.com/juju/errors"
)

// Kind classifies a failure into the taxonomy every engine dispatches on.
type Kind string

const (
	Validation       Kind = "Validation"
	Conflict         Kind = "Conflict"
	NotFound         Kind = "NotFound"
	Unreachable      Kind = "Unreachable"
	AuthFailed       Kind = "AuthFailed"
	Timeout          Kind = "Timeout"
	ConnectionClosed Kind = "ConnectionClosed"
	CommandFailed    Kind = "CommandFailed"
	VerifyFailed     Kind = "VerifyFailed"
	DownloadFailed   Kind = "DownloadFailed"
	RebootTimeout    Kind = "RebootTimeout"
	NoCredentials    Kind = "NoCredentials"
	Internal         Kind = "Internal"
)

// kindError carries a Kind alongside a message and optional cause.
type kindError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *kindError) Unwrap() error { return e.cause }

// New builds a classified error for the domain-specific kinds.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it as the cause.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// Kindf reports the Kind of err, falling back to the juju/errors
// sentinel checks for the kinds that package already knows about, and
// Internal for anything unclassified.
func Kindf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if asKindError(err, &ke) {
		return ke.kind
	}
	switch {
	case jujuerrors.IsNotFound(err):
		return NotFound
	case jujuerrors.IsAlreadyExists(err):
		return Conflict
	case jujuerrors.IsNotValid(err) || jujuerrors.IsBadRequest(err):
		return Validation
	case jujuerrors.IsUnauthorized(err):
		return AuthFailed
	case jujuerrors.IsTimeout(err):
		return Timeout
	default:
		return Internal
	}
}

func asKindError(err error, target **kindError) bool {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			*target = ke
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

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool {
	return Kindf(err) == kind
}

// NotFoundf builds a NotFound error (matches juju/errors' own helper
// naming so call sites read consistently across the taxonomy).
func NotFoundf(format string, args ...interface{}) error {
	return jujuerrors.NotFoundf(format, args...)
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...interface{}) error {
	return jujuerrors.AlreadyExistsf(format, args...)
}

// Validationf builds a Validation error.
func Validationf(format string, args ...interface{}) error {
	return jujuerrors.NotValidf(format, args...)
}
