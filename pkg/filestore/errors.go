package filestore

import (
	"errors"
	"strings"

	"github.com/marmos91/imapfs/pkg/mailbox"
)

// ErrorCode represents the category of a file store error.
//
// The set is closed. The CLI maps it to exit codes: ErrUsage exits 64,
// everything else exits 1.
type ErrorCode int

const (
	// ErrBackend indicates any other failure of a backend call
	ErrBackend ErrorCode = iota

	// ErrUsage indicates a malformed invocation (argument count, flags)
	ErrUsage

	// ErrInvalidIdentifier indicates an argument that is not a valid
	// name, name:uid, name:* or :uid address
	ErrInvalidIdentifier

	// ErrNotFound indicates the identifier resolves to no live version
	ErrNotFound

	// ErrAmbiguous indicates a name resolves to more than one version where
	// exactly one was required. Candidates lists all of them.
	ErrAmbiguous

	// ErrAccess indicates the backend refused access: malformed locator,
	// failed authentication, missing folder. Always fatal.
	ErrAccess
)

// String returns the category name.
func (c ErrorCode) String() string {
	switch c {
	case ErrUsage:
		return "usage error"
	case ErrInvalidIdentifier:
		return "invalid identifier"
	case ErrNotFound:
		return "not found"
	case ErrAmbiguous:
		return "ambiguous"
	case ErrAccess:
		return "access error"
	default:
		return "backend error"
	}
}

// Error represents a file store error.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Identifier is the user argument the error relates to (if any)
	Identifier string

	// Candidates holds every matching version of an ambiguous name
	Candidates []Ref

	// Err is the underlying cause (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Identifier != "" {
		b.WriteString(": ")
		b.WriteString(e.Identifier)
	}
	if len(e.Candidates) > 0 {
		b.WriteString(" (candidates:")
		for _, ref := range e.Candidates {
			b.WriteString(" ")
			b.WriteString(ref.String())
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain. Errors that
// are not file store errors (including joined batch errors without one)
// report ErrBackend; nil reports ErrBackend as well, so check err first.
func CodeOf(err error) ErrorCode {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Code
	}
	if errors.Is(err, mailbox.ErrAccessDenied) {
		return ErrAccess
	}
	return ErrBackend
}

// IsAccess reports whether err is (or wraps) an access failure.
func IsAccess(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) && fsErr.Code == ErrAccess {
		return true
	}
	return errors.Is(err, mailbox.ErrAccessDenied)
}

// UsageError builds an ErrUsage error.
func UsageError(message string) *Error {
	return &Error{Code: ErrUsage, Message: message}
}

func invalidIdentifier(arg, reason string) *Error {
	return &Error{Code: ErrInvalidIdentifier, Message: "invalid identifier " + reason, Identifier: arg}
}

func notFound(identifier string) *Error {
	return &Error{Code: ErrNotFound, Message: "not found", Identifier: identifier}
}

func ambiguous(name string, candidates []Ref) *Error {
	return &Error{Code: ErrAmbiguous, Message: "ambiguous name", Identifier: name, Candidates: candidates}
}

// backendError classifies a session failure. Access denial stays ErrAccess
// and a vanished message becomes ErrNotFound; everything else is ErrBackend.
func backendError(message, identifier string, err error) *Error {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr
	}

	code := ErrBackend
	switch {
	case errors.Is(err, mailbox.ErrAccessDenied):
		code = ErrAccess
	case errors.Is(err, mailbox.ErrMessageNotFound):
		code = ErrNotFound
	}
	return &Error{Code: code, Message: message, Identifier: identifier, Err: err}
}
