// Package cverrors defines the error-kind taxonomy shared across coldvault's
// pipelines and maps it to the process exit codes of the operation surface.
package cverrors

import "fmt"

// Kind classifies why an operation failed, independent of its Go type.
type Kind string

const (
	// UserInformation is a misconfiguration; its message is shown verbatim.
	UserInformation Kind = "UserInformation"
	// RemoteList means the destination's actual contents disagree with the
	// catalog's understanding of it.
	RemoteList Kind = "RemoteList"
	// DatabaseConsistency is a catalog invariant failure; fatal, aborts the
	// operation and rolls back the active Batch.
	DatabaseConsistency Kind = "DatabaseConsistency"
	// Codec is a compression or encryption failure.
	Codec Kind = "Codec"
	// Cancelled means a cancellation token tripped mid-operation.
	Cancelled Kind = "Cancelled"
	// PartialRecreate means repair could only reconstruct part of the
	// catalog from the remote listing.
	PartialRecreate Kind = "PartialRecreate"
	// Transient is a retryable network/backend error.
	Transient Kind = "Transient"
	// Integrity is a hash mismatch on a block or file.
	Integrity Kind = "Integrity"
	// PolicyViolation covers configuration-policy conflicts such as
	// cross-OS path-separator reuse.
	PolicyViolation Kind = "PolicyViolation"
)

// Error wraps an underlying error with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds a new Error from a format string, like fmt.Errorf.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap)
// a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
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

// Exit codes for the operation entry-point surface, per spec.md §6.
const (
	ExitSuccess    = 0
	ExitWarnings   = 1
	ExitErrors     = 2
	ExitFatal      = 3
	ExitUserCancel = 50
)

// ExitCode maps err's Kind to the process exit code an operation surface
// (CLI or otherwise) should report. A nil error is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case Cancelled:
		return ExitUserCancel
	case DatabaseConsistency, PartialRecreate:
		return ExitFatal
	case UserInformation, RemoteList, Codec, Transient, Integrity, PolicyViolation:
		return ExitErrors
	default:
		return ExitErrors
	}
}
