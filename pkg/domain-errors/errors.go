// Package domainerrors provides coded errors shared across the registry so
// services can classify failures without string matching and the transport
// layer can translate them to HTTP statuses in one place.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed or missing input. Safe to retry after
	// the caller corrects the request.
	CodeValidation Code = "validation"

	// CodeNotFound marks a missing resident, household, or history entry.
	CodeNotFound Code = "not_found"

	// CodeAlreadyMember marks a join attempt for a resident who already has
	// an active membership somewhere.
	CodeAlreadyMember Code = "already_member"

	// CodeAlreadyHead marks a join attempt for a resident who currently
	// heads another household.
	CodeAlreadyHead Code = "already_head"

	// CodeNotAMember marks a remove or separation attempt for a resident
	// with no active membership.
	CodeNotAMember Code = "not_a_member"

	// CodeConflict marks a precondition violation such as dissolving a
	// household that still has members.
	CodeConflict Code = "conflict"

	// CodeInvariantViolation marks an internal consistency failure. It
	// should never surface when the orchestrator is followed correctly and
	// is logged as a bug when it does.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeTxConflict marks a serialization or deadlock failure. Transient;
	// the caller may retry the whole request.
	CodeTxConflict Code = "tx_conflict"

	// CodeTimeout marks a transaction that could not commit within its
	// deadline. Transient; the caller may retry.
	CodeTimeout Code = "timeout"

	// CodeUnavailable marks an unreachable backing store. Fatal, not
	// retried automatically.
	CodeUnavailable Code = "unavailable"

	// CodeInternal is the catch-all for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is a domain error with a classification code. The wrapped cause, if
// any, stays reachable through errors.Is / errors.As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and context message to an existing error. A nil err
// yields nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf returns the code of the outermost domain error in err's chain, or
// CodeInternal when the chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code Code) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if de, ok := e.(*Error); ok && de.Code == code {
			return true
		}
	}
	return false
}

// Is delegates to errors.Is; kept so call sites only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// IsRetryable reports whether the failure is transient and the caller may
// safely retry the whole request.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeTxConflict, CodeTimeout:
		return true
	}
	return false
}

// ToHTTPStatus maps a code onto an HTTP status for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyMember, CodeAlreadyHead, CodeNotAMember, CodeConflict, CodeTxConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvariantViolation, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
