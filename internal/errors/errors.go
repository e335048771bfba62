// Package errors defines the E0xx error code taxonomy surfaced by the
// core's local API (gossip-path failures are dropped silently instead,
// per the propagation policy in spec.md §7).
package errors

import "fmt"

// Code is one of the error codes enumerated in spec.md §6.
type Code string

const (
	ErrMissingDKIM            Code = "E003"
	ErrDuplicateCommitment    Code = "E005"
	ErrStakeNotPermitted      Code = "E007"
	ErrDKIMVerification       Code = "E008"
	ErrUnsignedHeaderMismatch Code = "E009"
	ErrUnsignedHeaderMissing  Code = "E010"
	ErrMessageTooLarge        Code = "E012"
	ErrEnvelopeSchema         Code = "E014"
	ErrBadOp                  Code = "E100"
	ErrTombstoneUnknown       Code = "E200"
	ErrTombstoneAlready       Code = "E201"
	ErrTombstoneNotAuthor     Code = "E202"
	ErrSyncMalformed          Code = "E300"
	ErrSyncUnknownStore       Code = "E301"
)

// OpError is a structured, code-carrying error returned by local API
// calls (as opposed to gossip-path admission, which drops silently).
type OpError struct {
	Code    Code
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an OpError.
func New(code Code, message string) *OpError {
	return &OpError{Code: code, Message: message}
}

// Wrap constructs an OpError with a formatted message.
func Wrap(code Code, format string, args ...interface{}) *OpError {
	return &OpError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *OpError carrying code.
func Is(err error, code Code) bool {
	oe, ok := err.(*OpError)
	return ok && oe.Code == code
}
