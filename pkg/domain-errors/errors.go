// Package domainerrors carries the stable, distinguishable error kinds returned by
// every engine operation. Callers branch on the Code, never on the message text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind. Values are part of the public contract and are
// rendered verbatim in HTTP error bodies.
type Code string

const (
	// Engine taxonomy.
	CodeUnauthorized      Code = "unauthorized"
	CodeInvalidState      Code = "invalid_state"
	CodeInvalidInput      Code = "invalid_input"
	CodeLimitExceeded     Code = "limit_exceeded"
	CodeOverflow          Code = "overflow"
	CodeSystemPaused      Code = "system_paused"
	CodeNotPaused         Code = "not_paused"
	CodeNoBalance         Code = "no_balance"
	CodeSelfSend          Code = "self_send"
	CodeRecipientBlocked  Code = "recipient_blocked"
	CodeTierNotConfigured Code = "tier_not_configured"
	CodeAlreadyPending    Code = "already_pending"
	CodeAlreadyApproved   Code = "already_approved"

	// Infrastructure and transport.
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal_error"
)

// Error is a domain error with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is a domain error with the same code, so
// errors.Is(err, New(CodeNoBalance, "")) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal for errors that never passed through this package.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// MessageOf returns the message of the outermost domain error, or the plain
// error string otherwise.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
