package gate

import "errors"

// Code classifies service-boundary errors.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeRuleNotFound     Code = "RULE_NOT_FOUND"
	CodeRuleDisabled     Code = "RULE_DISABLED"
	CodeNoMatchingRule   Code = "NO_MATCHING_RULE"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Error is a typed service error. Validation and rule-resolution failures
// are never retried; StoreUnavailable is fatal for the request and the
// fail-open/fail-closed choice belongs to the caller, not this package.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError creates a typed error without a cause.
func NewError(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// WrapError creates a typed error wrapping a cause.
func WrapError(code Code, msg string, err error) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the Code carried by err, or "" for untyped errors.
func CodeOf(err error) Code {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ""
}
