package services

import (
	"errors"
	"fmt"
)

// ErrorCode classifies service errors for callers
type ErrorCode int

const (
	CodeNotFound ErrorCode = iota + 1
	CodeDomain
	CodeConflict
	CodeInvalidArgument
)

// Sentinels for errors.Is; every *Error matches the sentinel of its code.
var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrDomain          = &Error{Code: CodeDomain, Message: "business rule violated"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "concurrent modification"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeDomain:
		return "DOMAIN_ERROR"
	case CodeConflict:
		return "CONFLICT"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	default:
		return "UNKNOWN"
	}
}

// Error is a client-visible failure with an identifying message
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func domainf(format string, args ...any) *Error {
	return &Error{Code: CodeDomain, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or 0
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
