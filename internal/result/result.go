// Package result defines the error taxonomy shared by every core operation and
// the transport-agnostic Result envelope that adapters serialise.
//
// Core operations return (T, error). Any error they return either is, or wraps,
// a *Error carrying a Code. Adapters (HTTP, WebSocket, MQTT) convert the pair
// with From and map the Code onto their wire format:
//
//	space, err := handler.Report(ctx, report)
//	res := result.From(space, err)
//	// {"ok":true,"data":{...}}  or  {"ok":false,"code":"not_found","message":"..."}
package result

import (
	"errors"
	"fmt"
)

// Code classifies a failure so callers can branch without string matching.
type Code string

// Failure codes.
const (
	CodeValidation   Code = "validation_error"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorised"
	CodeTokenExpired Code = "token_expired"
	CodeTokenInvalid Code = "token_invalid"
	CodeTokenRevoked Code = "token_revoked"
	CodeConflict     Code = "conflict"
	CodeRateLimited  Code = "rate_limited"
	CodeInternal     Code = "internal_error"
)

// internalMessage is the only message surfaced for unclassified failures.
const internalMessage = "internal server error"

// IsAuth reports whether the code is one of the authentication failure kinds.
func (c Code) IsAuth() bool {
	switch c {
	case CodeUnauthorized, CodeTokenExpired, CodeTokenInvalid, CodeTokenRevoked:
		return true
	default:
		return false
	}
}

// Error is a classified failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Code-only sentinels. errors.Is(err, ErrNotFound) matches any NotFound error
// regardless of its message.
var (
	ErrValidation   = &Error{Code: CodeValidation}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
	ErrTokenExpired = &Error{Code: CodeTokenExpired}
	ErrTokenInvalid = &Error{Code: CodeTokenInvalid}
	ErrTokenRevoked = &Error{Code: CodeTokenRevoked}
	ErrConflict     = &Error{Code: CodeConflict}
	ErrInternal     = &Error{Code: CodeInternal}
)

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The cause stays reachable via errors.Unwrap
// but is never part of the public message.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code. A target without a message
// matches on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the public message for err. Unclassified and internal
// errors never leak their text.
func MessageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Code == CodeInternal {
		return internalMessage
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Result is the envelope returned across every adapter boundary.
type Result[T any] struct {
	OK      bool   `json:"ok"`
	Data    T      `json:"data,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ok wraps a successful value.
func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Fail converts an error into a failed Result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Code: CodeOf(err), Message: MessageOf(err)}
}

// From builds a Result from a (value, error) pair.
func From[T any](data T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(data)
}

// Err returns the failure as an error, or nil for a successful Result.
func (r Result[T]) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Message}
}
