package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status records and HTTP responses.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindConflict            Kind = "conflict"
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUnavailable         Kind = "unavailable"
	KindUnparseableOutput   Kind = "unparseable_output"
	KindSchemaMismatch      Kind = "schema_mismatch"
	KindStageFailure        Kind = "stage_failure"
	KindInternal            Kind = "internal"
)

// Error is the application error carried across package boundaries.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so sentinels like ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrPreconditionFailed  = &Error{Kind: KindPreconditionFailed}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrUnparseableOutput   = &Error{Kind: KindUnparseableOutput}
	ErrSchemaMismatch      = &Error{Kind: KindSchemaMismatch}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func PreconditionFailed(format string, args ...any) *Error {
	return New(KindPreconditionFailed, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, fmt.Sprintf(format, args...))
}

func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

func Upstream(message string, err error) *Error {
	return Wrap(KindUpstreamUnavailable, message, err)
}

func Unparseable(message string, err error) *Error {
	return Wrap(KindUnparseableOutput, message, err)
}

func SchemaMismatch(message string, err error) *Error {
	return Wrap(KindSchemaMismatch, message, err)
}

// KindOf reports the kind of the first *Error in the chain. Context deadline
// errors are upstream timeouts; anything else unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamUnavailable
	}

	return KindInternal
}

// Classify turns an error raised by a pipeline stage into a stage-tagged *Error.
// Known kinds are preserved; unknown errors become stage failures.
func Classify(stage string, err error) *Error {
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	if kind == KindInternal {
		kind = KindStageFailure
	}

	return &Error{
		Kind:    kind,
		Stage:   stage,
		Message: fmt.Sprintf("%s failed", stage),
		Err:     err,
	}
}

// StatusOf maps a kind to an HTTP status code.
func StatusOf(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUpstreamUnavailable, KindUnparseableOutput, KindSchemaMismatch:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body rendered for failed API calls.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ToResponse converts any error into a status code and response body.
func ToResponse(err error) (int, Response) {
	kind := KindOf(err)
	return StatusOf(kind), Response{Error: string(kind), Message: err.Error()}
}
