package rowbatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job validation errors. They are wrapped in a *ValidationError by Start.
var (
	ErrNoRows             = errors.New("no rows to process")
	ErrEmptyTemplate      = errors.New("prompt template is empty")
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	ErrInvalidRateLimit   = errors.New("rate limit must be at least 1 request per minute")
	ErrInvalidTimeout     = errors.New("timeout must be positive")
	ErrInvokerMissing     = errors.New("invoker not configured")
	ErrInvalidColumn      = errors.New("invalid output column")
)

// ErrEmptyResponse is returned by invokers when the model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrInvalidSample is returned when a column sample is not valid JSON.
var ErrInvalidSample = errors.New("sample is not valid JSON")

// ErrUnsupportedSource is returned by LoadRows for files it cannot read as rows.
var ErrUnsupportedSource = errors.New("unsupported row source")

// ValidationError reports a job parameter that prevents a run from starting.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CallErrorKind classifies a failed remote call.
type CallErrorKind int

const (
	CallTransport CallErrorKind = iota
	CallTimeout
	CallEmptyResponse
)

func (k CallErrorKind) String() string {
	switch k {
	case CallTimeout:
		return "timeout"
	case CallEmptyResponse:
		return "empty_response"
	default:
		return "transport"
	}
}

// CallError is the uniform failure of one row's remote call.
type CallError struct {
	Kind    CallErrorKind
	Timeout time.Duration // set for CallTimeout
	Err     error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case CallTimeout:
		return fmt.Sprintf("request timed out after %s", e.Timeout)
	case CallEmptyResponse:
		return "no response returned from the model"
	default:
		if e.Err == nil {
			return "request failed"
		}
		return fmt.Sprintf("request failed: %v", e.Err)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a timed out remote call.
func IsTimeout(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == CallTimeout
}

// classifyCallError maps an invoker error onto a *CallError.
func classifyCallError(err error, timeout time.Duration) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Kind: CallTimeout, Timeout: timeout, Err: err}
	case errors.Is(err, ErrEmptyResponse):
		return &CallError{Kind: CallEmptyResponse, Err: err}
	default:
		return &CallError{Kind: CallTransport, Err: err}
	}
}
