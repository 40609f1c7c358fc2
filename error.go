package syncrun

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// error codes
const (
	ErrCodeGeneral = "syncrun.error.general"
	ErrCodeDbFail  = "syncrun.error.db"
	ErrCodeConfig  = "syncrun.error.config"
	ErrCodeState   = "syncrun.error.state"
)

// SyncError represents an error with a code raised by syncrun
type SyncError interface {
	error
	// Code code of the error
	Code() string
	// Message readable message of the error
	Message() string
	// Unwrap the underlying cause, if any
	Unwrap() error
}

type syncError struct {
	code  string
	msg   string
	cause error
}

// NewSyncError builds a SyncError. If the last argument is an error it is
// attached as the cause instead of being rendered into the message.
func NewSyncError(code string, format string, args ...interface{}) SyncError {
	var cause error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
			args = args[:len(args)-1]
		}
	}
	return &syncError{
		code:  code,
		msg:   fmt.Sprintf(format, args...),
		cause: cause,
	}
}

func (e *syncError) Code() string {
	return e.code
}

func (e *syncError) Message() string {
	return e.msg
}

func (e *syncError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v: %v: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%v: %v", e.code, e.msg)
}

func (e *syncError) Unwrap() error {
	return e.cause
}

// RateLimitError is the distinguished signal a connector raises when the
// external source throttles it. It is recoverable: the processor converts it
// into a delayed run instead of an error.
type RateLimitError struct {
	// ResetAfter is how long the source asked us to back off.
	ResetAfter time.Duration
	Err        error
}

func NewRateLimitError(resetAfter time.Duration, err error) *RateLimitError {
	return &RateLimitError{ResetAfter: resetAfter, Err: err}
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limit reached, reset in %v: %v", e.ResetAfter, e.Err)
	}
	return fmt.Sprintf("rate limit reached, reset in %v", e.ResetAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AsRateLimit reports whether err carries a rate-limit signal anywhere in its
// chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// ErrorDetail is the structured error payload persisted on run and stream
// rows for operators.
type ErrorDetail struct {
	ErrorPoint    string `json:"errorPoint"`
	Message       string `json:"message"`
	Stack         string `json:"stack,omitempty"`
	ExistingRunID string `json:"existingRunId,omitempty"`
}

func newErrorDetail(point string, err error) *ErrorDetail {
	detail := &ErrorDetail{
		ErrorPoint: point,
		Message:    err.Error(),
	}
	// errors created through pkg/errors render their stack via %+v
	if stack := fmt.Sprintf("%+v", err); stack != detail.Message {
		detail.Stack = stack
	}
	return detail
}
