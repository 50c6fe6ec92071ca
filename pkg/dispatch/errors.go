package dispatch

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/internal/errmark"
)

// ErrProcessing marks errors raised while processing a request that are not
// otherwise classified.
var ErrProcessing = errors.New("request processing failed")

// WebError is returned by a resource to answer with a specific response
// instead of a failure.
type WebError struct {
	Response *Response
	cause    error
}

// NewWebError creates a WebError answering with status and an optional text
// message.
func NewWebError(status int, message string) *WebError {
	resp := NewResponse(status)
	if message != "" {
		resp.Entity = message
	}
	return &WebError{Response: resp}
}

// WrapWebError creates a WebError for status caused by err.
func WrapWebError(err error, status int) *WebError {
	return &WebError{Response: NewResponse(status), cause: err}
}

func (e *WebError) Error() string {
	msg := fmt.Sprintf("HTTP %d %s", e.Response.Status, http.StatusText(e.Response.Status))
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *WebError) Unwrap() error {
	return e.cause
}

// PanicError is a panic recovered from resource code.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsUnchecked reports whether err is already one of the errors the dispatch
// layer raises on its own: a recovered panic, a WebError or an error marked
// ErrProcessing.
func IsUnchecked(err error) bool {
	var pe *PanicError
	var we *WebError
	return errors.As(err, &pe) || errors.As(err, &we) || errors.Is(err, ErrProcessing)
}

// ProcessingError returns err unchanged when it is unchecked, and otherwise
// wraps it and marks it ErrProcessing.
func ProcessingError(err error) error {
	if err == nil || IsUnchecked(err) {
		return err
	}
	return errmark.Mark(errors.Wrap(err, "processing request"), ErrProcessing)
}
