package container

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/listener"
	"github.com/bstoi/apptest/pkg/logging"
)

const failureReason = "Request failed."

// responseWriter drives a listener response on behalf of the engine. It may
// be used from the goroutine that resumes a suspended exchange.
type responseWriter struct {
	name                string
	resp                *listener.Response
	statusOverSendError bool
	log                 *slog.Logger

	mu        sync.Mutex
	buffering bool
	buffered  *bufio.Writer
}

var _ dispatch.ContainerResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) trace(msg string, args ...any) {
	w.log.Log(context.Background(), logging.LevelTrace, msg, append([]any{"writer", w.name}, args...)...)
}

func (w *responseWriter) WriteResponseStatusAndHeaders(contentLength int64, cr *dispatch.ContainerResponse) (io.Writer, error) {
	w.trace("writing status and headers", "status", cr.Status, "length", contentLength)

	if err := w.resp.SetStatusReason(cr.Status, cr.Reason); err != nil {
		return nil, errors.Wrap(err, "setting response status")
	}
	if contentLength >= 0 && bodyAllowed(cr.Status) {
		if err := w.resp.SetContentLength(contentLength); err != nil {
			return nil, errors.Wrap(err, "setting content length")
		}
	}
	for name, values := range cr.Header {
		for _, v := range values {
			if err := w.resp.AddHeader(name, v); err != nil {
				return nil, errors.Wrapf(err, "adding header %q", name)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buffering {
		w.buffered = bufio.NewWriter(w.resp.Writer())
		return w.buffered, nil
	}
	return w.resp.Writer(), nil
}

// bodyAllowed reports whether a response with status may carry an entity.
func bodyAllowed(status int) bool {
	switch {
	case status < http.StatusOK:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func (w *responseWriter) Suspend(timeout time.Duration, onTimeout dispatch.TimeoutHandler) bool {
	var cb func()
	if onTimeout != nil {
		cb = func() { onTimeout() }
	}
	if err := w.resp.Suspend(timeout, cb); err != nil {
		w.log.Debug("exchange could not be suspended", "writer", w.name, "error", err)
		return false
	}
	w.trace("exchange suspended", "timeout", timeout)
	return true
}

func (w *responseWriter) SetSuspendTimeout(timeout time.Duration) error {
	if err := w.resp.SetSuspendTimeout(timeout); err != nil {
		return errors.Wrap(err, "setting suspend timeout")
	}
	w.trace("suspend timeout changed", "timeout", timeout)
	return nil
}

// Commit completes the response whether or not the exchange is suspended,
// and resumes it when it is. A timeout handler runs after the exchange left
// SUSPENDED, so its response must still be committed here.
func (w *responseWriter) Commit() {
	w.mu.Lock()
	if w.buffered != nil {
		if err := w.buffered.Flush(); err != nil {
			w.log.Debug("flushing buffered entity failed", "writer", w.name, "error", err)
		}
		w.buffered = nil
	}
	w.mu.Unlock()

	if err := w.resp.Commit(); err != nil {
		w.log.Debug("committing response failed", "writer", w.name, "error", err)
	}
	if w.resp.IsSuspended() {
		_ = w.resp.Resume()
	}
	w.trace("response committed")
}

// Failure answers 500 unless the response was committed already, then
// completes the exchange. The error is returned for the listener to log.
func (w *responseWriter) Failure(err error) error {
	defer w.Commit()

	if !w.resp.IsCommitted() {
		var sendErr error
		if w.statusOverSendError {
			if sendErr = w.resp.Reset(); sendErr == nil {
				sendErr = w.resp.SetStatusReason(http.StatusInternalServerError, failureReason)
			}
		} else {
			sendErr = w.resp.SendError(http.StatusInternalServerError, failureReason)
		}
		switch {
		case errors.Is(sendErr, listener.ErrCommitted):
			w.log.Debug("response was committed while reporting a failure", "writer", w.name, "error", sendErr)
		case sendErr != nil:
			w.log.Debug("could not report failure", "writer", w.name, "error", sendErr)
		}
	}
	return dispatch.ProcessingError(err)
}

func (w *responseWriter) EnableResponseBuffering() bool {
	w.mu.Lock()
	w.buffering = true
	w.mu.Unlock()
	return true
}
