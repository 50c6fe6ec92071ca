package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type asyncState int

const (
	asyncSuspended asyncState = iota
	asyncResumed
	asyncCancelled
)

// AsyncResponse completes the response of an asynchronous resource. Exactly
// one of Resume, ResumeError or Cancel takes effect; later calls return
// false. When the response times out before that, the timeout handler runs
// and, unless it completed the response, a 503 is sent.
type AsyncResponse struct {
	h   *ApplicationHandler
	req *ContainerRequest

	mu        sync.Mutex
	state     asyncState
	timedOut  bool
	onTimeout func(*AsyncResponse)
	err       error
	done      chan struct{}

	// sync is set when the writer could not suspend the exchange. The
	// engine then waits for completion itself and owns the timeout timer.
	sync  bool
	timer *time.Timer
}

func newAsyncResponse(h *ApplicationHandler, req *ContainerRequest) *AsyncResponse {
	return &AsyncResponse{h: h, req: req, done: make(chan struct{})}
}

func (h *ApplicationHandler) handleAsync(req *ContainerRequest, res AsyncResource) error {
	ar := newAsyncResponse(h, req)
	if !req.Writer().Suspend(0, ar.timeout) {
		h.log.Debug("response could not be suspended, completing synchronously",
			"method", req.Method(), "path", req.Path())
		ar.sync = true
	}

	func() {
		defer func() {
			if v := recover(); v != nil {
				ar.ResumeError(newPanicError(v))
			}
		}()
		res(req.Context(), req, ar)
	}()

	if !ar.sync {
		return nil
	}
	return ar.wait(req.Context())
}

func (a *AsyncResponse) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		a.Cancel()
		return errors.Wrap(ctx.Err(), "waiting for asynchronous response")
	}
}

// Resume completes the response. v may be a *Response, an error (as for
// ResumeError), nil (204) or an entity sent with status 200.
func (a *AsyncResponse) Resume(v any) bool {
	var resp *Response
	switch x := v.(type) {
	case nil:
		resp = NoContent()
	case *Response:
		resp = x
	case error:
		return a.ResumeError(x)
	default:
		resp = OK(x)
	}
	return a.complete(asyncResumed, func() error { return a.h.write(a.req, resp) })
}

// ResumeError completes the response with an error, processed as if the
// resource had returned it.
func (a *AsyncResponse) ResumeError(err error) bool {
	return a.complete(asyncResumed, func() error { return a.h.fail(a.req, err) })
}

// Cancel completes the response with 503 Service Unavailable.
func (a *AsyncResponse) Cancel() bool {
	return a.complete(asyncCancelled, func() error {
		return a.h.write(a.req, NewResponse(http.StatusServiceUnavailable))
	})
}

// SetTimeout sets the time the response may stay suspended. Zero waits
// indefinitely.
func (a *AsyncResponse) SetTimeout(d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != asyncSuspended || a.timedOut {
		return errors.New("response is no longer suspended")
	}
	if !a.sync {
		return a.req.Writer().SetSuspendTimeout(d)
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	if d > 0 {
		a.timer = time.AfterFunc(d, a.timeout)
	}
	return nil
}

// SetTimeoutHandler sets the function called when the response times out.
func (a *AsyncResponse) SetTimeoutHandler(fn func(*AsyncResponse)) {
	a.mu.Lock()
	a.onTimeout = fn
	a.mu.Unlock()
}

// IsSuspended reports whether the response is still waiting for completion.
func (a *AsyncResponse) IsSuspended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == asyncSuspended
}

// IsCancelled reports whether the response was cancelled.
func (a *AsyncResponse) IsCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == asyncCancelled
}

// IsDone reports whether the response was completed in any way.
func (a *AsyncResponse) IsDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != asyncSuspended
}

// Done is closed once the response is completed.
func (a *AsyncResponse) Done() <-chan struct{} {
	return a.done
}

// timeout runs when the suspended exchange times out.
func (a *AsyncResponse) timeout() {
	a.mu.Lock()
	if a.state != asyncSuspended {
		a.mu.Unlock()
		return
	}
	a.timedOut = true
	handler := a.onTimeout
	a.mu.Unlock()

	if handler != nil {
		handler(a)
	}
	if a.complete(asyncResumed, func() error {
		return a.h.write(a.req, NewResponse(http.StatusServiceUnavailable))
	}) {
		a.h.log.Debug("asynchronous response timed out", "method", a.req.Method(), "path", a.req.Path())
	}
}

// complete runs fn while holding the lock, so a timeout racing with a resume
// waits until the resumed response is written.
func (a *AsyncResponse) complete(state asyncState, fn func() error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != asyncSuspended {
		return false
	}
	a.state = state
	if a.timer != nil {
		a.timer.Stop()
	}

	a.err = fn()
	if a.err != nil {
		a.req.Writer().Commit()
		if !a.sync {
			a.h.log.Error("asynchronous response failed",
				"method", a.req.Method(), "path", a.req.Path(), "error", a.err)
		}
	}
	close(a.done)
	return true
}
