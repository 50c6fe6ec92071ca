package listener

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// State is the suspend state of an exchange.
type State int

// Exchange states. An exchange starts ACTIVE; once SUSPENDED it leaves that
// state only by being resumed or by timing out.
const (
	StateActive State = iota
	StateSuspended
	StateResumed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateResumed:
		return "RESUMED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Response is the response side of an exchange. All methods are safe for
// concurrent use, so a suspended exchange can be completed from any
// goroutine. Once the exchange is finished every write fails with
// ErrExchangeClosed.
type Response struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	status    int
	reason    string
	committed bool
	closed    bool

	state      State
	suspended  bool
	onTimeout  func()
	timer      *time.Timer
	generation int
	done       chan struct{}
	doneOnce   sync.Once

	metrics  *Metrics
	listener string
}

func newResponse(w http.ResponseWriter, metrics *Metrics, listener string) *Response {
	return &Response{
		w:        w,
		status:   http.StatusOK,
		done:     make(chan struct{}),
		metrics:  metrics,
		listener: listener,
	}
}

// SetStatus sets the status code.
func (r *Response) SetStatus(code int) error {
	return r.SetStatusReason(code, "")
}

// SetStatusReason sets the status code and a custom reason phrase. net/http
// always writes the canonical phrase, so the reason is only recorded.
func (r *Response) SetStatusReason(code int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	r.status = code
	r.reason = reason
	return nil
}

// Status returns the status code.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Reason returns the custom reason phrase, if any.
func (r *Response) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// SetContentLength sets the Content-Length header. A negative length
// removes it.
func (r *Response) SetContentLength(n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	if n < 0 {
		r.w.Header().Del("Content-Length")
		return nil
	}
	r.w.Header().Set("Content-Length", formatInt(n))
	return nil
}

// AddHeader appends a header value.
func (r *Response) AddHeader(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	r.w.Header().Add(name, value)
	return nil
}

// SetHeader replaces a header.
func (r *Response) SetHeader(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	r.w.Header().Set(name, value)
	return nil
}

// Header returns a copy of the headers set so far.
func (r *Response) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return http.Header{}
	}
	return r.w.Header().Clone()
}

// Writer returns the entity stream. The first write commits the status and
// headers.
func (r *Response) Writer() io.Writer {
	return entityWriter{r}
}

type entityWriter struct{ r *Response }

func (e entityWriter) Write(p []byte) (int, error) {
	r := e.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrExchangeClosed
	}
	r.commitLocked()
	return r.w.Write(p)
}

// Flush commits the response and flushes buffered entity bytes to the
// client.
func (r *Response) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrExchangeClosed
	}
	r.commitLocked()
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Commit writes the status line and headers if that has not happened yet.
func (r *Response) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrExchangeClosed
	}
	r.commitLocked()
	return nil
}

// IsCommitted reports whether the status line was written.
func (r *Response) IsCommitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Reset clears the status, reason and headers of an uncommitted response.
func (r *Response) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	r.resetLocked()
	return nil
}

// SendError discards the headers set so far and sends an error page with
// code. An empty message sends the status text.
func (r *Response) SendError(code int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writableLocked(); err != nil {
		return err
	}
	r.sendErrorLocked(code, message)
	return nil
}

func (r *Response) sendErrorLocked(code int, message string) {
	r.resetLocked()
	if message == "" {
		message = http.StatusText(code)
	}
	h := r.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Length", formatInt(int64(len(message))+1))
	r.status = code
	r.commitLocked()
	_, _ = io.WriteString(r.w, message+"\n")
}

// challenge answers 401 Unauthorized with a WWW-Authenticate header.
func (r *Response) challenge(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writableLocked() != nil {
		return
	}
	r.resetLocked()
	r.w.Header().Set("WWW-Authenticate", value)
	r.status = http.StatusUnauthorized
	r.commitLocked()
	_, _ = io.WriteString(r.w, http.StatusText(http.StatusUnauthorized)+"\n")
}

func (r *Response) resetLocked() {
	h := r.w.Header()
	for k := range h {
		delete(h, k)
	}
	r.status = http.StatusOK
	r.reason = ""
}

func (r *Response) writableLocked() error {
	if r.closed {
		return ErrExchangeClosed
	}
	if r.committed {
		return ErrCommitted
	}
	return nil
}

func (r *Response) commitLocked() {
	if r.committed {
		return
	}
	r.committed = true
	r.w.WriteHeader(r.status)
}

// Suspend keeps the exchange open after the handler returns, until Resume is
// called or timeout elapses. On timeout onTimeout runs; once it returns the
// exchange completes, with 503 Service Unavailable if nothing was committed.
// A zero timeout suspends indefinitely.
func (r *Response) Suspend(timeout time.Duration, onTimeout func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrExchangeClosed
	case r.committed:
		return ErrCommitted
	case r.suspended:
		return ErrAlreadySuspended
	}
	r.suspended = true
	r.state = StateSuspended
	r.onTimeout = onTimeout
	r.armLocked(timeout)
	r.metrics.suspend(r.listener, 1)
	return nil
}

// SetSuspendTimeout replaces the timeout of a suspended exchange, counting
// from now.
func (r *Response) SetSuspendTimeout(timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateSuspended {
		return ErrNotSuspended
	}
	r.armLocked(timeout)
	return nil
}

// Resume completes a suspended exchange.
func (r *Response) Resume() error {
	r.mu.Lock()
	if r.state != StateSuspended {
		r.mu.Unlock()
		return ErrNotSuspended
	}
	r.leaveSuspendedLocked(StateResumed)
	r.mu.Unlock()

	r.finishSuspension()
	return nil
}

// IsSuspended reports whether the exchange is waiting to be resumed.
func (r *Response) IsSuspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateSuspended
}

// State returns the suspend state of the exchange.
func (r *Response) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Response) armLocked(timeout time.Duration) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.generation++
	if timeout <= 0 {
		return
	}
	gen := r.generation
	r.timer = time.AfterFunc(timeout, func() { r.expire(gen) })
}

func (r *Response) leaveSuspendedLocked(next State) {
	r.state = next
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.metrics.suspend(r.listener, -1)
}

func (r *Response) expire(gen int) {
	r.mu.Lock()
	if r.state != StateSuspended || gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.leaveSuspendedLocked(StateTimedOut)
	cb := r.onTimeout
	r.mu.Unlock()

	defer r.finishSuspension()
	defer func() {
		if v := recover(); v != nil {
			log.Error("suspend timeout callback panicked", "listener", r.listener, "panic", v)
		}
	}()
	if cb != nil {
		cb()
	}
}

func (r *Response) finishSuspension() {
	r.doneOnce.Do(func() { close(r.done) })
}

// await blocks while the exchange is suspended. It gives up when ctx is
// cancelled or stop is closed.
func (r *Response) await(ctx context.Context, stop <-chan struct{}) {
	r.mu.Lock()
	suspended := r.suspended
	r.mu.Unlock()
	if !suspended {
		return
	}
	select {
	case <-r.done:
	case <-ctx.Done():
	case <-stop:
	}
}

// finish completes the exchange. A timed out exchange that committed nothing
// gets a 503; any other uncommitted response is committed as is. Later
// writes fail with ErrExchangeClosed.
func (r *Response) finish() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateSuspended {
		// abandoned by the client or by shutdown
		r.leaveSuspendedLocked(StateTimedOut)
	} else if !r.committed {
		if r.state == StateTimedOut {
			r.sendErrorLocked(http.StatusServiceUnavailable, "")
		} else {
			r.commitLocked()
		}
	}
	r.closed = true
	return r.status
}
