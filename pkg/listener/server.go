// Package listener is the embedded HTTP server that test containers run on.
//
// A Server owns named NetworkListeners and dispatches every exchange to the
// Handler registered under the longest matching path prefix. Handlers see
// the exchange as a Request and a Response; a Response may be suspended so
// the exchange outlives the handler call and is completed later from another
// goroutine, or by a timeout.
package listener

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/listener")

// Errors returned by exchanges and servers.
var (
	ErrCommitted        = errors.New("response already committed")
	ErrNotSuspended     = errors.New("exchange is not suspended")
	ErrAlreadySuspended = errors.New("exchange was already suspended")
	ErrExchangeClosed   = errors.New("exchange is closed")
	ErrServerStarted    = errors.New("server is started")
)

// Handler serves exchanges. A returned error is logged and, when nothing was
// committed yet, answered with 500.
type Handler interface {
	Service(req *Request, resp *Response) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(req *Request, resp *Response) error

func (f HandlerFunc) Service(req *Request, resp *Response) error {
	return f(req, resp)
}

// Starter is implemented by handlers that need to run once the server's
// listeners are bound and before the first exchange.
type Starter interface {
	Start() error
}

// Destroyer is implemented by handlers that release resources when the
// server stops.
type Destroyer interface {
	Destroy()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for server events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics makes the server record into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAuthenticator authenticates every exchange with a.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

type registration struct {
	handler Handler
	prefix  string
}

// Server is the embedded HTTP listener server. It can be started again after
// it was shut down.
type Server struct {
	mu        sync.Mutex
	listeners []*NetworkListener
	started   bool
	stop      chan struct{}

	handlersMu sync.RWMutex
	handlers   []registration

	log     *slog.Logger
	metrics *Metrics
	auth    Authenticator
}

// NewServer creates a server without listeners or handlers.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:     log,
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener adds a listener. Names must be unique and the server must not
// be started.
func (s *Server) AddListener(l *NetworkListener) error {
	if err := l.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.Wrapf(ErrServerStarted, "adding listener %q", l.Name)
	}
	for _, have := range s.listeners {
		if have.Name == l.Name {
			return errors.Newf("listener %q already exists", l.Name)
		}
	}
	s.listeners = append(s.listeners, l)
	return nil
}

// Listener returns the listener with the given name, or nil.
func (s *Server) Listener(name string) *NetworkListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Listeners returns the listeners in the order they were added.
func (s *Server) Listeners() []*NetworkListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*NetworkListener(nil), s.listeners...)
}

// Handle registers h for requests whose path starts with pathPrefix. An empty
// prefix means the root.
func (s *Server) Handle(h Handler, pathPrefix string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, registration{handler: h, prefix: normalizePrefix(pathPrefix)})
}

// Handlers returns the registered handlers in registration order.
func (s *Server) Handlers() []Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]Handler, len(s.handlers))
	for i, r := range s.handlers {
		out[i] = r.handler
	}
	return out
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// IsStarted reports whether the server is accepting connections.
func (s *Server) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start binds every listener, starts handlers implementing Starter and begins
// serving. If anything fails the listeners bound so far are closed.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerStarted
	}
	if len(s.listeners) == 0 {
		return errors.New("server has no listeners")
	}

	for i, l := range s.listeners {
		if err := l.bind(); err != nil {
			s.unbind(s.listeners[:i])
			return err
		}
	}

	for _, h := range s.Handlers() {
		if st, ok := h.(Starter); ok {
			if err := st.Start(); err != nil {
				s.unbind(s.listeners)
				return errors.Wrap(err, "starting handler")
			}
		}
	}

	s.stop = make(chan struct{})
	for _, l := range s.listeners {
		srv := &http.Server{
			Handler:           &exchangeHandler{server: s, listener: l, stop: s.stop},
			ReadHeaderTimeout: l.ReadHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(s.log.Handler(), logging.LevelDebug),
		}
		ln := l.attach(srv)
		go l.serve(srv, ln)
		s.log.Info("listener started", "listener", l.Name, "address", ln.Addr().String(), "secure", l.Secure)
	}
	s.started = true
	return nil
}

// ShutdownNow closes every listener and open connection without waiting for
// exchanges in progress, then destroys handlers implementing Destroyer.
func (s *Server) ShutdownNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	close(s.stop)

	var g errgroup.Group
	for _, l := range s.listeners {
		ln, srv := l.release()
		g.Go(func() error {
			var err error
			if srv != nil {
				err = srv.Close()
			}
			if ln != nil {
				if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
					err = cerr
				}
			}
			return errors.Wrapf(err, "closing listener %q", l.Name)
		})
	}
	err := g.Wait()

	s.destroyHandlers()
	s.started = false
	s.log.Info("server stopped")
	return err
}

// Shutdown stops accepting connections and waits for exchanges in progress,
// including suspended ones, until ctx is done. Remaining connections are then
// closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	type closing struct {
		l   *NetworkListener
		srv *http.Server
	}
	var servers []closing
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.listeners {
		_, srv := l.release()
		if srv == nil {
			continue
		}
		servers = append(servers, closing{l, srv})
		g.Go(func() error {
			return errors.Wrapf(srv.Shutdown(gctx), "shutting down listener %q", l.Name)
		})
	}
	err := g.Wait()
	close(s.stop)
	if err != nil {
		for _, c := range servers {
			_ = c.srv.Close()
		}
	}

	s.destroyHandlers()
	s.started = false
	s.log.Info("server stopped")
	return err
}

func (s *Server) unbind(listeners []*NetworkListener) {
	for _, l := range listeners {
		if ln, _ := l.release(); ln != nil {
			_ = ln.Close()
		}
	}
}

func (s *Server) destroyHandlers() {
	for _, h := range s.Handlers() {
		if d, ok := h.(Destroyer); ok {
			d.Destroy()
		}
	}
}

func (s *Server) match(path string) (*registration, string) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	var best *registration
	for i := range s.handlers {
		r := &s.handlers[i]
		if !matchPrefix(r.prefix, path) {
			continue
		}
		if best == nil || len(r.prefix) > len(best.prefix) {
			best = r
		}
	}
	if best == nil {
		return nil, ""
	}
	if best.prefix == "/" {
		return best, ""
	}
	return best, best.prefix
}

func normalizePrefix(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

func matchPrefix(prefix, path string) bool {
	return prefix == "/" || path == prefix || strings.HasPrefix(path, prefix+"/")
}

type exchangeHandler struct {
	server   *Server
	listener *NetworkListener
	stop     <-chan struct{}
}

func (h *exchangeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, l := h.server, h.listener
	start := time.Now()
	s.metrics.begin(l.Name)

	resp := newResponse(w, s.metrics, l.Name)
	defer func() {
		s.metrics.end(l.Name, resp.finish(), time.Since(start))
	}()

	reg, contextPath := s.match(literalPath(r))
	if reg == nil {
		_ = resp.SendError(http.StatusNotFound, "")
		return
	}

	req := newRequest(r, l, contextPath, uuid.NewString())
	if s.auth != nil {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			s.log.Debug("authentication failed", "listener", l.Name, "id", req.ID(), "error", err)
			resp.challenge(s.auth.Challenge())
			return
		}
		if p != nil {
			req.principal, req.authType = p.Name, p.Scheme
		}
	}

	if err := service(reg.handler, req, resp); err != nil {
		s.log.Error("exchange failed", "listener", l.Name, "id", req.ID(),
			"method", r.Method, "uri", r.RequestURI, "error", err)
		if err := resp.SendError(http.StatusInternalServerError, ""); err != nil {
			s.log.Debug("could not send error response", "id", req.ID(), "error", err)
		}
		_ = resp.Resume()
	}

	resp.await(r.Context(), h.stop)
}

func service(h Handler, req *Request, resp *Response) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Newf("handler panicked: %v", v)
		}
	}()
	return h.Service(req, resp)
}
