// Package container hosts a dispatch application on the embedded listener
// server.
//
// HTTPContainer is a listener.Handler. For every exchange it builds the
// normalized dispatch request from the listener's request, binds a response
// writer that drives the listener's response, and hands the request to the
// application's engine. Suspended exchanges are held open by the listener;
// Service itself never waits for them.
package container

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/listener"
	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/container")

// ApplicationContextProvider is implemented by listener handlers that expose
// the application context of the application they host.
type ApplicationContextProvider interface {
	ApplicationContext() (*appcontext.Context, error)
}

// Option configures an HTTPContainer.
type Option func(*HTTPContainer)

// WithLogger sets the container logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPContainer) {
		if l != nil {
			c.log = l
		}
	}
}

// engine is an application engine together with the configuration flags the
// adapter reads on every exchange.
type engine struct {
	handler             *dispatch.ApplicationHandler
	statusOverSendError bool
}

func newEngine(app *dispatch.Application) (*engine, error) {
	h, err := dispatch.NewApplicationHandler(app)
	if err != nil {
		return nil, err
	}
	return &engine{
		handler:             h,
		statusOverSendError: h.Configuration().IsEnabled(dispatch.ResponseSetStatusOverSendError),
	}, nil
}

// HTTPContainer runs an application engine inside the listener server.
type HTTPContainer struct {
	// mu serializes lifecycle transitions; exchanges only read engine.
	mu     sync.Mutex
	app    *dispatch.Application
	engine atomic.Pointer[engine]
	log    *slog.Logger
}

var (
	_ listener.Handler           = (*HTTPContainer)(nil)
	_ listener.Starter           = (*HTTPContainer)(nil)
	_ listener.Destroyer         = (*HTTPContainer)(nil)
	_ dispatch.Container         = (*HTTPContainer)(nil)
	_ ApplicationContextProvider = (*HTTPContainer)(nil)
)

// NewHTTPContainer builds the engine for app. Invalid applications are
// rejected here, before any listener is bound.
func NewHTTPContainer(app *dispatch.Application, opts ...Option) (*HTTPContainer, error) {
	c := &HTTPContainer{app: app, log: log}
	for _, opt := range opts {
		opt(c)
	}
	e, err := newEngine(app)
	if err != nil {
		return nil, errors.Wrap(err, "creating container")
	}
	c.engine.Store(e)
	return c, nil
}

// Configuration returns the configuration of the current engine, or nil
// after Destroy.
func (c *HTTPContainer) Configuration() *dispatch.Configuration {
	if e := c.engine.Load(); e != nil {
		return e.handler.Configuration()
	}
	return nil
}

// ApplicationHandler returns the current engine, or nil after Destroy.
func (c *HTTPContainer) ApplicationHandler() *dispatch.ApplicationHandler {
	if e := c.engine.Load(); e != nil {
		return e.handler
	}
	return nil
}

// ApplicationContext looks up the application context as a component of the
// running engine.
func (c *HTTPContainer) ApplicationContext() (*appcontext.Context, error) {
	e := c.engine.Load()
	if e == nil {
		return nil, errors.AssertionFailedf("container has no engine; it was destroyed")
	}
	return dispatch.Component[*appcontext.Context](e.handler)
}

// Start is called by the listener server before the first exchange. It runs
// the startup hook of the engine, rebuilding the engine first when an
// earlier Destroy released it.
func (c *HTTPContainer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.engine.Load()
	if e == nil {
		var err error
		if e, err = newEngine(c.app); err != nil {
			return errors.Wrap(err, "rebuilding engine")
		}
		c.engine.Store(e)
	}
	e.handler.OnStartup(c)
	return nil
}

// Destroy runs the shutdown hook and releases the engine.
func (c *HTTPContainer) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.engine.Load()
	if e == nil {
		return
	}
	e.handler.OnShutdown(c)
	c.engine.Store(nil)
}

// Reload replaces the engine with one built from the current application.
func (c *HTTPContainer) Reload() error {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	return c.ReloadWith(app)
}

// ReloadWith replaces the engine with one built from app. The old engine is
// shut down only once the new one was built; exchanges in progress finish
// on the engine they started with.
func (c *HTTPContainer) ReloadWith(app *dispatch.Application) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := newEngine(app)
	if err != nil {
		return errors.Wrap(err, "reloading container")
	}
	if prev := c.engine.Load(); prev != nil {
		prev.handler.OnShutdown(c)
	}
	c.app = app
	c.engine.Store(next)
	next.handler.OnReload(c)
	next.handler.OnStartup(c)
	c.log.Debug("container reloaded", "application", app.Name())
	return nil
}

// Service adapts one exchange to the engine.
func (c *HTTPContainer) Service(req *listener.Request, resp *listener.Response) error {
	e := c.engine.Load()
	if e == nil {
		return errors.AssertionFailedf("container is not started")
	}

	base := baseURI(req)
	target, err := requestURI(req, base)
	if err != nil {
		c.log.Debug("malformed request target", "id", req.ID(), "error", err)
		return resp.SendError(http.StatusBadRequest, "")
	}

	cr := dispatch.NewContainerRequest(base, target, req.Method(), securityContext{req}, attributes{req})
	cr.SetContext(req.Context())
	cr.SetEntityStream(req.Body())
	for _, name := range req.HeaderNames() {
		cr.AddHeader(name, req.Headers(name)...)
	}
	cr.SetWriter(&responseWriter{
		name:                uuid.NewString(),
		resp:                resp,
		statusOverSendError: e.statusOverSendError,
		log:                 c.log.With("id", req.ID()),
	})
	cr.SetExchange(&Exchange{Request: req, Response: resp})

	return e.handler.Handle(cr)
}
