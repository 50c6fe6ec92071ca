// Package dispatch is the request processing layer hosted by containers.
//
// An Application describes routes, properties and components. An
// ApplicationHandler built from it matches each ContainerRequest to a
// resource, calls it and writes the result through the request's
// ContainerResponseWriter. Containers only deal with the normalized request
// and the writer; they never see routes or resources.
package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/dispatch")

// routeRef identifies a compiled route in mux matches.
type routeRef int

func (routeRef) ServeHTTP(http.ResponseWriter, *http.Request) {}

type compiledRoute struct {
	route
	mux *mux.Route
}

// ApplicationHandler is the processing engine for one Application.
type ApplicationHandler struct {
	app       *Application
	config    *Configuration
	ctx       *appcontext.Context
	router    *mux.Router
	routes    []compiledRoute
	buffering bool
	log       *slog.Logger
}

// NewApplicationHandler validates app and builds its engine. The
// application context is created (or extended) with the application's
// components.
func NewApplicationHandler(app *Application) (*ApplicationHandler, error) {
	if app == nil {
		return nil, errors.New("application is nil")
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	ctx, err := app.Context()
	if err != nil {
		return nil, errors.Wrapf(err, "building application context for %q", app.name)
	}

	h := &ApplicationHandler{
		app:    app,
		config: newConfiguration(app),
		ctx:    ctx,
		router: mux.NewRouter().UseEncodedPath(),
		log:    log.With("application", app.name),
	}
	h.buffering = h.config.IsEnabled(ResponseBuffering)

	for i, r := range app.routes {
		mr := h.router.NewRoute().Methods(r.method).Path(r.path).Handler(routeRef(i))
		if err := mr.GetError(); err != nil {
			return nil, errors.Wrapf(err, "route %s %s", r.method, r.path)
		}
		h.routes = append(h.routes, compiledRoute{route: r, mux: mr})
	}
	return h, nil
}

// Application returns the descriptor the engine was built from.
func (h *ApplicationHandler) Application() *Application {
	return h.app
}

// Configuration returns the engine configuration.
func (h *ApplicationHandler) Configuration() *Configuration {
	return h.config
}

// ApplicationContext returns the application context.
func (h *ApplicationHandler) ApplicationContext() *appcontext.Context {
	return h.ctx
}

// Component looks up a component of the application context by type.
func (h *ApplicationHandler) Component(t reflect.Type) (any, error) {
	return h.ctx.Component(t)
}

// Component returns the component of type T from the engine's application
// context.
func Component[T any](h *ApplicationHandler) (T, error) {
	return appcontext.Get[T](h.ctx)
}

// OnStartup notifies lifecycle listeners that c started.
func (h *ApplicationHandler) OnStartup(c Container) {
	h.log.Debug("application started")
	for _, l := range h.app.listeners {
		l.OnStartup(c)
	}
}

// OnReload notifies lifecycle listeners that c reloaded.
func (h *ApplicationHandler) OnReload(c Container) {
	h.log.Debug("application reloaded")
	for _, l := range h.app.listeners {
		l.OnReload(c)
	}
}

// OnShutdown notifies lifecycle listeners that c is shutting down.
func (h *ApplicationHandler) OnShutdown(c Container) {
	h.log.Debug("application shutting down")
	for _, l := range h.app.listeners {
		l.OnShutdown(c)
	}
}

// Handle processes a request. The response is written through the request's
// writer, either before Handle returns or, for asynchronous resources, later
// from the goroutine that resumes the response. The returned error is the
// one reported by the writer's Failure.
func (h *ApplicationHandler) Handle(req *ContainerRequest) error {
	if req.Writer() == nil {
		return errors.AssertionFailedf("request %s %s has no response writer", req.Method(), req.RequestURI())
	}
	req.appContext = h.ctx

	h.log.Log(req.Context(), logging.LevelTrace, "dispatching request",
		"method", req.Method(), "uri", req.RequestURI().String())

	rt, vars, allow := h.match(req)
	if rt == nil {
		status := http.StatusNotFound
		resp := NewResponse(status)
		if len(allow) > 0 {
			status = http.StatusMethodNotAllowed
			resp.Status = status
			resp.Header.Set("Allow", strings.Join(allow, ", "))
		}
		h.log.Debug("no matching resource", "method", req.Method(), "path", req.Path(), "status", status)
		return h.write(req, resp)
	}
	req.pathParams = vars

	if rt.async != nil {
		return h.handleAsync(req, rt.async)
	}

	resp, err := h.call(req, rt.resource)
	if err != nil {
		return h.fail(req, err)
	}
	if resp == nil {
		resp = NoContent()
	}
	return h.write(req, resp)
}

func (h *ApplicationHandler) match(req *ContainerRequest) (*compiledRoute, map[string]string, []string) {
	escaped := req.Path()
	path, err := url.PathUnescape(escaped)
	if err != nil {
		path = escaped
	}
	lookup := &http.Request{
		Method: req.Method(),
		URL:    &url.URL{Path: path, RawPath: escaped},
		Host:   req.BaseURI().Host,
		Header: req.Header(),
	}

	var m mux.RouteMatch
	if h.router.Match(lookup, &m) && m.MatchErr == nil {
		if ref, ok := m.Handler.(routeRef); ok {
			vars := make(map[string]string, len(m.Vars))
			for k, v := range m.Vars {
				if u, err := url.PathUnescape(v); err == nil {
					v = u
				}
				vars[k] = v
			}
			return &h.routes[ref], vars, nil
		}
	}
	if !errors.Is(m.MatchErr, mux.ErrMethodMismatch) {
		return nil, nil, nil
	}

	var allow []string
	seen := make(map[string]bool)
	for _, r := range h.routes {
		if seen[r.method] {
			continue
		}
		alt := *lookup
		alt.Method = r.method
		if r.mux.Match(&alt, &mux.RouteMatch{}) {
			seen[r.method] = true
			allow = append(allow, r.method)
		}
	}
	return nil, nil, allow
}

func (h *ApplicationHandler) call(req *ContainerRequest, res Resource) (resp *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	return res(req.Context(), req)
}

// fail answers a WebError with its response and hands any other error to the
// writer.
func (h *ApplicationHandler) fail(req *ContainerRequest, err error) error {
	var we *WebError
	if errors.As(err, &we) && we.Response != nil {
		h.log.Debug("resource answered with an error response", "status", we.Response.Status, "error", err)
		return h.write(req, we.Response)
	}
	return req.Writer().Failure(err)
}

func (h *ApplicationHandler) write(req *ContainerRequest, resp *Response) error {
	w := req.Writer()

	header := make(http.Header, len(resp.Header)+1)
	for k, v := range resp.Header {
		header[k] = append([]string(nil), v...)
	}
	body, length, err := encodeEntity(resp.Entity, header)
	if err != nil {
		return w.Failure(err)
	}
	if closer, ok := body.(io.Closer); ok {
		defer closer.Close()
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if length < 0 && h.buffering {
		w.EnableResponseBuffering()
	}

	out, err := w.WriteResponseStatusAndHeaders(length, &ContainerResponse{
		Request: req,
		Status:  status,
		Reason:  resp.Reason,
		Header:  header,
	})
	if err != nil {
		return errors.Wrap(err, "writing response status")
	}
	if body != nil && out != nil && req.Method() != http.MethodHead {
		if _, err := io.Copy(out, body); err != nil {
			return errors.Wrap(err, "writing response entity")
		}
	}
	w.Commit()
	return nil
}

func encodeEntity(entity any, header http.Header) (io.Reader, int64, error) {
	switch e := entity.(type) {
	case nil:
		return nil, 0, nil
	case []byte:
		return bytes.NewReader(e), int64(len(e)), nil
	case string:
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "text/plain; charset=utf-8")
		}
		return strings.NewReader(e), int64(len(e)), nil
	case io.Reader:
		return e, -1, nil
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "encoding %T entity", entity)
		}
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
		return bytes.NewReader(b), int64(len(b)), nil
	}
}
