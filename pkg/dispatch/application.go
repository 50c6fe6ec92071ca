package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/bstoi/apptest/pkg/appcontext"
)

// Resource handles a request and returns the response to send.
type Resource func(ctx context.Context, req *ContainerRequest) (*Response, error)

// AsyncResource handles a request whose response is completed later through
// the AsyncResponse, possibly from another goroutine.
type AsyncResource func(ctx context.Context, req *ContainerRequest, resp *AsyncResponse)

type route struct {
	method   string
	path     string
	resource Resource
	async    AsyncResource
}

// Application describes what a container serves: routes, configuration
// properties, components for the application context and lifecycle
// listeners. It is built once and then treated as read only.
type Application struct {
	name       string
	routes     []route
	properties map[string]any
	providers  []any
	supplies   []any
	decorators []any
	listeners  []LifecycleListener

	ctxMu      sync.Mutex
	ctx        *appcontext.Context
	ownCtx     bool
	registered [3]int
}

// NewApplication creates an empty application.
func NewApplication(name string) *Application {
	return &Application{
		name:       name,
		properties: make(map[string]any),
	}
}

// Name returns the application name.
func (a *Application) Name() string {
	return a.name
}

// Handle registers a resource for method and path. Path segments in braces
// are parameters, for example "/greetings/{name}".
func (a *Application) Handle(method, path string, r Resource) *Application {
	a.routes = append(a.routes, route{method: method, path: path, resource: r})
	return a
}

// HandleAsync registers an asynchronous resource for method and path.
func (a *Application) HandleAsync(method, path string, r AsyncResource) *Application {
	a.routes = append(a.routes, route{method: method, path: path, async: r})
	return a
}

// Property sets a configuration property.
func (a *Application) Property(name string, value any) *Application {
	a.properties[name] = value
	return a
}

// Properties returns a copy of the configuration properties.
func (a *Application) Properties() map[string]any {
	out := make(map[string]any, len(a.properties))
	for k, v := range a.properties {
		out[k] = v
	}
	return out
}

// LoadProperties reads configuration properties from a YAML document. Nested
// mappings are flattened into dotted names, so
//
//	apptest:
//	  config:
//	    server: {response: {setStatusOverSendError: true}}
//
// sets "apptest.config.server.response.setStatusOverSendError".
func (a *Application) LoadProperties(r io.Reader) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(err, "decoding application properties")
	}
	flatten("", doc, a.properties)
	return nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(name, nested, out)
			continue
		}
		out[name] = v
	}
}

// Provide adds component constructors to the application context.
func (a *Application) Provide(constructors ...any) *Application {
	a.providers = append(a.providers, constructors...)
	return a
}

// Supply adds ready-made components to the application context.
func (a *Application) Supply(values ...any) *Application {
	a.supplies = append(a.supplies, values...)
	return a
}

// Decorate adds component decorators to the application context.
func (a *Application) Decorate(decorators ...any) *Application {
	a.decorators = append(a.decorators, decorators...)
	return a
}

// WithContext makes the application use ctx as its application context
// instead of creating one.
func (a *Application) WithContext(ctx *appcontext.Context) *Application {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ownCtx = false
	a.registered = [3]int{}
	a.ctxMu.Unlock()
	return a
}

// Register adds a lifecycle listener.
func (a *Application) Register(l LifecycleListener) *Application {
	a.listeners = append(a.listeners, l)
	return a
}

// Validate reports descriptor errors: malformed or duplicate routes and
// constructors that are not functions.
func (a *Application) Validate() error {
	var errs error
	seen := make(map[string]bool, len(a.routes))
	for _, r := range a.routes {
		key := r.method + " " + r.path
		switch {
		case r.method == "" || strings.ToUpper(r.method) != r.method:
			errs = errors.CombineErrors(errs, errors.Newf("route %q: invalid method %q", r.path, r.method))
		case !strings.HasPrefix(r.path, "/"):
			errs = errors.CombineErrors(errs, errors.Newf("route %s: path must start with /", key))
		case r.resource == nil && r.async == nil:
			errs = errors.CombineErrors(errs, errors.Newf("route %s: no resource", key))
		case seen[key]:
			errs = errors.CombineErrors(errs, errors.Newf("route %s: registered twice", key))
		}
		seen[key] = true
	}
	for _, fn := range append(append([]any(nil), a.providers...), a.decorators...) {
		if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
			errs = errors.CombineErrors(errs, errors.Newf("component constructor %T is not a function", fn))
		}
	}
	if errs != nil {
		return errors.Wrapf(errs, "invalid application %q", a.name)
	}
	return nil
}

// Context returns the application context, creating it on first use. Every
// engine built from the application shares it. Components added since the
// previous call are registered before it returns.
func (a *Application) Context() (*appcontext.Context, error) {
	a.ctxMu.Lock()
	defer a.ctxMu.Unlock()

	if a.ctx == nil {
		a.ctx = appcontext.New(appcontext.WithName(a.name))
		a.ownCtx = true
	}

	if err := a.ctx.Provide(a.providers[a.registered[0]:]...); err != nil {
		return nil, err
	}
	a.registered[0] = len(a.providers)
	if err := a.ctx.Supply(a.supplies[a.registered[1]:]...); err != nil {
		return nil, err
	}
	a.registered[1] = len(a.supplies)
	if err := a.ctx.Decorate(a.decorators[a.registered[2]:]...); err != nil {
		return nil, err
	}
	a.registered[2] = len(a.decorators)

	return a.ctx, nil
}

// Copy returns a descriptor with the same routes, properties, components and
// listeners. The copy creates its own application context unless one was set
// with WithContext.
func (a *Application) Copy() *Application {
	c := NewApplication(a.name)
	c.routes = append(c.routes, a.routes...)
	for k, v := range a.properties {
		c.properties[k] = v
	}
	c.providers = append(c.providers, a.providers...)
	c.supplies = append(c.supplies, a.supplies...)
	c.decorators = append(c.decorators, a.decorators...)
	c.listeners = append(c.listeners, a.listeners...)

	a.ctxMu.Lock()
	if a.ctx != nil && !a.ownCtx {
		c.ctx = a.ctx
		c.registered = a.registered
	}
	a.ctxMu.Unlock()
	return c
}

func (a *Application) String() string {
	return fmt.Sprintf("%s (%d routes)", a.name, len(a.routes))
}

// GET registers a GET resource.
func (a *Application) GET(path string, r Resource) *Application {
	return a.Handle(http.MethodGet, path, r)
}

// POST registers a POST resource.
func (a *Application) POST(path string, r Resource) *Application {
	return a.Handle(http.MethodPost, path, r)
}

// PUT registers a PUT resource.
func (a *Application) PUT(path string, r Resource) *Application {
	return a.Handle(http.MethodPut, path, r)
}

// DELETE registers a DELETE resource.
func (a *Application) DELETE(path string, r Resource) *Application {
	return a.Handle(http.MethodDelete, path, r)
}
