// Package sample provides the greeting application served by the apptest
// command and used throughout the package tests.
package sample

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/internal/sample")

// Name is the application name.
const Name = "greeter"

// GreetingProperty is the application property holding the greeting.
const GreetingProperty = "sample.greeting"

// DefaultGreeting is used when no greeting is configured.
const DefaultGreeting = "Hello"

// Greeter builds greetings and counts them.
type Greeter struct {
	greeting string
	served   atomic.Int64
}

// NewGreeter creates a greeter using greeting.
func NewGreeter(greeting string) *Greeter {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Greeter{greeting: greeting}
}

// Greet returns the greeting for name.
func (g *Greeter) Greet(name string) string {
	g.served.Add(1)
	return g.greeting + ", " + name + "!"
}

// Served returns the number of greetings built so far.
func (g *Greeter) Served() int64 {
	return g.served.Load()
}

type options struct {
	greeting string
	events   func(event string)
}

// Option configures the application.
type Option func(*options)

// WithGreeting replaces DefaultGreeting.
func WithGreeting(greeting string) Option {
	return func(o *options) { o.greeting = greeting }
}

// WithLifecycleEvents calls fn with "startup", "reload" or "shutdown" as the
// hosting container reports them.
func WithLifecycleEvents(fn func(event string)) Option {
	return func(o *options) { o.events = fn }
}

// New returns the greeting application.
func New(opts ...Option) *dispatch.Application {
	o := options{greeting: DefaultGreeting}
	for _, opt := range opts {
		opt(&o)
	}
	event := func(name string) func(dispatch.Container) {
		return func(c dispatch.Container) {
			log.Debug("lifecycle event", "event", name)
			if o.events != nil {
				o.events(name)
			}
		}
	}

	return dispatch.NewApplication(Name).
		Property(GreetingProperty, o.greeting).
		Provide(func() *Greeter { return NewGreeter(o.greeting) }).
		Register(dispatch.LifecycleFuncs{
			Startup:  event("startup"),
			Reload:   event("reload"),
			Shutdown: event("shutdown"),
		}).
		GET("/greetings/{name}", greet).
		POST("/echo", echo).
		GET("/headers", headers).
		GET("/uri", uri).
		GET("/principal", principal).
		GET("/fail", fail).
		GET("/panic", func(context.Context, *dispatch.ContainerRequest) (*dispatch.Response, error) {
			panic("sample panic")
		}).
		HandleAsync(http.MethodGet, "/async", later).
		HandleAsync(http.MethodGet, "/async/timeout", timeout)
}

func greet(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	g, err := dispatch.Inject[*Greeter](req)
	if err != nil {
		return nil, err
	}
	name := req.PathParam("name")
	log.Info("greeting", "name", name)
	return dispatch.OK(g.Greet(name)).WithType("text/plain; charset=utf-8"), nil
}

func echo(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	body, err := io.ReadAll(req.Entity())
	if err != nil {
		return nil, dispatch.WrapWebError(err, http.StatusBadRequest)
	}
	resp := dispatch.OK(body)
	if ct := req.Header().Get("Content-Type"); ct != "" {
		resp.WithType(ct)
	}
	return resp, nil
}

func headers(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	out := make(map[string]string, len(req.Header()))
	for _, name := range req.HeaderNames() {
		out[name] = strings.Join(req.Header().Values(name), ",")
	}
	return dispatch.OK(out), nil
}

// URIs is the entity of GET /uri.
type URIs struct {
	Base    string `json:"base"`
	Request string `json:"request"`
	Path    string `json:"path"`
}

func uri(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	return dispatch.OK(URIs{
		Base:    req.BaseURI().String(),
		Request: req.RequestURI().String(),
		Path:    req.Path(),
	}), nil
}

// Principal is the entity of GET /principal.
type Principal struct {
	Name   string `json:"name"`
	Scheme string `json:"scheme"`
	Secure bool   `json:"secure"`
}

func principal(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	sc := req.SecurityContext()
	return dispatch.OK(Principal{
		Name:   sc.UserPrincipal(),
		Scheme: sc.AuthenticationScheme(),
		Secure: sc.IsSecure(),
	}), nil
}

func fail(_ context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
	if status := req.QueryParam("status"); status != "" {
		return nil, dispatch.NewWebError(parseStatus(status), "requested failure")
	}
	return nil, errors.New("sample failure")
}

func parseStatus(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 400 || n > 599 {
		return http.StatusBadRequest
	}
	return n
}

// later resumes the response from another goroutine after the delay given by
// the "delay" query parameter.
func later(_ context.Context, req *dispatch.ContainerRequest, ar *dispatch.AsyncResponse) {
	delay, err := time.ParseDuration(queryOr(req, "delay", "10ms"))
	if err != nil {
		ar.Resume(dispatch.NewWebError(http.StatusBadRequest, err.Error()))
		return
	}
	go func() {
		time.Sleep(delay)
		ar.Resume("resumed after " + delay.String())
	}()
}

// timeout never resumes; the timeout handler answers 504.
func timeout(_ context.Context, req *dispatch.ContainerRequest, ar *dispatch.AsyncResponse) {
	d, err := time.ParseDuration(queryOr(req, "after", "20ms"))
	if err != nil {
		ar.Resume(dispatch.NewWebError(http.StatusBadRequest, err.Error()))
		return
	}
	ar.SetTimeoutHandler(func(ar *dispatch.AsyncResponse) {
		ar.Resume(dispatch.NewResponse(http.StatusGatewayTimeout).WithEntity("timed out after " + d.String()))
	})
	if err := ar.SetTimeout(d); err != nil {
		ar.ResumeError(err)
	}
}

func queryOr(req *dispatch.ContainerRequest, name, fallback string) string {
	if v := req.QueryParam(name); v != "" {
		return v
	}
	return fallback
}
