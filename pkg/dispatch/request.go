package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/bstoi/apptest/pkg/appcontext"
)

// SecurityContext describes who sent a request and how.
type SecurityContext interface {
	UserPrincipal() string
	IsSecure() bool
	AuthenticationScheme() string
}

// PropertiesDelegate stores request properties. Containers back it with the
// attribute store of their own request object.
type PropertiesDelegate interface {
	Property(name string) (any, bool)
	SetProperty(name string, value any)
	RemoveProperty(name string)
	PropertyNames() []string
}

// MapProperties is a PropertiesDelegate over a map.
type MapProperties struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewMapProperties creates an empty MapProperties.
func NewMapProperties() *MapProperties {
	return &MapProperties{m: make(map[string]any)}
}

func (p *MapProperties) Property(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[name]
	return v, ok
}

func (p *MapProperties) SetProperty(name string, value any) {
	p.mu.Lock()
	p.m[name] = value
	p.mu.Unlock()
}

func (p *MapProperties) RemoveProperty(name string) {
	p.mu.Lock()
	delete(p.m, name)
	p.mu.Unlock()
}

func (p *MapProperties) PropertyNames() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.m))
	for k := range p.m {
		names = append(names, k)
	}
	p.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ContainerRequest is a request as the dispatch layer sees it, built by a
// container from whatever its transport delivered.
type ContainerRequest struct {
	ctx        context.Context
	baseURI    *url.URL
	requestURI *url.URL
	method     string
	security   SecurityContext
	properties PropertiesDelegate
	header     http.Header
	entity     io.Reader
	writer     ContainerResponseWriter
	exchange   any
	pathParams map[string]string
	appContext *appcontext.Context
}

// NewContainerRequest creates a request. baseURI is the application root and
// must end with "/"; requestURI is absolute.
func NewContainerRequest(baseURI, requestURI *url.URL, method string, security SecurityContext, properties PropertiesDelegate) *ContainerRequest {
	if properties == nil {
		properties = NewMapProperties()
	}
	return &ContainerRequest{
		ctx:        context.Background(),
		baseURI:    baseURI,
		requestURI: requestURI,
		method:     method,
		security:   security,
		properties: properties,
		header:     make(http.Header),
		entity:     http.NoBody,
	}
}

// Context returns the request context.
func (r *ContainerRequest) Context() context.Context {
	return r.ctx
}

// SetContext replaces the request context.
func (r *ContainerRequest) SetContext(ctx context.Context) {
	if ctx != nil {
		r.ctx = ctx
	}
}

// BaseURI returns the application root URI.
func (r *ContainerRequest) BaseURI() *url.URL {
	return r.baseURI
}

// RequestURI returns the full request URI.
func (r *ContainerRequest) RequestURI() *url.URL {
	return r.requestURI
}

// Path returns the escaped request path relative to the base URI, starting
// with "/".
func (r *ContainerRequest) Path() string {
	p := strings.TrimPrefix(r.requestURI.EscapedPath(), strings.TrimSuffix(r.baseURI.EscapedPath(), "/"))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Method returns the request method.
func (r *ContainerRequest) Method() string {
	return r.method
}

// SecurityContext returns the security context, which may be nil.
func (r *ContainerRequest) SecurityContext() SecurityContext {
	return r.security
}

// Properties returns the request properties.
func (r *ContainerRequest) Properties() PropertiesDelegate {
	return r.properties
}

// Header returns the request headers.
func (r *ContainerRequest) Header() http.Header {
	return r.header
}

// HeaderNames returns the canonical header names in sorted order.
func (r *ContainerRequest) HeaderNames() []string {
	names := make([]string, 0, len(r.header))
	for k := range r.header {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AddHeader appends header values, keeping their order.
func (r *ContainerRequest) AddHeader(name string, values ...string) {
	for _, v := range values {
		r.header.Add(name, v)
	}
}

// Entity returns the request body stream.
func (r *ContainerRequest) Entity() io.Reader {
	return r.entity
}

// SetEntityStream sets the request body stream.
func (r *ContainerRequest) SetEntityStream(body io.Reader) {
	if body == nil {
		body = http.NoBody
	}
	r.entity = body
}

// Writer returns the response writer.
func (r *ContainerRequest) Writer() ContainerResponseWriter {
	return r.writer
}

// SetWriter binds the response writer.
func (r *ContainerRequest) SetWriter(w ContainerResponseWriter) {
	r.writer = w
}

// Exchange returns the transport objects the container attached to the
// request. Containers provide typed accessors for it.
func (r *ContainerRequest) Exchange() any {
	return r.exchange
}

// SetExchange attaches the transport objects of the exchange.
func (r *ContainerRequest) SetExchange(exchange any) {
	r.exchange = exchange
}

// PathParam returns a path parameter of the matched route, unescaped.
func (r *ContainerRequest) PathParam(name string) string {
	return r.pathParams[name]
}

// QueryParam returns the first value of a query parameter.
func (r *ContainerRequest) QueryParam(name string) string {
	return r.requestURI.Query().Get(name)
}

// ApplicationContext returns the context of the application handling the
// request. It is nil until the request is dispatched.
func (r *ContainerRequest) ApplicationContext() *appcontext.Context {
	return r.appContext
}

// Inject returns the component of type T from the application handling req.
func Inject[T any](req *ContainerRequest) (T, error) {
	if req.appContext == nil {
		var zero T
		return zero, appcontext.ErrNoComponent
	}
	return appcontext.Get[T](req.appContext)
}
