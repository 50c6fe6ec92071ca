package listener

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Request is the request side of an exchange.
type Request struct {
	raw         *http.Request
	listener    *NetworkListener
	contextPath string
	id          string
	principal   string
	authType    string

	attrMu sync.RWMutex
	attrs  map[string]any
}

func newRequest(raw *http.Request, l *NetworkListener, contextPath, id string) *Request {
	return &Request{
		raw:         raw,
		listener:    l,
		contextPath: contextPath,
		id:          id,
		attrs:       make(map[string]any),
	}
}

// ID returns the exchange id.
func (r *Request) ID() string {
	return r.id
}

// Raw returns the underlying net/http request.
func (r *Request) Raw() *http.Request {
	return r.raw
}

// Context returns the request context. It is cancelled when the client goes
// away.
func (r *Request) Context() context.Context {
	return r.raw.Context()
}

// Listener returns the listener that accepted the request.
func (r *Request) Listener() *NetworkListener {
	return r.listener
}

// Method returns the request method.
func (r *Request) Method() string {
	return r.raw.Method
}

// IsSecure reports whether the request arrived over TLS.
func (r *Request) IsSecure() bool {
	return r.raw.TLS != nil
}

// Scheme returns "https" for secure requests and "http" otherwise.
func (r *Request) Scheme() string {
	if r.IsSecure() {
		return "https"
	}
	return "http"
}

// ServerName returns the host the client addressed, without port.
func (r *Request) ServerName() string {
	host := r.raw.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	if host == "" {
		return r.listener.Host
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

// ServerPort returns the port the client addressed, falling back to the
// bound port of the listener.
func (r *Request) ServerPort() int {
	if _, p, err := net.SplitHostPort(r.raw.Host); err == nil {
		if port, err := strconv.Atoi(p); err == nil {
			return port
		}
	}
	return r.listener.BoundPort()
}

// ContextPath returns the path prefix the handler was registered under,
// without trailing slash. It is empty for the root.
func (r *Request) ContextPath() string {
	return r.contextPath
}

// RequestURI returns the path of the request target exactly as the client
// sent it, without the query string.
func (r *Request) RequestURI() string {
	return literalPath(r.raw)
}

// QueryString returns the raw query string.
func (r *Request) QueryString() string {
	return r.raw.URL.RawQuery
}

// HeaderNames returns the canonical header names in sorted order.
func (r *Request) HeaderNames() []string {
	names := make([]string, 0, len(r.raw.Header))
	for k := range r.raw.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Headers returns all values of a header in the order they were received.
func (r *Request) Headers(name string) []string {
	return r.raw.Header.Values(name)
}

// Body returns the entity stream.
func (r *Request) Body() io.ReadCloser {
	if r.raw.Body == nil {
		return http.NoBody
	}
	return r.raw.Body
}

// RemoteAddr returns the client address.
func (r *Request) RemoteAddr() string {
	return r.raw.RemoteAddr
}

// UserPrincipal returns the authenticated user, or "" for anonymous
// requests.
func (r *Request) UserPrincipal() string {
	return r.principal
}

// AuthType returns the authentication scheme, or "" for anonymous requests.
func (r *Request) AuthType() string {
	return r.authType
}

// Attribute returns a request attribute.
func (r *Request) Attribute(name string) (any, bool) {
	r.attrMu.RLock()
	defer r.attrMu.RUnlock()
	v, ok := r.attrs[name]
	return v, ok
}

// SetAttribute sets a request attribute. A nil value removes it.
func (r *Request) SetAttribute(name string, value any) {
	r.attrMu.Lock()
	defer r.attrMu.Unlock()
	if value == nil {
		delete(r.attrs, name)
		return
	}
	r.attrs[name] = value
}

// RemoveAttribute removes a request attribute.
func (r *Request) RemoveAttribute(name string) {
	r.attrMu.Lock()
	delete(r.attrs, name)
	r.attrMu.Unlock()
}

// AttributeNames returns the attribute names in sorted order.
func (r *Request) AttributeNames() []string {
	r.attrMu.RLock()
	names := make([]string, 0, len(r.attrs))
	for k := range r.attrs {
		names = append(names, k)
	}
	r.attrMu.RUnlock()
	sort.Strings(names)
	return names
}

// literalPath extracts the path of the request target without decoding it.
func literalPath(r *http.Request) string {
	target := r.RequestURI
	switch {
	case target == "":
		return r.URL.EscapedPath()
	case strings.HasPrefix(target, "/"):
		if i := strings.IndexByte(target, '?'); i >= 0 {
			target = target[:i]
		}
		return target
	case target == "*":
		return target
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return r.URL.EscapedPath()
	}
	return u.EscapedPath()
}
