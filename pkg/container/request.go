package container

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/listener"
)

// Exchange is the listener's view of the exchange behind a dispatch
// request.
type Exchange struct {
	Request  *listener.Request
	Response *listener.Response
}

// RawExchange returns the listener request and response a container request
// was built from.
func RawExchange(req *dispatch.ContainerRequest) (*Exchange, bool) {
	x, ok := req.Exchange().(*Exchange)
	return x, ok && x != nil
}

// baseURI is scheme://host:port/contextPath/.
func baseURI(req *listener.Request) *url.URL {
	path := req.ContextPath()
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return &url.URL{
		Scheme: req.Scheme(),
		Host:   net.JoinHostPort(req.ServerName(), strconv.Itoa(req.ServerPort())),
		Path:   path,
	}
}

// requestURI places the literal request target on base. The path is never
// reinterpreted as a reference, so "//host/x" stays a path and encoded
// characters survive as the client sent them.
func requestURI(req *listener.Request, base *url.URL) (*url.URL, error) {
	literal := req.RequestURI()
	path, err := url.PathUnescape(literal)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding request target %q", literal)
	}
	u := *base
	u.Path = path
	u.RawPath = ""
	if path != literal {
		u.RawPath = literal
	}
	u.RawQuery = req.QueryString()
	return &u, nil
}

// securityContext answers from the listener request, which carries what the
// listener's authenticator established.
type securityContext struct {
	req *listener.Request
}

func (s securityContext) UserPrincipal() string {
	return s.req.UserPrincipal()
}

func (s securityContext) IsSecure() bool {
	return s.req.IsSecure()
}

func (s securityContext) AuthenticationScheme() string {
	return s.req.AuthType()
}

// attributes exposes the listener request attributes as request properties.
type attributes struct {
	req *listener.Request
}

func (a attributes) Property(name string) (any, bool) {
	return a.req.Attribute(name)
}

func (a attributes) SetProperty(name string, value any) {
	a.req.SetAttribute(name, value)
}

func (a attributes) RemoveProperty(name string) {
	a.req.RemoveAttribute(name)
}

func (a attributes) PropertyNames() []string {
	return a.req.AttributeNames()
}
