package container

import (
	"crypto/tls"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/listener"
)

// ListenerName is the name of the listener created by CreateHTTPServer.
const ListenerName = "apptest"

const (
	defaultHost      = "0.0.0.0"
	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
)

type serverConfig struct {
	start            bool
	tls              *tls.Config
	serverOptions    []listener.Option
	containerOptions []Option
	configure        func(*listener.NetworkListener)
}

// ServerOption configures CreateHTTPServer.
type ServerOption func(*serverConfig)

// WithStart controls whether the server is started before it is returned.
// It is by default.
func WithStart(start bool) ServerOption {
	return func(c *serverConfig) { c.start = start }
}

// WithTLS makes the listener secure. It is required for https URIs.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(c *serverConfig) { c.tls = cfg }
}

// WithServerOptions passes options to the listener server.
func WithServerOptions(opts ...listener.Option) ServerOption {
	return func(c *serverConfig) { c.serverOptions = append(c.serverOptions, opts...) }
}

// WithContainerOptions passes options to the HTTPContainer.
func WithContainerOptions(opts ...Option) ServerOption {
	return func(c *serverConfig) { c.containerOptions = append(c.containerOptions, opts...) }
}

// WithListener lets the caller adjust the network listener before it is
// added to the server.
func WithListener(fn func(*listener.NetworkListener)) ServerOption {
	return func(c *serverConfig) { c.configure = fn }
}

// CreateHTTPServer creates a listener server hosting app at uri. The host
// defaults to all interfaces and a missing port to the scheme's default
// port; the URI path becomes the context path of the container.
func CreateHTTPServer(uri *url.URL, app *dispatch.Application, opts ...ServerOption) (*listener.Server, error) {
	if uri == nil {
		return nil, errors.New("server URI is nil")
	}
	cfg := serverConfig{start: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	secure := uri.Scheme == "https"
	if secure && cfg.tls == nil {
		return nil, errors.Newf("secure server %s has no TLS configuration", uri)
	}

	host := uri.Hostname()
	if host == "" {
		host = defaultHost
	}
	port := defaultHTTPPort
	if secure {
		port = defaultHTTPSPort
	}
	if p := uri.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "server port %q", p)
		}
		port = n
	}

	c, err := NewHTTPContainer(app, cfg.containerOptions...)
	if err != nil {
		return nil, err
	}

	l := &listener.NetworkListener{
		Name:      ListenerName,
		Host:      host,
		Port:      port,
		Secure:    cfg.tls != nil,
		TLSConfig: cfg.tls,
	}
	if cfg.configure != nil {
		cfg.configure(l)
	}

	srv := listener.NewServer(cfg.serverOptions...)
	if err := srv.AddListener(l); err != nil {
		return nil, err
	}
	srv.Handle(c, uri.Path)

	if cfg.start {
		if err := srv.Start(); err != nil {
			_ = srv.ShutdownNow()
			return nil, dispatch.ProcessingError(errors.Wrapf(err, "starting server at %s", uri))
		}
	}
	return srv, nil
}
