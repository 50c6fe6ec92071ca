// Package testcontainer runs an application under test in an in-process
// container and exposes its base URI and application context to tests.
package testcontainer

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/internal/errmark"
	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/certs"
	"github.com/bstoi/apptest/pkg/container"
	"github.com/bstoi/apptest/pkg/listener"
	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/testcontainer")

var (
	// ErrTestContainer marks failures to create, start or stop a container.
	ErrTestContainer = errors.New("test container failure")

	// ErrIllegalState marks a container that cannot do what was asked in
	// its current state.
	ErrIllegalState = errors.New("test container is in an illegal state")
)

// ClientConfig is what a client needs to talk to a container. A nil
// ClientConfig means a default client will do.
type ClientConfig struct {
	TLS *tls.Config
}

// TestContainer is a container running the application under test.
type TestContainer interface {
	// BaseURI returns the application root. Once a container created with
	// port 0 is started, it carries the port actually bound.
	BaseURI() *url.URL

	// ApplicationContext returns the application context of the hosted
	// application.
	ApplicationContext() (*appcontext.Context, error)

	Start() error
	Stop() error
	IsStarted() bool

	// ClientConfig returns the client hint, or nil.
	ClientConfig() *ClientConfig
}

type httpContainer struct {
	mu        sync.Mutex
	baseURI   *url.URL
	ephemeral bool
	server    *listener.Server
	client    *ClientConfig
	log       *slog.Logger
}

func newHTTPContainer(baseURI *url.URL, dc *DeploymentContext, f *HTTPFactory) (*httpContainer, error) {
	if baseURI == nil || dc == nil {
		return nil, errmark.Mark(errors.New("base URI and deployment context are required"), ErrTestContainer)
	}

	u := *baseURI
	u.Path = joinPath(u.Path, dc.ContextPath())
	u.RawPath = ""
	if f.Secure {
		u.Scheme = "https"
	}

	c := &httpContainer{
		baseURI:   &u,
		ephemeral: u.Port() == "0",
		log:       log,
	}
	c.log.Info("creating test container", "baseURI", u.String(), "application", dc.Application().Name())

	opts := append([]container.ServerOption{container.WithStart(false)}, f.Options...)
	if u.Scheme == "https" {
		cert, err := certs.Generate(certs.Config{Hosts: []string{u.Hostname(), "localhost", "127.0.0.1", "::1"}})
		if err != nil {
			return nil, errmark.Mark(errors.Wrap(err, "generating test container certificate"), ErrTestContainer)
		}
		serverTLS, err := cert.ServerConfig()
		if err != nil {
			return nil, errmark.Mark(err, ErrTestContainer)
		}
		opts = append(opts, container.WithTLS(serverTLS))
		c.client = &ClientConfig{TLS: cert.ClientConfig()}
	}

	srv, err := container.CreateHTTPServer(&u, dc.Application(), opts...)
	if err != nil {
		return nil, errmark.Mark(errors.Wrapf(err, "creating test container at %s", u.String()), ErrTestContainer)
	}
	c.server = srv
	return c, nil
}

// joinPath appends the context path to the base path. The result starts and
// ends with a slash.
func joinPath(base, contextPath string) string {
	p := path.Join("/", base, contextPath)
	if p != "/" {
		p += "/"
	}
	return p
}

func (c *httpContainer) BaseURI() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := *c.baseURI
	return &u
}

func (c *httpContainer) ClientConfig() *ClientConfig {
	return c.client
}

func (c *httpContainer) IsStarted() bool {
	return c.server.IsStarted()
}

func (c *httpContainer) ApplicationContext() (*appcontext.Context, error) {
	for _, h := range c.server.Handlers() {
		if p, ok := h.(container.ApplicationContextProvider); ok {
			return p.ApplicationContext()
		}
	}
	return nil, errmark.Mark(errors.New("no handler exposes an application context"), ErrIllegalState)
}

func (c *httpContainer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server.IsStarted() {
		c.log.Warn("ignoring start request, test container is already started")
		return nil
	}
	c.log.Debug("starting test container")
	if err := c.server.Start(); err != nil {
		return errmark.Mark(errors.Wrapf(err, "starting test container at %s", c.baseURI), ErrTestContainer)
	}

	if c.ephemeral {
		port := c.server.Listener(container.ListenerName).BoundPort()
		c.baseURI.Host = net.JoinHostPort(c.baseURI.Hostname(), strconv.Itoa(port))
		c.log.Info("started test container", "baseURI", c.baseURI.String())
	}
	return nil
}

func (c *httpContainer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.server.IsStarted() {
		c.log.Warn("ignoring stop request, test container is already stopped")
		return nil
	}
	c.log.Debug("stopping test container")
	if err := c.server.ShutdownNow(); err != nil {
		return errmark.Mark(errors.Wrap(err, "stopping test container"), ErrTestContainer)
	}
	return nil
}
