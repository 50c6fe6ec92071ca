package listener

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/netutil"
)

// NetworkListener is a named network endpoint of a Server.
type NetworkListener struct {
	Name string
	Host string
	// Port to bind. Zero selects an ephemeral port; BoundPort reports the
	// port in use once the server started.
	Port int

	Secure    bool
	TLSConfig *tls.Config

	// MaxConnections limits simultaneously accepted connections. Zero means
	// no limit.
	MaxConnections int

	// ReuseAddress sets SO_REUSEADDR where the platform supports it, so a
	// restarted server can rebind a port with connections in TIME_WAIT.
	ReuseAddress bool

	ReadHeaderTimeout time.Duration

	mu        sync.Mutex
	ln        net.Listener
	srv       *http.Server
	boundPort int
}

// Address returns the configured host:port.
func (l *NetworkListener) Address() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// BoundPort returns the port the listener is bound to, or the configured
// port when it is not bound.
func (l *NetworkListener) BoundPort() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.boundPort
	}
	return l.Port
}

// IsBound reports whether the listener holds a socket.
func (l *NetworkListener) IsBound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ln != nil
}

func (l *NetworkListener) validate() error {
	switch {
	case l.Name == "":
		return errors.New("listener has no name")
	case l.Port < 0 || l.Port > 65535:
		return errors.Newf("listener %q: invalid port %d", l.Name, l.Port)
	case l.Secure && l.TLSConfig == nil:
		return errors.Newf("listener %q is secure but has no TLS configuration", l.Name)
	}
	return nil
}

func (l *NetworkListener) bind() error {
	var lc net.ListenConfig
	if l.ReuseAddress {
		lc.Control = reuseAddress
	}
	ln, err := lc.Listen(context.Background(), "tcp", l.Address())
	if err != nil {
		return errors.Wrapf(err, "binding listener %q to %s", l.Name, l.Address())
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if l.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, l.MaxConnections)
	}
	if l.Secure {
		ln = tls.NewListener(ln, l.TLSConfig)
	}

	l.mu.Lock()
	l.ln = ln
	l.boundPort = port
	l.mu.Unlock()
	return nil
}

// attach records the server that will serve the bound socket.
func (l *NetworkListener) attach(srv *http.Server) net.Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.srv = srv
	return l.ln
}

func (l *NetworkListener) serve(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("listener stopped", "listener", l.Name, "error", err)
	}
}

// release drops the socket and returns the server serving it, if any.
func (l *NetworkListener) release() (net.Listener, *http.Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, srv := l.ln, l.srv
	l.ln, l.srv = nil, nil
	return ln, srv
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
