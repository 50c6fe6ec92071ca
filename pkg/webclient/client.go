// Package webclient is the HTTP client tests use to call a test container.
//
// A Config collects transport settings and filters; a Client built from it
// creates Targets, which are immutable request builders rooted at a URI.
package webclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Filter wraps the transport of a client. Filters registered first are
// outermost.
type Filter func(next http.RoundTripper) http.RoundTripper

// Config configures a Client.
type Config struct {
	TLS     *tls.Config
	Timeout time.Duration
	Header  http.Header
	Filters []Filter
}

// Register adds a filter.
func (c *Config) Register(f Filter) *Config {
	if f != nil {
		c.Filters = append(c.Filters, f)
	}
	return c
}

// SetHeader sets a header sent with every request.
func (c *Config) SetHeader(name, value string) *Config {
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Header.Set(name, value)
	return c
}

// Client issues requests for Targets.
type Client struct {
	http   *http.Client
	header http.Header
}

// New builds a client from cfg. A nil cfg yields a default client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS.Clone()
	}
	var rt http.RoundTripper = transport
	for i := len(cfg.Filters) - 1; i >= 0; i-- {
		rt = cfg.Filters[i](rt)
	}
	return &Client{
		http:   &http.Client{Transport: rt, Timeout: cfg.Timeout},
		header: cfg.Header.Clone(),
	}
}

// HTTP returns the underlying net/http client.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Target returns a target rooted at u.
func (c *Client) Target(u *url.URL) *Target {
	cp := *u
	return &Target{client: c, uri: &cp, header: make(http.Header)}
}

// Target is a request builder. Every method returns a new Target.
type Target struct {
	client *Client
	uri    *url.URL
	header http.Header
}

func (t *Target) clone() *Target {
	u := *t.uri
	return &Target{client: t.client, uri: &u, header: t.header.Clone()}
}

// URI returns the target URI.
func (t *Target) URI() *url.URL {
	u := *t.uri
	return &u
}

// Path appends p to the target path.
func (t *Target) Path(p string) *Target {
	c := t.clone()
	trailing := strings.HasSuffix(p, "/")
	joined := path.Join("/", c.uri.Path, p)
	if trailing && joined != "/" {
		joined += "/"
	}
	c.uri.Path = joined
	c.uri.RawPath = ""
	return c
}

// Query adds query parameters.
func (t *Target) Query(name string, values ...string) *Target {
	c := t.clone()
	q := c.uri.Query()
	for _, v := range values {
		q.Add(name, v)
	}
	c.uri.RawQuery = q.Encode()
	return c
}

// Header adds a request header.
func (t *Target) Header(name, value string) *Target {
	c := t.clone()
	c.header.Add(name, value)
	return c
}

// Get issues a GET request.
func (t *Target) Get(ctx context.Context) (*Response, error) {
	return t.Do(ctx, http.MethodGet, "", nil)
}

// Delete issues a DELETE request.
func (t *Target) Delete(ctx context.Context) (*Response, error) {
	return t.Do(ctx, http.MethodDelete, "", nil)
}

// Post issues a POST request with the given entity.
func (t *Target) Post(ctx context.Context, contentType string, body io.Reader) (*Response, error) {
	return t.Do(ctx, http.MethodPost, contentType, body)
}

// Put issues a PUT request with the given entity.
func (t *Target) Put(ctx context.Context, contentType string, body io.Reader) (*Response, error) {
	return t.Do(ctx, http.MethodPut, contentType, body)
}

// Do issues a request. The caller closes the returned response.
func (t *Target) Do(ctx context.Context, method, contentType string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.uri.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s", method, t.uri)
	}
	for k, v := range t.client.header {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range t.header {
		req.Header[k] = append(req.Header[k], v...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, t.uri)
	}
	return &Response{Response: resp}, nil
}
