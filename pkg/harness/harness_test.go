package harness

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/logging"
	"github.com/bstoi/apptest/pkg/props"
	"github.com/bstoi/apptest/pkg/testcontainer"
	"github.com/bstoi/apptest/pkg/webclient"
)

var appLog = logging.Named("github.com/bstoi/apptest/greeter")

type greeter struct{ greeting string }

func greetingApp() *dispatch.Application {
	return dispatch.NewApplication("greeter").
		Supply(&greeter{greeting: "hello"}).
		GET("/greetings/{name}", func(ctx context.Context, req *dispatch.ContainerRequest) (*dispatch.Response, error) {
			g, err := dispatch.Inject[*greeter](req)
			if err != nil {
				return nil, err
			}
			appLog.Info("greeting", "name", req.PathParam("name"))
			return dispatch.OK(g.greeting + " " + req.PathParam("name")), nil
		}).
		GET("/fail", func(context.Context, *dispatch.ContainerRequest) (*dispatch.Response, error) {
			return nil, errors.New("boom")
		})
}

// ephemeral serves greetingApp on an ephemeral port.
func ephemeral(opts ...testcontainer.DeploymentOption) *configurer {
	return &configurer{
		configure: func(h *Harness) (*dispatch.Application, error) {
			h.Set(props.ContainerPort, 0)
			return greetingApp(), nil
		},
		deployment: opts,
	}
}

type configurer struct {
	configure  func(h *Harness) (*dispatch.Application, error)
	deployment []testcontainer.DeploymentOption
	client     func(cfg *webclient.Config)
}

func (c *configurer) Configure(h *Harness) (*dispatch.Application, error) {
	return c.configure(h)
}

func (c *configurer) ConfigureDeployment(*dispatch.Application) []testcontainer.DeploymentOption {
	return c.deployment
}

func (c *configurer) ConfigureClient(cfg *webclient.Config) {
	if c.client != nil {
		c.client(cfg)
	}
}

func setUp(t *testing.T, h *Harness) {
	t.Helper()
	require.NoError(t, h.SetUp())
	t.Cleanup(func() { _ = h.Close() })
}

// =============================================================================
// Harness
// =============================================================================

func TestHarnessServesApplication(t *testing.T) {
	h, err := New(ephemeral(testcontainer.WithContextPath("api")), WithSystem(props.NewSystem()))
	require.NoError(t, err)
	assert.Equal(t, "api", h.DeploymentContext().ContextPath())
	assert.False(t, h.Container().IsStarted())

	setUp(t, h)
	assert.True(t, h.Container().IsStarted())
	assert.Equal(t, "localhost", h.BaseURI().Hostname())
	assert.NotEqual(t, "0", h.BaseURI().Port())
	assert.Equal(t, "/api/", h.BaseURI().Path)

	resp, err := h.TargetPath("greetings/world").Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	assert.Same(t, h.Client(), h.Client())

	ctx, err := h.ApplicationContext()
	require.NoError(t, err)
	g, err := appcontext.Get[*greeter](ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", g.greeting)

	require.NoError(t, h.TearDown())
	assert.False(t, h.Container().IsStarted())
	require.NoError(t, h.SetUp(), "the container restarts for the next test")
}

func TestHarnessRequiresConfigurer(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = New(ConfigureFunc(func(*Harness) (*dispatch.Application, error) {
		return nil, errors.New("no application today")
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no application today")

	_, err = New(ConfigureFunc(func(*Harness) (*dispatch.Application, error) { return nil, nil }))
	assert.Error(t, err)
}

func TestHarnessProperties(t *testing.T) {
	sys := props.NewSystem()
	restore := sys.Set(props.ContainerPort, "0")
	defer restore()

	var seen int
	h, err := New(ConfigureFunc(func(h *Harness) (*dispatch.Application, error) {
		h.Set(props.ContainerPort, 1234)
		seen = h.Port()
		h.Enable("feature.a")
		h.ForceDisable("feature.b")
		h.ForceSet("name", "forced")
		return greetingApp(), nil
	}), WithSystem(sys))
	require.NoError(t, err)

	assert.Equal(t, 0, seen, "system properties override normal values")
	assert.True(t, h.IsEnabled("feature.a"))
	assert.False(t, h.IsEnabled("feature.b"))
	v, ok := h.Property("name")
	assert.True(t, ok)
	assert.Equal(t, "forced", v)
	assert.Same(t, sys, h.Properties().System())

	h.ForceSet(props.ContainerPort, "4321")
	assert.Equal(t, 4321, h.Port())
}

func TestHarnessFactorySelection(t *testing.T) {
	t.Run("unknown factory", func(t *testing.T) {
		sys := props.NewSystem()
		defer sys.Set(props.ContainerFactory, "carrier-pigeon")()
		_, err := New(ephemeral(), WithSystem(sys))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
	})

	t.Run("explicit factory", func(t *testing.T) {
		var got *url.URL
		f := testcontainer.FactoryFunc(func(u *url.URL, dc *testcontainer.DeploymentContext) (testcontainer.TestContainer, error) {
			got = u
			return (&testcontainer.HTTPFactory{}).Create(u, dc)
		})
		h, err := New(ephemeral(), WithSystem(props.NewSystem()), WithFactory(f))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:0/", got.String())
		assert.NotNil(t, h.Container())
	})

	t.Run("base uri", func(t *testing.T) {
		base, err := url.Parse("http://127.0.0.1:0/base/")
		require.NoError(t, err)
		h, err := New(ephemeral(testcontainer.WithContextPath("app")), WithSystem(props.NewSystem()), WithBaseURI(base))
		require.NoError(t, err)
		assert.Equal(t, "/base/app/", h.BaseURI().Path)
	})

	t.Run("factory failure", func(t *testing.T) {
		f := testcontainer.FactoryFunc(func(*url.URL, *testcontainer.DeploymentContext) (testcontainer.TestContainer, error) {
			return nil, errors.New("no containers left")
		})
		_, err := New(ephemeral(), WithSystem(props.NewSystem()), WithFactory(f))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no containers left")
	})

	t.Run("secure", func(t *testing.T) {
		sys := props.NewSystem()
		defer sys.Set(props.ContainerFactory, testcontainer.HTTPS)()
		h, err := New(ephemeral(), WithSystem(sys))
		require.NoError(t, err)
		setUp(t, h)

		assert.Equal(t, "https", h.BaseURI().Scheme)
		resp, err := h.TargetPath("greetings/tls").Get(t.Context())
		require.NoError(t, err)
		text, err := resp.Text()
		require.NoError(t, err)
		assert.Equal(t, "hello tls", text)
	})
}

// =============================================================================
// Client
// =============================================================================

func TestHarnessClientConfiguration(t *testing.T) {
	var seen http.Header
	c := ephemeral()
	c.client = func(cfg *webclient.Config) {
		cfg.SetHeader("X-Suite", "harness")
		cfg.Register(func(next http.RoundTripper) http.RoundTripper {
			return roundTripFunc(func(r *http.Request) (*http.Response, error) {
				seen = r.Header.Clone()
				return next.RoundTrip(r)
			})
		})
	}
	h, err := New(c, WithSystem(props.NewSystem()))
	require.NoError(t, err)
	setUp(t, h)

	resp, err := h.TargetPath("greetings/client").Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Close())
	require.NotNil(t, seen)
	assert.Equal(t, "harness", seen.Get("X-Suite"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHarnessTrafficLogging(t *testing.T) {
	sys := props.NewSystem()
	defer sys.Set(props.LogTraffic, "true")()
	defer sys.Set(props.DumpEntity, "true")()

	h, err := New(ephemeral(), WithSystem(sys))
	require.NoError(t, err)
	setUp(t, h)

	var resp *webclient.Response
	records, err := logging.WithCapture(slog.LevelInfo, logging.Filter{Include: []string{"github.com/bstoi/apptest/pkg/harness"}}, func() error {
		var err error
		resp, err = h.TargetPath("greetings/traffic").Get(t.Context())
		return err
	})
	require.NoError(t, err)
	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello traffic", text)

	var messages []string
	for _, r := range records {
		messages = append(messages, r.Message)
	}
	assert.Contains(t, messages, "sending client request")
	assert.Contains(t, messages, "client response received")
	for _, r := range records {
		if r.Message == "client response received" {
			assert.Contains(t, r.Attrs["response"], "hello traffic", "entity is dumped")
		}
	}
}

// =============================================================================
// Log recording
// =============================================================================

func TestHarnessRecordsLogs(t *testing.T) {
	sys := props.NewSystem()
	defer sys.Set(props.RecordLogLevel, "INFO")()

	h, err := New(ephemeral(), WithSystem(sys))
	require.NoError(t, err)
	setUp(t, h)

	resp, err := h.TargetPath("greetings/logs").Get(t.Context())
	require.NoError(t, err)
	_, err = resp.Text()
	require.NoError(t, err)

	var greeting *logging.Record
	for _, r := range h.LoggedRecords() {
		assert.False(t, strings.HasPrefix(r.Logger, "github.com/bstoi/apptest/pkg/testcontainer"), "test container records are excluded")
		if r.Message == "greeting" {
			r := r
			greeting = &r
		}
	}
	require.NotNil(t, greeting)
	assert.Equal(t, "logs", greeting.Attrs["name"])

	resp, err = h.TargetPath("fail").Get(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Close())

	assert.Eventually(t, func() bool {
		last, ok := h.LastLoggedRecord()
		return ok && last.Level == slog.LevelError
	}, testWait, testTick)

	require.NoError(t, h.TearDown())
	for _, r := range h.LoggedRecords() {
		assert.NotEqual(t, "greeting", r.Message, "records of the previous test are dropped")
	}
}

func TestHarnessWithoutRecording(t *testing.T) {
	h, err := New(ephemeral(), WithSystem(props.NewSystem()))
	require.NoError(t, err)
	setUp(t, h)

	resp, err := h.TargetPath("greetings/quiet").Get(t.Context())
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	assert.Empty(t, h.LoggedRecords())
	_, ok := h.LastLoggedRecord()
	assert.False(t, ok)
}

func TestHarnessInvalidRecordLevel(t *testing.T) {
	sys := props.NewSystem()
	defer sys.Set(props.RecordLogLevel, "LOUD")()

	_, err := New(ephemeral(), WithSystem(sys))
	require.Error(t, err)
	assert.Contains(t, err.Error(), props.RecordLogLevel)
}
