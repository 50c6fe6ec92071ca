package dispatch

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstoi/apptest/pkg/appcontext"
)

type counter struct{ n int }

func ok(context.Context, *ContainerRequest) (*Response, error) {
	return NoContent(), nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		app  *Application
		want string
	}{
		{"lower case method", NewApplication("a").Handle("get", "/x", ok), "invalid method"},
		{"relative path", NewApplication("a").Handle(http.MethodGet, "x", ok), "must start with /"},
		{"no resource", NewApplication("a").Handle(http.MethodGet, "/x", nil), "no resource"},
		{"duplicate", NewApplication("a").GET("/x", ok).GET("/x", ok), "registered twice"},
		{"constructor", NewApplication("a").Provide("not a func"), "is not a function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.app.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, err = NewApplicationHandler(tt.app)
			assert.Error(t, err, "engine construction fails fast")
		})
	}

	assert.NoError(t, NewApplication("a").GET("/x", ok).POST("/x", ok).Validate())
	_, err := NewApplicationHandler(nil)
	assert.Error(t, err)
}

func TestLoadProperties(t *testing.T) {
	app := NewApplication("props").Property("kept", 1)
	doc := `
apptest:
  config:
    server:
      response:
        setStatusOverSendError: true
greeting: hello
`
	require.NoError(t, app.LoadProperties(strings.NewReader(doc)))
	require.NoError(t, app.LoadProperties(strings.NewReader("")))

	h := mustHandler(t, app)
	cfg := h.Configuration()
	assert.True(t, cfg.IsEnabled(ResponseSetStatusOverSendError))
	assert.Equal(t, "hello", cfg.String("greeting"))
	assert.Equal(t, "1", cfg.String("kept"))
	assert.Equal(t, "", cfg.String("missing"))
	assert.Equal(t, []string{ResponseSetStatusOverSendError, "greeting", "kept"}, cfg.Names())
	assert.Equal(t, "props", cfg.ApplicationName())

	assert.Error(t, app.LoadProperties(strings.NewReader("- [unbalanced")))
}

func TestConfigurationIsEnabled(t *testing.T) {
	app := NewApplication("flags").
		Property("bool", true).
		Property("string", "true").
		Property("garbage", "yes!").
		Property("number", 1)
	cfg := mustHandler(t, app).Configuration()

	assert.True(t, cfg.IsEnabled("bool"))
	assert.True(t, cfg.IsEnabled("string"))
	assert.False(t, cfg.IsEnabled("garbage"))
	assert.False(t, cfg.IsEnabled("number"))
	assert.False(t, cfg.IsEnabled("missing"))
}

func TestApplicationContextIsShared(t *testing.T) {
	app := NewApplication("ctx").
		Provide(func() *counter { return &counter{} }).
		GET("/count", func(_ context.Context, req *ContainerRequest) (*Response, error) {
			c, err := Inject[*counter](req)
			if err != nil {
				return nil, err
			}
			c.n++
			return OK(c.n), nil
		})

	first := mustHandler(t, app)
	second := mustHandler(t, app)
	assert.Same(t, first.ApplicationContext(), second.ApplicationContext())

	a, err := Component[*counter](first)
	require.NoError(t, err)
	b, err := Component[*counter](second)
	require.NoError(t, err)
	assert.Same(t, a, b)

	self, err := Component[*appcontext.Context](first)
	require.NoError(t, err)
	assert.Same(t, first.ApplicationContext(), self)

	req, w := newRequest(t, http.MethodGet, "/count")
	require.NoError(t, first.Handle(req))
	assert.Equal(t, "1", w.body.String())
	assert.Equal(t, 1, a.n)

	t.Run("inject before dispatch", func(t *testing.T) {
		req, _ := newRequest(t, http.MethodGet, "/count")
		_, err := Inject[*counter](req)
		assert.ErrorIs(t, err, appcontext.ErrNoComponent)
	})
}

func TestWithContextAndCopy(t *testing.T) {
	ctx := appcontext.New()
	require.NoError(t, ctx.Supply(&counter{n: 5}))

	app := NewApplication("given").WithContext(ctx).GET("/x", ok)
	h := mustHandler(t, app)
	assert.Same(t, ctx, h.ApplicationContext())

	cp := app.Copy()
	assert.Same(t, ctx, mustHandler(t, cp).ApplicationContext())

	own := NewApplication("own").Provide(func() *counter { return &counter{} })
	ownCtx, err := own.Context()
	require.NoError(t, err)
	copyCtx, err := own.Copy().Context()
	require.NoError(t, err)
	assert.NotSame(t, ownCtx, copyCtx)
	assert.Equal(t, "own (0 routes)", own.String())
}

func TestLifecycleListeners(t *testing.T) {
	var events []string
	app := NewApplication("life").
		Register(LifecycleFuncs{
			Startup:  func(Container) { events = append(events, "startup") },
			Shutdown: func(Container) { events = append(events, "shutdown") },
		}).
		Register(LifecycleFuncs{
			Reload: func(Container) { events = append(events, "reload") },
		})
	h := mustHandler(t, app)

	h.OnStartup(nil)
	h.OnReload(nil)
	h.OnShutdown(nil)
	assert.Equal(t, []string{"startup", "reload", "shutdown"}, events)
}

func TestContainerRequest(t *testing.T) {
	req, _ := newRequest(t, http.MethodGet, "/search?q=go&q=more")
	req.AddHeader("x-multi", "a", "b")
	req.AddHeader("Accept", "text/plain")

	assert.Equal(t, "/search", req.Path())
	assert.Equal(t, "go", req.QueryParam("q"))
	assert.Equal(t, []string{"a", "b"}, req.Header().Values("X-Multi"))
	assert.Equal(t, []string{"Accept", "X-Multi"}, req.HeaderNames())

	props := req.Properties()
	props.SetProperty("b", 2)
	props.SetProperty("a", 1)
	v, found := props.Property("a")
	assert.True(t, found)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a", "b"}, props.PropertyNames())
	props.RemoveProperty("a")
	_, found = props.Property("a")
	assert.False(t, found)

	req.SetEntityStream(nil)
	assert.Equal(t, http.NoBody, req.Entity())
	req.SetExchange("raw")
	assert.Equal(t, "raw", req.Exchange())
}
