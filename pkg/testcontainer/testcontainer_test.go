package testcontainer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/listener"
	"github.com/bstoi/apptest/pkg/logging"
)

func pingApp() *dispatch.Application {
	return dispatch.NewApplication("ping").
		GET("/ping", func(context.Context, *dispatch.ContainerRequest) (*dispatch.Response, error) {
			return dispatch.OK("pong"), nil
		})
}

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func get(t *testing.T, client *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

// =============================================================================
// Deployment
// =============================================================================

func TestDeploymentContext(t *testing.T) {
	app := pingApp()
	assert.Equal(t, "", NewDeploymentContext(app).ContextPath())
	assert.Equal(t, "api/v1", NewDeploymentContext(app, WithContextPath("/api/v1/")).ContextPath())
	assert.Same(t, app, NewDeploymentContext(app).Application())
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		base, contextPath, want string
	}{
		{"", "", "/"},
		{"/", "", "/"},
		{"/", "app", "/app/"},
		{"/base/", "app", "/base/app/"},
		{"base", "a/b", "/base/a/b/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinPath(tt.base, tt.contextPath), "%q + %q", tt.base, tt.contextPath)
	}
}

// =============================================================================
// Container
// =============================================================================

func TestHTTPContainerLifecycle(t *testing.T) {
	f, ok := Lookup(HTTP)
	require.True(t, ok)

	tc, err := f.Create(mustParse(t, "http://127.0.0.1:0/"), NewDeploymentContext(pingApp(), WithContextPath("app")))
	require.NoError(t, err)
	assert.False(t, tc.IsStarted())
	assert.Equal(t, "http://127.0.0.1:0/app/", tc.BaseURI().String())
	assert.Nil(t, tc.ClientConfig())

	require.NoError(t, tc.Start())
	first := tc.BaseURI()
	assert.NotEqual(t, "0", first.Port(), "ephemeral port is resolved on start")

	status, body := get(t, http.DefaultClient, first.String()+"ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)

	records, err := logging.WithCapture(slog.LevelWarn, logging.Filter{}, tc.Start)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "already started")

	require.NoError(t, tc.Stop())
	assert.False(t, tc.IsStarted())
	records, err = logging.WithCapture(slog.LevelWarn, logging.Filter{}, tc.Stop)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "already stopped")

	require.NoError(t, tc.Start(), "container restarts")
	defer tc.Stop()
	status, _ = get(t, http.DefaultClient, tc.BaseURI().String()+"ping")
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTPContainerFixedPort(t *testing.T) {
	spare, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := spare.Addr().(*net.TCPAddr).Port
	require.NoError(t, spare.Close())

	base := fmt.Sprintf("http://127.0.0.1:%d/", port)
	tc, err := (&HTTPFactory{}).Create(mustParse(t, base), NewDeploymentContext(pingApp()))
	require.NoError(t, err)
	require.NoError(t, tc.Start())
	defer tc.Stop()

	assert.Equal(t, base, tc.BaseURI().String())
	status, _ := get(t, http.DefaultClient, base+"ping")
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTPContainerStartFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	u := mustParse(t, fmt.Sprintf("http://127.0.0.1:%d/", occupied.Addr().(*net.TCPAddr).Port))
	tc, err := (&HTTPFactory{}).Create(u, NewDeploymentContext(pingApp()))
	require.NoError(t, err)

	err = tc.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTestContainer))
	assert.False(t, tc.IsStarted())
}

func TestHTTPContainerCreateFailure(t *testing.T) {
	bad := dispatch.NewApplication("bad").GET("no-slash", nil)
	_, err := (&HTTPFactory{}).Create(mustParse(t, "http://127.0.0.1:0/"), NewDeploymentContext(bad))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTestContainer)

	_, err = (&HTTPFactory{}).Create(nil, NewDeploymentContext(pingApp()))
	assert.ErrorIs(t, err, ErrTestContainer)

	wrapped := fmt.Errorf("suite setup: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrTestContainer), "standard library errors.Is sees the condition")
	assert.True(t, errors.Is(wrapped, ErrTestContainer))
	assert.False(t, stderrors.Is(wrapped, ErrIllegalState))
}

func TestApplicationContext(t *testing.T) {
	ctx := appcontext.New()
	tc, err := (&HTTPFactory{}).Create(mustParse(t, "http://127.0.0.1:0/"), NewDeploymentContext(pingApp().WithContext(ctx)))
	require.NoError(t, err)

	got, err := tc.ApplicationContext()
	require.NoError(t, err)
	assert.Same(t, ctx, got)

	empty := &httpContainer{baseURI: mustParse(t, "http://127.0.0.1:0/"), server: listener.NewServer(), log: log}
	_, err = empty.ApplicationContext()
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.True(t, stderrors.Is(err, ErrIllegalState))
	assert.False(t, stderrors.Is(err, ErrTestContainer))
}

func TestSecureContainer(t *testing.T) {
	f, ok := Lookup(HTTPS)
	require.True(t, ok)

	tc, err := f.Create(mustParse(t, "http://127.0.0.1:0/"), NewDeploymentContext(pingApp()))
	require.NoError(t, err)
	require.NoError(t, tc.Start())
	defer tc.Stop()

	assert.Equal(t, "https", tc.BaseURI().Scheme)
	cc := tc.ClientConfig()
	require.NotNil(t, cc)
	require.NotNil(t, cc.TLS)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cc.TLS}}
	status, body := get(t, client, tc.BaseURI().String()+"ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry(t *testing.T) {
	assert.Contains(t, Factories(), HTTP)
	assert.Contains(t, Factories(), HTTPS)

	_, ok := Lookup("missing")
	assert.False(t, ok)

	called := false
	custom := FactoryFunc(func(u *url.URL, dc *DeploymentContext) (TestContainer, error) {
		called = true
		return nil, errors.New("not implemented")
	})
	require.NoError(t, Register("custom", custom))
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "custom")
		registryMu.Unlock()
	})

	f, ok := Lookup("custom")
	require.True(t, ok)
	_, err := f.Create(nil, nil)
	assert.Error(t, err)
	assert.True(t, called)

	assert.Error(t, Register("", custom))
	assert.Error(t, Register("nil", nil))
}
