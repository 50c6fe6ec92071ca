// Package harness runs an application under test in a test container for
// the duration of a test suite.
//
// A Harness is built once per suite: it asks its Configurer for the
// application, creates the container and then starts it before and stops
// it after every test. Tests reach the application through Target and
// inspect its components through ApplicationContext.
package harness

import (
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/appcontext"
	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/logging"
	"github.com/bstoi/apptest/pkg/props"
	"github.com/bstoi/apptest/pkg/testcontainer"
	"github.com/bstoi/apptest/pkg/webclient"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/harness")

// ErrUnsupportedOperation is returned when a hook that must be provided was
// not.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Log records of loggers in this namespace are captured; the harness and
// the test containers are excluded.
var captureFilter = logging.Filter{
	Include: []string{"github.com/bstoi/apptest", "github.com/bstoi/apptest/**"},
	Exclude: []string{
		"github.com/bstoi/apptest/pkg/harness", "github.com/bstoi/apptest/pkg/harness/**",
		"github.com/bstoi/apptest/pkg/testcontainer", "github.com/bstoi/apptest/pkg/testcontainer/**",
	},
}

// Configurer supplies the application under test. Property setters of the
// harness may be called from Configure; they are in effect before the
// container is created.
type Configurer interface {
	Configure(h *Harness) (*dispatch.Application, error)
}

// ConfigureFunc adapts a function to a Configurer.
type ConfigureFunc func(h *Harness) (*dispatch.Application, error)

func (f ConfigureFunc) Configure(h *Harness) (*dispatch.Application, error) {
	return f(h)
}

// DeploymentConfigurer is implemented by configurers that deploy the
// application somewhere other than the root.
type DeploymentConfigurer interface {
	ConfigureDeployment(app *dispatch.Application) []testcontainer.DeploymentOption
}

// ClientConfigurer is implemented by configurers that adjust the client
// returned by Harness.Client.
type ClientConfigurer interface {
	ConfigureClient(cfg *webclient.Config)
}

// Option configures a Harness.
type Option func(*Harness)

// WithSystem makes the harness read system properties from s instead of the
// process-wide layer.
func WithSystem(s *props.System) Option {
	return func(h *Harness) { h.props = props.NewResolver(s) }
}

// WithFactory creates the container with f instead of the factory named by
// the props.ContainerFactory property.
func WithFactory(f testcontainer.Factory) Option {
	return func(h *Harness) { h.factory = f }
}

// WithBaseURI serves the application below u instead of
// http://localhost:<port>/.
func WithBaseURI(u *url.URL) Option {
	return func(h *Harness) { h.baseURI = u }
}

// Harness owns the test container of one suite.
type Harness struct {
	cfg     Configurer
	props   *props.Resolver
	factory testcontainer.Factory
	baseURI *url.URL
	log     *slog.Logger

	dc *testcontainer.DeploymentContext
	tc testcontainer.TestContainer

	clientOnce sync.Once
	client     *webclient.Client

	mu          sync.Mutex
	recordLevel slog.Level
	recording   bool
	startup     []logging.Record
	capture     *logging.Capture
}

// New configures the application and creates its container. The container
// is started by SetUp.
func New(cfg Configurer, opts ...Option) (*Harness, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrUnsupportedOperation, "no configurer")
	}
	h := &Harness{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(h)
	}
	if h.props == nil {
		h.props = props.NewResolver(nil)
	}

	app, err := cfg.Configure(h)
	if err != nil {
		return nil, errors.Wrap(err, "configuring application")
	}
	if app == nil {
		return nil, errors.New("configure returned no application")
	}

	var dopts []testcontainer.DeploymentOption
	if dcfg, ok := cfg.(DeploymentConfigurer); ok {
		dopts = dcfg.ConfigureDeployment(app)
	}
	h.dc = testcontainer.NewDeploymentContext(app, dopts...)

	if h.recordLevel, h.recording, err = h.props.RecordLevel(); err != nil {
		return nil, err
	}

	factory, err := h.containerFactory()
	if err != nil {
		return nil, err
	}
	base := h.baseURI
	if base == nil {
		base = &url.URL{Scheme: "http", Host: "localhost:" + strconv.Itoa(h.props.Port()), Path: "/"}
	}

	create := func() error {
		h.tc, err = factory.Create(base, h.dc)
		return err
	}
	if h.recording {
		h.startup, err = logging.WithCapture(h.recordLevel, captureFilter, create)
	} else {
		err = create()
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating test container")
	}
	return h, nil
}

func (h *Harness) containerFactory() (testcontainer.Factory, error) {
	if h.factory != nil {
		return h.factory, nil
	}
	name, ok := h.props.Property(props.ContainerFactory)
	if !ok || name == "" {
		name = testcontainer.HTTP
	}
	f, ok := testcontainer.Lookup(name)
	if !ok {
		return nil, errors.Newf("unknown test container factory %q", name)
	}
	return f, nil
}

// SetUp starts the container, capturing log records when recording is
// enabled.
func (h *Harness) SetUp() error {
	h.mu.Lock()
	if h.recording {
		h.releaseLocked()
		h.capture = logging.StartCapture(h.recordLevel, captureFilter)
	}
	h.mu.Unlock()

	return h.tc.Start()
}

// TearDown stops the container and discards the records captured since
// SetUp.
func (h *Harness) TearDown() error {
	h.mu.Lock()
	h.releaseLocked()
	h.mu.Unlock()

	return h.tc.Stop()
}

func (h *Harness) releaseLocked() {
	if h.capture != nil {
		h.capture.Release()
		h.capture = nil
	}
}

// Close stops the container if it runs and releases the client.
func (h *Harness) Close() error {
	h.mu.Lock()
	h.releaseLocked()
	h.mu.Unlock()

	if h.client != nil {
		h.client.Close()
	}
	if h.tc.IsStarted() {
		return h.tc.Stop()
	}
	return nil
}

// Client returns the client for the container, building it on first use.
func (h *Harness) Client() *webclient.Client {
	h.clientOnce.Do(func() {
		cfg := &webclient.Config{}
		if hint := h.tc.ClientConfig(); hint != nil {
			cfg.TLS = hint.TLS
		}
		if h.IsEnabled(props.LogTraffic) {
			cfg.Register(webclient.LoggingFilter(h.log, h.IsEnabled(props.DumpEntity)))
		}
		if cc, ok := h.cfg.(ClientConfigurer); ok {
			cc.ConfigureClient(cfg)
		}
		h.client = webclient.New(cfg)
	})
	return h.client
}

// Target returns a target for the application root.
func (h *Harness) Target() *webclient.Target {
	return h.Client().Target(h.tc.BaseURI())
}

// TargetPath returns a target for path below the application root.
func (h *Harness) TargetPath(path string) *webclient.Target {
	return h.Target().Path(path)
}

// LoggedRecords returns the records captured while the container was
// created followed by those captured since SetUp.
func (h *Harness) LoggedRecords() []logging.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]logging.Record(nil), h.startup...)
	if h.capture != nil {
		out = append(out, h.capture.Records()...)
	}
	return out
}

// LastLoggedRecord returns the most recent captured record, or false if
// there is none.
func (h *Harness) LastLoggedRecord() (logging.Record, bool) {
	records := h.LoggedRecords()
	if len(records) == 0 {
		return logging.Record{}, false
	}
	return records[len(records)-1], true
}

// ApplicationContext returns the application context of the application
// under test.
func (h *Harness) ApplicationContext() (*appcontext.Context, error) {
	return h.tc.ApplicationContext()
}

// Container returns the test container.
func (h *Harness) Container() testcontainer.TestContainer {
	return h.tc
}

// BaseURI returns the application root.
func (h *Harness) BaseURI() *url.URL {
	return h.tc.BaseURI()
}

// DeploymentContext returns the deployed application and its context path.
func (h *Harness) DeploymentContext() *testcontainer.DeploymentContext {
	return h.dc
}

// Properties returns the property resolver of the harness.
func (h *Harness) Properties() *props.Resolver {
	return h.props
}

// Enable sets a feature flag; a system property overrides it.
func (h *Harness) Enable(name string) { h.props.Enable(name) }

// Disable clears a feature flag; a system property overrides it.
func (h *Harness) Disable(name string) { h.props.Disable(name) }

// ForceEnable sets a feature flag regardless of system properties.
func (h *Harness) ForceEnable(name string) { h.props.ForceEnable(name) }

// ForceDisable clears a feature flag regardless of system properties.
func (h *Harness) ForceDisable(name string) { h.props.ForceDisable(name) }

// Set sets a property; a system property overrides it.
func (h *Harness) Set(name string, value any) { h.props.Set(name, value) }

// ForceSet sets a property regardless of system properties.
func (h *Harness) ForceSet(name, value string) { h.props.ForceSet(name, value) }

// IsEnabled reports whether a feature flag is set.
func (h *Harness) IsEnabled(name string) bool { return h.props.IsEnabled(name) }

// Property looks up a property.
func (h *Harness) Property(name string) (string, bool) { return h.props.Property(name) }

// Port returns the configured container port.
func (h *Harness) Port() int { return h.props.Port() }
