package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bstoi/apptest/internal/sample"
	"github.com/bstoi/apptest/pkg/container"
	"github.com/bstoi/apptest/pkg/listener"
	"github.com/bstoi/apptest/pkg/logging"
	"github.com/bstoi/apptest/pkg/props"
	"github.com/bstoi/apptest/pkg/testcontainer"
	"github.com/bstoi/apptest/pkg/webclient"
)

var log = logging.Named("github.com/bstoi/apptest/cmd/apptest")

var (
	servePort        int
	serveHost        string
	serveContextPath string
	serveGreeting    string
	serveLogLevel    string
	serveLogFormat   string
	serveTLS         bool
	serveMetricsAddr string
	serveEnvFiles    []string
	serveCheck       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sample application",
	Long: `Serve the sample greeting application until interrupted.

Without --port the port comes from the apptest.config.test.container.port
property and defaults to 9998. Port 0 selects an ephemeral port.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.LevelFromString(serveLogLevel)
		if err != nil {
			return err
		}
		logging.Configure(logging.Config{
			Level:  level,
			Format: logging.ParseFormat(serveLogFormat),
			Output: cmd.ErrOrStderr(),
		})

		if len(serveEnvFiles) > 0 {
			if err := props.DefaultSystem().Load(serveEnvFiles...); err != nil {
				return err
			}
		}
		port := servePort
		if !cmd.Flags().Changed("port") {
			port = props.NewResolver(nil).Port()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cmd, port)
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&servePort, "port", "p", props.DefaultContainerPort, "Port to listen on (0 selects an ephemeral port)")
	f.StringVar(&serveHost, "host", "localhost", "Host name of the base URI")
	f.StringVar(&serveContextPath, "context-path", "", "Context path the application is deployed under")
	f.StringVar(&serveGreeting, "greeting", sample.DefaultGreeting, "Greeting used by the sample application")
	f.StringVar(&serveLogLevel, "log-level", "info", "Log level (trace, debug, config, info, warn, error)")
	f.StringVar(&serveLogFormat, "log-format", "text", "Log format (text, json)")
	f.BoolVar(&serveTLS, "tls", false, "Serve https with a self-signed certificate")
	f.StringVar(&serveMetricsAddr, "metrics-addr", "", "Address serving Prometheus metrics on /metrics")
	f.StringSliceVar(&serveEnvFiles, "env-file", nil, "Dotenv files with test properties")
	f.BoolVar(&serveCheck, "check", false, "Start, send one greeting request, print the outcome and stop")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cmd *cobra.Command, port int) error {
	metrics := listener.NewMetrics()
	factory := &testcontainer.HTTPFactory{
		Secure: serveTLS,
		Options: []container.ServerOption{
			container.WithServerOptions(listener.WithMetrics(metrics)),
		},
	}
	base := &url.URL{Scheme: "http", Host: net.JoinHostPort(serveHost, strconv.Itoa(port)), Path: "/"}
	app := sample.New(sample.WithGreeting(serveGreeting))

	tc, err := factory.Create(base, testcontainer.NewDeploymentContext(app, testcontainer.WithContextPath(serveContextPath)))
	if err != nil {
		return err
	}
	if err := tc.Start(); err != nil {
		return err
	}
	defer func() {
		if err := tc.Stop(); err != nil {
			log.Error("stopping test container", "error", err)
		}
	}()

	if serveMetricsAddr != "" {
		ms, err := serveMetrics(serveMetricsAddr, metrics)
		if err != nil {
			return err
		}
		defer ms.Close()
	}

	out := cmd.OutOrStdout()
	if serveCheck {
		return check(ctx, out, tc)
	}

	fmt.Fprintf(out, "serving %s\n", tc.BaseURI())
	<-ctx.Done()
	return nil
}

func serveMetrics(addr string, metrics *listener.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "address", ln.Addr().String())
	return srv, nil
}

func check(ctx context.Context, out io.Writer, tc testcontainer.TestContainer) error {
	cfg := &webclient.Config{Timeout: 10 * time.Second}
	if hint := tc.ClientConfig(); hint != nil {
		cfg.TLS = hint.TLS
	}
	client := webclient.New(cfg)
	defer client.Close()

	resp, err := client.Target(tc.BaseURI()).Path("greetings/apptest").Get(ctx)
	if err != nil {
		return err
	}
	text, err := resp.Text()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "base: %s\n", tc.BaseURI())
	fmt.Fprintf(out, "status: %d\n", resp.StatusCode)
	fmt.Fprintf(out, "body: %s\n", text)
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("check failed with status %d", resp.StatusCode)
	}
	return nil
}
