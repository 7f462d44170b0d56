package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/tlsbench/internal/config"
	"github.com/torosent/tlsbench/internal/logging"
	"github.com/torosent/tlsbench/internal/metrics"
	"github.com/torosent/tlsbench/internal/output"
	"github.com/torosent/tlsbench/internal/recorder"
	"github.com/torosent/tlsbench/internal/server"
	"github.com/torosent/tlsbench/internal/tlsconf"
	"github.com/torosent/tlsbench/internal/tracing"
)

const (
	drainTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tlsbench",
		Short:         "Instrumented TLS server for handshake and transfer benchmarks",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCommand(stdout, stderr), newGenCertCommand(stdout))
	return root
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Accept TLS sessions and log handshake, read and write metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, stdout, stderr)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

// serve runs the benchmark server until ctx is cancelled, then prints the
// summary in the configured format.
func serve(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	exporter := metrics.NewExporter()
	logger.AddHook(logging.NewPrometheusHook(exporter.Registry()))
	collector := metrics.NewCollector()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush spans")
		}
	}()

	tlsConfig, err := loadTLS(cfg)
	if err != nil {
		return err
	}

	sink, err := recorder.Open(cfg.MetricsDir, time.Now(),
		recorder.WithObserver(collector),
		recorder.WithObserver(exporter),
		recorder.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WithError(err).Error("Failed to close metric files")
		}
	}()
	exporter.WatchFailures(sink)

	dispatcher := newDrainingDispatcher(newDispatcher(cfg, logger))
	listener, err := server.Listen(server.Config{
		Host: cfg.Host,
		Port: cfg.Port,
		TLS:  tlsConfig,
		Session: server.SessionOptions{
			Deadlines: server.Deadlines{
				Handshake: cfg.HandshakeTimeout,
				Read:      cfg.ReadTimeout,
				Write:     cfg.WriteTimeout,
				Close:     cfg.CloseTimeout,
			},
			HandshakeOnly: !cfg.RecordTransfers,
			ServerName:    cfg.ServerName,
		},
	}, sink,
		server.WithDispatcher(dispatcher),
		server.WithLogger(logger),
		server.WithTracer(tp.Tracer()),
		server.WithSessionObserver(collector),
		server.WithSessionObserver(exporter),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Listening to port %d...\n", listenerPort(listener.Addr()))
	logger.WithFields(log.Fields{
		"addr":             listener.Addr().String(),
		"metrics_dir":      sink.Dir(),
		"record_transfers": cfg.RecordTransfers,
	}).Info("Server started")

	var progress *output.ProgressReporter
	if cfg.ProgressInterval > 0 {
		progress = output.NewProgressReporter(collector, cfg.ProgressInterval, stderr)
		progress.Start()
	}

	collector.Start()
	runErr := runServers(ctx, listener, exporter, cfg.MetricsAddr)

	if !dispatcher.Wait(drainTimeout) {
		logger.Warn("Sessions still running at shutdown; their records may be lost")
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stderr)
	}
	if runErr != nil {
		return runErr
	}

	return output.Print(stdout, cfg.SummaryFormat, collector.Stats(collector.Elapsed()))
}

// runServers runs the accept loop and, when addr is set, the Prometheus
// endpoint. Both stop when ctx is cancelled or either of them fails.
func runServers(ctx context.Context, listener *server.Listener, exporter *metrics.Exporter, addr string) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		return listener.Run(gctx)
	})

	if addr != "" {
		srv := exporter.NewHTTPServer(addr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve metrics")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func loadTLS(cfg *config.Config) (*tls.Config, error) {
	minVersion, err := tlsconf.ParseVersion(cfg.MinTLSVersion)
	if err != nil {
		return nil, err
	}
	curves, err := tlsconf.ParseCurves(cfg.Curves)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := tlsconf.Load(cfg.CertificateFile, cfg.PrivateKeyFile, tlsconf.Options{
		MinVersion: minVersion,
		Curves:     curves,
	})
	if err != nil {
		return nil, &server.ConfigError{Op: "tls", Err: err}
	}
	return tlsConfig, nil
}

func listenerPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// newDispatcher bounds concurrent sessions by max_sessions and paces session
// starts by accept_rate.
func newDispatcher(cfg *config.Config, logger log.FieldLogger) server.Dispatcher {
	if cfg.MaxSessions == 0 {
		logger.Warn("Concurrent sessions are unbounded (set --max-sessions to cap them)")
	}
	burst := cfg.MaxSessions
	if burst < 1 {
		burst = 1
	}
	return server.Paced(server.Bounded(int64(cfg.MaxSessions)), cfg.AcceptRate, burst)
}

// drainingDispatcher tracks dispatched sessions so shutdown can wait for them.
type drainingDispatcher struct {
	next server.Dispatcher
	wg   sync.WaitGroup
}

func newDrainingDispatcher(next server.Dispatcher) *drainingDispatcher {
	return &drainingDispatcher{next: next}
}

func (d *drainingDispatcher) Dispatch(ctx context.Context, fn func()) error {
	d.wg.Add(1)
	err := d.next.Dispatch(ctx, func() {
		defer d.wg.Done()
		fn()
	})
	if err != nil {
		d.wg.Done()
	}
	return err
}

// Wait reports whether every dispatched session finished within timeout.
func (d *drainingDispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
