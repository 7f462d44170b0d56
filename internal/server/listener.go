package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/tlsbench/internal/tlsconf"
)

const (
	acceptBackoffInitial = 5 * time.Millisecond
	acceptBackoffMax     = time.Second
)

// Listener accepts connections on one TCP port and hands each to a Session.
type Listener struct {
	cfg  Config
	ln   net.Listener
	sink Recorder

	dispatcher Dispatcher
	logger     log.FieldLogger
	tracer     trace.Tracer
	observers  []SessionObserver

	closing   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Create builds the TLS context from a PEM certificate and key, then binds port.
func Create(port int, certificateFile, privateKeyFile string, sink Recorder, opts ...Option) (*Listener, error) {
	tlsCfg, err := tlsconf.Load(certificateFile, privateKeyFile, tlsconf.Options{})
	if err != nil {
		return nil, &ConfigError{Op: "tls", Err: err}
	}
	return Listen(Config{Port: port, TLS: tlsCfg}, sink, opts...)
}

// Listen binds cfg.Host:cfg.Port. Port 0 picks an ephemeral port.
func Listen(cfg Config, sink Recorder, opts ...Option) (*Listener, error) {
	if cfg.TLS == nil {
		return nil, &ConfigError{Op: "tls", Err: errors.New("tls config is required")}
	}
	if sink == nil {
		return nil, &ConfigError{Op: "metrics", Err: errors.New("recorder is required")}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, &ConfigError{Op: "listen", Err: errors.Errorf("invalid port %d", cfg.Port)}
	}

	l := &Listener{
		cfg:        cfg,
		sink:       sink,
		dispatcher: Unbounded(),
		logger:     log.StandardLogger(),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConfigError{Op: "listen", Err: errors.Wrapf(err, "bind %s", addr)}
	}
	l.ln = ln
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Run accepts connections until the listener is closed or ctx is cancelled.
// It returns nil after a requested stop and the accept error when the
// listening socket stops working on its own. Sessions already dispatched keep
// running after Run returns.
func (l *Listener) Run(ctx context.Context) error {
	// Close and ctx both end the accept loop, including a Dispatch that is
	// waiting for admission.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-runCtx.Done():
		}
	}()
	stop := context.AfterFunc(runCtx, func() {
		_ = l.Close()
	})
	defer stop()

	// Sessions outlive the accept loop and must not be cut short by ctx.
	sessionCtx := context.WithoutCancel(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = acceptBackoffInitial
	bo.MaxInterval = acceptBackoffMax
	bo.Multiplier = 2
	bo.Reset()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if l.closing.Load() {
					return nil
				}
				return errors.Wrap(err, "accept")
			}
			delay := bo.NextBackOff()
			l.logger.WithError(err).WithField("retry_in", delay).Warn("Failed to accept connection")
			select {
			case <-time.After(delay):
			case <-runCtx.Done():
			}
			continue
		}
		bo.Reset()

		session := NewSession(conn, l.cfg.TLS, l.sink, l.sessionOptions())
		err = l.dispatcher.Dispatch(runCtx, func() {
			session.Run(sessionCtx)
		})
		if err != nil {
			// Admission was interrupted by shutdown; the next Accept reports it.
			l.logger.WithError(err).Debug("Dropping connection accepted during shutdown")
			_ = session.Close()
		}
	}
}

func (l *Listener) sessionOptions() SessionOptions {
	opts := l.cfg.Session
	opts.Logger = l.logger
	if l.tracer != nil {
		opts.Tracer = l.tracer
	}
	opts.Observers = append(append([]SessionObserver(nil), l.cfg.Session.Observers...), l.observers...)
	return opts
}

// Close stops accepting connections. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		close(l.closed)
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}
