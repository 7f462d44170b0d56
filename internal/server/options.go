package server

import (
	"crypto/tls"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultServerName is the value of the Server response header.
const DefaultServerName = "tlsbench"

// Recorder receives the measurements of every session.
type Recorder interface {
	RecordHandshake(d time.Duration)
	RecordRead(size int64, d time.Duration)
	RecordWrite(size int64, d time.Duration)
}

// SessionObserver is notified when sessions start and end.
type SessionObserver interface {
	SessionStarted()
	SessionEnded(outcome Outcome)
}

// Deadlines bounds each blocking session operation. A zero field means the
// operation may block forever, which is the baseline benchmark behaviour.
type Deadlines struct {
	Handshake time.Duration
	Read      time.Duration
	Write     time.Duration
	Close     time.Duration
}

// SessionOptions configure every session started by a listener.
type SessionOptions struct {
	Deadlines Deadlines
	// HandshakeOnly disables read and write records so that only
	// handshakes are recorded.
	HandshakeOnly bool
	// ServerName is sent in the Server response header.
	ServerName string

	Logger    log.FieldLogger
	Tracer    trace.Tracer
	Observers []SessionObserver
}

func (o *SessionOptions) normalize() {
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("tlsbench")
	}
}

// Config describes the listening endpoint. It is not modified after Listen.
type Config struct {
	Host    string
	Port    int
	TLS     *tls.Config
	Session SessionOptions
}

// Option customizes a Listener.
type Option func(*Listener)

// WithDispatcher replaces the default one-goroutine-per-connection dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(l *Listener) {
		if d != nil {
			l.dispatcher = d
		}
	}
}

// WithLogger sets the logger of the listener and of its sessions.
func WithLogger(logger log.FieldLogger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Listener) {
		if t != nil {
			l.tracer = t
		}
	}
}

// WithSessionObserver registers an observer for session lifecycles.
func WithSessionObserver(o SessionObserver) Option {
	return func(l *Listener) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}
