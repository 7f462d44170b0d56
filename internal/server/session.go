package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/tlsbench/internal/tracing"
)

// countingReader counts bytes pulled from the TLS stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// countingWriter counts bytes handed to the TLS stream.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Session owns one accepted connection for its whole life. It is driven by a
// single goroutine and is never shared.
type Session struct {
	id   ulid.ULID
	raw  net.Conn
	conn *tls.Conn

	rc     *countingReader
	reader *bufio.Reader
	wc     *countingWriter
	writer *bufio.Writer

	sink   Recorder
	opts   SessionOptions
	logger log.FieldLogger
	span   trace.Span

	state     atomic.Int32
	closeOnce sync.Once
}

// NewSession wraps an accepted connection. The TLS config is shared and must
// not be modified afterwards.
func NewSession(raw net.Conn, cfg *tls.Config, sink Recorder, opts SessionOptions) *Session {
	opts.normalize()

	conn := tls.Server(raw, cfg)
	rc := &countingReader{r: conn}
	wc := &countingWriter{w: conn}
	id := ulid.Make()

	s := &Session{
		id:     id,
		raw:    raw,
		conn:   conn,
		rc:     rc,
		reader: bufio.NewReader(rc),
		wc:     wc,
		writer: bufio.NewWriter(wc),
		sink:   sink,
		opts:   opts,
		logger: opts.Logger.WithFields(log.Fields{
			"session": id.String(),
			"remote":  raw.RemoteAddr().String(),
		}),
		span: trace.SpanFromContext(context.Background()),
	}
	s.state.Store(int32(StateCreated))
	return s
}

// ID returns the session identifier used in logs and spans.
func (s *Session) ID() ulid.ULID {
	return s.id
}

// State returns the current pipeline step.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until it is closed and reports how it ended.
// Cancelling ctx does not interrupt a running session; use Deadlines instead.
func (s *Session) Run(ctx context.Context) Outcome {
	for _, o := range s.opts.Observers {
		o.SessionStarted()
	}

	ctx, s.span = tracing.StartSessionSpan(ctx, s.opts.Tracer, s.id.String(), s.raw.RemoteAddr().String())
	outcome, err := s.run(ctx)
	tracing.EndSpan(s.span, err, attribute.String("tlsbench.outcome", string(outcome)))

	for _, o := range s.opts.Observers {
		o.SessionEnded(outcome)
	}
	return outcome
}

func (s *Session) run(ctx context.Context) (Outcome, error) {
	defer s.Close()

	if err := s.handshake(ctx); err != nil {
		if errors.Is(err, io.EOF) {
			// Port probes and health checks connect and leave without a ClientHello.
			s.logger.Debug("Client closed the connection before the handshake")
			return OutcomeHandshakeFailed, &TransportError{Phase: PhaseHandshake, Err: err}
		}
		return OutcomeHandshakeFailed, s.fail(PhaseHandshake, err)
	}

	s.setState(StateServing)
	for {
		req, err := s.readRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("Client closed the connection")
				break
			}
			return OutcomeReadFailed, s.fail(PhaseRead, err)
		}

		resp := newResponse(req, s.opts.ServerName)
		if err := s.writeResponse(resp); err != nil {
			return OutcomeWriteFailed, s.fail(PhaseWrite, err)
		}

		if resp.Close {
			break
		}
	}

	return s.shutdown()
}

func (s *Session) handshake(ctx context.Context) error {
	s.setState(StateHandshaking)

	if d := s.opts.Deadlines.Handshake; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	err := s.conn.HandshakeContext(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	s.sink.RecordHandshake(elapsed)

	state := s.conn.ConnectionState()
	s.span.AddEvent("handshake", trace.WithAttributes(
		attribute.Int64("tlsbench.duration_ms", elapsed.Milliseconds()),
		attribute.String("tls.version", tls.VersionName(state.Version)),
		attribute.String("tls.cipher", tls.CipherSuiteName(state.CipherSuite)),
		attribute.String("tls.group", state.CurveID.String()),
	))
	s.logger.WithFields(log.Fields{
		"duration_ms": elapsed.Milliseconds(),
		"version":     tls.VersionName(state.Version),
		"cipher":      tls.CipherSuiteName(state.CipherSuite),
		"group":       state.CurveID.String(),
	}).Debug("SSL handshake time")
	return nil
}

// consumed is the number of bytes the HTTP parser has taken from the stream,
// excluding what is still buffered for the next request.
func (s *Session) consumed() int64 {
	return s.rc.n - int64(s.reader.Buffered())
}

func (s *Session) readRequest() (*http.Request, error) {
	if d := s.opts.Deadlines.Read; d > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return nil, err
		}
	}

	before := s.consumed()
	start := time.Now()
	req, err := http.ReadRequest(s.reader)
	if err == nil {
		_, err = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
	}
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	size := s.consumed() - before
	if !s.opts.HandshakeOnly {
		s.sink.RecordRead(size, elapsed)
	}
	tracing.LinkRequest(s.span, req.Header)
	s.span.AddEvent("read", trace.WithAttributes(
		attribute.Int64("tlsbench.size", size),
		attribute.Int64("tlsbench.duration_ms", elapsed.Milliseconds()),
	))
	s.logger.WithFields(log.Fields{
		"size":        size,
		"duration_ms": elapsed.Milliseconds(),
		"method":      req.Method,
		"path":        req.URL.Path,
	}).Debug("SSL read")
	return req, nil
}

func (s *Session) writeResponse(resp *http.Response) error {
	if d := s.opts.Deadlines.Write; d > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}

	before := s.wc.n
	start := time.Now()
	err := resp.Write(s.writer)
	if err == nil {
		err = s.writer.Flush()
	}
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	size := s.wc.n - before
	if !s.opts.HandshakeOnly {
		s.sink.RecordWrite(size, elapsed)
	}
	s.span.AddEvent("write", trace.WithAttributes(
		attribute.Int64("tlsbench.size", size),
		attribute.Int64("tlsbench.duration_ms", elapsed.Milliseconds()),
	))
	s.logger.WithFields(log.Fields{
		"size":        size,
		"duration_ms": elapsed.Milliseconds(),
		"keep_alive":  !resp.Close,
	}).Debug("SSL write")
	return nil
}

// shutdown sends close_notify. A failure is logged and the session still
// moves on to closed.
func (s *Session) shutdown() (Outcome, error) {
	s.setState(StateClosing)

	if d := s.opts.Deadlines.Close; d > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return OutcomeCloseFailed, s.fail(PhaseClose, err)
		}
	}
	if err := s.conn.CloseWrite(); err != nil {
		return OutcomeCloseFailed, s.fail(PhaseClose, err)
	}
	return OutcomeCompleted, nil
}

func (s *Session) fail(phase Phase, err error) error {
	s.logger.WithError(err).WithField("phase", string(phase)).Error(failureMessages[phase])
	return &TransportError{Phase: phase, Err: err}
}

var failureMessages = map[Phase]string{
	PhaseHandshake: "Client handshake failed",
	PhaseRead:      "Client connection read failed",
	PhaseWrite:     "Client connection write failed",
	PhaseClose:     "Client connection shutdown failed",
}

// Close releases the underlying connection without a closing handshake and
// moves the session to StateClosed. Later calls only log.
func (s *Session) Close() error {
	var err error
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.setState(StateClosed)
		err = s.raw.Close()
	})
	if !closed {
		s.logger.Debug("Session already closed")
	}
	return err
}
