package server_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/torosent/tlsbench/internal/server"
	"github.com/torosent/tlsbench/internal/tlsconf"
)

type transfer struct {
	size     int64
	duration time.Duration
}

// memRecorder keeps records in memory, in arrival order.
type memRecorder struct {
	mu         sync.Mutex
	handshakes []time.Duration
	reads      []transfer
	writes     []transfer
	order      []string
	onRecord   func(kind string)
}

func (m *memRecorder) RecordHandshake(d time.Duration) {
	m.mu.Lock()
	m.handshakes = append(m.handshakes, d)
	m.order = append(m.order, "hs")
	hook := m.onRecord
	m.mu.Unlock()
	if hook != nil {
		hook("hs")
	}
}

func (m *memRecorder) RecordRead(size int64, d time.Duration) {
	m.mu.Lock()
	m.reads = append(m.reads, transfer{size, d})
	m.order = append(m.order, "rx")
	hook := m.onRecord
	m.mu.Unlock()
	if hook != nil {
		hook("rx")
	}
}

func (m *memRecorder) RecordWrite(size int64, d time.Duration) {
	m.mu.Lock()
	m.writes = append(m.writes, transfer{size, d})
	m.order = append(m.order, "tx")
	hook := m.onRecord
	m.mu.Unlock()
	if hook != nil {
		hook("tx")
	}
}

func (m *memRecorder) counts() (hs, rx, tx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handshakes), len(m.reads), len(m.writes)
}

// waitDispatcher runs sessions on goroutines the test can wait for.
type waitDispatcher struct {
	wg sync.WaitGroup
}

func (d *waitDispatcher) Dispatch(_ context.Context, fn func()) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
	return nil
}

type outcomeObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []server.Outcome
}

func (o *outcomeObserver) SessionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *outcomeObserver) SessionEnded(outcome server.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeObserver) snapshot() []server.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]server.Outcome(nil), o.outcomes...)
}

type fixture struct {
	keyPair    tlsconf.KeyPair
	serverTLS  *tls.Config
	clientTLS  *tls.Config
	logger     *log.Logger
	logs       *test.Hook
	dispatcher *waitDispatcher
	observer   *outcomeObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kp, err := tlsconf.GenerateSelfSigned(tlsconf.CertificateRequest{Hosts: []string{"localhost", "127.0.0.1"}})
	require.NoError(t, err)
	cert, err := kp.TLSCertificate()
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	return &fixture{
		keyPair:    kp,
		serverTLS:  tlsconf.New(cert, tlsconf.Options{}),
		clientTLS:  &tls.Config{RootCAs: kp.CertPool(), ServerName: "localhost", MinVersion: tls.VersionTLS13},
		logger:     logger,
		logs:       hook,
		dispatcher: &waitDispatcher{},
		observer:   &outcomeObserver{},
	}
}

func (f *fixture) errorLogs() []*log.Entry {
	var entries []*log.Entry
	for _, e := range f.logs.AllEntries() {
		if e.Level <= log.ErrorLevel {
			entries = append(entries, e)
		}
	}
	return entries
}

// start runs a listener on an ephemeral port and stops it at cleanup.
func (f *fixture) start(t *testing.T, rec server.Recorder, session server.SessionOptions) *server.Listener {
	t.Helper()
	l, err := server.Listen(server.Config{
		Host:    "127.0.0.1",
		TLS:     f.serverTLS,
		Session: session,
	}, rec,
		server.WithDispatcher(f.dispatcher),
		server.WithLogger(f.logger),
		server.WithSessionObserver(f.observer),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = l.Close()
		<-done
		f.dispatcher.wg.Wait()
	})
	return l
}

func (f *fixture) dial(t *testing.T, l *server.Listener) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", l.Addr().String(), f.clientTLS)
	require.NoError(t, err)
	return conn
}

// countingReader counts bytes received by a client.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// exchange sends req and returns the response plus the raw sizes of both.
func exchange(t *testing.T, conn io.Writer, cr *countingReader, br *bufio.Reader, req *http.Request) (*http.Response, int64, int64) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, req.Write(&buf))
	sent := int64(buf.Len())
	_, err := conn.Write(buf.Bytes())
	require.NoError(t, err)

	before := cr.n
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, sent, cr.n - before
}

func newRequest(t *testing.T, keepAlive bool) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://localhost/bench", nil)
	require.NoError(t, err)
	req.Close = !keepAlive
	return req
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (serverSide, clientSide net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	clientSide, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverSide, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		_ = clientSide.Close()
		_ = serverSide.Close()
	})
	return serverSide, clientSide
}
