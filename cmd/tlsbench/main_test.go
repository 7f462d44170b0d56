package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tidwall/gjson"

	"github.com/torosent/tlsbench/internal/config"
	"github.com/torosent/tlsbench/internal/server"
	"github.com/torosent/tlsbench/internal/tlsconf"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeKeyPair(t *testing.T, dir string) (certFile, keyFile string, kp tlsconf.KeyPair) {
	t.Helper()
	kp, err := tlsconf.GenerateSelfSigned(tlsconf.CertificateRequest{Hosts: []string{"localhost", "127.0.0.1"}})
	if err != nil {
		t.Fatalf("GenerateSelfSigned() error = %v", err)
	}
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := kp.WriteFiles(certFile, keyFile); err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	return certFile, keyFile, kp
}

func TestGenCertCommand(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	var stdout bytes.Buffer
	root := newRootCommand(&stdout, io.Discard)
	root.SetArgs([]string{"gen-cert",
		"--certificate-file", certFile,
		"--private-key-file", keyFile,
		"--algorithm", "ed25519",
		"--hosts", "bench.local",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("gen-cert failed: %v", err)
	}
	if !strings.Contains(stdout.String(), certFile) {
		t.Errorf("expected output to name %s, got %q", certFile, stdout.String())
	}

	cfg, err := tlsconf.Load(certFile, keyFile, tlsconf.Options{})
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	leaf := cfg.Certificates[0].Leaf
	if leaf == nil || len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "bench.local" {
		t.Errorf("unexpected certificate names: %+v", leaf)
	}

	// A second run must not overwrite the key pair.
	root = newRootCommand(io.Discard, io.Discard)
	root.SetArgs([]string{"gen-cert", "--certificate-file", certFile, "--private-key-file", keyFile})
	if err := root.Execute(); err == nil {
		t.Error("expected gen-cert to refuse existing files")
	}
}

func TestGenCertRejectsUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	err := genCert(io.Discard, genCertOptions{
		certificateFile: filepath.Join(dir, "c.pem"),
		privateKeyFile:  filepath.Join(dir, "k.pem"),
		algorithm:       "rsa-1024",
	})
	if err == nil {
		t.Fatal("expected an error for rsa-1024")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "k.pem")); !os.IsNotExist(statErr) {
		t.Errorf("no key file should be written, stat error = %v", statErr)
	}
}

func TestRunCommandValidatesConfig(t *testing.T) {
	root := newRootCommand(io.Discard, io.Discard)
	root.SetArgs([]string{"run", "--port", "8443"})
	err := root.Execute()

	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "certificate_file is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServeReportsMissingKeyPair(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CertificateFile = filepath.Join(dir, "missing.pem")
	cfg.PrivateKeyFile = filepath.Join(dir, "missing-key.pem")
	cfg.MetricsDir = dir

	err := serve(context.Background(), &cfg, io.Discard, io.Discard)
	var cfgErr *server.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Op != "tls" {
		t.Errorf("Op = %q, want tls", cfgErr.Op)
	}
}

var listeningLine = regexp.MustCompile(`Listening to port (\d+)\.\.\.`)

func TestServeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, kp := writeKeyPair(t, dir)
	metricsDir := filepath.Join(dir, "metrics")
	if err := os.Mkdir(metricsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.CertificateFile = certFile
	cfg.PrivateKeyFile = keyFile
	cfg.MetricsDir = metricsDir
	cfg.SummaryFormat = config.SummaryFormatJSON
	cfg.MaxSessions = 4
	cfg.ReadTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() { done <- serve(ctx, &cfg, &stdout, &stderr) }()

	var port string
	deadline := time.Now().Add(5 * time.Second)
	for port == "" && time.Now().Before(deadline) {
		if m := listeningLine.FindStringSubmatch(stdout.String()); m != nil {
			port = m[1]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if port == "" {
		t.Fatalf("server never reported its port; stderr:\n%s", stderr.String())
	}

	conn, err := tls.Dial("tcp", "127.0.0.1:"+port, &tls.Config{
		RootCAs:    kp.CertPool(),
		ServerName: "localhost",
		MinVersion: tls.VersionTLS13,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://localhost/", nil)
	req.Close = true
	if err := req.Write(conn); err != nil {
		t.Fatalf("write request: %v", err)
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	_, _ = io.ReadAll(br)
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	out := stdout.String()
	summary := out[strings.Index(out, "\n")+1:]
	if got := gjson.Get(summary, "handshake.count").Int(); got != 1 {
		t.Errorf("handshake.count = %d, want 1\n%s", got, summary)
	}
	if got := gjson.Get(summary, "read.count").Int(); got != 1 {
		t.Errorf("read.count = %d, want 1", got)
	}
	if got := gjson.Get(summary, "sessions.outcomes.completed").Int(); got != 1 {
		t.Errorf("sessions.outcomes.completed = %d, want 1", got)
	}

	files, err := filepath.Glob(filepath.Join(metricsDir, "*_log_server_*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("expected 3 metric files, got %v", files)
	}
}

func TestNewDispatcherWarnsWhenUnbounded(t *testing.T) {
	logger, hook := test.NewNullLogger()

	cfg := config.Default()
	if newDispatcher(&cfg, logger) == nil {
		t.Fatal("expected a dispatcher")
	}
	if len(hook.Entries) != 1 || hook.LastEntry().Level != log.WarnLevel {
		t.Errorf("expected one warning for unbounded sessions, got %v", hook.Entries)
	}

	hook.Reset()
	cfg.MaxSessions = 8
	cfg.AcceptRate = 100
	newDispatcher(&cfg, logger)
	if len(hook.Entries) != 0 {
		t.Errorf("expected no warning with max_sessions set, got %v", hook.Entries)
	}
}

func TestDrainingDispatcherWait(t *testing.T) {
	d := newDrainingDispatcher(server.Unbounded())
	release := make(chan struct{})
	if err := d.Dispatch(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if d.Wait(20 * time.Millisecond) {
		t.Error("Wait should time out while a session runs")
	}
	close(release)
	if !d.Wait(time.Second) {
		t.Error("Wait should succeed after the session finishes")
	}
}

func TestDrainingDispatcherForgetsRejectedSessions(t *testing.T) {
	d := newDrainingDispatcher(server.Bounded(1))
	release := make(chan struct{})
	if err := d.Dispatch(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, func() {}); err == nil {
		t.Fatal("expected Dispatch to fail with a cancelled context")
	}
	close(release)
	if !d.Wait(time.Second) {
		t.Error("Wait should not count the rejected session")
	}
}
