package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{"250ms", 250 * time.Millisecond},
		{10, 10 * time.Second}, // int treated as seconds
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsStringSlice(t *testing.T) {
	tests := []struct {
		input interface{}
		want  []string
	}{
		{[]interface{}{"X25519MLKEM768", "X25519"}, []string{"X25519MLKEM768", "X25519"}},
		{"X25519MLKEM768, P-256", []string{"X25519MLKEM768", "P-256"}},
		{nil, nil},
	}

	for _, tt := range tests {
		got, err := asStringSlice(tt.input)
		if err != nil {
			t.Errorf("asStringSlice(%v) error = %v", tt.input, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("asStringSlice(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"port":              8443,
		"certificate_file":  "cert.pem",
		"private_key_file":  "key.pem",
		"record_transfers":  false,
		"handshake_timeout": "5s",
		"accept_rate":       250.5,
		"curves":            []interface{}{"x25519mlkem768"},
		"tracing": map[string]interface{}{
			"endpoint":    "collector:4317",
			"sample_rate": 0.25,
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Port != 8443 {
		t.Errorf("Port = %d, want 8443", cfg.Port)
	}
	if cfg.CertificateFile != "cert.pem" || cfg.PrivateKeyFile != "key.pem" {
		t.Errorf("key pair = %q/%q, want cert.pem/key.pem", cfg.CertificateFile, cfg.PrivateKeyFile)
	}
	if cfg.RecordTransfers {
		t.Errorf("RecordTransfers = true, want false")
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", cfg.HandshakeTimeout)
	}
	if cfg.AcceptRate != 250.5 {
		t.Errorf("AcceptRate = %v, want 250.5", cfg.AcceptRate)
	}
	if len(cfg.Curves) != 1 || cfg.Curves[0] != "x25519mlkem768" {
		t.Errorf("Curves = %v, want [x25519mlkem768]", cfg.Curves)
	}
	if cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("Tracing.Endpoint = %q, want collector:4317", cfg.Tracing.Endpoint)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing.SampleRate = %v, want 0.25", cfg.Tracing.SampleRate)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Tracing.Protocol != "grpc" {
		t.Errorf("Tracing.Protocol = %q, want grpc", cfg.Tracing.Protocol)
	}
	if cfg.ServerName != "tlsbench" {
		t.Errorf("ServerName = %q, want tlsbench", cfg.ServerName)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Default()
	cfg.Port = 443

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--port=8443",
		"--max-sessions=64",
		"--read-timeout=2s",
		"--progress-interval=1s",
		"--log-format=JSON",
		"--tracing-protocol=HTTP",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(&cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Port != 8443 {
		t.Errorf("Port = %d, want 8443", cfg.Port)
	}
	if cfg.MaxSessions != 64 {
		t.Errorf("MaxSessions = %d, want 64", cfg.MaxSessions)
	}
	if cfg.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %v, want 2s", cfg.ReadTimeout)
	}
	if cfg.ProgressInterval != time.Second {
		t.Errorf("ProgressInterval = %v, want 1s", cfg.ProgressInterval)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.Tracing.Protocol != "http" {
		t.Errorf("Tracing.Protocol = %q, want http", cfg.Tracing.Protocol)
	}
	// Untouched flags keep the current value.
	if cfg.MetricsDir != "." {
		t.Errorf("MetricsDir = %q, want .", cfg.MetricsDir)
	}
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	args := []string{
		"-p", "4433",
		"--certificate-file", " cert.pem ",
		"--private-key-file=key.pem",
	}

	cfg, err := loader.Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 4433 {
		t.Errorf("Port = %d, want 4433", cfg.Port)
	}
	if cfg.CertificateFile != "cert.pem" {
		t.Errorf("CertificateFile = %q, want cert.pem", cfg.CertificateFile)
	}
}

func TestLoader_Help(t *testing.T) {
	_, err := NewLoader().Load([]string{"--help"})
	if err != ErrHelpRequested {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}
