package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/torosent/tlsbench/internal/tlsconf"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type SummaryFormat string

const (
	SummaryFormatText SummaryFormat = "text"
	SummaryFormatJSON SummaryFormat = "json"
	SummaryFormatYAML SummaryFormat = "yaml"
	SummaryFormatNone SummaryFormat = "none"
)

type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	CertificateFile  string        `mapstructure:"certificate_file"`
	PrivateKeyFile   string        `mapstructure:"private_key_file"`
	MetricsDir       string        `mapstructure:"metrics_dir"`
	RecordTransfers  bool          `mapstructure:"record_transfers"`
	ServerName       string        `mapstructure:"server_name"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
	MaxSessions      int           `mapstructure:"max_sessions"`
	AcceptRate       float64       `mapstructure:"accept_rate"`
	MinTLSVersion    string        `mapstructure:"min_tls_version"`
	Curves           []string      `mapstructure:"curves"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        LogFormat     `mapstructure:"log_format"`
	SummaryFormat    SummaryFormat `mapstructure:"summary_format"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	Tracing          TracingConfig `mapstructure:"tracing"`
	ConfigFile       string        `mapstructure:"-"`
}

// TracingConfig configures the OTLP span exporter. Tracing is off unless an
// endpoint is set here or in OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// Default returns the configuration used when neither a file nor a flag sets a key.
func Default() Config {
	return Config{
		MetricsDir:      ".",
		RecordTransfers: true,
		ServerName:      "tlsbench",
		MinTLSVersion:   "1.3",
		LogLevel:        "info",
		LogFormat:       LogFormatText,
		SummaryFormat:   SummaryFormatText,
		Tracing: TracingConfig{
			Protocol:    "grpc",
			SampleRate:  1.0,
			ServiceName: "tlsbench",
		},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Port < 1 || c.Port > 65535 {
		issues = append(issues, "port must be between 1 and 65535 (use --help for usage information)")
	}
	if strings.TrimSpace(c.CertificateFile) == "" {
		issues = append(issues, "certificate_file is required")
	}
	if strings.TrimSpace(c.PrivateKeyFile) == "" {
		issues = append(issues, "private_key_file is required")
	}
	if strings.TrimSpace(c.MetricsDir) == "" {
		issues = append(issues, "metrics_dir must not be empty")
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"handshake_timeout", c.HandshakeTimeout},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"close_timeout", c.CloseTimeout},
		{"progress_interval", c.ProgressInterval},
	}
	for _, t := range timeouts {
		if t.d < 0 {
			issues = append(issues, fmt.Sprintf("%s must be >= 0", t.name))
		}
	}
	if c.MaxSessions < 0 {
		issues = append(issues, "max_sessions must be >= 0")
	}
	if c.AcceptRate < 0 {
		issues = append(issues, "accept_rate must be >= 0")
	}

	if _, err := tlsconf.ParseVersion(c.MinTLSVersion); err != nil {
		issues = append(issues, fmt.Sprintf("min_tls_version: %v", err))
	}
	if _, err := tlsconf.ParseCurves(c.Curves); err != nil {
		issues = append(issues, fmt.Sprintf("curves: %v", err))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		issues = append(issues, fmt.Sprintf("log_level: %v", err))
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("log_format must be 'text' or 'json', got %q", c.LogFormat))
	}
	switch c.SummaryFormat {
	case SummaryFormatText, SummaryFormatJSON, SummaryFormatYAML, SummaryFormatNone:
	default:
		issues = append(issues, fmt.Sprintf("summary_format must be 'text', 'json', 'yaml' or 'none', got %q", c.SummaryFormat))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if c.Tracing.Insecure && c.Tracing.Enabled() {
		fmt.Fprintln(os.Stderr, "WARNING: OTLP exporter TLS is DISABLED (tracing.insecure: true). Spans are sent in clear text.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
