package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all server flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tlsbench run",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all server flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	def := Default()

	// Endpoint flags
	flags.String("host", def.Host, "Address to bind (empty means all interfaces)")
	flags.IntP("port", "p", def.Port, "TCP port to listen on")
	flags.String("certificate-file", "", "Path to the PEM certificate chain")
	flags.String("private-key-file", "", "Path to the PEM private key")
	flags.String("min-tls-version", def.MinTLSVersion, "Lowest accepted TLS version (1.2 or 1.3)")
	flags.StringSlice("curves", nil, "Key exchange groups in preference order (e.g. X25519MLKEM768,X25519)")
	flags.String("server-name", def.ServerName, "Value of the Server response header")

	// Session flags
	flags.Bool("record-transfers", def.RecordTransfers, "Record read and write metrics (false records handshakes only)")
	flags.Duration("handshake-timeout", 0, "Handshake deadline (0 waits forever)")
	flags.Duration("read-timeout", 0, "Per-request read deadline (0 waits forever)")
	flags.Duration("write-timeout", 0, "Per-response write deadline (0 waits forever)")
	flags.Duration("close-timeout", 0, "close_notify write deadline (0 waits forever)")
	flags.Int("max-sessions", def.MaxSessions, "Maximum concurrent sessions (0 means unlimited)")
	flags.Float64("accept-rate", def.AcceptRate, "Maximum sessions started per second (0 means unlimited)")

	// Output flags
	flags.String("metrics-dir", def.MetricsDir, "Directory receiving the handshake, read and write CSV logs")
	flags.String("metrics-addr", "", "Address serving Prometheus metrics on /metrics (empty disables)")
	flags.String("log-level", def.LogLevel, "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", string(def.LogFormat), "Log format: 'text' or 'json'")
	flags.String("summary-format", string(def.SummaryFormat), "Summary printed at shutdown: 'text', 'json', 'yaml' or 'none'")
	flags.Duration("progress-interval", 0, "Interval between live progress lines on stderr (0 disables)")
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", def.Tracing.Protocol, "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS towards the OTLP collector")
	flags.Float64("tracing-sample-rate", def.Tracing.SampleRate, "Fraction of sessions traced (0.0 to 1.0)")
	flags.String("tracing-service-name", def.Tracing.ServiceName, "Service name reported to the collector")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("host") {
		val, err := fs.GetString("host")
		if err != nil {
			return err
		}
		cfg.Host = strings.TrimSpace(val)
	}
	if fs.Changed("port") {
		val, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Port = val
	}
	if fs.Changed("certificate-file") {
		val, err := fs.GetString("certificate-file")
		if err != nil {
			return err
		}
		cfg.CertificateFile = strings.TrimSpace(val)
	}
	if fs.Changed("private-key-file") {
		val, err := fs.GetString("private-key-file")
		if err != nil {
			return err
		}
		cfg.PrivateKeyFile = strings.TrimSpace(val)
	}
	if fs.Changed("min-tls-version") {
		val, err := fs.GetString("min-tls-version")
		if err != nil {
			return err
		}
		cfg.MinTLSVersion = val
	}
	if fs.Changed("curves") {
		val, err := fs.GetStringSlice("curves")
		if err != nil {
			return err
		}
		cfg.Curves = val
	}
	if fs.Changed("server-name") {
		val, err := fs.GetString("server-name")
		if err != nil {
			return err
		}
		cfg.ServerName = val
	}
	if fs.Changed("record-transfers") {
		val, err := fs.GetBool("record-transfers")
		if err != nil {
			return err
		}
		cfg.RecordTransfers = val
	}
	if fs.Changed("handshake-timeout") {
		val, err := fs.GetDuration("handshake-timeout")
		if err != nil {
			return err
		}
		cfg.HandshakeTimeout = val
	}
	if fs.Changed("read-timeout") {
		val, err := fs.GetDuration("read-timeout")
		if err != nil {
			return err
		}
		cfg.ReadTimeout = val
	}
	if fs.Changed("write-timeout") {
		val, err := fs.GetDuration("write-timeout")
		if err != nil {
			return err
		}
		cfg.WriteTimeout = val
	}
	if fs.Changed("close-timeout") {
		val, err := fs.GetDuration("close-timeout")
		if err != nil {
			return err
		}
		cfg.CloseTimeout = val
	}
	if fs.Changed("max-sessions") {
		val, err := fs.GetInt("max-sessions")
		if err != nil {
			return err
		}
		cfg.MaxSessions = val
	}
	if fs.Changed("accept-rate") {
		val, err := fs.GetFloat64("accept-rate")
		if err != nil {
			return err
		}
		cfg.AcceptRate = val
	}
	if fs.Changed("metrics-dir") {
		val, err := fs.GetString("metrics-dir")
		if err != nil {
			return err
		}
		cfg.MetricsDir = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("summary-format") {
		val, err := fs.GetString("summary-format")
		if err != nil {
			return err
		}
		cfg.SummaryFormat = SummaryFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("progress-interval") {
		val, err := fs.GetDuration("progress-interval")
		if err != nil {
			return err
		}
		cfg.ProgressInterval = val
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = val
	}

	return nil
}
