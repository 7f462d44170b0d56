package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	return l.FromFlags(flagSet)
}

// FromFlags builds a Config from an already parsed flag set registered with
// RegisterFlags. The optional --config file is applied first, then the flags
// the user set explicitly.
func (Loader) FromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configPath)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.CertificateFile = strings.TrimSpace(cfg.CertificateFile)
	cfg.PrivateKeyFile = strings.TrimSpace(cfg.PrivateKeyFile)

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "host"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("host: %w", err)
		}
		cfg.Host = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "port"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = val
	}

	if raw, ok := lookupSetting(settings, "certificate_file", "certificatefile", "certificate-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("certificate_file: %w", err)
		}
		cfg.CertificateFile = val
	}

	if raw, ok := lookupSetting(settings, "private_key_file", "privatekeyfile", "private-key-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("private_key_file: %w", err)
		}
		cfg.PrivateKeyFile = val
	}

	if raw, ok := lookupSetting(settings, "metrics_dir", "metricsdir", "metrics-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_dir: %w", err)
		}
		cfg.MetricsDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "record_transfers", "recordtransfers", "record-transfers"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("record_transfers: %w", err)
		}
		cfg.RecordTransfers = val
	}

	if raw, ok := lookupSetting(settings, "server_name", "servername", "server-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("server_name: %w", err)
		}
		if val != "" {
			cfg.ServerName = val
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"handshake_timeout", &cfg.HandshakeTimeout},
		{"read_timeout", &cfg.ReadTimeout},
		{"write_timeout", &cfg.WriteTimeout},
		{"close_timeout", &cfg.CloseTimeout},
		{"progress_interval", &cfg.ProgressInterval},
	}
	for _, d := range durations {
		raw, ok := lookupSetting(settings, d.key, strings.ReplaceAll(d.key, "_", ""), strings.ReplaceAll(d.key, "_", "-"))
		if !ok {
			continue
		}
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if raw, ok := lookupSetting(settings, "max_sessions", "maxsessions", "max-sessions"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_sessions: %w", err)
		}
		cfg.MaxSessions = val
	}

	if raw, ok := lookupSetting(settings, "accept_rate", "acceptrate", "accept-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("accept_rate: %w", err)
		}
		cfg.AcceptRate = val
	}

	if raw, ok := lookupSetting(settings, "min_tls_version", "mintlsversion", "min-tls-version"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("min_tls_version: %w", err)
		}
		cfg.MinTLSVersion = val
	}

	if raw, ok := lookupSetting(settings, "curves"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("curves: %w", err)
		}
		cfg.Curves = val
	}

	if raw, ok := lookupSetting(settings, "metrics_addr", "metricsaddr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "log_level", "loglevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = val
	}

	if raw, ok := lookupSetting(settings, "log_format", "logformat", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_format: %w", err)
		}
		cfg.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "summary_format", "summaryformat", "summary-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("summary_format: %w", err)
		}
		cfg.SummaryFormat = SummaryFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base

	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = val
	}
	return tc, nil
}
