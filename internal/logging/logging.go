// Package logging configures the logrus logger shared by the listener, the
// sessions and the metrics sink.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/torosent/tlsbench/internal/config"
)

// New returns a logger writing to out with the requested level and format.
func New(level string, format config.LogFormat, out io.Writer) (*log.Logger, error) {
	logger := log.New()
	if err := Configure(logger, level, format, out); err != nil {
		return nil, err
	}
	return logger, nil
}

// Configure applies level, format and output to an existing logger. A nil out
// keeps stdout.
func Configure(logger *log.Logger, level string, format config.LogFormat, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}

	switch format {
	case config.LogFormatText, "":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case config.LogFormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unsupported log format %q", format)
	}

	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	return nil
}
