package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/tlsbench/internal/config"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", config.LogFormatText, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.WithField("port", 8443).Info("Listening")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=Listening")
	assert.Contains(t, out, "port=8443")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", config.LogFormatJSON, &buf)
	require.NoError(t, err)

	logger.WithField("session", "01H").Debug("SSL handshake time")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "SSL handshake time", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "01H", entry["session"])
}

func TestConfigureRejectsBadInput(t *testing.T) {
	_, err := New("loud", config.LogFormatText, nil)
	require.Error(t, err)

	_, err = New("info", "xml", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "xml"))
}

func TestPrometheusHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewPrometheusHook(reg)

	var buf bytes.Buffer
	logger, err := New("debug", config.LogFormatText, &buf)
	require.NoError(t, err)
	logger.AddHook(hook)

	logger.Info("one")
	logger.Error("two")
	logger.Error("three")

	assert.Equal(t, 1.0, testutil.ToFloat64(hook.counters[log.InfoLevel]))
	assert.Equal(t, 2.0, testutil.ToFloat64(hook.counters[log.ErrorLevel]))
	assert.Equal(t, 0.0, testutil.ToFloat64(hook.counters[log.WarnLevel]))

	n, err := testutil.GatherAndCount(reg, "tlsbench_log_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
