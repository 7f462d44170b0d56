package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// PrometheusHook counts log lines by level.
type PrometheusHook struct {
	counters map[log.Level]prometheus.Counter
}

// NewPrometheusHook creates the counters and registers them on reg.
func NewPrometheusHook(reg prometheus.Registerer) *PrometheusHook {
	counters := make(map[log.Level]prometheus.Counter)

	for _, level := range []log.Level{
		log.DebugLevel,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
	} {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlsbench",
			Name:      "log_messages_total",
			Help:      "Total number of log lines logged by level",
			ConstLabels: prometheus.Labels{
				"level": level.String(),
			},
		})
		reg.MustRegister(counter)
		counters[level] = counter
	}
	return &PrometheusHook{counters: counters}
}

// Levels implements logrus.Hook.
func (h *PrometheusHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (h *PrometheusHook) Fire(entry *log.Entry) error {
	if counter, ok := h.counters[entry.Level]; ok {
		counter.Inc()
	}
	return nil
}
