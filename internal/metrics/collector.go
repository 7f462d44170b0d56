package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/tlsbench/internal/recorder"
	"github.com/torosent/tlsbench/internal/server"
)

// Collector aggregates recorder observations and session outcomes.
type Collector struct {
	channels map[recorder.Kind]*channelCollector

	sessionsMu sync.Mutex
	active     int64
	peakActive int64
	outcomes   map[server.Outcome]int64

	startMu sync.Mutex
	start   time.Time
}

type channelCollector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	count      int64
	bytes      int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
}

// ChannelStats summarizes one metric channel.
type ChannelStats struct {
	Count       int64         `json:"count" yaml:"count"`
	Bytes       int64         `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P90Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`
	PerSec      float64       `json:"per_sec" yaml:"per_sec"`

	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
}

// SessionStats counts sessions by outcome.
type SessionStats struct {
	Total      int64            `json:"total" yaml:"total"`
	Active     int64            `json:"active" yaml:"active"`
	PeakActive int64            `json:"peak_active" yaml:"peak_active"`
	Outcomes   map[string]int64 `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// Stats is a point-in-time summary of a run.
type Stats struct {
	Handshake  ChannelStats  `json:"handshake" yaml:"handshake"`
	Read       ChannelStats  `json:"read" yaml:"read"`
	Write      ChannelStats  `json:"write" yaml:"write"`
	Sessions   SessionStats  `json:"sessions" yaml:"sessions"`
	Duration   time.Duration `json:"-" yaml:"-"`
	DurationMs float64       `json:"duration_ms" yaml:"duration_ms"`
}

// NewCollector returns an empty collector whose clock starts now.
func NewCollector() *Collector {
	c := &Collector{
		channels: make(map[recorder.Kind]*channelCollector, len(recorder.Kinds)),
		outcomes: make(map[server.Outcome]int64),
		start:    time.Now(),
	}
	for _, kind := range recorder.Kinds {
		// Track latencies from 1µs up to 60s with 3 significant figures.
		c.channels[kind] = &channelCollector{hist: hdrhistogram.New(1, 60_000_000, 3)}
	}
	return c
}

// Start resets the reference time used by [Collector.Elapsed].
func (c *Collector) Start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.start = time.Now()
}

// Elapsed returns the time since the collector was started.
func (c *Collector) Elapsed() time.Duration {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return time.Since(c.start)
}

// Observe implements recorder.Observer.
func (c *Collector) Observe(rec recorder.Record) {
	ch := c.channels[rec.Kind]
	if ch == nil {
		return
	}
	ch.observe(rec.Size, rec.Duration)
}

func (ch *channelCollector) observe(size int64, latency time.Duration) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if latency < 0 {
		latency = 0
	}
	us := latency.Microseconds()
	if us < ch.hist.LowestTrackableValue() {
		us = ch.hist.LowestTrackableValue()
	}
	if us > ch.hist.HighestTrackableValue() {
		us = ch.hist.HighestTrackableValue()
	}
	_ = ch.hist.RecordValue(us)

	if ch.count == 0 || latency < ch.minLatency {
		ch.minLatency = latency
	}
	if latency > ch.maxLatency {
		ch.maxLatency = latency
	}
	ch.count++
	ch.bytes += size
	ch.sumLatency += latency
}

func (ch *channelCollector) stats(elapsed time.Duration) ChannelStats {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	stats := ChannelStats{
		Count:      ch.count,
		Bytes:      ch.bytes,
		MinLatency: ch.minLatency,
		MaxLatency: ch.maxLatency,
	}
	if ch.count > 0 {
		stats.MeanLatency = time.Duration(int64(ch.sumLatency) / ch.count)
	}
	if ch.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(ch.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(ch.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(ch.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	if elapsed > 0 && ch.count > 0 {
		stats.PerSec = float64(ch.count) / elapsed.Seconds()
	}

	stats.MinLatencyMs = toMillis(stats.MinLatency)
	stats.MaxLatencyMs = toMillis(stats.MaxLatency)
	stats.MeanLatencyMs = toMillis(stats.MeanLatency)
	stats.P50LatencyMs = toMillis(stats.P50Latency)
	stats.P90LatencyMs = toMillis(stats.P90Latency)
	stats.P99LatencyMs = toMillis(stats.P99Latency)
	return stats
}

// SessionStarted implements server.SessionObserver.
func (c *Collector) SessionStarted() {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.active++
	if c.active > c.peakActive {
		c.peakActive = c.active
	}
}

// SessionEnded implements server.SessionObserver.
func (c *Collector) SessionEnded(outcome server.Outcome) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.active--
	c.outcomes[outcome]++
}

// Stats computes the current summary.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	stats := Stats{
		Handshake:  c.channels[recorder.KindHandshake].stats(elapsed),
		Read:       c.channels[recorder.KindRead].stats(elapsed),
		Write:      c.channels[recorder.KindWrite].stats(elapsed),
		Duration:   elapsed,
		DurationMs: toMillis(elapsed),
	}

	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	stats.Sessions.Active = c.active
	stats.Sessions.PeakActive = c.peakActive
	if len(c.outcomes) > 0 {
		stats.Sessions.Outcomes = make(map[string]int64, len(c.outcomes))
		for outcome, n := range c.outcomes {
			stats.Sessions.Outcomes[string(outcome)] = n
			stats.Sessions.Total += n
		}
	}
	return stats
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
