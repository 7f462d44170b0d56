package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/tlsbench/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.collector.Stats(time.Since(p.start))))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.Stats) string {
	return fmt.Sprintf("\rSessions: %d active, %d done | Handshakes: %d (%.1f/s, P99 %.1fms) | Reads: %d | Writes: %d",
		stats.Sessions.Active, stats.Sessions.Total,
		stats.Handshake.Count, stats.Handshake.PerSec, stats.Handshake.P99LatencyMs,
		stats.Read.Count, stats.Write.Count)
}
