// Package metrics aggregates session measurements in-process.
//
// The [Collector] keeps one HDR histogram per metric channel (handshake, read,
// write) so an operator gets latency distributions at the end of a run without
// post-processing the CSV logs:
//
//	collector := metrics.NewCollector()
//	sink, _ := recorder.Open(dir, time.Now(), recorder.WithObserver(collector))
//
//	// ... serve connections ...
//
//	stats := collector.Stats(time.Since(start))
//
// # Statistics
//
// [Stats] reports, per channel, the record count, transferred bytes, min/max/mean
// and P50/P90/P99 latencies, plus session outcome counters.
//
// # Prometheus
//
// The [Exporter] mirrors the same observations as Prometheus histograms on a
// private registry, served by [Exporter.Handler].
//
// # Thread Safety
//
// Each channel has its own lock, matching the recorder: observing a read never
// waits on a handshake or a write.
package metrics
