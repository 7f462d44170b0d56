package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/torosent/tlsbench/internal/config"
	"github.com/torosent/tlsbench/internal/metrics"
)

// Print writes stats in the requested summary format. SummaryFormatNone
// writes nothing.
func Print(w io.Writer, format config.SummaryFormat, stats metrics.Stats) error {
	switch format {
	case config.SummaryFormatText, "":
		PrintReport(w, stats)
		return nil
	case config.SummaryFormatJSON:
		return PrintJSONReport(w, stats)
	case config.SummaryFormatYAML:
		return PrintYAMLReport(w, stats)
	case config.SummaryFormatNone:
		return nil
	default:
		return errors.Errorf("unsupported summary format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- TLS Benchmark Results ---")
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Sessions:          %d\n", stats.Sessions.Total)
	fmt.Fprintf(w, "Active:            %d (peak %d)\n", stats.Sessions.Active, stats.Sessions.PeakActive)
	if len(stats.Sessions.Outcomes) > 0 {
		fmt.Fprintln(w, "\nOutcomes:")
		outcomes := make([]string, 0, len(stats.Sessions.Outcomes))
		for outcome := range stats.Sessions.Outcomes {
			outcomes = append(outcomes, outcome)
		}
		sort.Strings(outcomes)
		for _, outcome := range outcomes {
			fmt.Fprintf(w, "  %-17s%d\n", outcome+":", stats.Sessions.Outcomes[outcome])
		}
	}

	writeChannel(w, "Handshake", stats.Handshake, false)
	writeChannel(w, "Read", stats.Read, true)
	writeChannel(w, "Write", stats.Write, true)
}

func writeChannel(w io.Writer, title string, ch metrics.ChannelStats, transfers bool) {
	fmt.Fprintf(w, "\n%s:\n", title)
	fmt.Fprintf(w, "  Count:           %d\n", ch.Count)
	if ch.Count == 0 {
		return
	}
	fmt.Fprintf(w, "  Per second:      %.2f\n", ch.PerSec)
	if transfers {
		fmt.Fprintf(w, "  Bytes:           %d\n", ch.Bytes)
	}
	fmt.Fprintf(w, "  Min:             %s\n", ch.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", ch.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", ch.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", ch.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", ch.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", ch.P99Latency)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, stats metrics.Stats) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(stats); err != nil {
		return err
	}
	return enc.Close()
}
