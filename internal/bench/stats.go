// Package bench measures RPC call latency while a background getSlot load
// runs against the same node.
package bench

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Stats summarizes one method's latency samples.
type Stats struct {
	Mean    time.Duration
	StdDev  time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
	Errors  int
}

// Summarize computes population mean and deviation plus nearest-rank
// percentiles. latencies is not modified.
func Summarize(latencies []time.Duration) Stats {
	n := len(latencies)
	if n == 0 {
		return Stats{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var total float64
	for _, d := range sorted {
		total += float64(d)
	}
	mean := total / float64(n)

	var variance float64
	for _, d := range sorted {
		diff := float64(d) - mean
		variance += diff * diff
	}
	variance /= float64(n)

	return Stats{
		Mean:    time.Duration(mean),
		StdDev:  time.Duration(math.Sqrt(variance)),
		P90:     percentile(sorted, 90),
		P95:     percentile(sorted, 95),
		P99:     percentile(sorted, 99),
		Samples: n,
	}
}

// percentile picks sorted[floor(n*p/100)], clamped to the last element.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// String renders the stats in milliseconds.
func (s Stats) String() string {
	line := fmt.Sprintf("%.1f ± %.1f ms p90: %.1f p95: %.1f p99: %.1f",
		ms(s.Mean), ms(s.StdDev), ms(s.P90), ms(s.P95), ms(s.P99))
	if s.Errors > 0 {
		line += fmt.Sprintf(" errors: %d", s.Errors)
	}
	return line
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
