package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Distribution answers latency percentile lookups over a frozen histogram.
type Distribution struct {
	hist *hdrhistogram.Histogram
}

// Percentile returns the latency at quantile q, where q is in [0, 1].
// It returns zero when nothing was recorded.
func (d Distribution) Percentile(q float64) time.Duration {
	if d.hist == nil || d.hist.TotalCount() == 0 {
		return 0
	}
	if q >= 1 {
		return time.Duration(d.hist.Max()) * time.Microsecond
	}
	if q < 0 {
		q = 0
	}
	return time.Duration(d.hist.ValueAtQuantile(q*100)) * time.Microsecond
}

// Count returns the number of latencies in the distribution.
func (d Distribution) Count() int64 {
	if d.hist == nil {
		return 0
	}
	return d.hist.TotalCount()
}

// Totals are cumulative statistics since the collector was last reset.
type Totals struct {
	Distribution

	StartTime       time.Time
	LastRequestTime time.Time
	Requests        int64
	Failures        int64
	MinLatency      time.Duration
	MaxLatency      time.Duration
	MeanLatency     time.Duration
	FailRatio       float64
	TotalRPS        float64
	TotalFailPerSec float64
	Errors          map[string]int64
}

// Elapsed is the time between the reset and the last recorded request.
func (t Totals) Elapsed() time.Duration {
	if t.LastRequestTime.IsZero() || t.LastRequestTime.Before(t.StartTime) {
		return 0
	}
	return t.LastRequestTime.Sub(t.StartTime)
}

// Current holds rolling-window statistics.
type Current struct {
	Distribution

	Time       time.Time
	RPS        float64
	FailPerSec float64
}
