package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	lowestLatencyUs  = 1
	highestLatencyUs = 60_000_000
	significantFigs  = 3

	// DefaultWindow is the span of the rolling "current" statistics.
	DefaultWindow = 2 * time.Second
)

// Collector records per-request metrics in a thread-safe manner. It is the
// host engine's stats surface: cumulative totals that can be reset at stage
// boundaries, plus a short rolling window for live sampling.
type Collector struct {
	mu           sync.Mutex
	now          func() time.Time
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
	start        time.Time
	lastRequest  time.Time

	window     int
	recent     *hdrhistogram.WindowedHistogram
	recentSec  int64
	secCounts  []secondCount
	windowFrom time.Time
}

type secondCount struct {
	sec      int64
	requests int64
	failures int64
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithWindow sets the rolling window used by Current. It is rounded down to
// whole seconds with a minimum of one.
func WithWindow(d time.Duration) Option {
	return func(c *Collector) {
		c.window = max(int(d/time.Second), 1)
	}
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		now:          time.Now,
		window:       int(DefaultWindow / time.Second),
		errorsByType: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Track latencies from 1µs up to 60s with 3 significant figures.
	c.hist = hdrhistogram.New(lowestLatencyUs, highestLatencyUs, significantFigs)
	c.recent = hdrhistogram.NewWindowed(c.window, lowestLatencyUs, highestLatencyUs, significantFigs)
	c.secCounts = make([]secondCount, c.window+1)
	now := c.now()
	c.start = now
	c.windowFrom = now
	c.recentSec = now.Unix()
	return c
}

// RecordRequest records a single request's latency and error state.
func (c *Collector) RecordRequest(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rotate(now)
	c.lastRequest = now

	if latency > 0 {
		us := clampMicros(latency)
		_ = c.hist.RecordValue(us)
		_ = c.recent.Current.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	slot := c.slot(now.Unix())
	slot.requests++
	if err == nil {
		c.successes++
	} else {
		c.failures++
		slot.failures++
		errorType := fmt.Sprintf("%T", err)
		if len(errorType) > 30 {
			errorType = errorType[len(errorType)-30:]
		}
		c.errorsByType[errorType]++
	}
}

// ResetStats clears cumulative and rolling statistics and restarts the
// measurement clock. The controller calls it once a stage reaches its target
// so ramp-up transients are not counted.
func (c *Collector) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.hist.Reset()
	c.recent = hdrhistogram.NewWindowed(c.window, lowestLatencyUs, highestLatencyUs, significantFigs)
	c.recentSec = now.Unix()
	c.secCounts = make([]secondCount, c.window+1)
	c.successes = 0
	c.failures = 0
	c.minLatency = 0
	c.maxLatency = 0
	c.sumLatency = 0
	c.errorsByType = make(map[string]int64)
	c.start = now
	c.windowFrom = now
	c.lastRequest = time.Time{}
}

// Totals returns cumulative statistics since the last reset.
func (c *Collector) Totals() (Totals, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	t := Totals{
		StartTime:       c.start,
		LastRequestTime: c.lastRequest,
		Requests:        total,
		Failures:        c.failures,
		MinLatency:      c.minLatency,
		MaxLatency:      c.maxLatency,
		Distribution:    Distribution{hist: copyHistogram(c.hist)},
	}
	if total > 0 {
		t.MeanLatency = time.Duration(int64(c.sumLatency) / total)
		t.FailRatio = float64(c.failures) / float64(total)
	}

	// Throughput spans first to last request with a one second floor so a
	// burst inside a single second does not report an inflated rate.
	span := 1.0
	if !c.lastRequest.IsZero() {
		span = max(c.lastRequest.Sub(c.start).Seconds(), 1)
	}
	t.TotalRPS = float64(total) / span
	t.TotalFailPerSec = float64(c.failures) / span

	if len(c.errorsByType) > 0 {
		t.Errors = make(map[string]int64, len(c.errorsByType))
		for k, v := range c.errorsByType {
			t.Errors[k] = v
		}
	}
	return t, nil
}

// Current returns statistics for the rolling window ending now. Request
// rates only count completed seconds.
func (c *Collector) Current() Current {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rotate(now)

	nowSec := now.Unix()
	seconds := int64(c.window)
	if covered := nowSec - c.windowFrom.Unix(); covered < seconds {
		seconds = max(covered, 1)
	}
	var requests, failures int64
	for _, sc := range c.secCounts {
		if sc.sec >= nowSec-seconds && sc.sec < nowSec {
			requests += sc.requests
			failures += sc.failures
		}
	}

	return Current{
		Time:         now,
		RPS:          float64(requests) / float64(seconds),
		FailPerSec:   float64(failures) / float64(seconds),
		Distribution: Distribution{hist: c.recent.Merge()},
	}
}

// rotate advances the windowed histogram to the second containing now.
func (c *Collector) rotate(now time.Time) {
	sec := now.Unix()
	steps := sec - c.recentSec
	if steps <= 0 {
		return
	}
	if steps > int64(c.window) {
		steps = int64(c.window)
	}
	for i := int64(0); i < steps; i++ {
		c.recent.Rotate()
	}
	c.recentSec = sec
}

func (c *Collector) slot(sec int64) *secondCount {
	idx := int(sec % int64(len(c.secCounts)))
	if idx < 0 {
		idx += len(c.secCounts)
	}
	sc := &c.secCounts[idx]
	if sc.sec != sec {
		*sc = secondCount{sec: sec}
	}
	return sc
}

func clampMicros(latency time.Duration) int64 {
	us := latency.Microseconds()
	if us < lowestLatencyUs {
		us = lowestLatencyUs
	}
	if us > highestLatencyUs {
		us = highestLatencyUs
	}
	return us
}

func copyHistogram(h *hdrhistogram.Histogram) *hdrhistogram.Histogram {
	return hdrhistogram.Import(h.Export())
}
