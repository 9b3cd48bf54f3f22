package metrics_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func within(got, want, tolerance time.Duration) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func TestCollectorLatencyTotals(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordRequest(10*time.Millisecond, nil)
	c.RecordRequest(20*time.Millisecond, nil)
	c.RecordRequest(30*time.Millisecond, nil)
	c.RecordRequest(40*time.Millisecond, nil)
	c.RecordRequest(50*time.Millisecond, errors.New("boom"))

	totals, err := c.Totals()
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals.Requests != 5 {
		t.Errorf("expected 5 requests, got %d", totals.Requests)
	}
	if totals.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", totals.Failures)
	}
	if totals.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", totals.MinLatency)
	}
	if totals.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", totals.MaxLatency)
	}
	if totals.MeanLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", totals.MeanLatency)
	}
	if totals.FailRatio != 0.2 {
		t.Errorf("expected fail ratio 0.2, got %f", totals.FailRatio)
	}
	if len(totals.Errors) != 1 {
		t.Errorf("expected one error type, got %v", totals.Errors)
	}
}

func TestCollectorPercentiles(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.RecordRequest(time.Duration(i)*time.Millisecond, nil)
	}

	totals, _ := c.Totals()
	checks := []struct {
		q    float64
		want time.Duration
	}{
		{0.5, 50 * time.Millisecond},
		{0.9, 90 * time.Millisecond},
		{0.95, 95 * time.Millisecond},
		{0.99, 99 * time.Millisecond},
		{1, 100 * time.Millisecond},
	}
	for _, tt := range checks {
		if got := totals.Percentile(tt.q); !within(got, tt.want, time.Millisecond) {
			t.Errorf("Percentile(%v) = %s, want ~%s", tt.q, got, tt.want)
		}
	}
	if totals.Count() != 100 {
		t.Errorf("Count() = %d, want 100", totals.Count())
	}
}

func TestCollectorPercentileEmpty(t *testing.T) {
	totals, _ := metrics.NewCollector().Totals()
	if got := totals.Percentile(0.5); got != 0 {
		t.Fatalf("Percentile on empty collector = %s, want 0", got)
	}
	if totals.TotalRPS != 0 || totals.FailRatio != 0 {
		t.Fatalf("unexpected totals on empty collector: %+v", totals)
	}
}

func TestCollectorResetStats(t *testing.T) {
	clock := newFakeClock()
	c := metrics.NewCollector(metrics.WithClock(clock.Now))

	c.RecordRequest(5*time.Millisecond, errors.New("ramp"))
	clock.Advance(3 * time.Second)
	c.ResetStats()

	totals, _ := c.Totals()
	if totals.Requests != 0 || totals.Failures != 0 || totals.Count() != 0 {
		t.Fatalf("expected empty totals after reset, got %+v", totals)
	}
	if !totals.StartTime.Equal(clock.Now()) {
		t.Fatalf("StartTime = %s, want %s", totals.StartTime, clock.Now())
	}
	if !totals.LastRequestTime.IsZero() {
		t.Fatalf("LastRequestTime should be zero after reset")
	}
	if cur := c.Current(); cur.Count() != 0 {
		t.Fatalf("rolling window survived reset: %d", cur.Count())
	}
}

func TestCollectorTotalThroughput(t *testing.T) {
	clock := newFakeClock()
	c := metrics.NewCollector(metrics.WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		clock.Advance(500 * time.Millisecond)
		c.RecordRequest(time.Millisecond, nil)
	}
	c.RecordRequest(time.Millisecond, errors.New("late"))

	totals, _ := c.Totals()
	if totals.Elapsed() != 5*time.Second {
		t.Fatalf("Elapsed() = %s, want 5s", totals.Elapsed())
	}
	if totals.TotalRPS != 11.0/5.0 {
		t.Errorf("TotalRPS = %f, want %f", totals.TotalRPS, 11.0/5.0)
	}
	if totals.TotalFailPerSec != 0.2 {
		t.Errorf("TotalFailPerSec = %f, want 0.2", totals.TotalFailPerSec)
	}
}

func TestCollectorThroughputFloorsSpanAtOneSecond(t *testing.T) {
	clock := newFakeClock()
	c := metrics.NewCollector(metrics.WithClock(clock.Now))

	clock.Advance(100 * time.Millisecond)
	c.RecordRequest(time.Millisecond, nil)
	c.RecordRequest(time.Millisecond, nil)
	c.RecordRequest(time.Millisecond, nil)

	totals, _ := c.Totals()
	if totals.TotalRPS != 3 {
		t.Fatalf("TotalRPS = %f, want 3", totals.TotalRPS)
	}
}

func TestCollectorCurrentWindow(t *testing.T) {
	clock := newFakeClock()
	c := metrics.NewCollector(metrics.WithClock(clock.Now), metrics.WithWindow(2*time.Second))

	clock.Advance(200 * time.Millisecond)
	for i := 0; i < 4; i++ {
		c.RecordRequest(20*time.Millisecond, nil)
	}
	clock.Advance(time.Second)
	for i := 0; i < 5; i++ {
		c.RecordRequest(20*time.Millisecond, nil)
	}
	c.RecordRequest(20*time.Millisecond, errors.New("boom"))

	// Requests in the current partial second are excluded from the rate.
	clock.Advance(900 * time.Millisecond)
	c.RecordRequest(20*time.Millisecond, nil)

	cur := c.Current()
	if cur.RPS != 5 {
		t.Errorf("RPS = %f, want 5", cur.RPS)
	}
	if cur.FailPerSec != 0.5 {
		t.Errorf("FailPerSec = %f, want 0.5", cur.FailPerSec)
	}
	if !cur.Time.Equal(clock.Now()) {
		t.Errorf("Time = %s, want %s", cur.Time, clock.Now())
	}
}

func TestCollectorCurrentDropsStaleLatencies(t *testing.T) {
	clock := newFakeClock()
	c := metrics.NewCollector(metrics.WithClock(clock.Now), metrics.WithWindow(2*time.Second))

	c.RecordRequest(900*time.Millisecond, nil)
	clock.Advance(5 * time.Second)
	c.RecordRequest(10*time.Millisecond, nil)

	cur := c.Current()
	if got := cur.Percentile(1); !within(got, 10*time.Millisecond, 100*time.Microsecond) {
		t.Fatalf("window max = %s, want ~10ms", got)
	}
	if cur.Count() != 1 {
		t.Fatalf("window count = %d, want 1", cur.Count())
	}

	totals, _ := c.Totals()
	if got := totals.Percentile(1); !within(got, 900*time.Millisecond, 2*time.Millisecond) {
		t.Fatalf("cumulative max = %s, want ~900ms", got)
	}
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				c.RecordRequest(time.Millisecond, nil)
				_ = c.Current()
			}
		}()
	}
	wg.Wait()

	totals, _ := c.Totals()
	if totals.Requests != 2000 {
		t.Fatalf("expected 2000 requests, got %d", totals.Requests)
	}
}
