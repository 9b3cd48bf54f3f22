// Package aggregate turns the host's cumulative statistics into one snapshot
// per measured stage and keeps them for reporting.
package aggregate

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/shape"
)

// Snapshot is the aggregated result of one stage. Latencies are milliseconds.
type Snapshot struct {
	Stage       int       `json:"stage" yaml:"stage"`
	StartTime   time.Time `json:"start_time" yaml:"start_time"`
	Concurrency int       `json:"concurrency" yaml:"concurrency"`
	DurationSec float64   `json:"duration_s" yaml:"duration_s"`
	AvgResponse float64   `json:"avg_response_ms" yaml:"avg_response_ms"`
	MinResponse float64   `json:"min_response_ms" yaml:"min_response_ms"`
	MaxResponse float64   `json:"max_response_ms" yaml:"max_response_ms"`
	P50         float64   `json:"p50_ms" yaml:"p50_ms"`
	P90         float64   `json:"p90_ms" yaml:"p90_ms"`
	P95         float64   `json:"p95_ms" yaml:"p95_ms"`
	P99         float64   `json:"p99_ms" yaml:"p99_ms"`
	P100        float64   `json:"p100_ms" yaml:"p100_ms"`
	Requests    int64     `json:"requests" yaml:"requests"`
	Failures    int64     `json:"failures" yaml:"failures"`
	QPS         float64   `json:"qps" yaml:"qps"`
	FailRate    float64   `json:"fail_rate_pct" yaml:"fail_rate_pct"`
	FPS         float64   `json:"fps" yaml:"fps"`
	PPS         float64   `json:"pps" yaml:"pps"`
}

// StatsReader is the read-only stats capability the default callback needs.
type StatsReader interface {
	Totals() (metrics.Totals, error)
}

// ConcurrencyReader reports live users at the stage boundary.
type ConcurrencyReader interface {
	UserCount() int
}

// Sink receives snapshots.
type Sink interface {
	Add(Snapshot)
}

// Store is an append-only Sink safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Add(snap Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// Snapshots returns a copy of everything added so far.
func (s *Store) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snapshots...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Default returns the controller callback that reads totals, builds a
// Snapshot and hands it to sink. users may be nil, in which case the stage
// target is reported as the concurrency.
func Default(stats StatsReader, users ConcurrencyReader, sink Sink) shape.AggregateFunc {
	return func(sc shape.StageContext) error {
		if stats == nil {
			return fmt.Errorf("aggregate stage %d: no stats reader", sc.Index)
		}
		totals, err := stats.Totals()
		if err != nil {
			return fmt.Errorf("aggregate stage %d: %w", sc.Index, err)
		}
		concurrency := sc.Stage.Users
		if users != nil {
			concurrency = users.UserCount()
		}
		sink.Add(Build(sc.Index, concurrency, totals))
		return nil
	}
}

// Build converts totals into a Snapshot.
func Build(stage, concurrency int, totals metrics.Totals) Snapshot {
	return Snapshot{
		Stage:       stage,
		StartTime:   totals.StartTime,
		Concurrency: concurrency,
		DurationSec: math.Round(totals.Elapsed().Seconds()),
		AvgResponse: round(millis(totals.MeanLatency), 1),
		MinResponse: round(millis(totals.MinLatency), 1),
		MaxResponse: round(millis(totals.MaxLatency), 1),
		P50:         round(millis(totals.Percentile(0.5)), 1),
		P90:         round(millis(totals.Percentile(0.9)), 1),
		P95:         round(millis(totals.Percentile(0.95)), 1),
		P99:         round(millis(totals.Percentile(0.99)), 1),
		P100:        round(millis(totals.Percentile(1)), 1),
		Requests:    totals.Requests,
		Failures:    totals.Failures,
		QPS:         round(totals.TotalRPS, 2),
		FailRate:    round(totals.FailRatio*100, 2),
		FPS:         round(totals.TotalFailPerSec, 2),
		PPS:         round(totals.TotalRPS-totals.TotalFailPerSec, 2),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
