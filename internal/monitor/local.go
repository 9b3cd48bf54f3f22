package monitor

import (
	"context"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

// DefaultLocalInterval is how often the local sampler reads the host window.
const DefaultLocalInterval = 2 * time.Second

// CurrentReader exposes the host's rolling-window statistics.
type CurrentReader interface {
	Current() metrics.Current
}

// Local samples the host's current request rate and latency percentiles.
type Local struct {
	stats CurrentReader
	store *Store
}

func NewLocal(stats CurrentReader, store *Store) *Local {
	return &Local{stats: stats, store: store}
}

// Sample reads one window and appends it to the store. Its signature matches
// scheduler.Job.
func (l *Local) Sample(context.Context) error {
	cur := l.stats.Current()
	l.store.AddSample(Sample{
		Time:       cur.Time,
		RPS:        cur.RPS,
		FailPerSec: cur.FailPerSec,
		P50:        toMillis(cur.Percentile(0.5)),
		P90:        toMillis(cur.Percentile(0.9)),
		P100:       toMillis(cur.Percentile(1)),
	})
	return nil
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
