package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/shape"
)

// DefaultTickInterval is how often the shape is polled.
const DefaultTickInterval = time.Second

// Requester abstracts executing a single request operation.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context) error
}

// Recorder receives the outcome of every completed request.
type Recorder interface {
	RecordRequest(latency time.Duration, err error)
}

// Options configure the Runner.
type Options struct {
	Shape        shape.Shape   // polled for targets (required)
	Requester    Requester     // request executor (required)
	Recorder     Recorder      // optional stats sink, usually a metrics.Collector
	TickInterval time.Duration // shape polling cadence (0 means DefaultTickInterval)
	ThinkTime    time.Duration // pause between a user's requests
	Logger       *zap.Logger
	// LimiterFactory builds the limiter that paces user starts for a spawn
	// rate. Optional injection for tests.
	LimiterFactory func(spawnRate int) *rate.Limiter
}

func (o *Options) normalize() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.ThinkTime < 0 {
		o.ThinkTime = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(spawnRate int) *rate.Limiter {
			if spawnRate <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps starts evenly spaced at the spawn rate.
			return rate.NewLimiter(rate.Limit(spawnRate), 1)
		}
	}
}
