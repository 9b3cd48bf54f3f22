// Package shape decides, tick by tick, how many users the host engine should
// run. The [Controller] walks a [strategy.Plan]; [Simple] holds one user until
// stopped. Both are a [Driver].
//
// The host engine polls Tick at a fixed cadence. All timing decisions use
// wall-clock deltas from an injected clock, so the cadence only affects how
// promptly a boundary is noticed, never which stages run.
package shape

import (
	"errors"
	"time"

	"github.com/torosent/stagefire/internal/strategy"
)

var (
	// ErrEmptyPlan is recorded when Start is called on a plan with no stages.
	ErrEmptyPlan = errors.New("shape: plan has no stages")
	// ErrExhaustedPlan is recorded when Tick finds the stage pointer past the
	// end of the plan without a normal finish.
	ErrExhaustedPlan = errors.New("shape: plan exhausted")
	// ErrAborted is the terminal error when Abort is called without a reason.
	ErrAborted = errors.New("shape: aborted")
)

// Target is the concurrency the host engine should converge to.
type Target struct {
	Users     int
	SpawnRate int
}

// Waiting is returned before Start: hold at zero users.
var Waiting = Target{Users: 0, SpawnRate: 1}

// Shape is polled by the host engine. A false second return value means the
// run is over and the engine should stop every user.
type Shape interface {
	Start()
	Tick() (Target, bool)
}

// Driver is a Shape the run can observe and stop from any goroutine.
type Driver interface {
	Shape
	Abort(reason error)
	Status() Status
	Finished() bool
}

// ConcurrencyReader reports how many users the host engine is running.
type ConcurrencyReader interface {
	UserCount() int
}

// StatsResetter clears the host's cumulative statistics window.
type StatsResetter interface {
	ResetStats()
}

// StageContext describes a completed stage to the aggregation callback.
type StageContext struct {
	Index int
	Stage strategy.Stage
	// Start is when the target concurrency was reached and measuring began.
	Start time.Time
	// End is when the stage duration was observed to have elapsed, or when
	// the run was aborted.
	End time.Time
}

// Elapsed is the measured span of the stage.
func (s StageContext) Elapsed() time.Duration {
	return s.End.Sub(s.Start)
}

// AggregateFunc is invoked at the boundary of every stage with a nonzero user
// target, strictly after its duration elapsed and before the next stage
// starts. An abort while such a stage is measuring invokes it once more for
// the part that ran. It must only read in-memory state.
type AggregateFunc func(StageContext) error

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAwaitingRamp
	StateMeasuring
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRamp:
		return "awaiting-ramp"
	case StateMeasuring:
		return "measuring"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}
