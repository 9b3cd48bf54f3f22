package shape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/strategy"
	"github.com/torosent/stagefire/internal/tracing"
)

// Options wire a Controller to its host engine.
type Options struct {
	// Users reports live concurrency. When nil every target counts as reached
	// on the first tick of a stage.
	Users ConcurrencyReader
	// Stats is reset when a stage reaches its target so ramp-up requests are
	// excluded from the stage's figures. Optional.
	Stats StatsResetter
	// Aggregate is called at each nonzero-user stage boundary. Optional.
	Aggregate AggregateFunc
	// RampTimeout starts measuring a stage anyway once the host has failed to
	// reach the target for this long. Zero waits forever.
	RampTimeout time.Duration

	Logger *zap.Logger
	Tracer trace.Tracer
	// SpanParent is the parent context for stage spans.
	SpanParent context.Context
	Now        func() time.Time
}

// Status is a consistent view of the controller for dashboards and logs.
type Status struct {
	State   State
	Index   int
	Stages  int
	Stage   strategy.Stage
	Elapsed time.Duration
	Begin   time.Time
	End     time.Time
	Err     error
}

// Controller walks a plan one stage at a time. Tick is expected from a single
// polling goroutine; Abort and Status may be called from anywhere.
type Controller struct {
	mu   sync.Mutex
	plan strategy.Plan
	opts Options
	log  *zap.Logger

	started     bool
	state       State
	pointer     int
	initialized bool
	stageStart  time.Time
	entered     time.Time
	begin       time.Time
	end         time.Time
	err         error
	span        trace.Span
}

var _ Driver = (*Controller)(nil)

func New(plan strategy.Plan, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.SpanParent == nil {
		opts.SpanParent = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		plan: plan,
		opts: opts,
		log:  opts.Logger.With(zap.String("component", "shape")),
	}
}

// Start lets Tick hand out stage targets. Calls after the first are ignored.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true
	if c.state == StateFinished {
		// Aborted before the run began.
		return
	}
	now := c.opts.Now()
	c.begin = now
	c.stageStart = now
	c.entered = now

	if c.plan.Len() == 0 {
		c.log.Error("no stage to execute, test terminated")
		c.finish(now, ErrEmptyPlan)
		return
	}

	c.state = StateAwaitingRamp
	c.log.Info("strategies information",
		zap.Int("stages", c.plan.Len()),
		zap.Int("total_duration_s", c.plan.TotalDuration()),
		zap.Stringer("plan", c.plan),
	)
}

// Tick returns the current stage target, or false once the plan is done.
func (c *Controller) Tick() (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return Waiting, true
	}
	if c.state == StateFinished {
		return Target{}, false
	}
	now := c.opts.Now()
	if c.pointer >= c.plan.Len() {
		c.log.Error("stage pointer past the end of the plan", zap.Int("pointer", c.pointer))
		c.finish(now, ErrExhaustedPlan)
		return Target{}, false
	}

	stage := c.plan.At(c.pointer)
	switch {
	case !c.initialized:
		if c.reached(stage) {
			c.initialize(now, stage)
		} else if c.opts.RampTimeout > 0 && now.Sub(c.entered) >= c.opts.RampTimeout {
			c.log.Warn("target concurrency not reached, measuring anyway",
				zap.Int("stage", c.pointer),
				zap.Int("target", stage.Users),
				zap.Int("live", c.liveUsers()),
				zap.Duration("waited", now.Sub(c.entered)),
			)
			c.initialize(now, stage)
		}
	case elapsedSeconds(c.stageStart, now) >= float64(stage.Duration):
		c.endSpan(c.complete(now, stage))
		c.pointer++
		if c.pointer >= c.plan.Len() {
			c.log.Info("end of testing", zap.Duration("elapsed", now.Sub(c.begin)))
			c.finish(now, nil)
			return Target{}, false
		}
		c.initialized = false
		c.stageStart = now
		c.entered = now
		c.state = StateAwaitingRamp
		stage = c.plan.At(c.pointer)
	}

	return Target{Users: stage.Users, SpawnRate: stage.SpawnRate}, true
}

// Abort forces the controller into StateFinished. A nil reason is recorded as
// ErrAborted. A stage being measured is aggregated over the part that ran.
// Aborting a finished controller is a no-op.
func (c *Controller) Abort(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFinished {
		return
	}
	if reason == nil {
		reason = ErrAborted
	}
	now := c.opts.Now()
	c.log.Warn("run aborted", zap.Int("stage", c.pointer), zap.Error(reason))
	if c.state == StateMeasuring && c.pointer < c.plan.Len() {
		_ = c.complete(now, c.plan.At(c.pointer))
	}
	c.finish(now, reason)
}

// Status returns a synchronized snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:  c.state,
		Index:  c.pointer,
		Stages: c.plan.Len(),
		Begin:  c.begin,
		End:    c.end,
		Err:    c.err,
	}
	if c.pointer < c.plan.Len() {
		st.Stage = c.plan.At(c.pointer)
	}
	if c.state == StateMeasuring {
		st.Elapsed = c.opts.Now().Sub(c.stageStart)
	}
	return st
}

// Begin is when Start was called; zero before that.
func (c *Controller) Begin() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begin
}

// End is when the controller finished; zero while running.
func (c *Controller) End() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end
}

// Err is the terminal error, nil after a normal finish.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Finished reports whether the controller reached its terminal state.
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateFinished
}

func (c *Controller) reached(stage strategy.Stage) bool {
	if c.opts.Users == nil {
		return true
	}
	return c.opts.Users.UserCount() == stage.Users
}

func (c *Controller) liveUsers() int {
	if c.opts.Users == nil {
		return 0
	}
	return c.opts.Users.UserCount()
}

func (c *Controller) initialize(now time.Time, stage strategy.Stage) {
	c.initialized = true
	c.stageStart = now
	c.state = StateMeasuring
	if c.opts.Stats != nil {
		c.opts.Stats.ResetStats()
	}
	_, c.span = tracing.StartStageSpan(c.opts.SpanParent, c.opts.Tracer, c.pointer, stage)

	if stage.Users != 0 {
		c.log.Info(fmt.Sprintf("%d users are testing", stage.Users),
			zap.Int("stage", c.pointer),
			zap.Int("duration_s", stage.Duration),
		)
	} else {
		c.log.Info("take a rest",
			zap.Int("stage", c.pointer),
			zap.Stringer("kind", stage.Kind),
			zap.Int("duration_s", stage.Duration),
		)
	}
}

// complete runs the boundary aggregation. Failures are logged and returned
// for the stage span; the stage still advances.
func (c *Controller) complete(now time.Time, stage strategy.Stage) error {
	var err error
	if stage.Users != 0 && c.opts.Aggregate != nil {
		c.log.Info("aggregating current concurrency test results", zap.Int("users", stage.Users))
		err = safeAggregate(c.opts.Aggregate, StageContext{
			Index: c.pointer,
			Stage: stage,
			Start: c.stageStart,
			End:   now,
		})
		if err != nil {
			c.log.Error("stage aggregation failed", zap.Int("stage", c.pointer), zap.Error(err))
		}
	}
	return err
}

func safeAggregate(fn AggregateFunc, sc StageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregation panicked: %v", r)
		}
	}()
	return fn(sc)
}

func (c *Controller) finish(now time.Time, err error) {
	c.state = StateFinished
	c.end = now
	c.err = err
	c.endSpan(err)
}

func (c *Controller) endSpan(err error) {
	if c.span == nil {
		return
	}
	tracing.EndSpan(c.span, err)
	c.span = nil
}

func elapsedSeconds(from, to time.Time) float64 {
	return to.Sub(from).Seconds()
}
