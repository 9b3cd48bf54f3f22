package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/aggregate"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/scheduler"
	"github.com/torosent/stagefire/internal/shape"
	"github.com/torosent/stagefire/internal/strategy"
	"github.com/torosent/stagefire/internal/threshold"
)

var (
	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("run: already started")
	// ErrPanicked wraps a panic recovered while the run was in progress.
	ErrPanicked = errors.New("run: panicked")
)

// Report describes a finished run.
type Report struct {
	RunID      string                     `json:"run_id" yaml:"run_id"`
	Tester     string                     `json:"tester,omitempty" yaml:"tester,omitempty"`
	Descriptor string                     `json:"strategy" yaml:"strategy"`
	Mode       strategy.Mode              `json:"strategy_mode" yaml:"strategy_mode"`
	Smoke      time.Duration              `json:"smoke,omitempty" yaml:"smoke,omitempty"`
	Plan       strategy.Plan              `json:"plan" yaml:"plan"`
	Begin      time.Time                  `json:"begin" yaml:"begin"`
	End        time.Time                  `json:"end" yaml:"end"`
	Snapshots  []aggregate.Snapshot       `json:"snapshots" yaml:"snapshots"`
	Samples    []monitor.Sample           `json:"samples,omitempty" yaml:"samples,omitempty"`
	Resources  map[string][]monitor.Point `json:"resources,omitempty" yaml:"resources,omitempty"`
	Result     runner.Result              `json:"result" yaml:"result"`
	Thresholds []threshold.Result         `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Error      string                     `json:"error,omitempty" yaml:"error,omitempty"`
	Err        error                      `json:"-" yaml:"-"`
}

// Duration is the wall time between Begin and End, zero if either is unset.
func (r Report) Duration() time.Duration {
	if r.Begin.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Begin)
}

// Run is a wired load test. Build it with a Builder.
type Run struct {
	id         string
	descriptor string
	mode       strategy.Mode
	tester     string
	smoke      time.Duration
	plan       strategy.Plan
	hooks      Hooks
	thresholds *threshold.Evaluator
	log        *zap.Logger

	collector  *metrics.Collector
	samples    *monitor.Store
	snapshots  *aggregate.Store
	scheduler  *scheduler.Scheduler
	resource   *monitor.Resource
	driver     shape.Driver
	engine     *runner.Runner

	sampleInterval   time.Duration
	resourceInterval time.Duration

	started atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

func (r *Run) ID() string { return r.id }
func (r *Run) Plan() strategy.Plan { return r.plan }
func (r *Run) Status() shape.Status { return r.driver.Status() }
func (r *Run) Samples() *monitor.Store { return r.samples }
func (r *Run) Snapshots() *aggregate.Store { return r.snapshots }
func (r *Run) Collector() *metrics.Collector { return r.collector }

// UserCount reports the users the engine is running.
func (r *Run) UserCount() int {
	if r.engine == nil {
		return 0
	}
	return r.engine.UserCount()
}

// Abort stops a run in progress. Before Run it marks the shape finished so a
// later Run spawns nobody.
func (r *Run) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	r.driver.Abort(nil)
	if cancel != nil {
		cancel()
	}
}

// Run executes the plan. The report is always returned, even on error; the
// error is the set-up failure, a recovered panic, or the shape's terminal
// error.
func (r *Run) Run(ctx context.Context) (rep Report, err error) {
	if !r.started.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.smoke > 0 {
		r.log.Info("smoke run starting", zap.Duration("duration", r.smoke))
	} else {
		r.log.Info("run starting",
			zap.String("strategy", r.descriptor),
			zap.Stringer("mode", r.mode),
			zap.Int("stages", r.plan.Len()),
			zap.Int("total_duration_s", r.plan.TotalDuration()),
		)
	}

	if r.hooks.SetUp != nil {
		if err := r.hooks.SetUp(ctx); err != nil {
			err = fmt.Errorf("run set up: %w", err)
			r.log.Error("set up failed, nothing was spawned", zap.Error(err))
			r.driver.Abort(err)
			return r.report(runner.Result{}), err
		}
	}

	var result runner.Result
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
			r.log.Error("run panicked", zap.Any("panic", p))
		}
		r.shutdown(ctx, err)
		rep = r.report(result)
		if err == nil {
			err = rep.Err
		}
		if r.hooks.TearDown != nil {
			if tdErr := r.hooks.TearDown(context.WithoutCancel(ctx), rep); tdErr != nil {
				r.log.Error("tear down failed", zap.Error(tdErr))
				err = errors.Join(err, fmt.Errorf("run tear down: %w", tdErr))
			}
		}
		r.log.Info("run finished",
			zap.Duration("duration", rep.Duration()),
			zap.Int64("requests", result.Total),
			zap.Int64("errors", result.Errors),
			zap.Int("snapshots", len(rep.Snapshots)),
		)
	}()

	if err := r.registerJobs(); err != nil {
		return Report{}, err
	}
	r.scheduler.Authorize()
	if err := r.scheduler.Run(ctx); err != nil {
		r.log.Warn("sampler scheduler did not start", zap.Error(err))
	}

	// Cancellation aborts the shape while users are still live; the engine
	// stops on the terminal tick that follows.
	stopAbort := context.AfterFunc(ctx, func() { r.driver.Abort(ctx.Err()) })
	defer stopAbort()

	r.driver.Start()
	result = r.engine.Run(context.WithoutCancel(ctx))
	return Report{}, nil
}

func (r *Run) registerJobs() error {
	local := monitor.NewLocal(r.collector, r.samples)
	if err := r.scheduler.AddJob("local-metrics", local.Sample, r.sampleInterval); err != nil {
		return err
	}
	if r.resource != nil {
		if err := r.scheduler.AddJob("resource-metrics", r.resource.Sample, r.resourceInterval); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops the samplers and makes sure the shape has an end time.
func (r *Run) shutdown(ctx context.Context, cause error) {
	r.scheduler.Stop()
	if r.driver.Finished() {
		return
	}
	if cause == nil {
		cause = ctx.Err()
	}
	r.driver.Abort(cause)
}

func (r *Run) report(result runner.Result) Report {
	st := r.driver.Status()
	rep := Report{
		RunID:      r.id,
		Tester:     r.tester,
		Descriptor: r.descriptor,
		Mode:       r.mode,
		Smoke:      r.smoke,
		Plan:       r.plan,
		Begin:      st.Begin,
		End:        st.End,
		Snapshots:  r.snapshots.Snapshots(),
		Samples:    r.samples.Samples(),
		Resources:  r.samples.Resources(),
		Result:     result,
		Err:        st.Err,
	}
	rep.Thresholds = r.thresholds.Evaluate(rep.Snapshots)
	if st.Err != nil {
		rep.Error = st.Err.Error()
	}
	return rep
}
