package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/aggregate"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/monitor"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/scheduler"
	"github.com/torosent/stagefire/internal/shape"
	"github.com/torosent/stagefire/internal/strategy"
	"github.com/torosent/stagefire/internal/threshold"
)

// ErrNoRequester is returned by Build when no requester was registered.
var ErrNoRequester = errors.New("run: requester is required")

// Hooks run around a load test. SetUp runs before any user is spawned and a
// failure aborts the run. TearDown always runs once SetUp has succeeded and
// receives the final report.
type Hooks struct {
	SetUp    func(ctx context.Context) error
	TearDown func(ctx context.Context, report Report) error
}

// Builder collects the pieces of a run. Every setter returns the builder so
// calls can be chained; nothing is validated until Build.
type Builder struct {
	descriptor string
	mode       strategy.Mode
	requester  runner.Requester
	hooks      Hooks
	logger     *zap.Logger
	tracer     trace.Tracer
	tester     string
	smoke      time.Duration
	thresholds []threshold.Threshold

	resource         *monitor.ResourceOptions
	resourceInterval time.Duration

	tickInterval   time.Duration
	sampleInterval time.Duration
	quantum        time.Duration
	rampTimeout    time.Duration
	thinkTime      time.Duration
	limiters       func(spawnRate int) *rate.Limiter
	window         time.Duration
}

func NewBuilder() *Builder {
	return &Builder{
		tickInterval:     runner.DefaultTickInterval,
		sampleInterval:   monitor.DefaultLocalInterval,
		quantum:          scheduler.DefaultQuantum,
		resourceInterval: monitor.DefaultResourceInterval,
	}
}

// Descriptor sets the strategy descriptor and mode.
func (b *Builder) Descriptor(descriptor string, mode strategy.Mode) *Builder {
	b.descriptor = descriptor
	b.mode = mode
	return b
}

func (b *Builder) Requester(r runner.Requester) *Builder {
	b.requester = r
	return b
}

func (b *Builder) Hooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) Tracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// Tester names who ran the test in the report.
func (b *Builder) Tester(name string) *Builder {
	b.tester = strings.TrimSpace(name)
	return b
}

// Smoke replaces the strategy with one user held for d. The descriptor is
// then ignored.
func (b *Builder) Smoke(d time.Duration) *Builder {
	b.smoke = d
	return b
}

// Thresholds are evaluated against the stage snapshots when the run ends.
func (b *Builder) Thresholds(ts []threshold.Threshold) *Builder {
	b.thresholds = ts
	return b
}

// ResourceSampler registers the resource job. A zero interval keeps the
// default.
func (b *Builder) ResourceSampler(opts monitor.ResourceOptions, interval time.Duration) *Builder {
	b.resource = &opts
	if interval > 0 {
		b.resourceInterval = interval
	}
	return b
}

// Intervals overrides the shape polling cadence, the local sampling interval
// and the scheduler quantum. Zero values keep the defaults.
func (b *Builder) Intervals(tick, sample, quantum time.Duration) *Builder {
	if tick > 0 {
		b.tickInterval = tick
	}
	if sample > 0 {
		b.sampleInterval = sample
	}
	if quantum > 0 {
		b.quantum = quantum
	}
	return b
}

func (b *Builder) RampTimeout(d time.Duration) *Builder {
	b.rampTimeout = d
	return b
}

func (b *Builder) ThinkTime(d time.Duration) *Builder {
	b.thinkTime = d
	return b
}

// SpawnLimiter replaces the limiter used to pace user starts.
func (b *Builder) SpawnLimiter(factory func(spawnRate int) *rate.Limiter) *Builder {
	b.limiters = factory
	return b
}

// CurrentWindow sets the rolling window behind the local samples.
func (b *Builder) CurrentWindow(d time.Duration) *Builder {
	b.window = d
	return b
}

// Build expands the strategy and wires every component. Planning errors are
// returned here, before anything runs.
func (b *Builder) Build() (*Run, error) {
	if b.smoke < 0 {
		return nil, fmt.Errorf("run: smoke duration must be positive, got %s", b.smoke)
	}
	var (
		plan strategy.Plan
		err  error
	)
	if b.smoke == 0 {
		plan, err = strategy.Parse(b.descriptor, b.mode)
		if err != nil {
			return nil, err
		}
	}
	if b.requester == nil {
		return nil, ErrNoRequester
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	id := ulid.Make().String()
	logger = logger.With(zap.String("run_id", id))

	var collectorOpts []metrics.Option
	if b.window > 0 {
		collectorOpts = append(collectorOpts, metrics.WithWindow(b.window))
	}

	r := &Run{
		id:             id,
		descriptor:     strings.TrimSpace(b.descriptor),
		mode:           b.mode,
		tester:         b.tester,
		smoke:          b.smoke,
		plan:           plan,
		hooks:          b.hooks,
		thresholds:     threshold.NewEvaluator(b.thresholds),
		log:            logger.With(zap.String("component", "run")),
		collector:      metrics.NewCollector(collectorOpts...),
		samples:        monitor.NewStore(),
		snapshots:      aggregate.NewStore(),
		sampleInterval: b.sampleInterval,
	}

	r.scheduler = scheduler.New(scheduler.Options{Quantum: b.quantum, Logger: logger})

	if b.resource != nil {
		opts := *b.resource
		if opts.Logger == nil {
			opts.Logger = logger
		}
		res, err := monitor.NewResource(opts, r.samples)
		if err != nil {
			return nil, fmt.Errorf("run: %w", err)
		}
		r.resource = res
		r.resourceInterval = b.resourceInterval
	}

	aggregator := aggregate.Default(r.collector, r, r.snapshots)
	if b.smoke > 0 {
		simple := shape.NewSimple(shape.SimpleOptions{
			Duration:  b.smoke,
			Aggregate: aggregator,
			Logger:    logger,
			Tracer:    tracer,
		})
		r.driver = simple
		r.plan = strategy.NewPlan([]strategy.Stage{simple.Stage()})
		r.descriptor = ""
	} else {
		r.driver = shape.New(plan, shape.Options{
			Users:       r,
			Stats:       r.collector,
			Aggregate:   aggregator,
			RampTimeout: b.rampTimeout,
			Logger:      logger,
			Tracer:      tracer,
		})
	}

	r.engine = runner.New(runner.Options{
		Shape:          r.driver,
		Requester:      b.requester,
		Recorder:       r.collector,
		TickInterval:   b.tickInterval,
		ThinkTime:      b.thinkTime,
		Logger:         logger,
		LimiterFactory: b.limiters,
	})

	return r, nil
}
