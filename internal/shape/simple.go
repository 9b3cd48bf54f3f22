package shape

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/strategy"
	"github.com/torosent/stagefire/internal/tracing"
)

// SimpleOptions configure a Simple shape.
type SimpleOptions struct {
	// Duration ends the run on the first Tick after it elapsed. Zero runs
	// until Stop or Abort.
	Duration time.Duration
	// Aggregate is called once when a started run finishes. Optional.
	Aggregate AggregateFunc

	Logger     *zap.Logger
	Tracer     trace.Tracer
	SpanParent context.Context
	Now        func() time.Time
}

// Simple runs a single user from Start until Stop, Abort or the configured
// duration. It is used for smoke runs that exercise the target without a
// ramp; the whole run is measured as one stage.
type Simple struct {
	mu    sync.Mutex
	opts  SimpleOptions
	log   *zap.Logger
	stage strategy.Stage

	started bool
	state   State
	begin   time.Time
	end     time.Time
	err     error
	span    trace.Span
}

var _ Driver = (*Simple)(nil)

func NewSimple(opts SimpleOptions) *Simple {
	if opts.Duration < 0 {
		opts.Duration = 0
	}
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
	return &Simple{
		opts: opts,
		log:  opts.Logger.With(zap.String("component", "shape")),
		stage: strategy.Stage{
			Duration:  int(math.Ceil(opts.Duration.Seconds())),
			Users:     1,
			SpawnRate: 1,
			Kind:      strategy.KindLoad,
		},
	}
}

// Stage is the single stage a smoke run measures.
func (s *Simple) Stage() strategy.Stage { return s.stage }

func (s *Simple) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	if s.state == StateFinished {
		return
	}
	s.begin = s.opts.Now()
	s.state = StateMeasuring
	_, s.span = tracing.StartStageSpan(s.opts.SpanParent, s.opts.Tracer, 0, s.stage)
	s.log.Info("smoke run started", zap.Duration("duration", s.opts.Duration))
}

// Stop ends the run normally; the next Tick is terminal.
func (s *Simple) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish(s.opts.Now(), nil)
}

// Abort ends the run with reason, ErrAborted when nil.
func (s *Simple) Abort(reason error) {
	if reason == nil {
		reason = ErrAborted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFinished {
		s.log.Warn("smoke run aborted", zap.Error(reason))
	}
	s.finish(s.opts.Now(), reason)
}

func (s *Simple) Tick() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateFinished:
		return Target{}, false
	case !s.started:
		return Waiting, true
	}
	now := s.opts.Now()
	if s.opts.Duration > 0 && now.Sub(s.begin) >= s.opts.Duration {
		s.log.Info("end of testing", zap.Duration("elapsed", now.Sub(s.begin)))
		s.finish(now, nil)
		return Target{}, false
	}
	return Target{Users: s.stage.Users, SpawnRate: s.stage.SpawnRate}, true
}

func (s *Simple) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:  s.state,
		Stages: 1,
		Stage:  s.stage,
		Begin:  s.begin,
		End:    s.end,
		Err:    s.err,
	}
	if s.state == StateMeasuring {
		st.Elapsed = s.opts.Now().Sub(s.begin)
	}
	return st
}

func (s *Simple) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFinished
}

// finish is a no-op once finished. A measured run is aggregated first.
func (s *Simple) finish(now time.Time, reason error) {
	if s.state == StateFinished {
		return
	}
	var aggErr error
	if s.state == StateMeasuring && s.opts.Aggregate != nil {
		aggErr = safeAggregate(s.opts.Aggregate, StageContext{Stage: s.stage, Start: s.begin, End: now})
		if aggErr != nil {
			s.log.Error("stage aggregation failed", zap.Error(aggErr))
		}
	}
	s.state = StateFinished
	s.end = now
	s.err = reason
	if s.span != nil {
		if reason == nil {
			reason = aggErr
		}
		tracing.EndSpan(s.span, reason)
		s.span = nil
	}
}
