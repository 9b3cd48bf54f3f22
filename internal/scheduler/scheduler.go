// Package scheduler runs periodic jobs, such as metric samplers, in a single
// background goroutine that is decoupled from the stage controller's polling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultQuantum is the sleep between due-job checks when no registered
// interval forces a shorter one.
const DefaultQuantum = time.Second

const minQuantum = time.Millisecond

var (
	// ErrNotAuthorized is returned by Run before Authorize was called.
	ErrNotAuthorized = errors.New("scheduler: run not authorized")
	// ErrStopped is returned by Run after Stop.
	ErrStopped = errors.New("scheduler: stopped")
)

// Job is a periodic task. A returned error is logged and the loop continues.
type Job func(ctx context.Context) error

// Options configure a Scheduler.
type Options struct {
	Quantum time.Duration // upper bound on the loop sleep (0 means DefaultQuantum)
	Logger  *zap.Logger
	Now     func() time.Time // optional injection for tests
}

type entry struct {
	name     string
	fn       Job
	interval time.Duration
	next     time.Time
}

// Scheduler is a cooperative periodic job registry. Jobs may be registered at
// any time but only fire once Authorize has been called and Run has started
// the loop.
type Scheduler struct {
	mu         sync.Mutex
	jobs       []*entry
	authorized bool
	started    bool
	quantum    time.Duration
	logger     *zap.Logger
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	finished   chan struct{}
	stopOnce   sync.Once
}

func New(opts Options) *Scheduler {
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		quantum:  opts.Quantum,
		logger:   opts.Logger.With(zap.String("component", "scheduler")),
		now:      opts.Now,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// AddJob registers fn to run every interval. The first run is due one
// interval after the loop starts, or after registration if the loop is
// already running.
func (s *Scheduler) AddJob(name string, fn Job, interval time.Duration) error {
	if fn == nil {
		return fmt.Errorf("scheduler: job %q has no function", name)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q interval must be > 0, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{name: name, fn: fn, interval: interval}
	if s.started {
		e.next = s.now().Add(interval)
	}
	s.jobs = append(s.jobs, e)
	return nil
}

// Authorize grants permission to start the loop.
func (s *Scheduler) Authorize() {
	s.mu.Lock()
	s.authorized = true
	s.mu.Unlock()
}

// Run starts the background loop. Only the first successful call starts a
// goroutine; later calls return nil. The loop exits on Stop or when ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.authorized {
		s.mu.Unlock()
		s.logger.Error("scheduler run requested without authorization")
		return ErrNotAuthorized
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrStopped
	default:
	}
	s.started = true
	start := s.now()
	for _, e := range s.jobs {
		e.next = start.Add(e.interval)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Debug("scheduler started", zap.Int("jobs", s.Len()))
	go s.loop(ctx)
	return nil
}

// Stop sets the finish flag, cancels the context of any in-flight job and
// waits for the loop to exit. All jobs are cleared. It is safe to call more
// than once and before Run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.stopOnce.Do(func() { close(s.done) })
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if started {
		<-s.finished
	}

	s.mu.Lock()
	s.jobs = nil
	s.mu.Unlock()
}

// Started reports whether the loop was ever started.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.finished)
	defer func() {
		s.mu.Lock()
		s.jobs = nil
		s.mu.Unlock()
	}()

	for {
		s.runDue(ctx)

		timer := time.NewTimer(s.effectiveQuantum())
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !now.Before(e.next) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if s.stopping(ctx) {
			return
		}
		s.invoke(ctx, e)

		s.mu.Lock()
		e.next = e.next.Add(e.interval)
		if after := s.now(); !e.next.After(after) {
			e.next = after.Add(e.interval)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", zap.String("job", e.name), zap.Any("panic", r))
		}
	}()
	if err := e.fn(ctx); err != nil {
		s.logger.Warn("scheduled job failed", zap.String("job", e.name), zap.Error(err))
	}
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// effectiveQuantum keeps the sleep shorter than the smallest interval.
func (s *Scheduler) effectiveQuantum() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quantum
	for _, e := range s.jobs {
		if half := e.interval / 2; half < q {
			q = half
		}
	}
	return max(q, minQuantum)
}
