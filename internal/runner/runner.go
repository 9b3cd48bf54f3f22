package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/shape"
)

// Result captures execution summary.
type Result struct {
	Total     int64         `json:"total" yaml:"total"`
	Errors    int64         `json:"errors" yaml:"errors"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	PeakUsers int           `json:"peak_users" yaml:"peak_users"`
}

// Runner is the host load engine. It polls a shape for target concurrency and
// grows or shrinks a pool of simulated users, each looping over the requester.
type Runner struct {
	opt Options
	log *zap.Logger

	mu    sync.Mutex
	users []context.CancelFunc
	live  atomic.Int64
	peak  atomic.Int64
	wg    sync.WaitGroup

	total atomic.Int64
	errs  atomic.Int64
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, log: opt.Logger.With(zap.String("component", "runner"))}
}

// UserCount reports the users currently running.
func (r *Runner) UserCount() int {
	return int(r.live.Load())
}

// Run polls the shape until it reports the end of the run or ctx is done,
// then stops every user and waits for in-flight requests to return.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	targets := make(chan shape.Target, 1)
	spawnerDone := make(chan struct{})
	go func() {
		defer close(spawnerDone)
		r.spawnLoop(ctx, targets)
	}()

	ticker := time.NewTicker(r.opt.TickInterval)
	defer ticker.Stop()

	var last shape.Target
	first := true
loop:
	for {
		target, ok := r.opt.Shape.Tick()
		if !ok {
			r.log.Info("shape finished, stopping users", zap.Int("users", r.UserCount()))
			break
		}
		if first || target != last {
			r.log.Debug("new target", zap.Int("users", target.Users), zap.Int("spawn_rate", target.SpawnRate))
			publish(targets, target)
			last, first = target, false
		}

		select {
		case <-ctx.Done():
			r.log.Info("run cancelled, stopping users", zap.Int("users", r.UserCount()))
			break loop
		case <-ticker.C:
		}
	}

	cancel()
	<-spawnerDone
	r.stopAll()

	return Result{
		Total:     r.total.Load(),
		Errors:    r.errs.Load(),
		Duration:  time.Since(start),
		PeakUsers: int(r.peak.Load()),
	}
}

// publish replaces any target the spawner has not picked up yet.
func publish(ch chan shape.Target, t shape.Target) {
	select {
	case <-ch:
	default:
	}
	ch <- t
}

// spawnLoop moves the pool toward the latest target. Starts are paced at the
// target's spawn rate; surplus users are stopped at once.
func (r *Runner) spawnLoop(ctx context.Context, targets <-chan shape.Target) {
	var (
		target  shape.Target
		limiter *rate.Limiter
	)
	apply := func(t shape.Target) {
		if limiter == nil || t.SpawnRate != target.SpawnRate {
			limiter = r.opt.LimiterFactory(t.SpawnRate)
		}
		target = t
	}

	select {
	case t := <-targets:
		apply(t)
	case <-ctx.Done():
		return
	}

	for {
		select {
		case t := <-targets:
			apply(t)
		default:
		}

		switch n := r.UserCount(); {
		case n < target.Users:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			// The target may have dropped during the wait.
			select {
			case t := <-targets:
				apply(t)
			default:
			}
			if r.UserCount() < target.Users {
				r.spawn(ctx)
			}
		case n > target.Users:
			r.stop(n - target.Users)
		default:
			select {
			case t := <-targets:
				apply(t)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Runner) spawn(ctx context.Context) {
	uctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.users = append(r.users, cancel)
	n := r.live.Add(1)
	r.mu.Unlock()

	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.userLoop(uctx)
	}()
}

// stop cancels the n most recently started users.
func (r *Runner) stop(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > len(r.users) {
		n = len(r.users)
	}
	for _, cancel := range r.users[len(r.users)-n:] {
		cancel()
	}
	r.users = r.users[:len(r.users)-n]
	r.live.Add(int64(-n))
}

func (r *Runner) stopAll() {
	r.mu.Lock()
	n := len(r.users)
	r.mu.Unlock()
	r.stop(n)
	r.wg.Wait()
}

func (r *Runner) userLoop(ctx context.Context) {
	for ctx.Err() == nil {
		begin := time.Now()
		err := r.opt.Requester.Do(ctx)
		latency := time.Since(begin)

		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Interrupted by a stop, not a real outcome.
			return
		}
		r.total.Add(1)
		if err != nil {
			r.errs.Add(1)
		}
		if r.opt.Recorder != nil {
			r.opt.Recorder.RecordRequest(latency, err)
		}

		if r.opt.ThinkTime > 0 {
			timer := time.NewTimer(r.opt.ThinkTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}
