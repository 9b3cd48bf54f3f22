package runner

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy resends a failed request with exponential backoff. Only the
// final outcome reaches the recorder, so a stage's failure rate counts
// requests that failed after every attempt.
type RetryPolicy struct {
	// Attempts is the total number of tries, the first included. Fewer than
	// two disables retries.
	Attempts int
	// Base is the delay before the first retry. It doubles on every retry
	// and is capped at Max; a zero Max keeps it fixed at Base.
	Base time.Duration
	Max  time.Duration
	// Jitter adds a random delay of up to half the backoff.
	Jitter bool
	// Retryable filters errors. Nil means Transient.
	Retryable func(error) bool
	Logger    *zap.Logger
}

// Backoff is the delay before retry n, counted from 1, without jitter.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	ceiling := p.Max
	if ceiling < p.Base {
		ceiling = p.Base
	}
	d := p.Base
	for i := 1; i < n && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

func (p RetryPolicy) delay(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter && d >= 2 {
		d += time.Duration(rand.Int64N(int64(d / 2)))
	}
	return d
}

type retrier struct {
	inner  Requester
	policy RetryPolicy
}

// WithRetry applies policy to req. It returns req unchanged when the policy
// allows a single attempt.
func WithRetry(req Requester, policy RetryPolicy) Requester {
	if policy.Attempts < 2 {
		return req
	}
	if policy.Retryable == nil {
		policy.Retryable = Transient
	}
	if policy.Logger == nil {
		policy.Logger = zap.NewNop()
	}
	return &retrier{inner: req, policy: policy}
}

func (r *retrier) Do(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := r.inner.Do(ctx)
		if err == nil || attempt >= r.policy.Attempts || !r.policy.Retryable(err) {
			return err
		}

		d := r.policy.delay(attempt)
		r.policy.Logger.Debug("retrying request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", d),
			zap.Error(err))
		if d <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
