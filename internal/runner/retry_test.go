package runner_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/stagefire/internal/runner"
)

// flakyRequester fails with err until it has been called failUntil times.
type flakyRequester struct {
	calls     atomic.Int64
	failUntil int64
	err       error
}

func (f *flakyRequester) Do(ctx context.Context) error {
	if f.calls.Add(1) <= f.failUntil {
		return f.err
	}
	return nil
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inner := &flakyRequester{failUntil: 3, err: &runner.HTTPError{StatusCode: http.StatusServiceUnavailable}}
	requester := runner.WithRetry(inner, runner.RetryPolicy{Attempts: 5, Base: time.Millisecond, Logger: zap.New(core)})

	if err := requester.Do(context.Background()); err != nil {
		t.Fatalf("Do() error = %v, want success on the fourth attempt", err)
	}
	if got := inner.calls.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
	entries := logs.FilterMessage("retrying request").All()
	if len(entries) != 3 {
		t.Fatalf("logged %d retries, want 3", len(entries))
	}
	if got := entries[2].ContextMap()["attempt"]; got != int64(3) {
		t.Errorf("last retry attempt = %v, want 3", got)
	}
}

func TestRetryReturnsLastErrorAfterAllAttempts(t *testing.T) {
	inner := &flakyRequester{failUntil: 100, err: errors.New("connection reset")}
	err := runner.WithRetry(inner, runner.RetryPolicy{Attempts: 3}).Do(context.Background())
	if err == nil || err.Error() != "connection reset" {
		t.Fatalf("Do() error = %v, want the last failure", err)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetrySkipsPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client error", &runner.HTTPError{StatusCode: http.StatusNotFound}},
		{"cancelled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyRequester{failUntil: 100, err: tt.err}
			err := runner.WithRetry(inner, runner.RetryPolicy{Attempts: 5}).Do(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("Do() error = %v, want %v", err, tt.err)
			}
			if got := inner.calls.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
		})
	}

	inner := &flakyRequester{failUntil: 100, err: errors.New("boom")}
	never := runner.RetryPolicy{Attempts: 5, Retryable: func(error) bool { return false }}
	if err := runner.WithRetry(inner, never).Do(context.Background()); err == nil || inner.calls.Load() != 1 {
		t.Fatalf("custom Retryable ignored: err = %v, attempts = %d", err, inner.calls.Load())
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{&runner.HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{&runner.HTTPError{StatusCode: http.StatusBadGateway}, true},
		{&runner.HTTPError{StatusCode: http.StatusBadRequest}, false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := runner.Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryBackoff(t *testing.T) {
	policy := runner.RetryPolicy{Base: 100 * time.Millisecond, Max: 5 * time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{7, 5 * time.Second},
		{1000, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Backoff(tt.retry); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}

	fixed := runner.RetryPolicy{Base: 50 * time.Millisecond}
	if got := fixed.Backoff(10); got != 50*time.Millisecond {
		t.Errorf("Backoff without Max = %s, want Base", got)
	}
	if got := (runner.RetryPolicy{}).Backoff(3); got != 0 {
		t.Errorf("Backoff without Base = %s, want 0", got)
	}
}

func TestRetryStopsWhenStageEnds(t *testing.T) {
	inner := &flakyRequester{failUntil: 100, err: errors.New("connection reset")}
	policy := runner.RetryPolicy{Attempts: 5, Base: time.Hour, Jitter: true}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := runner.WithRetry(inner, policy).Do(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if inner.calls.Load() != 1 || time.Since(start) > time.Second {
		t.Fatalf("attempts = %d after %s, want 1 and a prompt return", inner.calls.Load(), time.Since(start))
	}
}

func TestWithRetrySingleAttemptReturnsInner(t *testing.T) {
	inner := &flakyRequester{}
	if got := runner.WithRetry(inner, runner.RetryPolicy{Attempts: 1}); got != runner.Requester(inner) {
		t.Fatalf("WithRetry with one attempt should not wrap")
	}
}

func TestWithFailureLog(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	status := runner.WithFailureLog(&flakyRequester{failUntil: 2, err: &runner.HTTPError{StatusCode: 500, Body: "oops"}}, logger)
	for i := 0; i < 3; i++ {
		_ = status.Do(context.Background())
	}
	_ = runner.WithFailureLog(&flakyRequester{failUntil: 1, err: errors.New("dial tcp: refused")}, logger).Do(context.Background())
	_ = runner.WithFailureLog(&flakyRequester{failUntil: 1, err: context.Canceled}, logger).Do(context.Background())

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 3 {
		t.Fatalf("logged %d failures, want 3", len(entries))
	}
	if got := entries[0].ContextMap(); got["status"] != int64(500) || got["body"] != "oops" {
		t.Errorf("status failure fields = %v", got)
	}
	if got := entries[2].ContextMap()["error"]; got != "dial tcp: refused" {
		t.Errorf("transport failure error = %v", got)
	}

	inner := &flakyRequester{}
	if runner.WithFailureLog(inner, nil) != runner.Requester(inner) {
		t.Errorf("WithFailureLog(nil) should not wrap")
	}
}
