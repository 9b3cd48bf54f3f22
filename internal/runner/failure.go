package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// HTTPError is a response with a status of 400 or above. Body holds a
// trimmed prefix of the response body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether err is worth sending again: transport failures,
// 429 and 5xx responses. A cancelled or expired context never is, since the
// stage that issued the request is over.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return true
}

type failureLog struct {
	inner Requester
	log   *zap.Logger
}

// WithFailureLog logs every failed request at warn level. Requests cut short
// by the end of the run are not failures and are not logged.
func WithFailureLog(req Requester, logger *zap.Logger) Requester {
	if logger == nil {
		return req
	}
	return &failureLog{inner: req, log: logger}
}

func (f *failureLog) Do(ctx context.Context) error {
	err := f.inner.Do(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		f.log.Warn("request failed", zap.Int("status", httpErr.StatusCode), zap.String("body", httpErr.Body))
	} else {
		f.log.Warn("request failed", zap.Error(err))
	}
	return err
}
