package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/tracing"
)

const (
	maxLoggedBodyBytes = 1024
	maxBodyReadSize    = 1024 * 1024
)

// Requester sends the built request once per Do. Responses with status 400 or
// above become *runner.HTTPError.
type Requester struct {
	client    *http.Client
	builder   *RequestBuilder
	tracer    trace.Tracer
	propagate bool
}

var _ runner.Requester = (*Requester)(nil)

// RequesterOption customizes a Requester.
type RequesterOption func(*Requester)

// WithTracer wraps every request in a client span. When propagate is set the
// W3C trace headers are sent to the target.
func WithTracer(tracer trace.Tracer, propagate bool) RequesterOption {
	return func(r *Requester) {
		if tracer != nil {
			r.tracer = tracer
		}
		r.propagate = propagate
	}
}

func NewRequester(client *http.Client, builder *RequestBuilder, opts ...RequesterOption) *Requester {
	if client == nil {
		client = NewClient(0)
	}
	r := &Requester{
		client:  client,
		builder: builder,
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Requester) Do(ctx context.Context) (err error) {
	ctx, span := tracing.StartRequestSpan(ctx, r.tracer, r.builder.Method(), r.builder.Target())
	status := 0
	defer func() {
		var attrs []attribute.KeyValue
		if status > 0 {
			attrs = append(attrs, attribute.Int("http.response.status_code", status))
		}
		tracing.EndSpan(span, err, attrs...)
	}()

	req, err := r.builder.Build(ctx)
	if err != nil {
		return err
	}
	if r.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	status = resp.StatusCode

	if resp.StatusCode < 400 {
		drain(resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBodyBytes))
	drain(resp.Body)
	return &runner.HTTPError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}
