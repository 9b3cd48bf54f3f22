// Package httpclient provides the HTTP requester each simulated user loops
// over.
//
// # Request Building
//
// Use [NewRequestBuilder] to create a request builder from configuration:
//
//	builder, err := httpclient.NewRequestBuilder(cfg)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// The body comes from inline content or a file and can be replayed for
// retries and redirects.
//
// # Requester
//
// [NewRequester] turns a builder into a runner.Requester. Statuses of 400 and
// above are returned as *runner.HTTPError; [WithTracer] adds a client span per
// request and optional W3C header propagation:
//
//	req := httpclient.NewRequester(httpclient.NewClient(cfg.Timeout), builder,
//		httpclient.WithTracer(provider.Tracer(), provider.ShouldPropagate()))
package httpclient
