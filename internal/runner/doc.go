// Package runner is the host load engine that drives simulated users.
//
// A [Runner] polls a shape (see package shape) once per tick. Each tick yields
// a target user count and spawn rate; the runner starts users at that rate
// until the target is reached and stops surplus users immediately when the
// target drops. The run ends when the shape reports it is finished or the
// context is cancelled, at which point every user is stopped and in-flight
// requests are awaited.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Shape:     controller,
//		Requester: myRequester,
//		Recorder:  collector,
//	})
//	result := r.Run(ctx)
//
// # Requester Interface
//
// Each user loops over a [Requester]:
//
//	type Requester interface {
//		Do(ctx context.Context) error
//	}
//
// # Middleware
//
// [WithFailureLog] logs failed requests and [WithRetry] resends transient
// failures per a [RetryPolicy]. Only the final outcome of a retried request
// is recorded, so stage failure rates count requests that never succeeded.
// Responses with a status of 400 or above surface as [*HTTPError]; see
// [Transient] for which of them are retried.
package runner
