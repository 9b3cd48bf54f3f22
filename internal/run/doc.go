// Package run wires a stage plan, the load shape controller, the host engine
// and the metric samplers into a single load test.
//
// Components are registered explicitly on a [Builder]; Build expands the
// strategy up front so planning errors surface before anything runs:
//
//	r, err := run.NewBuilder().
//		Descriptor("10_50_10_60", strategy.ModeRested).
//		Requester(requester).
//		Hooks(run.Hooks{SetUp: warmCache}).
//		Logger(logger).
//		Build()
//	if err != nil {
//		return err
//	}
//	report, err := r.Run(ctx)
//
// Builder.Smoke swaps the plan for a single user held for a fixed time.
//
// Run calls SetUp, starts the sampler scheduler and the shape, and drives
// users until the plan ends or ctx is cancelled. Whatever the outcome, the
// scheduler is stopped, the shape is given an end time, and TearDown receives
// the [Report].
package run
