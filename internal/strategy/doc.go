// Package strategy turns a compact ramp descriptor into an ordered plan of
// load stages.
//
// A descriptor has the form "start_end_step_duration": four non-negative
// integers separated by underscores. The planner walks from start to end in
// increments of step, holding every concurrency level for duration seconds:
//
//	plan, err := strategy.Parse("10_1_3_20", strategy.ModeRested)
//	if err != nil {
//		return err // errors.Is(err, strategy.ErrInvalidStrategy)
//	}
//	for _, st := range plan.Stages() {
//		fmt.Println(st.Users, st.Duration, st.SpawnRate)
//	}
//
// # Modes
//
// The mode controls the zero-concurrency stages wrapped around the ramp:
//   - [ModeRested]: buffer stages at both ends and a rest stage between
//     adjacent non-zero stages
//   - [ModeBuffered]: buffer stages only
//   - [ModeBare]: the ramp stages alone
//
// Every generated stage has a spawn rate of at least one user per second so
// the host engine can always make progress toward the target.
package strategy
