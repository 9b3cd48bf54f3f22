package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxBufferSeconds = 30
	maxRestSeconds   = 300
	maxLoadStages    = 10000
)

// Kind tells ramp stages apart from the zero-concurrency stages around them.
type Kind int

const (
	KindLoad Kind = iota
	KindBuffer
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindBuffer:
		return "buffer"
	case KindRest:
		return "rest"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON and YAML reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Stage is a fixed-duration interval of target concurrency.
//
// Duration is in whole seconds and SpawnRate is the number of users started
// per second while moving toward Users. Interval is a reserved pacing hint.
type Stage struct {
	Duration  int  `json:"duration" yaml:"duration"`
	Users     int  `json:"users" yaml:"users"`
	SpawnRate int  `json:"spawn_rate" yaml:"spawn_rate"`
	Interval  int  `json:"interval,omitempty" yaml:"interval,omitempty"`
	Kind      Kind `json:"kind" yaml:"kind"`
}

// Plan is an immutable, ordered sequence of stages.
type Plan struct {
	stages []Stage
}

// NewPlan copies stages into a plan. Spawn rates below one are raised to one.
func NewPlan(stages []Stage) Plan {
	copied := make([]Stage, len(stages))
	for i, st := range stages {
		if st.SpawnRate < 1 {
			st.SpawnRate = 1
		}
		copied[i] = st
	}
	return Plan{stages: copied}
}

// Parse validates the descriptor and mode and builds the plan.
func Parse(descriptor string, mode Mode) (Plan, error) {
	d, err := ParseDescriptor(descriptor)
	if err != nil {
		return Plan{}, err
	}
	if _, err := ParseMode(int(mode)); err != nil {
		return Plan{}, err
	}
	return Build(d, mode), nil
}

// Build expands a descriptor returned by ParseDescriptor.
func Build(d Descriptor, mode Mode) Plan {
	stages := rampStages(d)

	if mode != ModeBare {
		buffer := min(d.Duration/5, maxBufferSeconds)
		lastRate := stages[len(stages)-1].SpawnRate
		wrapped := make([]Stage, 0, len(stages)+2)
		wrapped = append(wrapped, Stage{Duration: buffer, Users: 0, SpawnRate: 1, Kind: KindBuffer})
		wrapped = append(wrapped, stages...)
		wrapped = append(wrapped, Stage{Duration: buffer, Users: 0, SpawnRate: lastRate, Kind: KindBuffer})
		stages = wrapped
	}

	if mode == ModeRested {
		rest := min(d.Duration/6, maxRestSeconds)
		rested := make([]Stage, 0, len(stages)*2)
		for i, st := range stages {
			rested = append(rested, st)
			if i < len(stages)-1 && st.Users != 0 && stages[i+1].Users != 0 {
				rested = append(rested, Stage{Duration: rest, Users: 0, SpawnRate: st.SpawnRate, Kind: KindRest})
			}
		}
		stages = rested
	}

	return Plan{stages: stages}
}

// rampStages walks from start toward end. The walk stops before the step
// that would reach or cross end, which is then emitted exactly once. The
// distance to end is compared with the step so v never overflows.
func rampStages(d Descriptor) []Stage {
	stages := make([]Stage, 0, min(d.levels(), maxLoadStages))
	switch {
	case d.Start > d.End:
		for v := d.Start; ; v -= d.Step {
			stages = append(stages, loadStage(d.Duration, v))
			if v-d.End <= d.Step {
				break
			}
		}
	case d.Start < d.End:
		for v := d.Start; ; v += d.Step {
			stages = append(stages, loadStage(d.Duration, v))
			if d.End-v <= d.Step {
				break
			}
		}
	}
	return append(stages, loadStage(d.Duration, d.End))
}

func loadStage(duration, users int) Stage {
	return Stage{Duration: duration, Users: users, SpawnRate: SpawnRateFor(users), Kind: KindLoad}
}

// SpawnRateFor returns the spawn rate used for a computed stage.
func SpawnRateFor(users int) int {
	return max(users/10, 1)
}

// Len returns the number of stages.
func (p Plan) Len() int { return len(p.stages) }

// At returns the stage at index i.
func (p Plan) At(i int) Stage { return p.stages[i] }

// Stages returns a copy of the stage list.
func (p Plan) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// TotalDuration sums the stage durations in seconds.
func (p Plan) TotalDuration() int {
	total := 0
	for _, st := range p.stages {
		total += st.Duration
	}
	return total
}

// MarshalJSON encodes the plan as its stage list.
func (p Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Stages())
}

// MarshalYAML encodes the plan as its stage list.
func (p Plan) MarshalYAML() (interface{}, error) {
	return p.Stages(), nil
}

// String renders the plan as users@durations/spawnrate entries.
func (p Plan) String() string {
	if len(p.stages) == 0 {
		return "[]"
	}
	parts := make([]string, len(p.stages))
	for i, st := range p.stages {
		parts[i] = fmt.Sprintf("%d@%ds/%d", st.Users, st.Duration, st.SpawnRate)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
