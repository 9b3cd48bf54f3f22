package strategy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidStrategy reports a descriptor or mode the planner cannot expand.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Mode selects which zero-concurrency stages surround the ramp.
type Mode int

const (
	ModeRested   Mode = 0 // buffers plus rests between load levels
	ModeBuffered Mode = 1 // buffers only
	ModeBare     Mode = 2 // no buffers, no rests
)

func (m Mode) String() string {
	switch m {
	case ModeRested:
		return "rested"
	case ModeBuffered:
		return "buffered"
	case ModeBare:
		return "bare"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode validates a numeric mode.
func ParseMode(v int) (Mode, error) {
	switch m := Mode(v); m {
	case ModeRested, ModeBuffered, ModeBare:
		return m, nil
	default:
		return 0, fmt.Errorf("%w: mode must be 0, 1 or 2, got %d", ErrInvalidStrategy, v)
	}
}

// ParseModeName accepts a mode by name ("rested", "buffered", "bare") or by
// number.
func ParseModeName(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, m := range []Mode{ModeRested, ModeBuffered, ModeBare} {
		if name == m.String() {
			return m, nil
		}
	}
	v, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidStrategy, s)
	}
	return ParseMode(v)
}

// Descriptor is the parsed form of "start_end_step_duration".
type Descriptor struct {
	Start    int
	End      int
	Step     int
	Duration int // seconds each load level is held
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%d_%d_%d_%d", d.Start, d.End, d.Step, d.Duration)
}

// ParseDescriptor parses exactly four underscore separated non-negative
// integers. A zero step is only accepted when start equals end.
func ParseDescriptor(s string) (Descriptor, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Descriptor{}, fmt.Errorf("%w: descriptor is required", ErrInvalidStrategy)
	}

	parts := strings.Split(raw, "_")
	if len(parts) != 4 {
		return Descriptor{}, fmt.Errorf("%w: %q must have the form start_end_step_duration", ErrInvalidStrategy, raw)
	}

	var values [4]int
	names := [4]string{"start", "end", "step", "duration"}
	for i, part := range parts {
		if !digits(part) {
			return Descriptor{}, fmt.Errorf("%w: %s %q is not a non-negative integer", ErrInvalidStrategy, names[i], part)
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s %q is out of range", ErrInvalidStrategy, names[i], part)
		}
		values[i] = v
	}

	d := Descriptor{Start: values[0], End: values[1], Step: values[2], Duration: values[3]}
	if d.Step == 0 && d.Start != d.End {
		return Descriptor{}, fmt.Errorf("%w: step must be > 0 when start and end differ", ErrInvalidStrategy)
	}
	if n := d.levels(); n > maxLoadStages {
		return Descriptor{}, fmt.Errorf("%w: %s expands to more than %d load stages", ErrInvalidStrategy, raw, maxLoadStages)
	}
	return d, nil
}

// levels counts the load stages of the ramp, saturating above maxLoadStages.
func (d Descriptor) levels() int {
	span := d.End - d.Start
	if span < 0 {
		span = -span
	}
	if span == 0 {
		return 1
	}
	steps := span / d.Step
	if steps >= maxLoadStages {
		return maxLoadStages + 1
	}
	if span%d.Step != 0 {
		steps++
	}
	return steps + 1
}

// digits rejects signs, spaces and the empty string.
func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
