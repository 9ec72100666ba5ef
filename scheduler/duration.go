package scheduler

// Duration bounds for slot and button durations, in minutes.
const (
	DefaultMinDuration  = 15
	DefaultMaxDuration  = 1440
	DefaultDurationStep = 15
)

// Bounds constrains a user-supplied duration. The zero value is not
// usable; construct with NewBounds.
type Bounds struct {
	Min  int
	Max  int
	Step int
}

// NewBounds builds duration bounds, substituting defaults for
// non-positive values and forcing Max >= Min.
func NewBounds(min, max, step int) Bounds {
	if min <= 0 {
		min = DefaultMinDuration
	}

	if max <= 0 {
		max = DefaultMaxDuration
	}

	if max < min {
		max = min
	}

	if step <= 0 {
		step = DefaultDurationStep
	}

	return Bounds{Min: min, Max: max, Step: step}
}

// Clamp forces a duration into [Min, Max].
func (b Bounds) Clamp(minutes int) int {
	if minutes < b.Min {
		return b.Min
	}

	if minutes > b.Max {
		return b.Max
	}

	return minutes
}

// ClampOptional clamps a duration that may be absent. Climate slots
// run open-ended without a duration, so nil passes through.
func (b Bounds) ClampOptional(minutes *int) *int {
	if minutes == nil {
		return nil
	}

	clamped := b.Clamp(*minutes)

	return &clamped
}
