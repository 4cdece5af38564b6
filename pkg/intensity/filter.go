// Package intensity turns raw input values into motor levels.
//
// Inputs arrive as floats in an arbitrary range and at an uneven rate
// (OSC parameters, remote speed streams). The filter smooths the rate of
// change of the input, and the mapper scales the result into the discrete
// level range a transport accepts.
package intensity

// DefaultAlpha is the smoothing factor used by the control loop. Lower
// values favour the history over the instantaneous speed.
const DefaultAlpha = 0.05

// maxSpeed caps the smoothed speed before it is normalized to 0..1.
const maxSpeed = 5.0

// Transport level ranges. Broadcast command codes cover 8 levels; the
// GATT write protocol accepts 0..20.
const (
	BroadcastScale = 7
	GATTScale      = 20
)

// Filter applies exponential smoothing to the absolute velocity of a
// position signal. Feed it positions; it answers with a smoothed speed.
type Filter struct {
	prevPosition float64
	smoothed     float64
	alpha        float64
}

// NewFilter creates a filter with the given smoothing factor in (0, 1].
func NewFilter(alpha float64) *Filter {
	return &Filter{alpha: alpha}
}

// Update records a new position sample taken deltaTime seconds after the
// previous one and returns the smoothed absolute speed. A non-positive
// deltaTime leaves the state unchanged.
func (f *Filter) Update(position, deltaTime float64) float64 {
	if deltaTime <= 0 {
		return f.smoothed
	}

	velocity := (position - f.prevPosition) / deltaTime
	if velocity < 0 {
		velocity = -velocity
	}

	f.smoothed = f.alpha*velocity + (1-f.alpha)*f.smoothed
	f.prevPosition = position

	return f.smoothed
}

// Reset clears the filter state so the next sample starts a fresh ramp.
func (f *Filter) Reset() {
	f.prevPosition = 0
	f.smoothed = 0
}

// Mapper converts filtered speeds into transport levels.
type Mapper struct {
	// RangeStart and RangeEnd remap the useful portion of the raw input
	// onto 0..1. Values outside the range clamp to the edges.
	RangeStart float64
	RangeEnd   float64
	// MaxPercent caps the output level, 0..100.
	MaxPercent int
	// Scale is the top level of the target transport, BroadcastScale or
	// GATTScale.
	Scale int
}

// Normalize remaps a raw input value onto 0..1 using the configured range.
func (m Mapper) Normalize(v float64) float64 {
	span := m.RangeEnd - m.RangeStart
	if span <= 0 {
		return 0
	}
	return clamp01((v - m.RangeStart) / span)
}

// Level converts a smoothed speed into a discrete transport level. The
// speed saturates at maxSpeed, is scaled by MaxPercent, and truncates to
// the transport's level range.
func (m Mapper) Level(speed float64) byte {
	if speed < 0 {
		speed = 0
	} else if speed > maxSpeed {
		speed = maxSpeed
	}

	frac := speed / maxSpeed * float64(m.MaxPercent) / 100
	return byte(frac * float64(m.Scale))
}

// FractionLevel converts a 0..1 fraction straight into a transport level,
// bypassing the speed saturation. Used for direct input such as remote
// speed streams and manual control.
func (m Mapper) FractionLevel(frac float64) byte {
	frac = clamp01(frac) * float64(m.MaxPercent) / 100
	return byte(frac * float64(m.Scale))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
