package control

import (
	"math"

	"force_push/geometry"
)

// Defaults for optional PushConfig fields.
const (
	DefaultForceMin = 1.0
	DefaultForceMax = 50.0
	DefaultConInc   = 0.3
	DefaultDivInc   = 0.3
)

// PushConfig holds the fixed parameters of a PushController.
type PushConfig struct {
	// Speed is the magnitude of every commanded velocity.
	Speed float64
	// KTheta is the gain for stable pushing and KY for path tracking.
	KTheta float64
	KY     float64
	// KITheta and KIY are the matching integral gains.
	KITheta float64
	KIY     float64
	// CorridorRadius is the distance from the path to the corridor walls.
	// +Inf means open space.
	CorridorRadius float64
	// Contact requires at least ForceMin; above ForceMax the controller
	// steers away to shed force.
	ForceMin float64
	ForceMax float64
	// ConInc and DivInc are the per-tick pushing angle increments used to
	// recover contact and to diverge.
	ConInc float64
	DivInc float64

	Path *geometry.SegmentPath
}

// DefaultPushConfig returns a config with the optional fields at their
// defaults. Speed, gains and Path must still be set.
func DefaultPushConfig() PushConfig {
	return PushConfig{
		CorridorRadius: math.Inf(1),
		ForceMin:       DefaultForceMin,
		ForceMax:       DefaultForceMax,
		ConInc:         DefaultConInc,
		DivInc:         DefaultDivInc,
	}
}

// Validate checks the config. It never clamps or fills values in.
func (c PushConfig) Validate() error {
	if c.Path == nil {
		return invalidConfig("path is required")
	}
	for name, v := range map[string]float64{
		"speed":    c.Speed,
		"k_theta":  c.KTheta,
		"k_y":      c.KY,
		"ki_theta": c.KITheta,
		"ki_y":     c.KIY,
		"con_inc":  c.ConInc,
		"div_inc":  c.DivInc,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalidConfig("%s must be finite, got %v", name, v)
		}
	}
	if c.Speed <= 0 {
		return invalidConfig("speed must be positive, got %v", c.Speed)
	}
	if math.IsNaN(c.ForceMin) || math.IsInf(c.ForceMin, 0) || c.ForceMin < 0 {
		return invalidConfig("force_min must be finite and non-negative, got %v", c.ForceMin)
	}
	if math.IsNaN(c.ForceMax) || c.ForceMax < c.ForceMin {
		return invalidConfig("force_max (%v) must not be less than force_min (%v)", c.ForceMax, c.ForceMin)
	}
	if c.ConInc < 0 || c.DivInc < 0 {
		return invalidConfig("con_inc and div_inc must be non-negative")
	}
	if math.IsNaN(c.CorridorRadius) || c.CorridorRadius <= 0 {
		return invalidConfig("corridor_radius must be positive, got %v", c.CorridorRadius)
	}
	return nil
}
