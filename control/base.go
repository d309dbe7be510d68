package control

import (
	"math"

	"github.com/golang/geo/r2"

	"force_push/geometry"
)

const feasibilityTol = 1e-9

// BaseVelocity is a planar twist in the world frame.
type BaseVelocity struct {
	Linear  r2.Point
	Angular float64
}

// Obstacle is a half-plane constraint on the base's linear velocity:
// Normal·v <= Distance.
type Obstacle struct {
	Normal   r2.Point
	Distance float64
}

// BaseConfig configures a BaseController.
type BaseConfig struct {
	// ContactOffset is the contact point relative to the base origin, in the
	// base frame.
	ContactOffset r2.Point
	LowerBound    BaseVelocity
	UpperBound    BaseVelocity
	// LinearWeight and AngularWeight weigh the linear and angular effort.
	LinearWeight  float64
	AngularWeight float64
}

// DefaultBaseConfig returns the bounds and weights the base was tuned with.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LowerBound:    BaseVelocity{Linear: r2.Point{X: -1, Y: -1}, Angular: -0.5},
		UpperBound:    BaseVelocity{Linear: r2.Point{X: 1, Y: 1}, Angular: 0.5},
		LinearWeight:  0.1,
		AngularWeight: 1,
	}
}

// Validate checks the bounds and weights.
func (c BaseConfig) Validate() error {
	if !geometry.IsFinite(c.ContactOffset) {
		return invalidConfig("contact offset must be finite")
	}
	lo, hi := c.LowerBound, c.UpperBound
	if lo.Linear.X > hi.Linear.X || lo.Linear.Y > hi.Linear.Y || lo.Angular > hi.Angular {
		return invalidConfig("velocity lower bound %v exceeds upper bound %v", lo, hi)
	}
	if c.LinearWeight < 0 || math.IsNaN(c.LinearWeight) {
		return invalidConfig("linear weight must be non-negative, got %v", c.LinearWeight)
	}
	if c.AngularWeight <= 0 || math.IsNaN(c.AngularWeight) {
		return invalidConfig("angular weight must be positive, got %v", c.AngularWeight)
	}
	return nil
}

// BaseController finds a base twist that moves the contact point at the
// desired linear velocity, tracks the desired angular rate as closely as
// the bounds allow and keeps clear of obstacles.
//
// The problem is the QP
//
//	min  ½ uᵀ diag(wv, wv, wω) u − ωd·ω
//	s.t. v + ω·S·C(yaw)·r = vd,  lb <= u <= ub,  nᵢ·v <= dᵢ
//
// with u = (v, ω). The equality fixes v given ω, leaving a convex quadratic
// in ω over an interval, which is solved exactly.
type BaseController struct {
	cfg BaseConfig
}

// NewBaseController validates cfg and returns a BaseController.
func NewBaseController(cfg BaseConfig) (*BaseController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BaseController{cfg: cfg}, nil
}

// Update returns the base twist for the desired contact point twist given
// the base's heading yaw. ErrInfeasible is returned when no twist satisfies
// the constraints.
func (b *BaseController) Update(yaw float64, desired BaseVelocity, obstacles []Obstacle) (BaseVelocity, error) {
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) || !geometry.IsFinite(desired.Linear) ||
		math.IsNaN(desired.Angular) || math.IsInf(desired.Angular, 0) {
		return BaseVelocity{}, ErrNonFinite
	}

	// velocity of the contact point per unit base angular rate
	s := geometry.Rotate(b.cfg.ContactOffset, yaw).Ortho()
	vd := desired.Linear

	lo, hi := b.cfg.LowerBound.Angular, b.cfg.UpperBound.Angular
	// each constraint has the form a·ω <= c
	constrain := func(a, c float64) bool {
		switch {
		case math.Abs(a) < feasibilityTol:
			return c >= -feasibilityTol
		case a > 0:
			hi = math.Min(hi, c/a)
		default:
			lo = math.Max(lo, c/a)
		}
		return true
	}

	ok := constrain(-s.X, b.cfg.UpperBound.Linear.X-vd.X) &&
		constrain(s.X, vd.X-b.cfg.LowerBound.Linear.X) &&
		constrain(-s.Y, b.cfg.UpperBound.Linear.Y-vd.Y) &&
		constrain(s.Y, vd.Y-b.cfg.LowerBound.Linear.Y)
	for _, o := range obstacles {
		if !ok {
			break
		}
		ok = constrain(-o.Normal.Dot(s), o.Distance-o.Normal.Dot(vd))
	}
	if !ok || lo > hi+feasibilityTol {
		return BaseVelocity{}, ErrInfeasible
	}
	if lo > hi {
		lo = hi
	}

	wv, ww := b.cfg.LinearWeight, b.cfg.AngularWeight
	omega := (desired.Angular + wv*s.Dot(vd)) / (wv*s.Dot(s) + ww)
	omega = math.Max(lo, math.Min(hi, omega))

	return BaseVelocity{Linear: vd.Sub(s.Mul(omega)), Angular: omega}, nil
}

// AlignmentRate is the angular rate that turns a base at heading yaw
// toward the path direction.
func AlignmentRate(pathdir r2.Point, yaw, kOmega float64) float64 {
	return kOmega * geometry.WrapToPi(geometry.Heading(pathdir)-yaw)
}
