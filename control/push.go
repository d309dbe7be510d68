package control

import (
	"math"

	"github.com/golang/geo/r2"

	"force_push/geometry"
)

// PushController is the force angle-based pushing controller. It steers the
// pusher so that the contact force points along the path, corrects for
// lateral offset from the path, circles back when contact is lost and
// backs off when the force gets too high.
//
// A PushController is not safe for concurrent use.
type PushController struct {
	cfg PushConfig

	state        State
	firstContact bool
	ycInt        float64
	thetaDInt    float64
	thetaP       float64
	incSign      float64

	lastPathDir r2.Point
	lastOffset  float64
}

// Status is a snapshot of a PushController's mutable state.
type Status struct {
	State        State
	FirstContact bool
	// OffsetIntegral and AngleIntegral are the time integrals of the lateral
	// offset and the force angle error.
	OffsetIntegral float64
	AngleIntegral  float64
	// PushAngle is the commanded angle relative to the path tangent.
	PushAngle float64
	IncSign   float64
	// PathDirection and Offset are from the last successful Update.
	PathDirection r2.Point
	Offset        float64
}

// NewPushController validates cfg and returns a controller in its initial
// state.
func NewPushController(cfg PushConfig) (*PushController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &PushController{cfg: cfg}
	c.Reset()
	return c, nil
}

// Config returns the controller's configuration.
func (c *PushController) Config() PushConfig {
	return c.cfg
}

// Reset returns the controller to its initial state without touching the
// configuration.
func (c *PushController) Reset() {
	c.state = StateSeeking
	c.firstContact = false
	c.ycInt = 0
	c.thetaDInt = 0
	c.thetaP = 0
	c.incSign = 1
	c.lastPathDir = r2.Point{}
	c.lastOffset = 0
}

// Status returns a copy of the controller's state.
func (c *PushController) Status() Status {
	return Status{
		State:          c.state,
		FirstContact:   c.firstContact,
		OffsetIntegral: c.ycInt,
		AngleIntegral:  c.thetaDInt,
		PushAngle:      c.thetaP,
		IncSign:        c.incSign,
		PathDirection:  c.lastPathDir,
		Offset:         c.lastOffset,
	}
}

// Update computes the pushing velocity from the contact position and the
// contact force, both in the world frame. dt is the time since the last
// call. The returned velocity always has magnitude Speed. On error the
// zero vector is returned and the controller state is left unchanged.
func (c *PushController) Update(position, force r2.Point, dt float64) (r2.Point, error) {
	if !geometry.IsFinite(position) || !geometry.IsFinite(force) {
		return r2.Point{}, ErrNonFinite
	}
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return r2.Point{}, ErrNonFinite
	}

	pathdir, yc := c.cfg.Path.ComputeDirectionAndOffset(position)
	pathdir, ok := geometry.Unit(pathdir)
	if !ok {
		return r2.Point{}, ErrZeroPathDirection
	}
	fNorm := force.Norm()

	state := nextState(c.firstContact, fNorm, c.cfg.ForceMin, c.cfg.ForceMax)
	if state == StateSeeking {
		c.state = state
		c.lastPathDir, c.lastOffset = pathdir, yc
		return pathdir.Mul(c.cfg.Speed), nil
	}

	// Without a force direction there is no angle error. This is only
	// acceptable when the force is not being tracked.
	var thetaD float64
	if fdir, ok := geometry.Unit(force); ok {
		thetaD = geometry.SignedAngle(pathdir, fdir)
	} else if state == StateTracking || state == StateDiverging {
		return r2.Point{}, ErrZeroForce
	}

	c.state = state
	c.firstContact = true
	c.lastPathDir, c.lastOffset = pathdir, yc

	c.ycInt += dt * yc
	c.thetaDInt += dt * thetaD

	var thetaP float64
	switch state {
	case StateRecovering:
		// lost contact: circle back toward the last known side
		thetaP = c.thetaP - c.incSign*c.cfg.ConInc
	case StateDiverging:
		thetaP = c.thetaP + geometry.Sign(thetaD)*c.cfg.DivInc
	default:
		thetaP = (1+c.cfg.KTheta)*thetaD +
			c.cfg.KY*yc +
			c.cfg.KITheta*c.thetaDInt +
			c.cfg.KIY*c.ycInt
		c.incSign = geometry.Sign(thetaD)
	}
	c.thetaP = geometry.WrapToPi(thetaP)

	pushdir := geometry.Rotate(pathdir, c.thetaP)
	pushdir = c.avoidCorridorWalls(pathdir, pushdir, yc)

	return pushdir.Mul(c.cfg.Speed), nil
}

// avoidCorridorWalls removes the component of pushdir that would take the
// pusher further outside the corridor.
func (c *PushController) avoidCorridorWalls(pathdir, pushdir r2.Point, yc float64) r2.Point {
	if math.Abs(yc) < c.cfg.CorridorRadius {
		return pushdir
	}
	perp := pathdir.Ortho()
	lateral := perp.Dot(pushdir)
	if (yc > 0 && lateral > 0) || (yc < 0 && lateral < 0) {
		corrected, ok := geometry.Unit(pushdir.Sub(perp.Mul(lateral)))
		if !ok {
			// pushing straight into the wall: go along the path instead
			return pathdir
		}
		return corrected
	}
	return pushdir
}
