package force_push

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"force_push/control"
	"force_push/geometry"
)

// Pose is the base's planar pose in the world frame.
type Pose struct {
	Position r2.Point
	Theta    float64
}

// Command is the result of one control tick. All vectors are in the world
// frame.
type Command struct {
	// Force is the filtered contact force.
	Force r2.Point
	// Contact is the contact point position.
	Contact r2.Point
	// Push is the contact velocity before admittance.
	Push r2.Point
	// Desired is the contact twist handed to the base controller.
	Desired control.BaseVelocity
	Base    control.BaseVelocity
	State   control.State
}

// Pipeline runs one tick of the pushing loop: force frame conversion and
// filtering, the push controller, admittance, heading alignment and the base
// velocity solve.
type Pipeline struct {
	cfg        *PusherConfig
	path       *geometry.SegmentPath
	push       *control.PushController
	base       *control.BaseController
	baseCfg    control.BaseConfig
	admittance *control.AdmittanceController
	estimator  *control.WrenchEstimator
	obstacles  []control.Obstacle
}

// NewPipeline builds the controllers for a validated config.
func NewPipeline(cfg *PusherConfig, logger logging.Logger) (*Pipeline, error) {
	path, err := cfg.LoadPath(logger)
	if err != nil {
		return nil, err
	}
	push, err := control.NewPushController(cfg.PushConfig(path))
	if err != nil {
		return nil, err
	}
	baseCfg, err := cfg.BaseConfig()
	if err != nil {
		return nil, err
	}
	base, err := control.NewBaseController(baseCfg)
	if err != nil {
		return nil, err
	}
	obstacles, err := cfg.BaseObstacles()
	if err != nil {
		return nil, err
	}
	estimator, err := control.NewWrenchEstimator(r2.Point{}, cfg.FilterTimeConstant)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		path:      path,
		push:      push,
		base:      base,
		baseCfg:   baseCfg,
		estimator: estimator,
		obstacles: obstacles,
	}
	if cfg.KF > 0 {
		p.admittance, err = control.NewAdmittanceController(cfg.KF, cfg.AdmittanceForceMax, cfg.AdmittanceVelMax)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Controller exposes the push controller.
func (p *Pipeline) Controller() *control.PushController {
	return p.push
}

func (p *Pipeline) Path() *geometry.SegmentPath {
	return p.path
}

// Reset clears the push controller and the force filter.
func (p *Pipeline) Reset() {
	p.push.Reset()
	p.estimator.Reset()
}

// Step runs one tick. rawForce is in the sensor frame, which is aligned
// with the base.
func (p *Pipeline) Step(pose Pose, rawForce r2.Point, dt float64) (Command, error) {
	if !geometry.IsFinite(pose.Position) || !geometry.IsFinite(rawForce) ||
		math.IsNaN(pose.Theta) || math.IsInf(pose.Theta, 0) || math.IsNaN(dt) || dt < 0 {
		return Command{}, control.ErrNonFinite
	}

	// a rejected tick leaves the filter and controller as they were
	filterState, pushState := *p.estimator, *p.push
	cmd, err := p.step(pose, rawForce, dt)
	if err != nil {
		*p.estimator, *p.push = filterState, pushState
		return Command{}, err
	}
	return cmd, nil
}

func (p *Pipeline) step(pose Pose, rawForce r2.Point, dt float64) (Command, error) {
	force := geometry.Rotate(rawForce, pose.Theta)
	if p.cfg.InvertForce {
		force = force.Mul(-1)
	}
	force = p.estimator.Update(force, dt)
	contact := pose.Position.Add(geometry.Rotate(p.baseCfg.ContactOffset, pose.Theta))

	var (
		v       r2.Point
		pathdir r2.Point
	)
	if p.cfg.OpenLoop {
		dir, _ := p.path.ComputeDirectionAndOffset(contact)
		u, ok := geometry.Unit(dir)
		if !ok {
			return Command{}, control.ErrZeroPathDirection
		}
		pathdir = u
		v = u.Mul(p.cfg.Speed)
	} else {
		var err error
		if v, err = p.push.Update(contact, force, dt); err != nil {
			return Command{}, err
		}
		pathdir = p.push.Status().PathDirection
	}

	desired := control.BaseVelocity{
		Linear:  v,
		Angular: control.AlignmentRate(pathdir, pose.Theta, p.cfg.KOmega),
	}
	if p.admittance != nil {
		desired.Linear = desired.Linear.Add(p.admittance.Update(force))
	}

	u, err := p.base.Update(pose.Theta, desired, p.obstacles)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Force:   force,
		Contact: contact,
		Push:    v,
		Desired: desired,
		Base:    u,
		State:   p.push.Status().State,
	}, nil
}

// BaseFrameVelocity converts a world frame twist in m/s and rad/s into the
// base's SetVelocity convention: +Y forward, +X right, mm/s and deg/s.
func BaseFrameVelocity(u control.BaseVelocity, theta float64) (r3.Vector, r3.Vector) {
	heading := r2.Point{X: math.Cos(theta), Y: math.Sin(theta)}
	forward := u.Linear.Dot(heading)
	left := u.Linear.Dot(heading.Ortho())
	linear := r3.Vector{X: -left * 1000, Y: forward * 1000}
	angular := r3.Vector{Z: u.Angular * 180 / math.Pi}
	return linear, angular
}
