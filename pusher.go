// pusher.go - force-based path pushing service
package force_push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/utils"
)

var PusherModel = resource.NewModel("devrel", "force-push", "pusher")

func init() {
	resource.RegisterService(generic.API, PusherModel,
		resource.Registration[resource.Resource, *PusherConfig]{
			Constructor: newPusher,
		},
	)
}

var (
	errLoopRunning = errors.New("push loop is running")
	errNoHardware  = errors.New("base, position_sensor and force_sensor must be configured to run the push loop")
)

// velocityCommander is the part of base.Base the loop drives.
type velocityCommander interface {
	SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error
	Stop(ctx context.Context, extra map[string]interface{}) error
}

// readingsSource is the part of sensor.Sensor the loop reads.
type readingsSource interface {
	Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error)
}

type pusher struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	cfg    *PusherConfig

	mu       sync.Mutex
	pipeline *Pipeline
	lastCmd  Command
	ticks    int64
	lastErr  error

	mobile      velocityCommander
	poseSensor  readingsSource
	forceSensor readingsSource

	running     bool
	cancelLoop  context.CancelFunc
	loopWorkers sync.WaitGroup
}

func newPusher(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*PusherConfig](rawConf)
	if err != nil {
		return nil, err
	}

	var (
		mobile      velocityCommander
		poseSensor  readingsSource
		forceSensor readingsSource
	)
	if conf.HasHardware() {
		res, err := deps.Lookup(base.Named(conf.Base))
		if err != nil {
			return nil, fmt.Errorf("failed to get base %s: %w", conf.Base, err)
		}
		b, ok := res.(base.Base)
		if !ok {
			return nil, fmt.Errorf("%s is not a base", conf.Base)
		}
		mobile = b

		if poseSensor, err = lookupSensor(deps, conf.PositionSensor); err != nil {
			return nil, err
		}
		if forceSensor, err = lookupSensor(deps, conf.ForceSensor); err != nil {
			return nil, err
		}
	}

	return newPusherWith(rawConf.ResourceName(), conf, logger, mobile, poseSensor, forceSensor)
}

func lookupSensor(deps resource.Dependencies, name string) (sensor.Sensor, error) {
	res, err := deps.Lookup(sensor.Named(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor %s: %w", name, err)
	}
	s, ok := res.(sensor.Sensor)
	if !ok {
		return nil, fmt.Errorf("%s is not a sensor", name)
	}
	return s, nil
}

func newPusherWith(
	name resource.Name,
	conf *PusherConfig,
	logger logging.Logger,
	mobile velocityCommander,
	poseSensor, forceSensor readingsSource,
) (*pusher, error) {
	pipeline, err := NewPipeline(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build push controller: %w", err)
	}

	p := &pusher{
		Named:       name.AsNamed(),
		logger:      logger,
		cfg:         conf,
		pipeline:    pipeline,
		mobile:      mobile,
		poseSensor:  poseSensor,
		forceSensor: forceSensor,
	}
	logger.Infof("pusher ready: %d path segments, speed %.3f m/s, closed loop available: %v",
		len(pipeline.Path().Segments()), conf.Speed, mobile != nil)
	return p, nil
}

// DoCommand handles controller commands
func (p *pusher) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "update":
		return p.update(cmd)
	case "reset":
		return p.reset()
	case "status":
		return p.status(), nil
	case "start":
		if err := p.startLoop(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil
	case "stop":
		if err := p.stopLoop(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// update steps the push controller directly with a world frame contact
// position and force.
func (p *pusher) update(cmd map[string]interface{}) (map[string]interface{}, error) {
	position, err := pointArg(cmd, "position")
	if err != nil {
		return nil, err
	}
	force, err := pointArg(cmd, "force")
	if err != nil {
		return nil, err
	}
	dt, err := floatArg(cmd, "dt")
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, errLoopRunning
	}

	v, err := p.pipeline.Controller().Update(position, force, dt)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"velocity": []interface{}{v.X, v.Y},
		"state":    p.pipeline.Controller().Status().State.String(),
	}, nil
}

func (p *pusher) reset() (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, errLoopRunning
	}
	p.pipeline.Reset()
	p.lastCmd = Command{}
	p.ticks = 0
	p.lastErr = nil
	return map[string]interface{}{"success": true}, nil
}

func (p *pusher) status() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.pipeline.Controller().Status()
	out := map[string]interface{}{
		"state":           st.State.String(),
		"first_contact":   st.FirstContact,
		"offset_integral": st.OffsetIntegral,
		"angle_integral":  st.AngleIntegral,
		"push_angle":      st.PushAngle,
		"inc_sign":        st.IncSign,
		"path_direction":  []interface{}{st.PathDirection.X, st.PathDirection.Y},
		"offset":          st.Offset,
		"running":         p.running,
		"ticks":           p.ticks,
	}
	if p.ticks > 0 {
		out["force"] = []interface{}{p.lastCmd.Force.X, p.lastCmd.Force.Y}
		out["base_velocity"] = []interface{}{p.lastCmd.Base.Linear.X, p.lastCmd.Base.Linear.Y, p.lastCmd.Base.Angular}
	}
	if p.lastErr != nil {
		out["error"] = p.lastErr.Error()
	}
	return out
}

func (p *pusher) startLoop() error {
	if p.mobile == nil || p.poseSensor == nil || p.forceSensor == nil {
		return errNoHardware
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errLoopRunning
	}
	if p.cancelLoop != nil {
		p.cancelLoop()
		p.cancelLoop = nil
	}
	p.mu.Unlock()

	// a loop that stopped on its own may still be stopping the base
	p.loopWorkers.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errLoopRunning
	}

	p.pipeline.Reset()
	p.ticks = 0
	p.lastErr = nil

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelLoop = cancel
	p.running = true

	p.loopWorkers.Add(1)
	utils.ManagedGo(func() {
		p.runLoop(ctx)
	}, p.loopWorkers.Done)

	p.logger.Infof("push loop started at %.0f Hz", p.cfg.RateHz)
	return nil
}

func (p *pusher) stopLoop(ctx context.Context) error {
	p.mu.Lock()
	wasRunning := p.running
	cancel := p.cancelLoop
	p.running = false
	p.cancelLoop = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.loopWorkers.Wait()

	if wasRunning {
		p.logger.Info("push loop stopped")
	}
	return nil
}

func (p *pusher) runLoop(ctx context.Context) {
	period := time.Duration(float64(time.Second) / p.cfg.RateHz)
	last := time.Now()

	for {
		if !utils.SelectContextOrWait(ctx, period) {
			if err := p.mobile.Stop(context.Background(), nil); err != nil {
				p.logger.Errorf("failed to stop base: %v", err)
			}
			return
		}

		now := time.Now()
		dt := now.Sub(last).Seconds()
		last = now

		if err := p.tick(ctx, dt); err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			err = multierr.Combine(err, p.mobile.Stop(context.Background(), nil))
			p.mu.Lock()
			p.running = false
			p.lastErr = err
			p.mu.Unlock()
			if err != nil {
				p.logger.Errorf("push loop stopped: %v", err)
			}
			return
		}
	}
}

func (p *pusher) tick(ctx context.Context, dt float64) error {
	pose, err := readPose(ctx, p.poseSensor)
	if err != nil {
		return err
	}
	force, err := readForce(ctx, p.forceSensor)
	if err != nil {
		return err
	}

	p.mu.Lock()
	cmd, err := p.pipeline.Step(pose, force, dt)
	if err == nil {
		p.lastCmd = cmd
		p.ticks++
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	linear, angular := BaseFrameVelocity(cmd.Base, pose.Theta)
	return p.mobile.SetVelocity(ctx, linear, angular, nil)
}

func readPose(ctx context.Context, s readingsSource) (Pose, error) {
	readings, err := s.Readings(ctx, nil)
	if err != nil {
		return Pose{}, fmt.Errorf("failed to read position sensor: %w", err)
	}
	x, err := floatArg(readings, "x")
	if err != nil {
		return Pose{}, err
	}
	y, err := floatArg(readings, "y")
	if err != nil {
		return Pose{}, err
	}
	theta, err := floatArg(readings, "theta")
	if err != nil {
		return Pose{}, err
	}
	return Pose{Position: r2.Point{X: x, Y: y}, Theta: theta}, nil
}

func readForce(ctx context.Context, s readingsSource) (r2.Point, error) {
	readings, err := s.Readings(ctx, nil)
	if err != nil {
		return r2.Point{}, fmt.Errorf("failed to read force sensor: %w", err)
	}
	fx, err := floatArg(readings, "fx")
	if err != nil {
		return r2.Point{}, err
	}
	fy, err := floatArg(readings, "fy")
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: fx, Y: fy}, nil
}

// Close stops the push loop and the base
func (p *pusher) Close(ctx context.Context) error {
	return p.stopLoop(ctx)
}

func floatArg(m map[string]interface{}, key string) (float64, error) {
	switch v := m[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("missing %s", key)
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

func pointArg(m map[string]interface{}, key string) (r2.Point, error) {
	var xs []float64
	switch v := m[key].(type) {
	case []float64:
		xs = v
	case []interface{}:
		for _, e := range v {
			f, ok := e.(float64)
			if !ok {
				return r2.Point{}, fmt.Errorf("%s must contain numbers", key)
			}
			xs = append(xs, f)
		}
	case nil:
		return r2.Point{}, fmt.Errorf("missing %s", key)
	default:
		return r2.Point{}, fmt.Errorf("%s must be a list, got %T", key, v)
	}
	return toPoint(key, xs)
}
