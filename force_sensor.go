// force_sensor.go - serial force sensor component
package force_push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"force_push/control"
)

var ForceSensorModel = resource.NewModel("devrel", "force-push", "serial-force")

func init() {
	resource.RegisterComponent(sensor.API, ForceSensorModel,
		resource.Registration[sensor.Sensor, *ForceSensorConfig]{
			Constructor: newForceSensor,
		},
	)
}

const (
	defaultForceBaudrate = 115200
	defaultTareSamples   = 50
)

// ForceSensorConfig configures a force sensor streaming ASCII samples.
type ForceSensorConfig struct {
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate,omitempty"`
	// Scale converts raw values to newtons.
	Scale       float64 `json:"scale,omitempty"`
	BiasFile    string  `json:"bias_file,omitempty"`
	TareSamples int     `json:"tare_samples,omitempty"`
	// Samples older than StaleAfterMs are an error; zero disables the check.
	StaleAfterMs int `json:"stale_after_ms,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *ForceSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultForceBaudrate
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.TareSamples == 0 {
		cfg.TareSamples = defaultTareSamples
	}
	if cfg.TareSamples < 0 || cfg.TareSamples > historySize {
		return nil, nil, fmt.Errorf("tare_samples must be between 1 and %d", historySize)
	}
	if cfg.BiasFile == "" {
		cfg.BiasFile = extractPortSuffix(cfg.Port) + "_force_bias.json"
	}
	cfg.BiasFile = resolveDataPath(cfg.BiasFile)
	return nil, nil, nil
}

type forceSensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger   logging.Logger
	cfg      *ForceSensorConfig
	registry *StreamRegistry
	stream   *forceStream

	mu   sync.RWMutex
	bias ForceBias
}

func newForceSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*ForceSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}
	return newForceSensorWith(rawConf.ResourceName(), conf, globalStreams, logger)
}

func newForceSensorWith(name resource.Name, conf *ForceSensorConfig, registry *StreamRegistry, logger logging.Logger) (*forceSensor, error) {
	stream, err := registry.Acquire(conf.Port, conf.Baudrate, logger)
	if err != nil {
		return nil, err
	}
	bias, _ := LoadForceBias(conf.BiasFile, logger)

	return &forceSensor{
		Named:    name.AsNamed(),
		logger:   logger,
		cfg:      conf,
		registry: registry,
		stream:   stream,
		bias:     bias,
	}, nil
}

// Readings returns the bias corrected force in newtons.
func (fs *forceSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	sample, err := fs.stream.Latest()
	if err != nil {
		return nil, err
	}
	age := time.Since(sample.Time)
	if fs.cfg.StaleAfterMs > 0 && age > time.Duration(fs.cfg.StaleAfterMs)*time.Millisecond {
		return nil, fmt.Errorf("force sample is stale (%v old)", age)
	}

	fs.mu.RLock()
	bias := fs.bias
	fs.mu.RUnlock()

	f := sample.Force.Mul(fs.cfg.Scale)
	return map[string]interface{}{
		"fx":      f.X - bias.Fx,
		"fy":      f.Y - bias.Fy,
		"fz":      f.Z - bias.Fz,
		"samples": fs.stream.Count(),
	}, nil
}

// DoCommand handles bias commands
func (fs *forceSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	switch command {
	case "tare":
		n := fs.cfg.TareSamples
		if v, ok := cmd["samples"]; ok {
			f, ok := v.(float64)
			if !ok || f < 1 || f > historySize {
				return nil, fmt.Errorf("samples must be a number between 1 and %d", historySize)
			}
			n = int(f)
		}
		return fs.tare(ctx, n)

	case "clear_bias":
		fs.mu.Lock()
		fs.bias = ForceBias{}
		fs.mu.Unlock()
		if err := SaveForceBias(fs.cfg.BiasFile, ForceBias{}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil

	case "get_bias":
		fs.mu.RLock()
		defer fs.mu.RUnlock()
		return map[string]interface{}{
			"fx": fs.bias.Fx,
			"fy": fs.bias.Fy,
			"fz": fs.bias.Fz,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// tare waits for n fresh samples and stores their mean as the bias.
func (fs *forceSensor) tare(ctx context.Context, n int) (map[string]interface{}, error) {
	start := fs.stream.Count()
	for fs.stream.Count()-start < int64(n) {
		if err := fs.stream.Err(); err != nil {
			return nil, fmt.Errorf("force stream stopped during tare: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-fs.stream.Updated():
		case <-time.After(time.Second):
		}
	}

	samples := fs.stream.Recent(n)
	planar := make([]r2.Point, 0, len(samples))
	var fz float64
	for _, s := range samples {
		f := s.Force.Mul(fs.cfg.Scale)
		planar = append(planar, r2.Point{X: f.X, Y: f.Y})
		fz += f.Z
	}
	mean, err := control.EstimateBias(planar)
	if err != nil {
		return nil, err
	}
	bias := ForceBias{Fx: mean.X, Fy: mean.Y, Fz: fz / float64(len(samples)), Samples: len(samples)}

	fs.mu.Lock()
	fs.bias = bias
	fs.mu.Unlock()

	if err := SaveForceBias(fs.cfg.BiasFile, bias); err != nil {
		return nil, err
	}
	fs.logger.Infof("force bias set from %d samples: (%.3f, %.3f, %.3f)", len(samples), bias.Fx, bias.Fy, bias.Fz)

	return map[string]interface{}{
		"success": true,
		"fx":      bias.Fx,
		"fy":      bias.Fy,
		"fz":      bias.Fz,
		"samples": len(samples),
	}, nil
}

// Close releases the serial port
func (fs *forceSensor) Close(ctx context.Context) error {
	return fs.registry.Release(fs.cfg.Port, fs.stream)
}
