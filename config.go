package force_push

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"

	"force_push/control"
	"force_push/geometry"
)

const (
	defaultRateHz             = 100
	defaultKOmega             = 1.0
	defaultFilterTimeConstant = 0.05
	defaultMaxLinearSpeed     = 1.0
	defaultMaxAngularSpeed    = 0.5
	contiguityTolerance       = 1e-6
)

// SegmentConfig describes one path segment. Type is "line" (the default)
// or "quad_bezier"; VC is only used by Bezier segments.
type SegmentConfig struct {
	Type     string    `json:"type,omitempty"`
	V1       []float64 `json:"v1"`
	VC       []float64 `json:"vc,omitempty"`
	V2       []float64 `json:"v2"`
	Infinite bool      `json:"infinite,omitempty"`
}

// PathFile is the on-disk format referenced by path_file.
type PathFile struct {
	Origin   []float64       `json:"origin,omitempty"`
	Segments []SegmentConfig `json:"segments"`
}

// ObstacleConfig is a half-plane normal·v <= distance on the base velocity.
type ObstacleConfig struct {
	Normal   []float64 `json:"normal"`
	Distance float64   `json:"distance"`
}

// PusherConfig configures the pusher service.
type PusherConfig struct {
	// Path, either inline or from a file.
	Segments       []SegmentConfig `json:"segments,omitempty"`
	PathFile       string          `json:"path_file,omitempty"`
	Origin         []float64       `json:"origin,omitempty"`
	CorridorRadius float64         `json:"corridor_radius,omitempty"`

	// Pointers distinguish an explicit zero from an absent key.
	Speed    float64  `json:"speed"`
	KTheta   *float64 `json:"k_theta"`
	KY       *float64 `json:"k_y"`
	KITheta  float64  `json:"ki_theta,omitempty"`
	KIY      float64  `json:"ki_y,omitempty"`
	ForceMin *float64 `json:"force_min,omitempty"`
	ForceMax float64  `json:"force_max,omitempty"`
	ConInc   *float64 `json:"con_inc,omitempty"`
	DivInc   *float64 `json:"div_inc,omitempty"`

	// Closed loop hardware, all optional.
	Base           string  `json:"base,omitempty"`
	PositionSensor string  `json:"position_sensor,omitempty"`
	ForceSensor    string  `json:"force_sensor,omitempty"`
	RateHz         float64 `json:"rate_hz,omitempty"`

	ContactOffset   []float64        `json:"contact_offset,omitempty"`
	MaxLinearSpeed  float64          `json:"max_linear_speed,omitempty"`
	MaxAngularSpeed float64          `json:"max_angular_speed,omitempty"`
	Obstacles       []ObstacleConfig `json:"obstacles,omitempty"`
	KOmega          float64          `json:"k_omega,omitempty"`

	// Admittance is disabled while KF is zero.
	KF                 float64 `json:"k_f,omitempty"`
	AdmittanceForceMax float64 `json:"admittance_force_max,omitempty"`
	AdmittanceVelMax   float64 `json:"admittance_vel_max,omitempty"`

	FilterTimeConstant float64 `json:"filter_time_constant,omitempty"`
	InvertForce        bool    `json:"invert_force,omitempty"`
	OpenLoop           bool    `json:"open_loop,omitempty"`
}

// Validate fills defaults and returns the required dependencies.
func (cfg *PusherConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Speed <= 0 {
		return nil, nil, fmt.Errorf("%s: speed must be positive", path)
	}
	if cfg.KTheta == nil || cfg.KY == nil {
		return nil, nil, fmt.Errorf("%s: k_theta and k_y are required", path)
	}
	if len(cfg.Segments) == 0 && cfg.PathFile == "" {
		return nil, nil, fmt.Errorf("%s: must specify segments or path_file", path)
	}
	if len(cfg.Segments) > 0 && cfg.PathFile != "" {
		return nil, nil, fmt.Errorf("%s: segments and path_file are mutually exclusive", path)
	}
	if cfg.PathFile != "" {
		cfg.PathFile = resolveDataPath(cfg.PathFile)
	}

	hw := 0
	for _, name := range []string{cfg.Base, cfg.PositionSensor, cfg.ForceSensor} {
		if name != "" {
			hw++
		}
	}
	if hw != 0 && hw != 3 {
		return nil, nil, fmt.Errorf("%s: base, position_sensor and force_sensor must be set together", path)
	}

	cfg.applyDefaults()

	var deps []string
	if hw == 3 {
		deps = []string{cfg.Base, cfg.PositionSensor, cfg.ForceSensor}
	}
	return deps, nil, nil
}

func (cfg *PusherConfig) applyDefaults() {
	if cfg.ForceMax == 0 {
		cfg.ForceMax = control.DefaultForceMax
	}
	if cfg.ConInc == nil {
		conInc := control.DefaultConInc
		cfg.ConInc = &conInc
	}
	if cfg.DivInc == nil {
		divInc := control.DefaultDivInc
		cfg.DivInc = &divInc
	}
	if cfg.RateHz == 0 {
		cfg.RateHz = defaultRateHz
	}
	if cfg.KOmega == 0 {
		cfg.KOmega = defaultKOmega
	}
	if cfg.FilterTimeConstant == 0 {
		cfg.FilterTimeConstant = defaultFilterTimeConstant
	}
	if cfg.MaxLinearSpeed == 0 {
		cfg.MaxLinearSpeed = defaultMaxLinearSpeed
	}
	if cfg.MaxAngularSpeed == 0 {
		cfg.MaxAngularSpeed = defaultMaxAngularSpeed
	}
	if cfg.AdmittanceForceMax == 0 {
		cfg.AdmittanceForceMax = cfg.ForceMax
	}
}

// HasHardware reports whether the closed loop can run.
func (cfg *PusherConfig) HasHardware() bool {
	return cfg.Base != "" && cfg.PositionSensor != "" && cfg.ForceSensor != ""
}

// LoadPath builds the configured path. Inline segments take the configured
// origin; a path file carries its own origin unless one is configured.
func (cfg *PusherConfig) LoadPath(logger logging.Logger) (*geometry.SegmentPath, error) {
	segments, origin := cfg.Segments, cfg.Origin
	if cfg.PathFile != "" {
		pf, err := LoadPathFile(cfg.PathFile)
		if err != nil {
			return nil, err
		}
		segments = pf.Segments
		if len(origin) == 0 {
			origin = pf.Origin
		}
	}

	o := r2.Point{}
	if len(origin) > 0 {
		var err error
		if o, err = toPoint("origin", origin); err != nil {
			return nil, err
		}
	}

	built := make([]geometry.Segment, 0, len(segments))
	for i, sc := range segments {
		s, err := sc.build()
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		built = append(built, s)
	}

	path, err := geometry.NewSegmentPath(built, o)
	if err != nil {
		return nil, err
	}
	if !path.Contiguous(contiguityTolerance) && logger != nil {
		logger.Warnf("path segments are not contiguous; the pusher may jump between segments")
	}
	return path, nil
}

// PushConfig returns the controller config for path.
func (cfg *PusherConfig) PushConfig(path *geometry.SegmentPath) control.PushConfig {
	pc := control.DefaultPushConfig()
	pc.Speed = cfg.Speed
	if cfg.KTheta != nil {
		pc.KTheta = *cfg.KTheta
	}
	if cfg.KY != nil {
		pc.KY = *cfg.KY
	}
	pc.KITheta = cfg.KITheta
	pc.KIY = cfg.KIY
	if cfg.CorridorRadius > 0 {
		pc.CorridorRadius = cfg.CorridorRadius
	}
	if cfg.ForceMin != nil {
		pc.ForceMin = *cfg.ForceMin
	}
	if cfg.ForceMax != 0 {
		pc.ForceMax = cfg.ForceMax
	}
	if cfg.ConInc != nil {
		pc.ConInc = *cfg.ConInc
	}
	if cfg.DivInc != nil {
		pc.DivInc = *cfg.DivInc
	}
	pc.Path = path
	return pc
}

// BaseConfig returns the base controller config with symmetric bounds.
func (cfg *PusherConfig) BaseConfig() (control.BaseConfig, error) {
	bc := control.DefaultBaseConfig()
	if len(cfg.ContactOffset) > 0 {
		offset, err := toPoint("contact_offset", cfg.ContactOffset)
		if err != nil {
			return control.BaseConfig{}, err
		}
		bc.ContactOffset = offset
	}
	if cfg.MaxLinearSpeed > 0 {
		v, w := cfg.MaxLinearSpeed, cfg.MaxAngularSpeed
		bc.LowerBound = control.BaseVelocity{Linear: r2.Point{X: -v, Y: -v}, Angular: -w}
		bc.UpperBound = control.BaseVelocity{Linear: r2.Point{X: v, Y: v}, Angular: w}
	}
	return bc, nil
}

// BaseObstacles converts the configured obstacle half-planes.
func (cfg *PusherConfig) BaseObstacles() ([]control.Obstacle, error) {
	obstacles := make([]control.Obstacle, 0, len(cfg.Obstacles))
	for i, oc := range cfg.Obstacles {
		n, err := toPoint(fmt.Sprintf("obstacles[%d].normal", i), oc.Normal)
		if err != nil {
			return nil, err
		}
		obstacles = append(obstacles, control.Obstacle{Normal: n, Distance: oc.Distance})
	}
	return obstacles, nil
}

func (sc SegmentConfig) build() (geometry.Segment, error) {
	v1, err := toPoint("v1", sc.V1)
	if err != nil {
		return nil, err
	}
	v2, err := toPoint("v2", sc.V2)
	if err != nil {
		return nil, err
	}
	switch sc.Type {
	case "", "line":
		if sc.Infinite {
			return geometry.NewRay(v1, v2), nil
		}
		return geometry.NewLineSegment(v1, v2), nil
	case "quad_bezier":
		if sc.Infinite {
			return nil, fmt.Errorf("bezier segments cannot be infinite")
		}
		vc, err := toPoint("vc", sc.VC)
		if err != nil {
			return nil, err
		}
		return geometry.NewQuadBezierSegment(v1, vc, v2), nil
	default:
		return nil, fmt.Errorf("unknown segment type %q", sc.Type)
	}
}

func toPoint(name string, v []float64) (r2.Point, error) {
	if len(v) != 2 {
		return r2.Point{}, fmt.Errorf("%s must have 2 elements, got %d", name, len(v))
	}
	p := r2.Point{X: v[0], Y: v[1]}
	if !geometry.IsFinite(p) {
		return r2.Point{}, fmt.Errorf("%s must be finite", name)
	}
	return p, nil
}

// resolveDataPath makes relative paths relative to VIAM_MODULE_DATA.
func resolveDataPath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
	}
	return filepath.Join(moduleDataDir, file)
}

// LoadPathFile reads a path description from a JSON file
func LoadPathFile(filePath string) (PathFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return PathFile{}, fmt.Errorf("failed to read path file: %w", err)
	}
	var pf PathFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PathFile{}, fmt.Errorf("failed to parse path JSON: %w", err)
	}
	return pf, nil
}

// SavePathFile writes a path description to a JSON file
func SavePathFile(filePath string, pf PathFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal path: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write path file: %w", err)
	}
	return nil
}

// ForceBias is the persisted zero-load reading of a force sensor.
type ForceBias struct {
	Fx      float64 `json:"fx"`
	Fy      float64 `json:"fy"`
	Fz      float64 `json:"fz"`
	Samples int     `json:"samples,omitempty"`
}

// LoadForceBias loads a bias file. A missing file yields a zero bias and
// fromFile=false.
func LoadForceBias(filePath string, logger logging.Logger) (ForceBias, bool) {
	if filePath == "" {
		return ForceBias{}, false
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if logger != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to read force bias from %s: %v, using zero bias", filePath, err)
		}
		return ForceBias{}, false
	}
	var bias ForceBias
	if err := json.Unmarshal(data, &bias); err != nil {
		if logger != nil {
			logger.Warnf("Failed to parse force bias from %s: %v, using zero bias", filePath, err)
		}
		return ForceBias{}, false
	}
	if math.IsNaN(bias.Fx+bias.Fy+bias.Fz) || math.IsInf(bias.Fx+bias.Fy+bias.Fz, 0) {
		if logger != nil {
			logger.Warnf("Force bias in %s is not finite, using zero bias", filePath)
		}
		return ForceBias{}, false
	}
	if logger != nil {
		logger.Infof("Loaded force bias from %s", filePath)
	}
	return bias, true
}

// SaveForceBias writes a bias file
func SaveForceBias(filePath string, bias ForceBias) error {
	data, err := json.MarshalIndent(bias, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal force bias: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write force bias file: %w", err)
	}
	return nil
}
