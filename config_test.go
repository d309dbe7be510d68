package force_push

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"force_push/control"
	"force_push/geometry"
)

func floatPtr(v float64) *float64 {
	return &v
}

func lineConfig() *PusherConfig {
	return &PusherConfig{
		Speed:  0.1,
		KTheta: floatPtr(0.3),
		KY:     floatPtr(0.3),
		Segments: []SegmentConfig{
			{V1: []float64{0, 0}, V2: []float64{1, 0}, Infinite: true},
		},
	}
}

func TestPusherConfigValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := lineConfig()
		deps, optional, err := cfg.Validate("test")
		require.NoError(t, err)
		assert.Empty(t, deps)
		assert.Empty(t, optional)

		assert.Equal(t, control.DefaultConInc, *cfg.ConInc)
		assert.Equal(t, control.DefaultDivInc, *cfg.DivInc)
		assert.Equal(t, control.DefaultForceMax, cfg.ForceMax)
		assert.Equal(t, float64(defaultRateHz), cfg.RateHz)
		assert.Equal(t, defaultKOmega, cfg.KOmega)
		assert.Equal(t, defaultFilterTimeConstant, cfg.FilterTimeConstant)
		assert.Equal(t, cfg.ForceMax, cfg.AdmittanceForceMax)
	})

	t.Run("returns hardware dependencies", func(t *testing.T) {
		cfg := lineConfig()
		cfg.Base = "base"
		cfg.PositionSensor = "pose"
		cfg.ForceSensor = "ft"
		deps, _, err := cfg.Validate("test")
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "pose", "ft"}, deps)
		assert.True(t, cfg.HasHardware())
	})

	tests := []struct {
		name   string
		modify func(*PusherConfig)
	}{
		{"zero speed", func(c *PusherConfig) { c.Speed = 0 }},
		{"missing k_theta", func(c *PusherConfig) { c.KTheta = nil }},
		{"missing k_y", func(c *PusherConfig) { c.KY = nil }},
		{"no path", func(c *PusherConfig) { c.Segments = nil }},
		{"segments and path file", func(c *PusherConfig) { c.PathFile = "path.json" }},
		{"partial hardware", func(c *PusherConfig) { c.Base = "base" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := lineConfig()
			tt.modify(cfg)
			_, _, err := cfg.Validate("test")
			assert.Error(t, err)
		})
	}
}

func TestPushConfigMapping(t *testing.T) {
	cfg := lineConfig()
	forceMin := 0.0
	cfg.ForceMin = &forceMin
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)

	path, err := cfg.LoadPath(logging.NewTestLogger(t))
	require.NoError(t, err)
	pc := cfg.PushConfig(path)
	assert.Equal(t, 0.0, pc.ForceMin)
	assert.True(t, math.IsInf(pc.CorridorRadius, 1))
	require.NoError(t, pc.Validate())

	cfg.CorridorRadius = 0.2
	assert.Equal(t, 0.2, cfg.PushConfig(path).CorridorRadius)
}

func TestPushConfigKeepsExplicitZeros(t *testing.T) {
	cfg := lineConfig()
	cfg.KTheta = floatPtr(0)
	cfg.KY = floatPtr(0)
	cfg.ConInc = floatPtr(0)
	cfg.DivInc = floatPtr(0)
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)

	path, err := cfg.LoadPath(logging.NewTestLogger(t))
	require.NoError(t, err)
	pc := cfg.PushConfig(path)
	assert.Equal(t, 0.0, pc.KTheta)
	assert.Equal(t, 0.0, pc.KY)
	assert.Equal(t, 0.0, pc.ConInc)
	assert.Equal(t, 0.0, pc.DivInc)
	require.NoError(t, pc.Validate())
}

func TestPusherConfigGainsFromJSON(t *testing.T) {
	var cfg PusherConfig
	require.NoError(t, json.Unmarshal([]byte(`{
		"speed": 0.1,
		"k_theta": 0,
		"k_y": 0.5,
		"con_inc": 0,
		"segments": [{"v1": [0, 0], "v2": [1, 0], "infinite": true}]
	}`), &cfg))
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *cfg.KTheta)
	assert.Equal(t, 0.5, *cfg.KY)
	assert.Equal(t, 0.0, *cfg.ConInc)
	assert.Equal(t, control.DefaultDivInc, *cfg.DivInc)

	var missing PusherConfig
	require.NoError(t, json.Unmarshal([]byte(`{
		"speed": 0.1,
		"segments": [{"v1": [0, 0], "v2": [1, 0], "infinite": true}]
	}`), &missing))
	_, _, err = missing.Validate("test")
	assert.ErrorContains(t, err, "k_theta and k_y are required")
}

func TestLoadPath(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("inline segments with origin", func(t *testing.T) {
		cfg := &PusherConfig{
			Speed:  0.1,
			Origin: []float64{1, 1},
			Segments: []SegmentConfig{
				{V1: []float64{0, 0}, V2: []float64{1, 0}},
				{Type: "quad_bezier", V1: []float64{1, 0}, VC: []float64{2, 0}, V2: []float64{2, 1}},
				{V1: []float64{2, 1}, V2: []float64{2, 2}, Infinite: true},
			},
		}
		path, err := cfg.LoadPath(logger)
		require.NoError(t, err)
		assert.Equal(t, r2.Point{X: 1, Y: 1}, path.Origin())
		require.Len(t, path.Segments(), 3)
		assert.IsType(t, geometry.QuadBezierSegment{}, path.Segments()[1])
		assert.True(t, path.Contiguous(contiguityTolerance))

		dir, offset := path.ComputeDirectionAndOffset(r2.Point{X: 3, Y: 5})
		assert.InDelta(t, 0, dir.X, 1e-9)
		assert.InDelta(t, 1, dir.Y, 1e-9)
		assert.InDelta(t, 0, offset, 1e-9)
	})

	t.Run("path file relative to module data", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("VIAM_MODULE_DATA", dir)
		err := SavePathFile(filepath.Join(dir, "route.json"), PathFile{
			Origin:   []float64{0, 2},
			Segments: []SegmentConfig{{V1: []float64{0, 0}, V2: []float64{0, 1}, Infinite: true}},
		})
		require.NoError(t, err)

		cfg := &PusherConfig{Speed: 0.1, KTheta: floatPtr(0.3), KY: floatPtr(0.3), PathFile: "route.json"}
		_, _, err = cfg.Validate("test")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "route.json"), cfg.PathFile)

		path, err := cfg.LoadPath(logger)
		require.NoError(t, err)
		assert.Equal(t, r2.Point{X: 0, Y: 2}, path.Origin())
	})

	t.Run("missing path file", func(t *testing.T) {
		cfg := &PusherConfig{Speed: 0.1, PathFile: filepath.Join(t.TempDir(), "missing.json")}
		_, err := cfg.LoadPath(logger)
		assert.Error(t, err)
	})

	t.Run("infinite segment not last", func(t *testing.T) {
		cfg := &PusherConfig{
			Speed: 0.1,
			Segments: []SegmentConfig{
				{V1: []float64{0, 0}, V2: []float64{1, 0}, Infinite: true},
				{V1: []float64{1, 0}, V2: []float64{2, 0}},
			},
		}
		_, err := cfg.LoadPath(logger)
		assert.True(t, errors.Is(err, geometry.ErrInfiniteNotLast))
	})

	badSegments := map[string]SegmentConfig{
		"unknown type":      {Type: "spline", V1: []float64{0, 0}, V2: []float64{1, 0}},
		"short vertex":      {V1: []float64{0}, V2: []float64{1, 0}},
		"infinite bezier":   {Type: "quad_bezier", V1: []float64{0, 0}, VC: []float64{1, 0}, V2: []float64{1, 1}, Infinite: true},
		"bezier no control": {Type: "quad_bezier", V1: []float64{0, 0}, V2: []float64{1, 1}},
		"non-finite":        {V1: []float64{math.NaN(), 0}, V2: []float64{1, 0}},
	}
	for name, sc := range badSegments {
		t.Run(name, func(t *testing.T) {
			cfg := &PusherConfig{Speed: 0.1, Segments: []SegmentConfig{sc}}
			_, err := cfg.LoadPath(logger)
			assert.Error(t, err)
		})
	}
}

func TestBaseConfigFromPusherConfig(t *testing.T) {
	cfg := lineConfig()
	cfg.ContactOffset = []float64{0.4, 0}
	cfg.MaxLinearSpeed = 0.2
	cfg.MaxAngularSpeed = 0.3
	cfg.Obstacles = []ObstacleConfig{{Normal: []float64{0, 1}, Distance: 0.05}}

	bc, err := cfg.BaseConfig()
	require.NoError(t, err)
	assert.Equal(t, r2.Point{X: 0.4}, bc.ContactOffset)
	assert.Equal(t, 0.2, bc.UpperBound.Linear.X)
	assert.Equal(t, -0.3, bc.LowerBound.Angular)

	obstacles, err := cfg.BaseObstacles()
	require.NoError(t, err)
	assert.Equal(t, []control.Obstacle{{Normal: r2.Point{Y: 1}, Distance: 0.05}}, obstacles)

	cfg.ContactOffset = []float64{1, 2, 3}
	_, err = cfg.BaseConfig()
	assert.Error(t, err)
}

func TestLoadForceBias(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns fromFile=true when file exists", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "bias.json")
		want := ForceBias{Fx: 0.5, Fy: -1.25, Fz: 3, Samples: 20}
		require.NoError(t, SaveForceBias(file, want))

		bias, fromFile := LoadForceBias(file, logger)
		assert.True(t, fromFile)
		assert.Equal(t, want, bias)
	})

	t.Run("returns fromFile=false when no file configured", func(t *testing.T) {
		bias, fromFile := LoadForceBias("", logger)
		assert.False(t, fromFile)
		assert.Equal(t, ForceBias{}, bias)
	})

	t.Run("returns fromFile=false when file doesn't exist", func(t *testing.T) {
		bias, fromFile := LoadForceBias("/nonexistent/path/bias.json", logger)
		assert.False(t, fromFile)
		assert.Equal(t, ForceBias{}, bias)
	})
}

func TestResolveDataPath(t *testing.T) {
	t.Setenv("VIAM_MODULE_DATA", "")
	assert.Equal(t, "/tmp/x.json", resolveDataPath("x.json"))
	assert.Equal(t, "/abs/x.json", resolveDataPath("/abs/x.json"))

	t.Setenv("VIAM_MODULE_DATA", "/data")
	assert.Equal(t, "/data/x.json", resolveDataPath("x.json"))
}
