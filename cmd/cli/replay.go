package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"

	forcePush "force_push"
	"force_push/control"
)

// tick is one line of a trace. Force is in the sensor frame.
type tick struct {
	DT    float64 `json:"dt"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	Fx    float64 `json:"fx"`
	Fy    float64 `json:"fy"`
}

type output struct {
	Tick           int         `json:"tick"`
	State          string      `json:"state,omitempty"`
	Velocity       []float64   `json:"velocity,omitempty"`
	BaseVelocity   []float64   `json:"base_velocity,omitempty"`
	LinearMmPerS   *[3]float64 `json:"linear_mm_per_sec,omitempty"`
	AngularDegPerS float64     `json:"angular_deg_per_sec,omitempty"`
	Error          string      `json:"error,omitempty"`
}

type replayStats struct {
	ticks  int
	failed int
	state  control.State
}

func loadConfig(path string) (*forcePush.PusherConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg forcePush.PusherConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// replay feeds every trace line through the pipeline. A failed tick is
// reported and leaves the base stopped for that tick; replay continues.
func replay(p *forcePush.Pipeline, trace io.Reader, w io.Writer, logger logging.Logger) (replayStats, error) {
	var stats replayStats
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(trace)

	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t tick
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return stats, fmt.Errorf("trace line %d: %w", line, err)
		}

		out := output{Tick: stats.ticks}
		pose := forcePush.Pose{Position: r2.Point{X: t.X, Y: t.Y}, Theta: t.Theta}
		cmd, err := p.Step(pose, r2.Point{X: t.Fx, Y: t.Fy}, t.DT)
		if err != nil {
			logger.Warnf("tick %d: %v", stats.ticks, err)
			stats.failed++
			out.Error = err.Error()
		} else {
			linear, angular := forcePush.BaseFrameVelocity(cmd.Base, t.Theta)
			out.State = cmd.State.String()
			out.Velocity = []float64{cmd.Push.X, cmd.Push.Y}
			out.BaseVelocity = []float64{cmd.Base.Linear.X, cmd.Base.Linear.Y, cmd.Base.Angular}
			out.LinearMmPerS = &[3]float64{linear.X, linear.Y, linear.Z}
			out.AngularDegPerS = angular.Z
			stats.state = cmd.State
		}
		if err := enc.Encode(out); err != nil {
			return stats, err
		}
		stats.ticks++
	}
	return stats, scanner.Err()
}
