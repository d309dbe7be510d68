package control

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// WrenchEstimator removes a constant bias from raw force samples and
// smooths them with a first-order low-pass filter.
type WrenchEstimator struct {
	bias         r2.Point
	timeConstant float64

	filtered    r2.Point
	initialized bool
}

// NewWrenchEstimator returns an estimator with the given bias and filter
// time constant in seconds. A time constant of zero disables filtering.
func NewWrenchEstimator(bias r2.Point, timeConstant float64) (*WrenchEstimator, error) {
	if timeConstant < 0 || math.IsNaN(timeConstant) || math.IsInf(timeConstant, 0) {
		return nil, invalidConfig("filter time constant must be finite and non-negative, got %v", timeConstant)
	}
	return &WrenchEstimator{bias: bias, timeConstant: timeConstant}, nil
}

// Update feeds a raw sample taken dt seconds after the previous one and
// returns the filtered force. The first sample initializes the filter.
func (w *WrenchEstimator) Update(raw r2.Point, dt float64) r2.Point {
	f := raw.Sub(w.bias)
	if !w.initialized || w.timeConstant == 0 {
		w.filtered = f
		w.initialized = true
		return w.filtered
	}
	alpha := dt / (w.timeConstant + dt)
	w.filtered = w.filtered.Add(f.Sub(w.filtered).Mul(alpha))
	return w.filtered
}

// Filtered returns the last filtered force.
func (w *WrenchEstimator) Filtered() r2.Point {
	return w.filtered
}

func (w *WrenchEstimator) Bias() r2.Point {
	return w.bias
}

// SetBias replaces the bias and restarts the filter.
func (w *WrenchEstimator) SetBias(bias r2.Point) {
	w.bias = bias
	w.Reset()
}

// Reset clears the filter state but keeps the bias.
func (w *WrenchEstimator) Reset() {
	w.filtered = r2.Point{}
	w.initialized = false
}

// EstimateBias averages samples taken while nothing is in contact.
func EstimateBias(samples []r2.Point) (r2.Point, error) {
	if len(samples) == 0 {
		return r2.Point{}, errors.New("no samples to estimate bias from")
	}
	var sum r2.Point
	for _, s := range samples {
		sum = sum.Add(s)
	}
	n := float64(len(samples))
	return r2.Point{X: sum.X / n, Y: sum.Y / n}, nil
}
