package control

import (
	"math"

	"github.com/golang/geo/r2"

	"force_push/geometry"
)

// AdmittanceController adds a velocity away from the contact force once the
// force exceeds ForceMax, proportional to the excess.
type AdmittanceController struct {
	Kf       float64
	ForceMax float64
	// VelMax caps the admittance velocity; zero means no cap.
	VelMax float64
}

// NewAdmittanceController validates the gains.
func NewAdmittanceController(kf, forceMax, velMax float64) (*AdmittanceController, error) {
	if kf < 0 || math.IsNaN(kf) || math.IsInf(kf, 0) {
		return nil, invalidConfig("k_f must be finite and non-negative, got %v", kf)
	}
	if forceMax < 0 || math.IsNaN(forceMax) {
		return nil, invalidConfig("admittance force max must be non-negative, got %v", forceMax)
	}
	if velMax < 0 || math.IsNaN(velMax) {
		return nil, invalidConfig("admittance velocity max must be non-negative, got %v", velMax)
	}
	return &AdmittanceController{Kf: kf, ForceMax: forceMax, VelMax: velMax}, nil
}

// Update returns the velocity to add to the pushing command.
func (a *AdmittanceController) Update(force r2.Point) r2.Point {
	fNorm := force.Norm()
	if a.Kf == 0 || fNorm <= a.ForceMax {
		return r2.Point{}
	}
	fdir, _ := geometry.Unit(force)
	v := fdir.Mul(-a.Kf * (fNorm - a.ForceMax))
	if a.VelMax > 0 && v.Norm() > a.VelMax {
		v = fdir.Mul(-a.VelMax)
	}
	return v
}
