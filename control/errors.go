// Package control converts sensed contact force and position into pushing
// velocity commands for a point pusher following a SegmentPath, and maps
// those commands onto a mobile base.
package control

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is wrapped by every construction-time failure.
	ErrInvalidConfig = errors.New("invalid controller config")
	// ErrZeroForce is returned when a pushing angle must be computed from a
	// force with no magnitude.
	ErrZeroForce = errors.New("force has zero magnitude while tracking")
	// ErrNonFinite is returned for NaN or infinite inputs, or a negative dt.
	ErrNonFinite = errors.New("non-finite controller input")
	// ErrZeroPathDirection is returned when the closest path segment has no
	// direction.
	ErrZeroPathDirection = errors.New("path direction is zero at this position")
	// ErrInfeasible is returned when the base velocity problem has no solution.
	ErrInfeasible = errors.New("base velocity constraints are infeasible")
)

func invalidConfig(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}
