package control

// State is the phase of the push controller's control law.
type State int

const (
	// StateSeeking: contact has never been made; follow the path.
	StateSeeking State = iota
	// StateTracking: in contact with force inside the thresholds.
	StateTracking
	// StateRecovering: contact was made before but force is now too low.
	StateRecovering
	// StateDiverging: force is above the upper threshold.
	StateDiverging
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateTracking:
		return "tracking"
	case StateRecovering:
		return "recovering"
	case StateDiverging:
		return "diverging"
	default:
		return "unknown"
	}
}

// nextState is the transition function of the controller. firstContact is
// the value before this tick.
func nextState(firstContact bool, forceNorm, forceMin, forceMax float64) State {
	switch {
	case !firstContact && forceNorm < forceMin:
		return StateSeeking
	case forceNorm < forceMin:
		return StateRecovering
	case forceNorm > forceMax:
		return StateDiverging
	default:
		return StateTracking
	}
}
