// Package gates runs an asset through the ordered quality gates and folds the
// executed ones into a verdict.
package gates

const (
	GateTechnical = "technical"
	GateVisual    = "visual"
	GateIdentity  = "identity"
	GateStyle     = "style"
)

type State int

const (
	StateTechnical State = iota
	StateVisual
	StateIdentity
	StateStyle
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateTechnical:
		return GateTechnical
	case StateVisual:
		return GateVisual
	case StateIdentity:
		return GateIdentity
	case StateStyle:
		return GateStyle
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transition is the only place where the order of the gates is decided. A
// failed outcome ends the run, so later gates never produce a result.
func transition(s State, o Outcome) State {
	if s.Terminal() {
		return s
	}
	if _, failed := o.(Failed); failed {
		return StateFailed
	}
	switch s {
	case StateTechnical:
		return StateVisual
	case StateVisual:
		return StateIdentity
	case StateIdentity:
		return StateStyle
	}
	return StateDone
}
