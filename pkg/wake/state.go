package wake

// Phase is where the wake flow is, without the cancel flag.
type Phase uint32

const (
	PhaseDisarmed Phase = iota + 1
	PhaseWaiting
	PhaseArmed
	PhaseCompleting
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisarmed:
		return "Disarmed"
	case PhaseWaiting:
		return "Waiting"
	case PhaseArmed:
		return "Armed"
	case PhaseCompleting:
		return "Completing"
	default:
		return "Unknown"
	}
}

// State packs a Phase with a cancel-requested flag so both change in one
// atomic operation.
type State uint32

const cancelBit State = 1

const (
	Disarmed         = State(PhaseDisarmed) << 1
	Waiting          = State(PhaseWaiting) << 1
	WaitingCancelled = Waiting | cancelBit
	Armed            = State(PhaseArmed) << 1
	ArmingCancelled  = Armed | cancelBit
	Completing       = State(PhaseCompleting) << 1
)

// Phase returns the phase part of s.
func (s State) Phase() Phase {
	return Phase(s >> 1)
}

// Cancelled reports whether cancellation was requested.
func (s State) Cancelled() bool {
	return s&cancelBit != 0
}

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case WaitingCancelled:
		return "WaitingCancelled"
	case ArmingCancelled:
		return "ArmingCancelled"
	}
	if s.Cancelled() {
		return "Unknown"
	}
	return s.Phase().String()
}
