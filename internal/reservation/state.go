package reservation

// State is the lifecycle state of a stock reservation. active is the only
// non-terminal state.
type State string

const (
	StateActive    State = "active"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Event is a lifecycle trigger applied to a reservation
type Event string

const (
	EventConfirm Event = "confirm"
	EventCancel  Event = "cancel"
	EventExpire  Event = "expire"
)

// transitions is the single source of truth for legal state changes. Every
// mutation path consults it; there are no per-operation guard checks.
var transitions = map[State]map[Event]State{
	StateActive: {
		EventConfirm: StateConfirmed,
		EventCancel:  StateCancelled,
		EventExpire:  StateExpired,
	},
}

// Next returns the target state for applying ev in state from, and whether
// the transition is legal.
func Next(from State, ev Event) (State, bool) {
	targets, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := targets[ev]
	return to, ok
}

// IsTerminal reports whether no further transitions can leave s
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// String representation (for logging)
func (s State) String() string {
	return string(s)
}
