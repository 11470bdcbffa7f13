package engine

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateRunning
	StateFinalizing
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateHalted; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
