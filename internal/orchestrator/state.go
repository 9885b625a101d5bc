package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// State is the lifecycle state of a registered module.
type State string

const (
	Idle       State = "idle"
	Processing State = "processing"
	Ready      State = "ready"
	Error      State = "error"
)

// transitions lists the allowed moves out of each state. Error only leads
// back to Idle.
var transitions = map[State][]State{
	Idle:       {Processing, Error, Idle},
	Processing: {Ready, Error, Idle},
	Ready:      {Processing, Idle, Error},
	Error:      {Idle},
}

// CanTransition reports whether a module may move from s to to.
func (s State) CanTransition(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// ParseState accepts one of the four state names.
func ParseState(name string) (State, error) {
	s := State(name)
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("module state %q: %w", name, errs.ErrInvalidArgument)
	}
	return s, nil
}

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
