package workflow

import (
	"fmt"
	"time"
)

// StepState is the state of one step in a workflow.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepDisabled  StepState = "disabled"
)

// Event is the last user-visible thing that happened to a workflow.
type Event string

const (
	EventEmpty    Event = "empty"
	EventClick    Event = "click"
	EventComplete Event = "complete"
)

// Transitions a single step may take through Click and Complete. JumpTo and
// Reset rewrite the whole sequence and are not checked against this table.
var allowedTransitions = map[StepState]map[StepState]struct{}{
	StepPending: {
		StepRunning: {},
	},
	StepRunning: {
		StepCompleted: {},
		StepPending:   {},
	},
	StepDisabled: {
		StepPending: {},
	},
	StepCompleted: {},
}

// ValidateStepState returns an error for states outside the FSM.
func ValidateStepState(state StepState) error {
	if _, ok := allowedTransitions[state]; !ok {
		return fmt.Errorf("invalid step state: %q", state)
	}
	return nil
}

// ValidateTransition reports whether a step may move from one state to another.
func ValidateTransition(from, to StepState) error {
	if err := ValidateStepState(from); err != nil {
		return err
	}
	if err := ValidateStepState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid step transition: %s -> %s", from, to)
	}
	return nil
}

// State is a copy of a workflow's state, safe to render.
type State struct {
	Steps     []StepState `json:"steps"`
	Current   int         `json:"current"`
	LastEvent Event       `json:"lastEvent"`
	Result    any         `json:"result,omitempty"`
	LastError string      `json:"lastError,omitempty"`
}

// Validate checks the shape every reachable state has: a run of completed
// steps, at most one pending or running step, then only disabled steps.
func (s State) Validate() error {
	phase := 0 // 0: completed prefix, 1: active step seen, 2: disabled suffix
	for i, st := range s.Steps {
		switch st {
		case StepCompleted:
			if phase > 0 {
				return fmt.Errorf("step %d is completed after an unfinished step", i)
			}
		case StepPending, StepRunning:
			if phase > 0 {
				return fmt.Errorf("step %d is %s after an unfinished step", i, st)
			}
			phase = 1
		case StepDisabled:
			phase = 2
		default:
			return fmt.Errorf("step %d has invalid state %q", i, st)
		}
	}
	if len(s.Steps) > 0 && (s.Current < 0 || s.Current >= len(s.Steps)) {
		return fmt.Errorf("current index %d out of range", s.Current)
	}
	return nil
}

func (s State) clone() State {
	s.Steps = append([]StepState(nil), s.Steps...)
	return s
}

// Transition records one step changing state.
type Transition struct {
	Step  int       `json:"step"`
	Name  string    `json:"name"`
	From  StepState `json:"from"`
	To    StepState `json:"to"`
	Op    string    `json:"op"` // click, complete, jump or reset
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}
