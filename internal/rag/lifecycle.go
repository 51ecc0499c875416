package rag

import (
	"errors"
	"fmt"

	"persona-rag/internal/models"
)

// State of a persona pipeline
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives a pipeline between states
type Event int

const (
	// SetupSucceeded follows a completed build or load
	SetupSucceeded Event = iota
	// SetupFailed follows a build or load that returned an error
	SetupFailed
	// Queried is a question arriving
	Queried
)

func (e Event) String() string {
	switch e {
	case SetupSucceeded:
		return "setup_succeeded"
	case SetupFailed:
		return "setup_failed"
	case Queried:
		return "queried"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition returns the state after event. A query in Uninitialized is
// rejected with a not initialized error and leaves the state unchanged.
func Transition(s State, e Event) (State, error) {
	switch s {
	case Uninitialized:
		switch e {
		case SetupSucceeded:
			return Ready, nil
		case SetupFailed:
			return Uninitialized, nil
		case Queried:
			return Uninitialized, models.NewError(models.KindNotInitialized, "rag.Transition", errors.New("pipeline has not been set up"))
		}
	case Ready:
		switch e {
		case SetupSucceeded, SetupFailed, Queried:
			return Ready, nil
		}
	}
	return s, models.NewError(models.KindInternal, "rag.Transition", fmt.Errorf("no transition from %s on %s", s, e))
}
