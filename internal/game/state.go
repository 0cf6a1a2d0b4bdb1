package game

import (
	"errors"
	"fmt"

	"circuitgrid/internal/levels"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateCompleting
	StateAdvancing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateCompleting:
		return "completing"
	case StateAdvancing:
		return "advancing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSuperseded is delivered to a load that a newer request replaced
	// before it could take effect.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrLevelOver refuses a click that was queued before the level was
	// completed or abandoned.
	ErrLevelOver = errors.New("level is no longer in play")
)

// TransitionError rejects a request that the current state does not allow.
// The controller is left exactly as it was.
type TransitionError struct {
	Op     string
	State  State
	Level  int
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Level > 0 {
		return fmt.Sprintf("%s %s while %s: %s", e.Op, levels.Address(e.Level), e.State, e.Reason)
	}
	return fmt.Sprintf("%s while %s: %s", e.Op, e.State, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
