// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Runner. Transitions only move forward:
// created, starting, running, stopping, then stopped or failed.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateStopped is terminal: the worker returned cleanly or was stopped.
	StateStopped
	// StateFailed is terminal: the worker could not start or returned an error.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

var stateNames = [...]string{
	StateCreated:  "created",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s.Validate() != nil {
		return "unknown"
	}
	return stateNames[s]
}

// Validate returns nil for a defined state, or an error wrapping ErrInvalidState.
func (s State) Validate() error {
	if s < StateCreated || int(s) >= len(stateNames) {
		return fmt.Errorf("%w: %d", ErrInvalidState, int32(s))
	}
	return nil
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s >= StateStopped && s.Validate() == nil
}
