// SPDX-License-Identifier: MPL-2.0

package modsys

// States only move forward, except that any state may move to StateError.
const (
	StateNew State = iota
	StateFoundDirectImports
	StateFoundAllImports
	StateValidated
	StateExecuteInitializer
	StateInitializerComplete
	StateReady
	StateError
)

// State is an instance's position in the resolution lifecycle.
type State int32

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateFoundDirectImports:
		return "found_direct_imports"
	case StateFoundAllImports:
		return "found_all_imports"
	case StateValidated:
		return "validated"
	case StateExecuteInitializer:
		return "execute_initializer"
	case StateInitializerComplete:
		return "initializer_complete"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether resolution of the instance has finished.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateError
}

// AtLeast reports whether s has progressed to min without failing.
func (s State) AtLeast(min State) bool {
	return s != StateError && s >= min
}
