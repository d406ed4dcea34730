// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// KindPolicyContract: an override or import policy returned output that
	// breaks its contract (wrong keys or cardinality, name or order mismatch,
	// a narrowed constraint escaping the declared one) or panicked.
	KindPolicyContract Kind = iota + 1
	// KindResolution: a non-optional import could not be found.
	KindResolution
	// KindDuplicateImport: the same module name is imported twice.
	KindDuplicateImport
	// KindNamespaceCollision: overlapping exported packages among the module
	// and the imports visible to it.
	KindNamespaceCollision
	// KindInitializer: the initializer failed or panicked.
	KindInitializer
	// KindDependency: an instance in the imported closure failed.
	KindDependency
	// KindCyclicPolicy: no progress was possible; policies or initializers
	// depend on each other.
	KindCyclicPolicy
	// KindSelfImport: the module is visible to itself after reexport expansion.
	KindSelfImport
	// KindReleased: the instance was torn down by Release.
	KindReleased
	// KindUnknownHook: a declared policy or initializer is not registered.
	KindUnknownHook
)

var (
	ErrPolicyContract      = errors.New("policy contract violation")
	ErrImportNotFound      = errors.New("import not found")
	ErrDuplicateImport     = errors.New("duplicate import")
	ErrNamespaceCollision  = errors.New("namespace collision")
	ErrInitializer         = errors.New("initializer failed")
	ErrDependencyFailed    = errors.New("cannot initialize imported module")
	ErrRecursiveDependency = errors.New("invalid recursive dependency")
	ErrSelfImport          = errors.New("module imports itself")
	ErrReleased            = errors.New("module released")
	ErrUnknownHook         = errors.New("unknown hook")

	// ErrEngineClosed is returned when the engine stops before a request completes.
	ErrEngineClosed = errors.New("module engine closed")
	// ErrNotReleasable is returned by Release for definitions not marked releasable.
	ErrNotReleasable = errors.New("module is not releasable")
	// ErrReleaseInStep is returned by Release when called from a policy or initializer.
	ErrReleaseInStep = errors.New("release called from inside a resolution step")
	// ErrDuplicateHook is returned when a registry name is already taken.
	ErrDuplicateHook = errors.New("hook already registered")
)

type (
	// Kind classifies why an instance failed.
	Kind int

	// InitializationError is the failure cause recorded on an instance and
	// returned to every caller resolving it.
	//
	// errors.Is matches both the sentinel of the Kind (ErrNamespaceCollision,
	// ErrDependencyFailed, ...) and anything in the Err chain.
	InitializationError struct {
		// Module is the failing module's ID.
		Module string
		Kind   Kind
		Detail string
		// Related lists other modules involved, such as the two sides of a collision.
		Related []string
		Err     error
	}

	// HookPanicError wraps a value recovered from a panicking policy or initializer.
	HookPanicError struct {
		Hook  string
		Value any
	}
)

// String returns the kind name used in messages and metric labels.
func (k Kind) String() string {
	switch k {
	case KindPolicyContract:
		return "policy_contract"
	case KindResolution:
		return "resolution"
	case KindDuplicateImport:
		return "duplicate_import"
	case KindNamespaceCollision:
		return "namespace_collision"
	case KindInitializer:
		return "initializer"
	case KindDependency:
		return "dependency"
	case KindCyclicPolicy:
		return "cyclic_policy"
	case KindSelfImport:
		return "self_import"
	case KindReleased:
		return "released"
	case KindUnknownHook:
		return "unknown_hook"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error of k, or nil for an undefined Kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindPolicyContract:
		return ErrPolicyContract
	case KindResolution:
		return ErrImportNotFound
	case KindDuplicateImport:
		return ErrDuplicateImport
	case KindNamespaceCollision:
		return ErrNamespaceCollision
	case KindInitializer:
		return ErrInitializer
	case KindDependency:
		return ErrDependencyFailed
	case KindCyclicPolicy:
		return ErrRecursiveDependency
	case KindSelfImport:
		return ErrSelfImport
	case KindReleased:
		return ErrReleased
	case KindUnknownHook:
		return ErrUnknownHook
	default:
		return nil
	}
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s: ", e.Module)
	if s := e.Kind.Sentinel(); s != nil {
		b.WriteString(s.Error())
	} else {
		b.WriteString("initialization failed")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the Kind sentinel and the cause.
func (e *InitializationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Error implements the error interface.
func (e *HookPanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Hook, e.Value)
}

// KindOf returns the Kind of the first *InitializationError in err's chain, or 0.
func KindOf(err error) Kind {
	var ie *InitializationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

// safeCall runs a hook, converting a panic into *HookPanicError.
func safeCall(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookPanicError{Hook: hook, Value: r}
		}
	}()
	return fn()
}
