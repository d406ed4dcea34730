// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"context"
	"fmt"
	"sync"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/semver"
)

type (
	// OverridePolicy narrows the version constraints of a definition's imports
	// before they are resolved. The result must have exactly the keys of
	// constraints, and every narrowed constraint must lie within the declared one.
	//
	// ctx carries the engine's drain capability, as for ImportPolicy.
	OverridePolicy interface {
		Narrow(ctx context.Context, def *moddef.Definition, constraints map[string]semver.Constraint) (map[string]semver.Constraint, error)
	}

	// ImportPolicy resolves a definition's imports. The result has one entry
	// per declared import, in declaration order, each either nil (allowed only
	// for optional imports) or a definition with the declared name whose
	// version satisfies the narrowed constraint.
	//
	// ctx carries the engine's drain capability: calling Engine.Resolve with it
	// resolves other modules inline. It must not be used from other goroutines.
	ImportPolicy interface {
		Resolve(ctx context.Context, def *moddef.Definition, constraints map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error)
	}

	// Initializer runs user code once a module's imports are validated.
	// Release is called when an instance whose Initialize succeeded is torn
	// down; its error is logged.
	Initializer interface {
		Initialize(ctx context.Context, m *Module) error
		Release(m *Module) error
	}

	// OverridePolicyFunc adapts a function to OverridePolicy.
	OverridePolicyFunc func(ctx context.Context, def *moddef.Definition, constraints map[string]semver.Constraint) (map[string]semver.Constraint, error)

	// ImportPolicyFunc adapts a function to ImportPolicy.
	ImportPolicyFunc func(ctx context.Context, def *moddef.Definition, constraints map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error)

	// Factories receive the loader of the module declaring the hook. The
	// loader's imports are not installed yet, so it serves only the module's
	// own content.
	OverridePolicyFactory func(*Loader) (OverridePolicy, error)
	ImportPolicyFactory   func(*Loader) (ImportPolicy, error)
	InitializerFactory    func(*Loader) (Initializer, error)

	// Registry maps the hook names definitions declare to factories.
	Registry struct {
		mu           sync.RWMutex
		overrides    map[string]OverridePolicyFactory
		imports      map[string]ImportPolicyFactory
		initializers map[string]InitializerFactory
	}

	// DefaultImportPolicy finds each import in the definition's repository.
	DefaultImportPolicy struct{}

	// IdentityOverridePolicy returns the constraints unchanged.
	IdentityOverridePolicy struct{}
)

// Narrow calls f.
func (f OverridePolicyFunc) Narrow(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint) (map[string]semver.Constraint, error) {
	return f(ctx, def, c)
}

// Resolve calls f.
func (f ImportPolicyFunc) Resolve(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error) {
	return f(ctx, def, c, fallback)
}

// Resolve implements ImportPolicy. A definition without a repository
// resolves every import to nil.
func (DefaultImportPolicy) Resolve(_ context.Context, def *moddef.Definition, constraints map[string]semver.Constraint, _ ImportPolicy) ([]*moddef.Definition, error) {
	out := make([]*moddef.Definition, len(def.Imports))
	if def.Repository == nil {
		return out, nil
	}
	for i, imp := range def.Imports {
		c, ok := constraints[imp.Name]
		if !ok {
			c = imp.Constraint
		}
		found, err := def.Repository.Find(imp.Name, c)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", imp.Name, err)
		}
		out[i] = found
	}
	return out, nil
}

// Narrow implements OverridePolicy.
func (IdentityOverridePolicy) Narrow(_ context.Context, _ *moddef.Definition, c map[string]semver.Constraint) (map[string]semver.Constraint, error) {
	return c, nil
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		overrides:    make(map[string]OverridePolicyFactory),
		imports:      make(map[string]ImportPolicyFactory),
		initializers: make(map[string]InitializerFactory),
	}
}

// RegisterOverridePolicy adds the override policy factory for name.
func (r *Registry) RegisterOverridePolicy(name string, f OverridePolicyFactory) error {
	return register(&r.mu, r.overrides, "override policy", name, f)
}

// RegisterImportPolicy adds the import policy factory for name.
func (r *Registry) RegisterImportPolicy(name string, f ImportPolicyFactory) error {
	return register(&r.mu, r.imports, "import policy", name, f)
}

// RegisterInitializer adds the initializer factory for name. Names are
// scoped per hook type; registering a name twice returns ErrDuplicateHook.
func (r *Registry) RegisterInitializer(name string, f InitializerFactory) error {
	return register(&r.mu, r.initializers, "initializer", name, f)
}

func register[F any](mu *sync.RWMutex, m map[string]F, what, name string, f F) error {
	if name == "" {
		return fmt.Errorf("register %s: empty name", what)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := m[name]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateHook, what, name)
	}
	m[name] = f
	return nil
}

func lookup[F any](mu *sync.RWMutex, m map[string]F, what, name string) (F, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s %q is not registered", ErrUnknownHook, what, name)
	}
	return f, nil
}

func (r *Registry) overridePolicy(name string, l *Loader) (OverridePolicy, error) {
	f, err := lookup(&r.mu, r.overrides, "override policy", name)
	if err != nil {
		return nil, err
	}
	return f(l)
}

func (r *Registry) importPolicy(name string, l *Loader) (ImportPolicy, error) {
	f, err := lookup(&r.mu, r.imports, "import policy", name)
	if err != nil {
		return nil, err
	}
	return f(l)
}

func (r *Registry) initializer(name string, l *Loader) (Initializer, error) {
	f, err := lookup(&r.mu, r.initializers, "initializer", name)
	if err != nil {
		return nil, err
	}
	return f(l)
}
