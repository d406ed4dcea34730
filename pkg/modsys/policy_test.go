// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/semver"
)

type recordingInitializer struct {
	mu       sync.Mutex
	inits    []string
	releases []string
	onInit   func(ctx context.Context, m *Module) error
}

func (r *recordingInitializer) factory(*Loader) (Initializer, error) { return r, nil }

func (r *recordingInitializer) Initialize(ctx context.Context, m *Module) error {
	r.mu.Lock()
	r.inits = append(r.inits, m.Name())
	r.mu.Unlock()
	if r.onInit != nil {
		return r.onInit(ctx, m)
	}
	return nil
}

func (r *recordingInitializer) Release(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, m.Name())
	return nil
}

func (r *recordingInitializer) calls() (inits, releases []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.inits), slices.Clone(r.releases)
}

func overridePolicy(name string) defOption {
	return func(d *moddef.Definition) { d.OverridePolicy = name }
}

func importPolicy(name string) defOption {
	return func(d *moddef.Definition) { d.ImportPolicy = name }
}

func initializer(name string) defOption {
	return func(d *moddef.Definition) { d.Initializer = name }
}

func registerOverride(t *testing.T, reg *Registry, name string, f OverridePolicyFunc) {
	t.Helper()
	err := reg.RegisterOverridePolicy(name, func(*Loader) (OverridePolicy, error) { return f, nil })
	if err != nil {
		t.Fatalf("RegisterOverridePolicy(%q) unexpected error: %v", name, err)
	}
}

func registerImport(t *testing.T, reg *Registry, name string, f ImportPolicyFunc) {
	t.Helper()
	err := reg.RegisterImportPolicy(name, func(*Loader) (ImportPolicy, error) { return f, nil })
	if err != nil {
		t.Fatalf("RegisterImportPolicy(%q) unexpected error: %v", name, err)
	}
}

func TestOverridePolicy_Narrowing(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	registerOverride(t, reg, "pin-1.0", func(_ context.Context, _ *moddef.Definition, c map[string]semver.Constraint) (map[string]semver.Constraint, error) {
		c["util"] = semver.MustParseConstraint("~1.0.0")
		return c, nil
	})

	repo := newTestRepo(t)
	repo.add("util", "1.0.0", exports("util"))
	repo.add("util", "1.5.0", exports("util"))
	pinned := repo.add("app", "1.0.0", imports(imp("util", "^1.0.0")), overridePolicy("pin-1.0"))
	unpinned := repo.add("other", "1.0.0", imports(imp("util", "^1.0.0")))

	e := newTestEngine(t, WithRegistry(reg))

	if got := mustResolve(t, e, pinned).Instance().Imports()[0].Name(); got != "util@1.0.0" {
		t.Errorf("pinned import = %s, want util@1.0.0", got)
	}
	if got := mustResolve(t, e, unpinned).Instance().Imports()[0].Name(); got != "util@1.5.0" {
		t.Errorf("unpinned import = %s, want util@1.5.0", got)
	}
}

func TestOverridePolicy_ContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		narrow OverridePolicyFunc
	}{
		{"escape", func(_ context.Context, _ *moddef.Definition, c map[string]semver.Constraint) (map[string]semver.Constraint, error) {
			c["util"] = semver.MustParseConstraint(">=0.1.0")
			return c, nil
		}},
		{"dropped_key", func(context.Context, *moddef.Definition, map[string]semver.Constraint) (map[string]semver.Constraint, error) {
			return map[string]semver.Constraint{}, nil
		}},
		{"renamed_key", func(context.Context, *moddef.Definition, map[string]semver.Constraint) (map[string]semver.Constraint, error) {
			return map[string]semver.Constraint{"other": semver.Any()}, nil
		}},
		{"error", func(context.Context, *moddef.Definition, map[string]semver.Constraint) (map[string]semver.Constraint, error) {
			return nil, errors.New("boom")
		}},
		{"panic", func(context.Context, *moddef.Definition, map[string]semver.Constraint) (map[string]semver.Constraint, error) {
			panic("boom")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := NewRegistry()
			registerOverride(t, reg, "bad", tt.narrow)
			repo := newTestRepo(t)
			repo.add("util", "1.0.0")
			app := repo.add("app", "1.0.0", imports(imp("util", "^1.0.0")), overridePolicy("bad"))

			e := newTestEngine(t, WithRegistry(reg))
			ie := resolveFailure(t, e, app, ErrPolicyContract)
			if ie.Kind != KindPolicyContract {
				t.Errorf("Kind = %s, want %s", ie.Kind, KindPolicyContract)
			}
		})
	}
}

func TestImportPolicy_Misalignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resolve func(repo *testRepo) ImportPolicyFunc
	}{
		{"too_few", func(*testRepo) ImportPolicyFunc {
			return func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
				return nil, nil
			}
		}},
		{"wrong_name", func(repo *testRepo) ImportPolicyFunc {
			other := repo.add("other", "1.0.0")
			return func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
				return []*moddef.Definition{other}, nil
			}
		}},
		{"unsatisfied_constraint", func(repo *testRepo) ImportPolicyFunc {
			old := repo.add("util", "0.9.0")
			return func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
				return []*moddef.Definition{old}, nil
			}
		}},
		{"panic", func(*testRepo) ImportPolicyFunc {
			return func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
				panic("boom")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newTestRepo(t)
			repo.add("util", "1.0.0")
			reg := NewRegistry()
			registerImport(t, reg, "bad", tt.resolve(repo))
			app := repo.add("app", "1.0.0", imports(imp("util", "^1.0.0")), importPolicy("bad"))

			e := newTestEngine(t, WithRegistry(reg))
			resolveFailure(t, e, app, ErrPolicyContract)
		})
	}
}

func TestImportPolicy_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	registerImport(t, reg, "panics", func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
		panic("boom")
	})
	repo := newTestRepo(t)
	app := repo.add("app", "1.0.0", importPolicy("panics"))

	e := newTestEngine(t, WithRegistry(reg))
	_, err := e.Resolve(testContext(t), app)

	var hp *HookPanicError
	if !errors.As(err, &hp) {
		t.Fatalf("error = %v, want a *HookPanicError in the chain", err)
	}
	if hp.Value != "boom" {
		t.Errorf("HookPanicError.Value = %v, want boom", hp.Value)
	}
}

func TestImportPolicy_FallbackAndError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	registerImport(t, reg, "delegate", func(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error) {
		return fallback.Resolve(ctx, def, c, fallback)
	})
	sentinel := errors.New("registry offline")
	registerImport(t, reg, "offline", func(context.Context, *moddef.Definition, map[string]semver.Constraint, ImportPolicy) ([]*moddef.Definition, error) {
		return nil, sentinel
	})

	repo := newTestRepo(t)
	repo.add("util", "1.0.0")
	ok := repo.add("app", "1.0.0", imports(imp("util", "*")), importPolicy("delegate"))
	broken := repo.add("broken", "1.0.0", imports(imp("util", "*")), importPolicy("offline"))

	e := newTestEngine(t, WithRegistry(reg))
	mustResolve(t, e, ok)

	ie := resolveFailure(t, e, broken, sentinel)
	if ie.Kind != KindResolution {
		t.Errorf("Kind = %s, want %s", ie.Kind, KindResolution)
	}
}

func TestImportPolicy_InlineResolve(t *testing.T) {
	t.Parallel()

	var e *Engine
	reg := NewRegistry()
	registerImport(t, reg, "needs-peer", func(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error) {
		peer, err := moddef.Require(def.Repository, def.Attribute("peer"), semver.Any())
		if err != nil {
			return nil, err
		}
		if _, err := e.Resolve(ctx, peer); err != nil {
			return nil, err
		}
		return fallback.Resolve(ctx, def, c, fallback)
	})

	repo := newTestRepo(t)
	repo.add("tooling", "1.0.0")
	app := repo.add("app", "1.0.0", importPolicy("needs-peer"), attr("peer", "tooling"))

	e = newTestEngine(t, WithRegistry(reg))
	mustResolve(t, e, app)

	tooling := repo.Definitions()[0]
	if inst := e.Lookup(tooling); inst == nil || inst.State() != StateReady {
		t.Errorf("peer resolved inline should be READY, got %v", inst)
	}
}

func TestImportPolicy_CycleFailsBothSides(t *testing.T) {
	t.Parallel()

	var e *Engine
	reg := NewRegistry()
	registerImport(t, reg, "needs-peer", func(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint, fallback ImportPolicy) ([]*moddef.Definition, error) {
		peer, err := moddef.Require(def.Repository, def.Attribute("peer"), semver.Any())
		if err != nil {
			return nil, err
		}
		if _, err := e.Resolve(ctx, peer); err != nil {
			return nil, err
		}
		return fallback.Resolve(ctx, def, c, fallback)
	})

	repo := newTestRepo(t)
	a := repo.add("a", "1.0.0", importPolicy("needs-peer"), attr("peer", "b"))
	repo.add("b", "1.0.0", importPolicy("needs-peer"), attr("peer", "a"))

	var events eventLog
	e = newTestEngine(t, WithRegistry(reg), WithObserver(events.observe))

	ie := resolveFailure(t, e, a, ErrRecursiveDependency)
	if ie.Kind != KindCyclicPolicy {
		t.Errorf("a Kind = %s, want %s", ie.Kind, KindCyclicPolicy)
	}
	bErr := events.failure("b@1.0.0")
	if !errors.Is(bErr, ErrRecursiveDependency) {
		t.Errorf("b failure = %v, want ErrRecursiveDependency", bErr)
	}
	if KindOf(bErr) != KindCyclicPolicy {
		t.Errorf("b Kind = %s, want %s", KindOf(bErr), KindCyclicPolicy)
	}
}

// resolvePeerOverride resolves the module named by the "peer" attribute
// before returning the constraints unchanged.
func resolvePeerOverride(e **Engine) OverridePolicyFunc {
	return func(ctx context.Context, def *moddef.Definition, c map[string]semver.Constraint) (map[string]semver.Constraint, error) {
		peer, err := moddef.Require(def.Repository, def.Attribute("peer"), semver.Any())
		if err != nil {
			return nil, err
		}
		if _, err := (*e).Resolve(ctx, peer); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestOverridePolicy_InlineResolve(t *testing.T) {
	t.Parallel()

	var e *Engine
	reg := NewRegistry()
	registerOverride(t, reg, "needs-peer", resolvePeerOverride(&e))

	repo := newTestRepo(t)
	tooling := repo.add("tooling", "1.0.0")
	repo.add("util", "1.0.0")
	app := repo.add("app", "1.0.0", imports(imp("util", "^1.0.0")), overridePolicy("needs-peer"), attr("peer", "tooling"))

	e = newTestEngine(t, WithRegistry(reg))
	m := mustResolve(t, e, app)

	if inst := e.Lookup(tooling); inst == nil || inst.State() != StateReady {
		t.Errorf("peer resolved inline should be READY, got %v", inst)
	}
	if got := names(m.Instance().Imports()); !slices.Equal(got, []string{"util"}) {
		t.Errorf("imports = %v, want [util]", got)
	}
}

func TestOverridePolicy_CycleFailsBothSides(t *testing.T) {
	t.Parallel()

	var e *Engine
	reg := NewRegistry()
	registerOverride(t, reg, "needs-peer", resolvePeerOverride(&e))

	repo := newTestRepo(t)
	a := repo.add("a", "1.0.0", overridePolicy("needs-peer"), attr("peer", "b"))
	repo.add("b", "1.0.0", overridePolicy("needs-peer"), attr("peer", "a"))

	var events eventLog
	e = newTestEngine(t, WithRegistry(reg), WithObserver(events.observe))

	ie := resolveFailure(t, e, a, ErrRecursiveDependency)
	if ie.Kind != KindCyclicPolicy {
		t.Errorf("a Kind = %s, want %s", ie.Kind, KindCyclicPolicy)
	}
	bErr := events.failure("b@1.0.0")
	if !errors.Is(bErr, ErrRecursiveDependency) {
		t.Errorf("b failure = %v, want ErrRecursiveDependency", bErr)
	}
	if KindOf(bErr) != KindCyclicPolicy {
		t.Errorf("b Kind = %s, want %s", KindOf(bErr), KindCyclicPolicy)
	}
}

func TestInitializer_CycleFailsBothSides(t *testing.T) {
	t.Parallel()

	var e *Engine
	reg := NewRegistry()
	needsPeer := &recordingInitializer{onInit: func(ctx context.Context, m *Module) error {
		def := m.Definition()
		peer, err := moddef.Require(def.Repository, def.Attribute("peer"), semver.Any())
		if err != nil {
			return err
		}
		_, err = e.Resolve(ctx, peer)
		return err
	}}
	if err := reg.RegisterInitializer("needs-peer", needsPeer.factory); err != nil {
		t.Fatalf("RegisterInitializer() unexpected error: %v", err)
	}

	repo := newTestRepo(t)
	a := repo.add("a", "1.0.0", initializer("needs-peer"), attr("peer", "b"))
	repo.add("b", "1.0.0", initializer("needs-peer"), attr("peer", "a"))

	var events eventLog
	e = newTestEngine(t, WithRegistry(reg), WithObserver(events.observe))

	resolveFailure(t, e, a, ErrRecursiveDependency)
	if err := events.failure("b@1.0.0"); !errors.Is(err, ErrRecursiveDependency) {
		t.Errorf("b failure = %v, want ErrRecursiveDependency", err)
	}
	if _, releases := needsPeer.calls(); len(releases) != 0 {
		t.Errorf("failed initializers were released: %v", releases)
	}
}

func TestInitializer_Lifecycle(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("no database")
	reg := NewRegistry()
	ok := &recordingInitializer{}
	bad := &recordingInitializer{onInit: func(context.Context, *Module) error { return sentinel }}
	for name, init := range map[string]*recordingInitializer{"ok": ok, "bad": bad} {
		if err := reg.RegisterInitializer(name, init.factory); err != nil {
			t.Fatalf("RegisterInitializer(%q) unexpected error: %v", name, err)
		}
	}

	repo := newTestRepo(t)
	good := repo.add("good", "1.0.0", initializer("ok"), releasable())
	failing := repo.add("failing", "1.0.0", initializer("bad"))

	e := newTestEngine(t, WithRegistry(reg))

	ie := resolveFailure(t, e, failing, ErrInitializer)
	if !errors.Is(ie, sentinel) {
		t.Errorf("initializer failure should wrap the hook error, got: %v", ie)
	}
	if inits, releases := bad.calls(); len(inits) != 1 || len(releases) != 0 {
		t.Errorf("failing initializer calls = %v / %v, want one init and no release", inits, releases)
	}

	mustResolve(t, e, good)
	if err := e.Release(testContext(t), good); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	inits, releases := ok.calls()
	if !slices.Equal(inits, []string{"good"}) || !slices.Equal(releases, []string{"good"}) {
		t.Errorf("initializer calls = %v / %v, want [good] / [good]", inits, releases)
	}
}

func TestInitializer_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	panics := &recordingInitializer{onInit: func(context.Context, *Module) error { panic("boom") }}
	if err := reg.RegisterInitializer("panics", panics.factory); err != nil {
		t.Fatalf("RegisterInitializer() unexpected error: %v", err)
	}
	repo := newTestRepo(t)
	app := repo.add("app", "1.0.0", initializer("panics"))

	e := newTestEngine(t, WithRegistry(reg))
	ie := resolveFailure(t, e, app, ErrInitializer)
	var hp *HookPanicError
	if !errors.As(ie, &hp) {
		t.Errorf("error = %v, want a *HookPanicError in the chain", ie)
	}
}

func TestUnknownHook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  defOption
	}{
		{"override_policy", overridePolicy("nope")},
		{"import_policy", importPolicy("nope")},
		{"initializer", initializer("nope")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := newTestRepo(t)
			app := repo.add("app", "1.0.0", tt.opt)
			e := newTestEngine(t)
			ie := resolveFailure(t, e, app, ErrUnknownHook)
			if ie.Kind != KindUnknownHook {
				t.Errorf("Kind = %s, want %s", ie.Kind, KindUnknownHook)
			}
		})
	}
}

func TestHookFactoryError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("factory failed")
	reg := NewRegistry()
	err := reg.RegisterInitializer("broken", func(*Loader) (Initializer, error) { return nil, sentinel })
	if err != nil {
		t.Fatalf("RegisterInitializer() unexpected error: %v", err)
	}
	repo := newTestRepo(t)
	app := repo.add("app", "1.0.0", initializer("broken"))

	e := newTestEngine(t, WithRegistry(reg))
	ie := resolveFailure(t, e, app, sentinel)
	if ie.Kind != KindInitializer {
		t.Errorf("Kind = %s, want %s", ie.Kind, KindInitializer)
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := func(*Loader) (ImportPolicy, error) { return DefaultImportPolicy{}, nil }

	if err := reg.RegisterImportPolicy("p", f); err != nil {
		t.Fatalf("RegisterImportPolicy() unexpected error: %v", err)
	}
	if err := reg.RegisterImportPolicy("p", f); !errors.Is(err, ErrDuplicateHook) {
		t.Errorf("duplicate registration error = %v, want ErrDuplicateHook", err)
	}
	if err := reg.RegisterImportPolicy("", f); err == nil {
		t.Errorf("empty name registration expected error")
	}
	// Names are scoped per hook type.
	err := reg.RegisterOverridePolicy("p", func(*Loader) (OverridePolicy, error) { return IdentityOverridePolicy{}, nil })
	if err != nil {
		t.Errorf("RegisterOverridePolicy() with an import policy's name unexpected error: %v", err)
	}
}

func TestDefaultImportPolicy_NoRepository(t *testing.T) {
	t.Parallel()

	def := &moddef.Definition{Name: "app", Imports: []moddef.ImportDeclaration{imp("util", "*")}}
	got, err := DefaultImportPolicy{}.Resolve(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != nil {
		t.Errorf("Resolve() = %v, want [nil]", got)
	}
}
