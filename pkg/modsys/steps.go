// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/semver"
)

// step advances inst by at most one state. It reports whether inst changed:
// a transition or a failure. A gate that is not open yet is no progress.
func (e *Engine) step(ctx context.Context, inst *Instance) bool {
	var (
		cause *InitializationError
		open  bool
	)
	switch inst.State() {
	case StateNew:
		cause = e.findDirectImports(ctx, inst)
		open = cause == nil
	case StateFoundDirectImports:
		if open, cause = e.checkDependencies(inst, StateFoundDirectImports); open {
			inst.setState(StateFoundAllImports)
		}
	case StateFoundAllImports:
		cause = e.validate(inst)
		open = cause == nil
	case StateValidated:
		if open, cause = e.checkDependencies(inst, StateValidated); open {
			inst.setState(StateExecuteInitializer)
		}
	case StateExecuteInitializer:
		cause = e.initialize(ctx, inst)
		open = cause == nil
	case StateInitializerComplete:
		if open, cause = e.checkDependencies(inst, StateInitializerComplete); open {
			e.makeReady(inst)
		}
	default:
		return false
	}
	if cause != nil {
		e.fail(inst, cause)
		return true
	}
	return open
}

// findDirectImports narrows the declared constraints, resolves every import
// through the import policy and links the resolved instances.
func (e *Engine) findDirectImports(ctx context.Context, inst *Instance) *InitializationError {
	def := inst.def
	constraints := make(map[string]semver.Constraint, len(def.Imports))
	for _, imp := range def.Imports {
		if _, dup := constraints[imp.Name]; dup {
			return failure(inst, KindDuplicateImport, fmt.Sprintf("%s is imported more than once", imp.Name), nil)
		}
		constraints[imp.Name] = imp.Constraint
	}

	hookCtx, end := e.hookContext(ctx, inst)
	defer end()

	narrowed, cause := e.narrow(hookCtx, inst, constraints)
	if cause != nil {
		return cause
	}

	policy, cause := e.importPolicyFor(inst)
	if cause != nil {
		return cause
	}
	var defs []*moddef.Definition
	err := safeCall("import policy", func() (err error) {
		defs, err = policy.Resolve(hookCtx, def, maps.Clone(narrowed), e.defaultImport)
		return err
	})
	if err != nil {
		var panicked *HookPanicError
		if errors.As(err, &panicked) {
			return failure(inst, KindPolicyContract, "", err)
		}
		return failure(inst, KindResolution, "import policy failed", err)
	}
	if len(defs) != len(def.Imports) {
		return failure(inst, KindPolicyContract,
			fmt.Sprintf("import policy returned %d definitions for %d imports", len(defs), len(def.Imports)), nil)
	}

	edges := make([]edge, 0, len(defs))
	for i, imp := range def.Imports {
		found := defs[i]
		if found == nil {
			if imp.Optional {
				e.logger.Debug("optional import not found", "module", inst.Name(), "import", imp.Name)
				continue
			}
			return failure(inst, KindResolution,
				fmt.Sprintf("no %s matching %q", imp.Name, narrowed[imp.Name]), nil)
		}
		if found.Name != imp.Name {
			return failure(inst, KindPolicyContract,
				fmt.Sprintf("import policy entry %d is %s, want %s", i, found.ID(), imp.Name), nil)
		}
		if !narrowed[imp.Name].Check(found.Version) {
			return failure(inst, KindPolicyContract,
				fmt.Sprintf("import policy chose %s, which does not satisfy %q", found.ID(), narrowed[imp.Name]), nil)
		}
		edges = append(edges, edge{to: e.Instance(found), reexport: imp.Reexport})
	}

	e.graphMu.Lock()
	inst.imports = edges
	e.graphMu.Unlock()
	inst.setState(StateFoundDirectImports)
	return nil
}

func (e *Engine) narrow(ctx context.Context, inst *Instance, constraints map[string]semver.Constraint) (map[string]semver.Constraint, *InitializationError) {
	policy := e.defaultOverride
	if name := inst.def.OverridePolicy; name != "" {
		p, err := e.registry.overridePolicy(name, inst.loader)
		if err != nil {
			return nil, hookLookupFailure(inst, KindPolicyContract, err)
		}
		policy = p
	}

	var narrowed map[string]semver.Constraint
	err := safeCall("override policy", func() (err error) {
		narrowed, err = policy.Narrow(ctx, inst.def, maps.Clone(constraints))
		return err
	})
	if err != nil {
		return nil, failure(inst, KindPolicyContract, "override policy failed", err)
	}

	if len(narrowed) != len(constraints) {
		return nil, failure(inst, KindPolicyContract,
			fmt.Sprintf("override policy returned %d constraints for %d imports", len(narrowed), len(constraints)), nil)
	}
	for _, name := range slices.Sorted(maps.Keys(constraints)) {
		c, ok := narrowed[name]
		if !ok {
			return nil, failure(inst, KindPolicyContract,
				fmt.Sprintf("override policy dropped the constraint for %s", name), nil)
		}
		if !c.Within(constraints[name]) {
			return nil, failure(inst, KindPolicyContract,
				fmt.Sprintf("override policy widened %s from %q to %q", name, constraints[name], c), nil)
		}
	}
	return narrowed, nil
}

func (e *Engine) importPolicyFor(inst *Instance) (ImportPolicy, *InitializationError) {
	name := inst.def.ImportPolicy
	if name == "" {
		return e.defaultImport, nil
	}
	p, err := e.registry.importPolicy(name, inst.loader)
	if err != nil {
		return nil, hookLookupFailure(inst, KindPolicyContract, err)
	}
	return p, nil
}

// checkDependencies opens a gate once every instance in the imported closure
// has reached min. A failed instance in the closure fails inst.
func (e *Engine) checkDependencies(inst *Instance, min State) (bool, *InitializationError) {
	for _, n := range importedClosure(inst) {
		if n == inst {
			continue
		}
		switch s := n.State(); {
		case s == StateError:
			ie := failure(inst, KindDependency, "import "+n.Name()+" failed", n.cause)
			ie.Related = []string{n.Name()}
			return false, ie
		case s < min:
			return false, nil
		}
	}
	return true, nil
}

// validate computes the visible imports and rejects self-imports and
// overlapping namespaces.
func (e *Engine) validate(inst *Instance) *InitializationError {
	visible := expandReexports(inst, true)
	if slices.Contains(visible, inst) {
		return failure(inst, KindSelfImport, "the module is visible to itself through its imports", nil)
	}

	self := inst.def
	for _, v := range visible {
		if pkgs := memberOverlap(self, v.def); len(pkgs) > 0 {
			ie := failure(inst, KindNamespaceCollision,
				fmt.Sprintf("%s exports %s, which %s is a member of", v.Name(), strings.Join(pkgs, ", "), inst.Name()), nil)
			ie.Related = []string{inst.Name(), v.Name()}
			return ie
		}
	}
	for i, a := range visible {
		for _, b := range visible[i+1:] {
			if pkgs := exportOverlap(a.def, b.def); len(pkgs) > 0 {
				ie := failure(inst, KindNamespaceCollision,
					fmt.Sprintf("%s and %s both export %s", a.Name(), b.Name(), strings.Join(pkgs, ", ")), nil)
				ie.Related = []string{a.Name(), b.Name()}
				return ie
			}
		}
	}

	e.graphMu.Lock()
	inst.validated = visible
	e.graphMu.Unlock()
	inst.setState(StateValidated)
	return nil
}

// memberOverlap lists exports of other that fall in a member package of self.
func memberOverlap(self, other *moddef.Definition) []string {
	var out []string
	for _, x := range other.Exports {
		if self.HasMember(x) || self.HasMember(moddef.PackageOf(x)) {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// exportOverlap lists the names exported by both a and b. An exported
// package covers its classes, so "com.x" overlaps "com.x.Foo".
func exportOverlap(a, b *moddef.Definition) []string {
	var out []string
	for _, x := range a.Exports {
		if b.ExportsName(x) {
			out = append(out, x)
		}
	}
	for _, x := range b.Exports {
		if a.ExportsName(x) {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// initialize runs the declared initializer. An initializer that fails is not
// released later.
func (e *Engine) initialize(ctx context.Context, inst *Instance) *InitializationError {
	if name := inst.def.Initializer; name != "" {
		init, err := e.registry.initializer(name, inst.loader)
		if err != nil {
			return hookLookupFailure(inst, KindInitializer, err)
		}

		hookCtx, end := e.hookContext(ctx, inst)
		err = safeCall("initializer "+name, func() error { return init.Initialize(hookCtx, inst.module) })
		end()
		if err != nil {
			return failure(inst, KindInitializer, name, err)
		}
		inst.initializer = init
		inst.initialized = true
	}
	inst.setState(StateInitializerComplete)
	return nil
}

// makeReady installs the visible imports and registers inst with its imports.
func (e *Engine) makeReady(inst *Instance) {
	e.graphMu.Lock()
	for _, ed := range inst.imports {
		ed.to.importers = append(ed.to.importers, inst)
	}
	inst.ready = &readyState{visible: inst.validated}
	inst.validated = nil
	visible := inst.ready.visible
	e.graphMu.Unlock()

	inst.loader.install(visible)
	inst.setState(StateReady)
	inst.closeDone()
}

// fail moves inst to StateError. Only the first cause is kept.
func (e *Engine) fail(inst *Instance, cause *InitializationError) {
	if inst.State() == StateError {
		return
	}

	e.graphMu.Lock()
	for _, ed := range inst.imports {
		ed.to.importers = slices.DeleteFunc(ed.to.importers, func(n *Instance) bool { return n == inst })
	}
	inst.imports = nil
	inst.importers = nil
	inst.validated = nil
	inst.ready = nil
	inst.cause = cause
	e.graphMu.Unlock()

	inst.loader.clear()
	inst.state.Store(int32(StateError))
	e.metrics.transitions.WithLabelValues(StateError.String()).Inc()
	e.metrics.failures.WithLabelValues(cause.Kind.String()).Inc()

	if inst.initialized {
		inst.initialized = false
		hook := inst.initializer
		if err := safeCall("initializer release", func() error { return hook.Release(inst.module) }); err != nil {
			e.logger.Error("initializer release failed", "module", inst.Name(), "err", err)
		}
	}

	e.evict(inst)

	kind := EventFailed
	if cause.Kind == KindReleased {
		kind = EventReleased
		e.logger.Info("module released", "module", inst.Name())
	} else {
		e.logger.Warn("module failed", "module", inst.Name(), "kind", cause.Kind, "err", cause)
	}
	e.emit(Event{Kind: kind, Instance: inst, State: StateError, Err: cause})
	inst.closeDone()
}

func failure(inst *Instance, kind Kind, detail string, err error) *InitializationError {
	if kind != KindDependency && errors.Is(err, ErrRecursiveDependency) {
		kind = KindCyclicPolicy
	}
	return &InitializationError{Module: inst.Name(), Kind: kind, Detail: detail, Err: err}
}

// hookLookupFailure reports a hook that is not registered or whose factory failed.
func hookLookupFailure(inst *Instance, kind Kind, err error) *InitializationError {
	if errors.Is(err, ErrUnknownHook) {
		return failure(inst, KindUnknownHook, strings.TrimPrefix(err.Error(), ErrUnknownHook.Error()+": "), nil)
	}
	return failure(inst, kind, "hook factory failed", err)
}
