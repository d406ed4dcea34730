// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/invowk/modhost/pkg/moddef"
)

type (
	// Instance is the live, stateful counterpart of one *moddef.Definition.
	//
	// The engine's worker goroutine is the only writer of an instance's graph
	// fields. Accessors may be called from any goroutine; they see a consistent
	// snapshot and return empty results for data that only exists in a later
	// state (importers and visible imports before StateReady, imports before
	// StateFoundDirectImports).
	Instance struct {
		id     uint64
		def    *moddef.Definition
		engine *Engine
		loader *Loader
		module *Module

		state    atomic.Int32
		done     chan struct{}
		doneOnce sync.Once

		// Guarded by engine.graphMu for readers outside the worker.
		imports   []edge
		importers []*Instance
		validated []*Instance
		ready     *readyState
		cause     error

		// Worker-only.
		initializer Initializer
		initialized bool
	}

	// edge is one resolved import; reexport comes from the declaration.
	edge struct {
		to       *Instance
		reexport bool
	}

	// readyState exists only once the instance is READY.
	readyState struct {
		visible []*Instance
	}

	// Module is the handle returned by Resolve and passed to initializers.
	Module struct {
		inst *Instance
	}
)

func newInstance(e *Engine, id uint64, def *moddef.Definition) *Instance {
	inst := &Instance{id: id, def: def, engine: e, done: make(chan struct{})}
	inst.loader = newLoader(inst)
	inst.module = &Module{inst: inst}
	inst.state.Store(int32(StateNew))
	return inst
}

// ID is unique within the engine and increases with creation order.
func (i *Instance) ID() uint64 { return i.id }

// Definition returns the definition the instance was created for.
func (i *Instance) Definition() *moddef.Definition { return i.def }

// Name returns the definition's "name@version".
func (i *Instance) Name() string { return i.def.ID() }

// State returns the current state. It is safe to call from any goroutine.
func (i *Instance) State() State { return State(i.state.Load()) }

// Done is closed when the instance reaches StateReady or StateError.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Loader returns the instance's loader. It exists from creation on; imports
// are installed in it at StateReady.
func (i *Instance) Loader() *Loader { return i.loader }

// Err returns the failure cause, or nil.
func (i *Instance) Err() error {
	i.engine.graphMu.RLock()
	defer i.engine.graphMu.RUnlock()
	return i.cause
}

// Imports returns the resolved imports in declaration order. It is nil before
// StateFoundDirectImports and after a failure.
func (i *Instance) Imports() []*Instance {
	i.engine.graphMu.RLock()
	defer i.engine.graphMu.RUnlock()
	if i.imports == nil {
		return nil
	}
	out := make([]*Instance, len(i.imports))
	for n, e := range i.imports {
		out[n] = e.to
	}
	return out
}

// Reexports reports, for each entry of Imports, whether it is reexported.
func (i *Instance) Reexports() []bool {
	i.engine.graphMu.RLock()
	defer i.engine.graphMu.RUnlock()
	out := make([]bool, len(i.imports))
	for n, e := range i.imports {
		out[n] = e.reexport
	}
	return out
}

// Importers returns the READY instances importing this one. It is empty
// unless this instance is READY.
func (i *Instance) Importers() []*Instance {
	i.engine.graphMu.RLock()
	defer i.engine.graphMu.RUnlock()
	if i.ready == nil {
		return nil
	}
	return slices.Clone(i.importers)
}

// VisibleImports returns the flattened list the loader delegates to. It is
// empty unless the instance is READY.
func (i *Instance) VisibleImports() []*Instance {
	i.engine.graphMu.RLock()
	defer i.engine.graphMu.RUnlock()
	if i.ready == nil {
		return nil
	}
	return slices.Clone(i.ready.visible)
}

// Module returns the module handle once READY, else nil.
func (i *Instance) Module() *Module {
	if i.State() != StateReady {
		return nil
	}
	return i.module
}

// String returns the instance's "name@version".
func (i *Instance) String() string { return i.Name() }

// result returns what Resolve reports for a terminal instance.
func (i *Instance) result() (*Module, error) {
	if i.State() == StateReady {
		return i.module, nil
	}
	return nil, i.Err()
}

func (i *Instance) closeDone() {
	i.doneOnce.Do(func() { close(i.done) })
}

func (i *Instance) setState(s State) {
	i.state.Store(int32(s))
	i.engine.transitioned(i, s)
}

// Instance returns the instance behind the module.
func (m *Module) Instance() *Instance { return m.inst }

// Definition returns the module's definition.
func (m *Module) Definition() *moddef.Definition { return m.inst.def }

// Name returns the module name without its version.
func (m *Module) Name() string { return m.inst.def.Name }

// Loader returns the loader serving the module's classes and resources.
func (m *Module) Loader() *Loader { return m.inst.loader }

// String returns the module's "name@version".
func (m *Module) String() string { return m.inst.Name() }
