// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"context"
	"fmt"
	"slices"

	"github.com/invowk/modhost/internal/dag"
	"github.com/invowk/modhost/pkg/moddef"
)

// Release tears down the cached instance of def and every instance importing
// it, importers first. Initializer Release hooks run, back-edges are removed
// and the instances leave the cache, so a later Resolve starts afresh.
// Releasing a definition with no cached instance does nothing. Only this
// engine's instances are torn down; instances owned by other engines never are.
//
// def must be marked releasable. Release must not be called from a policy or
// initializer; it returns ErrReleaseInStep there. Cancelling ctx stops the
// wait; the teardown still runs.
func (e *Engine) Release(ctx context.Context, def *moddef.Definition) error {
	if !def.Releasable {
		return fmt.Errorf("%w: %s", ErrNotReleasable, def.ID())
	}
	if _, inStep := e.tokenFrom(ctx); inStep {
		return fmt.Errorf("%w: %s", ErrReleaseInStep, def.ID())
	}

	done := make(chan struct{})
	e.submit(func() {
		e.release(def)
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.runner.Done():
		return fmt.Errorf("%w: releasing %s", ErrEngineClosed, def.ID())
	}
}

// release runs on the worker between fixed points.
func (e *Engine) release(def *moddef.Definition) {
	inst := e.Lookup(def)
	if inst == nil {
		return
	}
	for _, n := range e.teardownOrder(importingClosure(inst)) {
		e.fail(n, &InitializationError{
			Module: n.Name(),
			Kind:   KindReleased,
			Detail: "released with " + def.ID(),
		})
		e.metrics.releases.Inc()
	}
	e.compact()
}

// teardownOrder orders closure importers-first. With an import cycle in the
// closure the discovery order is reversed instead.
func (e *Engine) teardownOrder(closure []*Instance) []*Instance {
	members := make(map[*Instance]struct{}, len(closure))
	g := dag.New[*Instance]()
	for _, n := range closure {
		members[n] = struct{}{}
		g.AddNode(n)
	}
	for _, n := range closure {
		for _, ed := range n.imports {
			if _, ok := members[ed.to]; ok {
				g.AddEdge(n, ed.to)
			}
		}
	}
	order, err := g.TopologicalSort()
	if err != nil {
		e.logger.Warn("import cycle in release closure", "err", err)
		order = slices.Clone(closure)
		slices.Reverse(order)
	}
	return order
}
