// SPDX-License-Identifier: MPL-2.0

package modsys

// The exported traversals take the engine's graph read lock; the worker calls
// the unexported forms directly since it is the only writer.

// ImportedClosure returns inst and every instance reachable through imports,
// breadth-first. Instances whose imports are not known yet are leaves.
func ImportedClosure(inst *Instance) []*Instance {
	inst.engine.graphMu.RLock()
	defer inst.engine.graphMu.RUnlock()
	return importedClosure(inst)
}

// ImportingClosure returns inst and every instance reachable through
// importer back-edges, breadth-first.
func ImportingClosure(inst *Instance) []*Instance {
	inst.engine.graphMu.RLock()
	defer inst.engine.graphMu.RUnlock()
	return importingClosure(inst)
}

// ExpandReexports flattens inst's imports into the list of instances visible
// to it. At the first level includeAll takes every import; below that only
// reexported imports are followed. Each instance appears once, after the
// instances it reexports.
//
// For app -> lib (not reexported) -> util (reexported) the result is [util, lib].
func ExpandReexports(inst *Instance, includeAll bool) []*Instance {
	inst.engine.graphMu.RLock()
	defer inst.engine.graphMu.RUnlock()
	return expandReexports(inst, includeAll)
}

// ExpandList expands an already selected list: every element is kept and
// followed by reexport edges only. ExpandList(ExpandReexports(x, true))
// returns the same list when the import graph is acyclic.
func ExpandList(list []*Instance) []*Instance {
	if len(list) == 0 {
		return nil
	}
	list[0].engine.graphMu.RLock()
	defer list[0].engine.graphMu.RUnlock()
	x := newExpander()
	for _, inst := range list {
		x.include(inst)
	}
	return x.out
}

func importedClosure(start *Instance) []*Instance {
	return bfs(start, func(n *Instance) []*Instance {
		next := make([]*Instance, len(n.imports))
		for i, e := range n.imports {
			next[i] = e.to
		}
		return next
	})
}

func importingClosure(start *Instance) []*Instance {
	return bfs(start, func(n *Instance) []*Instance { return n.importers })
}

func bfs(start *Instance, next func(*Instance) []*Instance) []*Instance {
	visited := map[*Instance]struct{}{start: {}}
	order := []*Instance{start}
	for i := 0; i < len(order); i++ {
		for _, n := range next(order[i]) {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			order = append(order, n)
		}
	}
	return order
}

type expander struct {
	seen map[*Instance]struct{}
	out  []*Instance
}

func newExpander() *expander {
	return &expander{seen: make(map[*Instance]struct{})}
}

func expandReexports(inst *Instance, includeAll bool) []*Instance {
	x := newExpander()
	x.follow(inst, includeAll)
	return x.out
}

// include adds inst, after what it reexports, unless already present.
func (x *expander) include(inst *Instance) {
	if _, ok := x.seen[inst]; ok {
		return
	}
	x.seen[inst] = struct{}{}
	x.follow(inst, false)
	x.out = append(x.out, inst)
}

// follow includes inst's imports: all of them when all is set, otherwise only
// reexported ones. inst itself is not marked, so a reexport path leading back
// to it puts it in the list.
func (x *expander) follow(inst *Instance, all bool) {
	for _, e := range inst.imports {
		if all || e.reexport {
			x.include(e.to)
		}
	}
}
