// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"slices"
	"testing"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/semver"
)

type testGraph struct {
	engine *Engine
	nodes  map[string]*Instance
}

func newTestGraph() *testGraph {
	return &testGraph{engine: &Engine{}, nodes: make(map[string]*Instance)}
}

func (g *testGraph) node(name string) *Instance {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	def := &moddef.Definition{Name: name, Version: semver.MustParseVersion("1.0.0")}
	n := newInstance(g.engine, uint64(len(g.nodes)+1), def)
	n.imports = []edge{}
	g.nodes[name] = n
	return n
}

func (g *testGraph) link(from, to string, reexport bool) {
	src, dst := g.node(from), g.node(to)
	src.imports = append(src.imports, edge{to: dst, reexport: reexport})
	dst.importers = append(dst.importers, src)
}

func TestExpandReexports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		edges      func(g *testGraph)
		includeAll bool
		want       []string
	}{
		{
			name: "reexport_below_plain_import",
			edges: func(g *testGraph) {
				g.link("app", "lib", false)
				g.link("lib", "util", true)
			},
			includeAll: true,
			want:       []string{"util", "lib"},
		},
		{
			name: "plain_imports_only_at_first_level",
			edges: func(g *testGraph) {
				g.link("app", "lib", false)
				g.link("lib", "util", false)
			},
			includeAll: true,
			want:       []string{"lib"},
		},
		{
			name: "reexports_only",
			edges: func(g *testGraph) {
				g.link("app", "lib", false)
				g.link("app", "api", true)
			},
			includeAll: false,
			want:       []string{"api"},
		},
		{
			name: "diamond_deduplicated",
			edges: func(g *testGraph) {
				g.link("app", "a", true)
				g.link("app", "b", true)
				g.link("a", "c", true)
				g.link("b", "c", true)
			},
			includeAll: true,
			want:       []string{"c", "a", "b"},
		},
		{
			name: "self_through_reexport",
			edges: func(g *testGraph) {
				g.link("app", "b", true)
				g.link("b", "app", true)
			},
			includeAll: true,
			want:       []string{"app", "b"},
		},
		{
			name:       "no_imports",
			edges:      func(g *testGraph) { g.node("app") },
			includeAll: true,
			want:       []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGraph()
			tt.edges(g)
			got := names(ExpandReexports(g.node("app"), tt.includeAll))
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExpandReexports(app, %v) = %v, want %v", tt.includeAll, got, tt.want)
			}
		})
	}
}

func TestExpandList_Idempotent(t *testing.T) {
	t.Parallel()

	g := newTestGraph()
	g.link("app", "lib", false)
	g.link("app", "api", true)
	g.link("lib", "util", true)
	g.link("api", "util", true)
	g.link("util", "core", true)

	first := ExpandReexports(g.node("app"), true)
	second := ExpandList(first)
	if !slices.Equal(first, second) {
		t.Errorf("ExpandList(ExpandReexports(app)) = %v, want %v", names(second), names(first))
	}
	if got := names(first); !slices.Equal(got, []string{"core", "util", "lib", "api"}) {
		t.Errorf("ExpandReexports(app) = %v, want [core util lib api]", got)
	}
	if ExpandList(nil) != nil {
		t.Errorf("ExpandList(nil) should be nil")
	}
}

func TestImportedClosure(t *testing.T) {
	t.Parallel()

	g := newTestGraph()
	g.link("app", "a", false)
	g.link("app", "b", false)
	g.link("a", "c", false)
	g.link("c", "app", false)
	unresolved := g.node("b")
	unresolved.imports = nil

	got := names(ImportedClosure(g.node("app")))
	if !slices.Equal(got, []string{"app", "a", "b", "c"}) {
		t.Errorf("ImportedClosure(app) = %v, want [app a b c]", got)
	}
	if got := names(ImportedClosure(unresolved)); !slices.Equal(got, []string{"b"}) {
		t.Errorf("ImportedClosure(b) = %v, want [b]", got)
	}
}

func TestImportingClosure(t *testing.T) {
	t.Parallel()

	g := newTestGraph()
	g.link("app", "lib", false)
	g.link("plugin", "app", false)
	g.link("tool", "lib", false)

	got := names(ImportingClosure(g.node("lib")))
	if !slices.Equal(got, []string{"lib", "app", "tool", "plugin"}) {
		t.Errorf("ImportingClosure(lib) = %v, want [lib app tool plugin]", got)
	}
}
