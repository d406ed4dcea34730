// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/semver"
)

const testTimeout = 10 * time.Second

type (
	testRepo struct {
		t *testing.T
		*moddef.MemoryRepository
	}

	defOption func(*moddef.Definition)

	eventLog struct {
		mu     sync.Mutex
		events []Event
	}
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	e, err := New(all...)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func newTestRepo(t *testing.T) *testRepo {
	return &testRepo{t: t, MemoryRepository: moddef.NewMemoryRepository("test", nil)}
}

func (r *testRepo) add(name, version string, opts ...defOption) *moddef.Definition {
	r.t.Helper()
	d := moddef.Definition{Name: name, Version: semver.MustParseVersion(version)}
	for _, opt := range opts {
		opt(&d)
	}
	def, err := r.Add(d)
	if err != nil {
		r.t.Fatalf("Add(%s@%s) unexpected error: %v", name, version, err)
	}
	return def
}

func imports(decls ...moddef.ImportDeclaration) defOption {
	return func(d *moddef.Definition) { d.Imports = append(d.Imports, decls...) }
}

func exports(names ...string) defOption {
	return func(d *moddef.Definition) { d.Exports = append(d.Exports, names...) }
}

func members(names ...string) defOption {
	return func(d *moddef.Definition) { d.Members = append(d.Members, names...) }
}

func files(entries map[string]string) defOption {
	return func(d *moddef.Definition) {
		data := make(map[string][]byte, len(entries))
		for name, body := range entries {
			data[name] = []byte(body)
		}
		d.Content = moddef.NewMapContent("mem:"+d.Name, data)
	}
}

func releasable() defOption {
	return func(d *moddef.Definition) { d.Releasable = true }
}

func attr(key, value string) defOption {
	return func(d *moddef.Definition) {
		if d.Attributes == nil {
			d.Attributes = map[string]string{}
		}
		d.Attributes[key] = value
	}
}

func imp(name, constraint string) moddef.ImportDeclaration {
	return moddef.ImportDeclaration{Name: name, Constraint: semver.MustParseConstraint(constraint)}
}

func reexported(d moddef.ImportDeclaration) moddef.ImportDeclaration {
	d.Reexport = true
	return d
}

func optional(d moddef.ImportDeclaration) moddef.ImportDeclaration {
	d.Optional = true
	return d
}

func mustResolve(t *testing.T, e *Engine, def *moddef.Definition) *Module {
	t.Helper()
	m, err := e.Resolve(testContext(t), def)
	if err != nil {
		t.Fatalf("Resolve(%s) unexpected error: %v", def.ID(), err)
	}
	return m
}

// resolveFailure resolves def, expecting a failure wrapping want.
func resolveFailure(t *testing.T, e *Engine, def *moddef.Definition, want error) *InitializationError {
	t.Helper()
	_, err := e.Resolve(testContext(t), def)
	if !errors.Is(err, want) {
		t.Fatalf("Resolve(%s) error = %v, want %v", def.ID(), err, want)
	}
	var ie *InitializationError
	if !errors.As(err, &ie) {
		t.Fatalf("Resolve(%s) error is not *InitializationError: %T", def.ID(), err)
	}
	return ie
}

func names(insts []*Instance) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Definition().Name
	}
	return out
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// modules returns the module names of events of kind, in order.
func (l *eventLog) modules(kind EventKind) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev.Instance.Definition().Name)
		}
	}
	return out
}

// failure returns the cause of the first failure event for the module
// with the given name@version id.
func (l *eventLog) failure(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == EventFailed && ev.Instance.Name() == id {
			return ev.Err
		}
	}
	return nil
}
