// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/modhost/internal/config"
	"github.com/invowk/modhost/internal/testutil"
	"github.com/invowk/modhost/internal/watch"
	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modsys"
	"github.com/invowk/modhost/pkg/semver"
)

const testTimeout = 10 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func newTestHost(t *testing.T, dir string, roots ...config.RootSpec) *Host {
	t.Helper()
	ctx := testContext(t)

	repos, err := OpenRepositories(ctx, []config.RepositoryConfig{{Name: "local", Path: config.RepositoryPath(dir)}})
	if err != nil {
		t.Fatalf("OpenRepositories() unexpected error: %v", err)
	}
	parsed, err := ParseRoots(roots)
	if err != nil {
		t.Fatalf("ParseRoots() unexpected error: %v", err)
	}

	engine, err := modsys.New(modsys.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("modsys.New() unexpected error: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	t.Cleanup(engine.Close)

	return New(engine, repos, parsed, nil)
}

func libModule(version string, releasable bool) string {
	cue := "name: \"lib\"\nversion: \"" + version + "\"\nexports: [\"lib\"]\n"
	if releasable {
		cue += "releasable: true\n"
	}
	return cue
}

const appModule = `
name:    "app"
version: "1.0.0"
imports: [{name: "lib", version: "^1.0.0"}]
`

func TestResolveAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", false), nil)
	testutil.WriteModule(t, dir, "app", appModule, nil)

	h := newTestHost(t, dir, "app", "missing@^2")
	statuses, err := h.ResolveAll(testContext(t))
	if err != nil {
		t.Fatalf("ResolveAll() unexpected error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("ResolveAll() returned %d statuses, want 2", len(statuses))
	}

	app := statuses[0]
	if app.Err != nil || app.Module == nil {
		t.Fatalf("app status = %+v, want a module", app)
	}
	imports := app.Module.Instance().Imports()
	if len(imports) != 1 || imports[0].Definition().Name != "lib" {
		t.Errorf("app imports = %v, want [lib@1.0.0]", imports)
	}

	missing := statuses[1]
	if missing.Module != nil || !errors.Is(missing.Err, moddef.ErrDefinitionNotFound) {
		t.Errorf("missing status = %+v, want ErrDefinitionNotFound", missing)
	}
	if h.Ready() {
		t.Error("Ready() = true with a failed root")
	}
}

func TestApply_ReleasesStaleReleasableImport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", true), nil)
	testutil.WriteModule(t, dir, "app", appModule, nil)

	h := newTestHost(t, dir, "app")
	ctx := testContext(t)
	statuses, err := h.ResolveAll(ctx)
	if err != nil || statuses[0].Module == nil {
		t.Fatalf("ResolveAll() = %+v, %v", statuses, err)
	}
	before := statuses[0].Module

	testutil.WriteModule(t, dir, "lib", libModule("1.0.1", true), nil)
	statuses, err = h.Apply(ctx, watch.Changes{dir: {"lib.modhost/module.cue"}})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	after := statuses[0].Module
	if after == nil || after == before {
		t.Fatalf("Apply() should resolve a new app module, got %v (before %v)", after, before)
	}
	if got := before.Instance().State(); got != modsys.StateError {
		t.Errorf("released app instance state = %v, want %v", got, modsys.StateError)
	}
	imports := after.Instance().Imports()
	if len(imports) != 1 || imports[0].Definition().Version.String() != "1.0.1" {
		t.Errorf("app imports after Apply = %v, want [lib@1.0.1]", imports)
	}
	if !h.Ready() {
		t.Error("Ready() = false after a successful Apply")
	}
}

func TestApply_KeepsNonReleasable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", false), nil)
	testutil.WriteModule(t, dir, "app", appModule, nil)

	h := newTestHost(t, dir, "app")
	ctx := testContext(t)
	statuses, err := h.ResolveAll(ctx)
	if err != nil || statuses[0].Module == nil {
		t.Fatalf("ResolveAll() = %+v, %v", statuses, err)
	}
	before := statuses[0].Module

	testutil.WriteModule(t, dir, "lib", libModule("1.0.1", false), nil)
	statuses, err = h.Apply(ctx, watch.Changes{dir: {"lib.modhost/module.cue"}})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if statuses[0].Module != before {
		t.Errorf("Apply() replaced a root whose changed import is not releasable")
	}
	if got := before.Instance().State(); got != modsys.StateReady {
		t.Errorf("app instance state = %v, want %v", got, modsys.StateReady)
	}
}

func TestApply_RetriesFailedRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "app", appModule, nil)

	h := newTestHost(t, dir, "app")
	ctx := testContext(t)
	statuses, err := h.ResolveAll(ctx)
	if err != nil {
		t.Fatalf("ResolveAll() unexpected error: %v", err)
	}
	if !errors.Is(statuses[0].Err, modsys.ErrImportNotFound) {
		t.Fatalf("app without lib: Err = %v, want ErrImportNotFound", statuses[0].Err)
	}

	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", false), nil)
	statuses, err = h.Apply(ctx, watch.Changes{dir: {"lib.modhost/module.cue"}})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if statuses[0].Module == nil || statuses[0].Err != nil {
		t.Errorf("Apply() after adding lib = %+v, want a module", statuses[0])
	}
}

func TestApply_ReloadFailureKeepsState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", true), nil)
	testutil.WriteModule(t, dir, "app", appModule, nil)

	h := newTestHost(t, dir, "app")
	ctx := testContext(t)
	statuses, err := h.ResolveAll(ctx)
	if err != nil || statuses[0].Module == nil {
		t.Fatalf("ResolveAll() = %+v, %v", statuses, err)
	}
	before := statuses[0].Module

	testutil.WriteModule(t, dir, "broken", "name: \"broken\"\nversion: 3\n", nil)
	statuses, err = h.Apply(ctx, watch.Changes{dir: {"broken.modhost/module.cue"}})
	if err == nil {
		t.Fatal("Apply() with an invalid module should fail")
	}
	if statuses[0].Module != before {
		t.Error("a failed reload should keep the running root")
	}
}

func TestApply_IgnoresUnknownDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteModule(t, dir, "lib", libModule("1.0.0", false), nil)

	h := newTestHost(t, dir, "lib")
	ctx := testContext(t)
	if _, err := h.ResolveAll(ctx); err != nil {
		t.Fatalf("ResolveAll() unexpected error: %v", err)
	}
	before := h.Status()[0].Module

	statuses, err := h.Apply(ctx, watch.Changes{t.TempDir(): {"x.modhost/module.cue"}})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if statuses[0].Module != before {
		t.Error("a change outside every repository should not touch roots")
	}
}

func TestOpenRepositories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	child := t.TempDir()
	testutil.WriteModule(t, base, "lib", libModule("1.0.0", false), nil)
	testutil.WriteModule(t, child, "app", appModule, nil)

	ctx := testContext(t)
	repos, err := OpenRepositories(ctx, []config.RepositoryConfig{
		{Name: "base", Path: config.RepositoryPath(base)},
		{Name: "project", Path: config.RepositoryPath(child), Parent: "base"},
	})
	if err != nil {
		t.Fatalf("OpenRepositories() unexpected error: %v", err)
	}

	if got := repos.Entry().Name(); got != "project" {
		t.Errorf("Entry() = %q, want %q", got, "project")
	}
	def, err := moddef.Require(repos.Entry(), "lib", semver.Any())
	if err != nil {
		t.Fatalf("lib should be found through the parent: %v", err)
	}
	if def.Repository.Name() != "base" {
		t.Errorf("lib repository = %q, want %q", def.Repository.Name(), "base")
	}
	if repo, ok := repos.ByDir(child); !ok || repo.Name() != "project" {
		t.Errorf("ByDir(child) = %v, %v", repo, ok)
	}
	if _, ok := repos.Get("base"); !ok {
		t.Error("Get(base) should find the repository")
	}
	if got := repos.Paths(); len(got) != 2 {
		t.Errorf("Paths() = %v, want two entries", got)
	}
}

func TestOpenRepositories_Errors(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	tests := []struct {
		name  string
		repos []config.RepositoryConfig
		want  error
	}{
		{"empty", nil, ErrNoRepositories},
		{"unknown_parent", []config.RepositoryConfig{{Name: "a", Path: config.RepositoryPath(t.TempDir()), Parent: "b"}}, config.ErrUnknownParent},
		{"missing_directory", []config.RepositoryConfig{{Name: "a", Path: config.RepositoryPath(filepath.Join(t.TempDir(), "nope"))}}, os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := OpenRepositories(ctx, tt.repos); !errors.Is(err, tt.want) {
				t.Errorf("OpenRepositories() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseRoots(t *testing.T) {
	t.Parallel()

	roots, err := ParseRoots([]config.RootSpec{"app", "lib@^1.2"})
	if err != nil {
		t.Fatalf("ParseRoots() unexpected error: %v", err)
	}
	if roots[0].Name != "app" || roots[1].Name != "lib" || roots[1].Constraint.String() != "^1.2" {
		t.Errorf("ParseRoots() = %+v", roots)
	}

	if _, err := ParseRoots([]config.RootSpec{"lib@>>1"}); !errors.Is(err, config.ErrInvalidRootSpec) {
		t.Errorf("ParseRoots(invalid) error = %v, want ErrInvalidRootSpec", err)
	}
}
