// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/invowk/modhost/pkg/moddef"
)

func TestLoader_SealedPackages(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	app := repo.add("app", "1.0.0", func(d *moddef.Definition) {
		d.Content = moddef.NewMapContent("app.jar", map[string][]byte{
			"pkg.A":       []byte("a"),
			"other.Thing": []byte("t"),
		}).With(moddef.Entry{Name: "pkg.B", Data: []byte("b"), Source: "patch.jar"})
	})

	e := newTestEngine(t)
	m := mustResolve(t, e, app)
	l := m.Loader()

	a, err := l.LoadClass("pkg.A")
	if err != nil {
		t.Fatalf("LoadClass(pkg.A) unexpected error: %v", err)
	}
	if a.Package != "pkg" || a.Source != "app.jar" {
		t.Errorf("class pkg.A = {Package: %q, Source: %q}, want {pkg, app.jar}", a.Package, a.Source)
	}
	if again, _ := l.LoadClass("pkg.A"); again != a {
		t.Errorf("second LoadClass(pkg.A) returned a different class")
	}

	_, err = l.LoadClass("pkg.B")
	if !errors.Is(err, ErrSealingViolation) {
		t.Fatalf("LoadClass(pkg.B) error = %v, want ErrSealingViolation", err)
	}
	var sv *SealingViolationError
	if !errors.As(err, &sv) || sv.Sealed != "app.jar" || sv.Source != "patch.jar" {
		t.Errorf("SealingViolationError = %+v, want sealed app.jar, source patch.jar", sv)
	}

	if _, err := l.LoadClass("other.Thing"); err != nil {
		t.Fatalf("LoadClass(other.Thing) unexpected error: %v", err)
	}
	pkgs := l.Packages()
	got := make([]string, len(pkgs))
	for i, p := range pkgs {
		got[i] = p.Name
	}
	if !slices.Equal(got, []string{"other", "pkg"}) {
		t.Errorf("Packages() = %v, want [other pkg]", got)
	}
}

func TestLoader_BeforeReady(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	repo.add("util", "1.0.0", exports("util"))
	app := repo.add("app", "1.0.0",
		imports(imp("util", "*")),
		members("app"),
		files(map[string]string{"app.Main": "main", "app/banner.txt": "hi"}))

	// Without Start the instance stays NEW.
	e, err := New(WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	inst := e.Instance(app)

	if inst.State() != StateNew {
		t.Fatalf("state = %s, want %s", inst.State(), StateNew)
	}
	if inst.Loader().Installed() {
		t.Errorf("Installed() = true before READY")
	}
	if inst.Module() != nil || inst.Imports() != nil || inst.VisibleImports() != nil || inst.Importers() != nil {
		t.Errorf("accessors should be empty before the data exists")
	}
	if _, err := inst.Loader().LoadClass("app.Main"); err != nil {
		t.Errorf("own content should load before READY: %v", err)
	}
	if data, err := inst.Loader().LoadResource("app/banner.txt"); err != nil || string(data) != "hi" {
		t.Errorf("LoadResource(app/banner.txt) = %q, %v", data, err)
	}
	if _, err := inst.Loader().LoadClass("util.Strings"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("LoadClass(util.Strings) error = %v, want ErrClassNotFound", err)
	}
}

func TestLoader_ClearedOnRelease(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	repo.add("util", "1.0.0", exports("util"), files(map[string]string{"util.Strings": "s"}))
	app := repo.add("app", "1.0.0",
		imports(imp("util", "*")),
		files(map[string]string{"app.Main": "main"}),
		releasable())

	e := newTestEngine(t)
	m := mustResolve(t, e, app)
	l := m.Loader()
	if _, err := l.LoadClass("util.Strings"); err != nil {
		t.Fatalf("LoadClass(util.Strings) unexpected error: %v", err)
	}
	if _, err := l.LoadClass("app.Main"); err != nil {
		t.Fatalf("LoadClass(app.Main) unexpected error: %v", err)
	}

	if err := e.Release(testContext(t), app); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	if _, err := l.LoadClass("util.Strings"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("delegated class still served after release: %v", err)
	}
	if l.FindExporter("util.Strings") != nil {
		t.Errorf("FindExporter() should find nothing after release")
	}
}
