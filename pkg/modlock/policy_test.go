// SPDX-License-Identifier: MPL-2.0

package modlock

import (
	"context"
	"testing"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modsys"
	"github.com/invowk/modhost/pkg/semver"
)

func TestOverridePolicy_Narrow(t *testing.T) {
	t.Parallel()

	l := New()
	l.Modules["util"] = LockedModule{Version: "1.2.0"}
	l.Modules["old"] = LockedModule{Version: "0.9.0"}

	tests := []struct {
		name     string
		declared string
		want     string
	}{
		{"util", "^1.0.0", "=1.2.0"},
		{"old", "^1.0.0", "^1.0.0"},
		{"unlocked", "~2.1", "~2.1"},
	}

	constraints := make(map[string]semver.Constraint, len(tests))
	for _, tt := range tests {
		constraints[tt.name] = semver.MustParseConstraint(tt.declared)
	}
	got, err := l.Policy().Narrow(context.Background(), &moddef.Definition{Name: "app"}, constraints)
	if err != nil {
		t.Fatalf("Narrow() unexpected error: %v", err)
	}
	if len(got) != len(constraints) {
		t.Fatalf("Narrow() returned %d constraints, want %d", len(got), len(constraints))
	}
	for _, tt := range tests {
		c := got[tt.name]
		if c.String() != tt.want {
			t.Errorf("Narrow()[%s] = %q, want %q", tt.name, c.String(), tt.want)
		}
		if !c.Within(constraints[tt.name]) {
			t.Errorf("Narrow()[%s] = %q escapes %q", tt.name, c, tt.declared)
		}
	}
}

func TestOverridePolicy_PinsResolution(t *testing.T) {
	t.Parallel()

	repo := moddef.NewMemoryRepository("local", nil)
	addModule(t, repo, "util", "1.0.0")
	addModule(t, repo, "util", "1.5.0")
	app := addModule(t, repo, "app", "1.0.0", "util@^1.0.0")

	l := New()
	l.Modules["util"] = LockedModule{Version: "1.0.0"}

	t.Run("default_policy", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t, modsys.WithDefaultOverridePolicy(l.Policy()))
		m, err := e.Resolve(context.Background(), app)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if got := m.Instance().Imports()[0].Name(); got != "util@1.0.0" {
			t.Errorf("resolved %s, want util@1.0.0", got)
		}
	})

	t.Run("registered_policy", func(t *testing.T) {
		t.Parallel()
		reg := modsys.NewRegistry()
		if err := Register(reg, l); err != nil {
			t.Fatalf("Register() unexpected error: %v", err)
		}
		pinned, err := repo.Add(moddef.Definition{
			Name:           "pinned",
			Version:        semver.MustParseVersion("1.0.0"),
			Imports:        app.Imports,
			OverridePolicy: PolicyName,
		})
		if err != nil {
			t.Fatalf("Add() unexpected error: %v", err)
		}

		e := newEngine(t, modsys.WithRegistry(reg))
		m, err := e.Resolve(context.Background(), pinned)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if got := m.Instance().Imports()[0].Name(); got != "util@1.0.0" {
			t.Errorf("resolved %s, want util@1.0.0", got)
		}
	})
}
