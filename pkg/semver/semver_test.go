// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"simple", "1.0.0", "1.0.0", false},
		{"with_v_prefix", "v2.3.4", "2.3.4", false},
		{"with_prerelease", "2.3.4-alpha.1", "2.3.4-alpha.1", false},
		{"major_only", "1", "1.0.0", false},
		{"padded", "  1.2.3 ", "1.2.3", false},
		{"empty", "", "", true},
		{"invalid", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := ParseVersion(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVersion(%q) expected error", tt.raw)
				}
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("error should wrap ErrInvalidVersion, got: %v", err)
				}
				var ive *InvalidVersionError
				if !errors.As(err, &ive) || ive.Value != tt.raw {
					t.Errorf("errors.As(*InvalidVersionError) failed or wrong value: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) unexpected error: %v", tt.raw, err)
			}
			if v.String() != tt.want {
				t.Errorf("ParseVersion(%q) = %q, want %q", tt.raw, v.String(), tt.want)
			}
		})
	}
}

func TestParseConstraint(t *testing.T) {
	t.Parallel()

	c, err := ParseConstraint("")
	if err != nil {
		t.Fatalf("ParseConstraint(\"\") unexpected error: %v", err)
	}
	if c.String() != "*" {
		t.Errorf("empty constraint text = %q, want %q", c.String(), "*")
	}

	_, err = ParseConstraint(">>1")
	if !errors.Is(err, ErrInvalidConstraint) {
		t.Errorf("error should wrap ErrInvalidConstraint, got: %v", err)
	}
}

func TestSatisfies(t *testing.T) {
	t.Parallel()

	c := MustParseConstraint("^1.2.0")

	if !Satisfies(MustParseVersion("1.2.0"), c) {
		t.Fatalf("expected 1.2.0 to satisfy ^1.2.0")
	}
	if !c.Check(MustParseVersion("1.9.9")) {
		t.Fatalf("expected 1.9.9 to satisfy ^1.2.0")
	}
	if Satisfies(MustParseVersion("2.0.0"), c) {
		t.Fatalf("expected 2.0.0 to NOT satisfy ^1.2.0")
	}
	if Satisfies(Version{}, c) {
		t.Fatalf("expected zero Version to satisfy nothing")
	}
	if Satisfies(MustParseVersion("1.2.0"), Constraint{}) {
		t.Fatalf("expected zero Constraint to admit nothing")
	}
}

func TestExact(t *testing.T) {
	t.Parallel()

	c := Exact(MustParseVersion("1.4.2"))
	if c.String() != "=1.4.2" {
		t.Errorf("Exact().String() = %q, want %q", c.String(), "=1.4.2")
	}
	if !c.Check(MustParseVersion("1.4.2")) || c.Check(MustParseVersion("1.4.3")) {
		t.Errorf("Exact(1.4.2) admits the wrong versions")
	}
}

func TestMaxSatisfying(t *testing.T) {
	t.Parallel()

	c := MustParseConstraint(">=1.0.0 <2.0.0")
	candidates := []Version{
		MustParseVersion("0.9.0"),
		MustParseVersion("1.0.0"),
		MustParseVersion("1.5.0"),
		MustParseVersion("2.0.0"),
	}

	best, ok := MaxSatisfying(c, candidates)
	if !ok {
		t.Fatalf("expected to find a satisfying version")
	}
	if !best.Equal(MustParseVersion("1.5.0")) {
		t.Fatalf("expected best=1.5.0, got %s", best)
	}

	if _, ok := MaxSatisfying(MustParseConstraint("^3.0.0"), candidates); ok {
		t.Fatalf("expected no satisfying version for ^3.0.0")
	}
}

func TestCompare_ZeroVersionSortsFirst(t *testing.T) {
	t.Parallel()

	if Compare(Version{}, MustParseVersion("0.0.0")) != -1 {
		t.Errorf("zero Version should sort before 0.0.0")
	}
	if Compare(Version{}, Version{}) != 0 {
		t.Errorf("zero Versions should compare equal")
	}
}

func TestConstraint_Within(t *testing.T) {
	t.Parallel()

	tests := []struct {
		inner string
		outer string
		want  bool
	}{
		{"=1.2.3", "^1.0.0", true},
		{"=2.0.0", "^1.0.0", false},
		{"^1.2.0", "^1.0.0", true},
		{"^1.0.0", "^1.2.0", false},
		{"~1.4", ">=1.0.0 <2.0.0", true},
		{"~1.4.2", "~1.4", true},
		{"1.x", "^1.0.0", true},
		{"1.x || >=3.0.0", ">=1.0.0", true},
		{">=1.0.0", "1.x || >=3.0.0", false},
		{"1.0.0 - 1.5.0", "^1.0.0", true},
		{"1.0.0 - 2.0.0", "^1.0.0", false},
		{"1.x || 2.x", ">=1.0.0 <3.0.0", true},
		{">=1.0.0 <3.0.0", "1.x || 2.x", true},
		{"^1.0.0", "*", true},
		{"*", "^1.0.0", false},
		{">1.0.0", ">=1.0.0", true},
		{">=1.0.0", ">1.0.0", false},
		{"^0.2.3", "0.2.x", true},
		{"^1.2.3", "^1.2.3", true},
	}

	for _, tt := range tests {
		t.Run(tt.inner+" within "+tt.outer, func(t *testing.T) {
			t.Parallel()
			got := MustParseConstraint(tt.inner).Within(MustParseConstraint(tt.outer))
			if got != tt.want {
				t.Errorf("%q.Within(%q) = %v, want %v", tt.inner, tt.outer, got, tt.want)
			}
		})
	}
}

func TestConstraint_WithinZero(t *testing.T) {
	t.Parallel()

	if !(Constraint{}).Within(Any()) {
		t.Errorf("zero Constraint should be within any constraint")
	}
	if Any().Within(Constraint{}) {
		t.Errorf("no constraint should be within the zero Constraint")
	}
}
