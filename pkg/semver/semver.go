// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrInvalidConstraint is the sentinel error wrapped by InvalidConstraintError.
	ErrInvalidConstraint = errors.New("invalid version constraint")
)

type (
	// Version is a semantic version.
	//
	// This is a thin wrapper around github.com/Masterminds/semver/v3. The zero
	// Version is not valid and sorts before every parsed version.
	Version struct {
		v *mm.Version
	}

	// Constraint is a semantic version constraint.
	//
	// Examples:
	//   - ">=1.2.0 <2.0.0"
	//   - "^1.0.0"
	//   - "~1.4"
	//   - "1.x || >=3.0.0"
	//
	// The zero Constraint admits nothing.
	Constraint struct {
		c   *mm.Constraints
		raw string
	}

	// InvalidVersionError is returned when version text cannot be parsed.
	// It wraps ErrInvalidVersion for errors.Is() compatibility.
	InvalidVersionError struct {
		Value string
		Err   error
	}

	// InvalidConstraintError is returned when constraint text cannot be parsed.
	// It wraps ErrInvalidConstraint for errors.Is() compatibility.
	InvalidConstraintError struct {
		Value string
		Err   error
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("semver: parse version %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidVersion so callers can use errors.Is for programmatic detection.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Error implements the error interface.
func (e *InvalidConstraintError) Error() string {
	return fmt.Sprintf("semver: parse constraint %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidConstraint so callers can use errors.Is for programmatic detection.
func (e *InvalidConstraintError) Unwrap() error { return ErrInvalidConstraint }

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, &InvalidVersionError{Value: raw, Err: err}
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseConstraint parses constraint text. Empty text is treated as "*".
func ParseConstraint(raw string) (Constraint, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "*"
	}
	c, err := mm.NewConstraint(text)
	if err != nil {
		return Constraint{}, &InvalidConstraintError{Value: raw, Err: err}
	}
	return Constraint{c: c, raw: text}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Any returns the constraint admitting every release version.
func Any() Constraint {
	return MustParseConstraint("*")
}

// Exact returns the constraint admitting only v.
func Exact(v Version) Constraint {
	return MustParseConstraint("=" + v.String())
}

// IsValid reports whether v was produced by a successful parse.
func (v Version) IsValid() bool { return v.v != nil }

// String returns the normalized version text, or "" for the zero Version.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Equal reports whether a and b denote the same version.
func (v Version) Equal(other Version) bool { return Compare(v, other) == 0 }

// IsValid reports whether c was produced by a successful parse.
func (c Constraint) IsValid() bool { return c.c != nil }

// String returns the constraint text as it was parsed.
func (c Constraint) String() string { return c.raw }

// Check reports whether v satisfies c.
func (c Constraint) Check(v Version) bool { return Satisfies(v, c) }

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// MaxSatisfying returns the highest version in candidates that satisfies c.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(c Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
