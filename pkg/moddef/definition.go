// SPDX-License-Identifier: MPL-2.0

package moddef

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/invowk/modhost/pkg/semver"
)

var (
	// ErrInvalidDefinition is the sentinel wrapped by InvalidDefinitionError.
	ErrInvalidDefinition = errors.New("invalid module definition")

	// ErrDefinitionNotFound is returned by Require when no definition matches.
	ErrDefinitionNotFound = errors.New("module definition not found")
)

type (
	// Definition is the declared metadata of one module version.
	//
	// Fields must not be modified after the definition has been handed to a
	// repository. Identity is the pointer: two Definitions with equal fields
	// are still different modules to the engine.
	Definition struct {
		Name    string
		Version semver.Version

		// Imports are kept in declaration order. Duplicate names are not
		// rejected here; the engine fails the module that declares them.
		Imports []ImportDeclaration

		// Exports are the package (or fully qualified) names other modules may
		// load through this module.
		Exports []string

		// Members are the packages this module's own content belongs to.
		Members []string

		Content    Content
		Repository Repository

		// Releasable allows the engine to tear the module down on request.
		Releasable bool

		// Initializer, ImportPolicy and OverridePolicy are registry keys of the
		// hooks the engine instantiates for this module. Empty means none
		// (initializer) or the engine default (policies).
		Initializer    string
		ImportPolicy   string
		OverridePolicy string

		Attributes map[string]string
	}

	// ImportDeclaration is one entry of a definition's import list.
	ImportDeclaration struct {
		Name       string
		Constraint semver.Constraint
		// Reexport forwards the imported module's exports to this module's importers.
		Reexport bool
		// Optional imports that cannot be found are dropped instead of failing resolution.
		Optional bool
	}

	// InvalidDefinitionError describes a definition rejected by a repository.
	InvalidDefinitionError struct {
		// Source is the definition's origin, a file path or "<memory>".
		Source string
		Name   string
		Reason string
		Err    error
	}
)

// Error implements the error interface.
func (e *InvalidDefinitionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Name != "" {
		b.WriteString(": module " + e.Name)
	}
	b.WriteString(": " + e.Reason)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap returns ErrInvalidDefinition and the underlying cause, if any.
func (e *InvalidDefinitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidDefinition}
	}
	return []error{ErrInvalidDefinition, e.Err}
}

// ID returns "name@version".
func (d *Definition) ID() string {
	return d.Name + "@" + d.Version.String()
}

// String implements fmt.Stringer.
func (d *Definition) String() string { return d.ID() }

// ExportsName reports whether name, or the package it belongs to, is exported.
func (d *Definition) ExportsName(name string) bool {
	if slices.Contains(d.Exports, name) {
		return true
	}
	pkg := PackageOf(name)
	return pkg != "" && slices.Contains(d.Exports, pkg)
}

// HasMember reports whether pkg is one of the definition's member packages.
func (d *Definition) HasMember(pkg string) bool {
	return slices.Contains(d.Members, pkg)
}

// Attribute returns the named attribute, or "" when unset.
func (d *Definition) Attribute(key string) string { return d.Attributes[key] }

// PackageOf returns the package a class or resource name belongs to, or "" for
// names in the unnamed package.
func PackageOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return strings.ReplaceAll(strings.Trim(name[:i], "/"), "/", ".")
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

// Require is Find that reports a missing module as ErrDefinitionNotFound.
func Require(repo Repository, name string, c semver.Constraint) (*Definition, error) {
	def, err := repo.Find(name, c)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s matching %q in repository %s", ErrDefinitionNotFound, name, c, repo.Name())
	}
	return def, nil
}

// normalize copies d, fills defaults and validates it for repo.
func normalize(d Definition, repo Repository, source string) (*Definition, error) {
	invalid := func(reason string, err error) error {
		return &InvalidDefinitionError{Source: source, Name: d.Name, Reason: reason, Err: err}
	}
	if strings.TrimSpace(d.Name) == "" {
		return nil, invalid("name is required", nil)
	}
	if !d.Version.IsValid() {
		return nil, invalid("version is required", nil)
	}

	out := d
	out.Repository = repo
	out.Imports = slices.Clone(d.Imports)
	for i, imp := range out.Imports {
		if strings.TrimSpace(imp.Name) == "" {
			return nil, invalid(fmt.Sprintf("imports[%d] has no name", i), nil)
		}
		if !imp.Constraint.IsValid() {
			out.Imports[i].Constraint = semver.Any()
		}
	}
	out.Exports = slices.Clone(d.Exports)
	out.Members = slices.Clone(d.Members)
	if len(out.Members) == 0 && out.Content != nil {
		out.Members = contentPackages(out.Content)
	}
	out.Attributes = maps.Clone(d.Attributes)
	if out.Content == nil {
		out.Content = EmptyContent(out.ID())
	}
	return &out, nil
}

func contentPackages(c Content) []string {
	seen := make(map[string]struct{})
	var pkgs []string
	for _, name := range c.Names() {
		pkg := PackageOf(name)
		if _, ok := seen[pkg]; ok || pkg == "" {
			continue
		}
		seen[pkg] = struct{}{}
		pkgs = append(pkgs, pkg)
	}
	slices.Sort(pkgs)
	return pkgs
}
