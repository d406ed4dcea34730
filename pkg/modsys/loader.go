// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/invowk/modhost/pkg/moddef"
)

var (
	// ErrClassNotFound is wrapped by ClassNotFoundError.
	ErrClassNotFound = errors.New("class not found")
	// ErrSealingViolation is wrapped by SealingViolationError.
	ErrSealingViolation = errors.New("sealed package redefined")
)

type (
	// Loader resolves class and resource names for one module instance.
	//
	// A name is served from the loader's cache, else by the first visible
	// import whose definition exports it, else from the module's own content.
	// There is no further fallback.
	Loader struct {
		inst *Instance

		mu        sync.RWMutex
		classes   map[string]*Class
		packages  map[string]*Package
		visible   []*Instance
		installed bool
	}

	// Class is a class-style entry defined by a loader.
	Class struct {
		Name    string
		Package string
		Data    []byte
		Source  string
		// Loader defined the class. It differs from the requesting loader
		// when the name was served by an import.
		Loader *Loader
	}

	// Package records the code source a package is sealed to.
	Package struct {
		Name   string
		Source string
	}

	// ClassNotFoundError reports a name no loader in the search path serves.
	ClassNotFoundError struct {
		Name   string
		Module string
	}

	// SealingViolationError reports an entry whose package is already sealed
	// to a different code source.
	SealingViolationError struct {
		Package string
		Module  string
		Sealed  string
		Source  string
	}
)

// Error implements the error interface.
func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("%s: not visible from module %s", e.Name, e.Module)
}

// Unwrap returns ErrClassNotFound.
func (e *ClassNotFoundError) Unwrap() error { return ErrClassNotFound }

// Error implements the error interface.
func (e *SealingViolationError) Error() string {
	return fmt.Sprintf("module %s: package %s is sealed to %s, cannot define it from %s",
		e.Module, e.Package, e.Sealed, e.Source)
}

// Unwrap returns ErrSealingViolation.
func (e *SealingViolationError) Unwrap() error { return ErrSealingViolation }

func newLoader(inst *Instance) *Loader {
	return &Loader{
		inst:     inst,
		classes:  make(map[string]*Class),
		packages: make(map[string]*Package),
	}
}

// Instance returns the instance the loader belongs to.
func (l *Loader) Instance() *Instance { return l.inst }

// LoadClass resolves name, defining it from the module's content when no
// visible import exports it.
func (l *Loader) LoadClass(name string) (*Class, error) {
	return l.loadClass(name, map[*Loader]struct{}{})
}

func (l *Loader) loadClass(name string, visiting map[*Loader]struct{}) (*Class, error) {
	l.mu.RLock()
	cached := l.classes[name]
	l.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	visiting[l] = struct{}{}
	if exporter := l.FindExporter(name); exporter != nil {
		if _, cycling := visiting[exporter.loader]; !cycling {
			c, err := exporter.loader.loadClass(name, visiting)
			if err != nil {
				return nil, err
			}
			l.mu.Lock()
			l.classes[name] = c
			l.mu.Unlock()
			return c, nil
		}
	}

	entry, ok := l.inst.def.Content.Entry(name)
	if !ok {
		return nil, &ClassNotFoundError{Name: name, Module: l.inst.Name()}
	}
	return l.define(entry)
}

// LoadResource returns the data of a resource, following the same search
// order as LoadClass. Resources are not cached.
func (l *Loader) LoadResource(name string) ([]byte, error) {
	return l.loadResource(name, map[*Loader]struct{}{})
}

func (l *Loader) loadResource(name string, visiting map[*Loader]struct{}) ([]byte, error) {
	visiting[l] = struct{}{}
	if exporter := l.FindExporter(name); exporter != nil {
		if _, cycling := visiting[exporter.loader]; !cycling {
			return exporter.loader.loadResource(name, visiting)
		}
	}
	entry, ok := l.inst.def.Content.Entry(name)
	if !ok {
		return nil, &ClassNotFoundError{Name: name, Module: l.inst.Name()}
	}
	return entry.Data, nil
}

// FindExporter returns the first visible import exporting name, or nil.
func (l *Loader) FindExporter(name string) *Instance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, v := range l.visible {
		if v.def.ExportsName(name) {
			return v
		}
	}
	return nil
}

// Packages returns the packages defined so far, sorted by name.
func (l *Loader) Packages() []Package {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Package, 0, len(l.packages))
	for _, name := range slices.Sorted(maps.Keys(l.packages)) {
		out = append(out, *l.packages[name])
	}
	return out
}

// Installed reports whether the visible imports have been installed.
func (l *Loader) Installed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.installed
}

func (l *Loader) define(entry moddef.Entry) (*Class, error) {
	source := entry.Source
	if source == "" {
		source = l.inst.def.Content.Source()
	}
	pkg := moddef.PackageOf(entry.Name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.classes[entry.Name]; c != nil {
		return c, nil
	}
	if p, ok := l.packages[pkg]; ok {
		if p.Source != source {
			return nil, &SealingViolationError{Package: pkg, Module: l.inst.Name(), Sealed: p.Source, Source: source}
		}
	} else {
		l.packages[pkg] = &Package{Name: pkg, Source: source}
	}
	c := &Class{Name: entry.Name, Package: pkg, Data: entry.Data, Source: source, Loader: l}
	l.classes[entry.Name] = c
	return c, nil
}

// install sets the visible imports. Only the first call has an effect.
func (l *Loader) install(visible []*Instance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.installed {
		return
	}
	l.visible = slices.Clone(visible)
	l.installed = true
}

// clear drops the imports and every class served through them.
func (l *Loader) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = nil
	maps.DeleteFunc(l.classes, func(_ string, c *Class) bool { return c.Loader != l })
}
