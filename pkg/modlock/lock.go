// SPDX-License-Identifier: MPL-2.0

package modlock

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/invowk/modhost/pkg/modsys"
	"github.com/invowk/modhost/pkg/semver"
)

const (
	// FileName is the default lock file name.
	FileName = "modhost.lock"
	// FormatVersion is the lock format this package reads and writes.
	FormatVersion = 1

	header = "# Generated by modhost. Do not edit by hand.\n\n"
)

var (
	// ErrFormatVersion is returned for lock files of another format version.
	ErrFormatVersion = errors.New("unsupported lock format version")
	// ErrConflict is returned by FromModules when one name resolved to two versions.
	ErrConflict = errors.New("module resolved to more than one version")
)

type (
	// Lock is the content of a lock file.
	Lock struct {
		Version int                     `toml:"version"`
		Modules map[string]LockedModule `toml:"modules"`
	}

	// LockedModule is the resolved state of one module.
	LockedModule struct {
		Version    string   `toml:"version"`
		Repository string   `toml:"repository,omitempty"`
		Imports    []string `toml:"imports,omitempty"`
	}

	// ConflictError names a module found at two versions in one resolution.
	ConflictError struct {
		Module   string
		Versions []string
	}
)

func (e *ConflictError) Error() string {
	return fmt.Sprintf("module %s resolved to versions %v", e.Module, e.Versions)
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// New returns an empty lock.
func New() *Lock {
	return &Lock{Version: FormatVersion, Modules: make(map[string]LockedModule)}
}

// Read parses the lock file at path.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse decodes lock file content. Unknown keys are rejected.
func Parse(data []byte) (*Lock, error) {
	var l Lock
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return nil, fmt.Errorf("parse lock file at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	if l.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrFormatVersion, l.Version)
	}
	if l.Modules == nil {
		l.Modules = make(map[string]LockedModule)
	}
	for _, name := range slices.Sorted(maps.Keys(l.Modules)) {
		if _, err := semver.ParseVersion(l.Modules[name].Version); err != nil {
			return nil, fmt.Errorf("modules.%s: %w", name, err)
		}
	}
	return &l, nil
}

// Encode renders the lock as TOML.
func (l *Lock) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(l); err != nil {
		return nil, fmt.Errorf("encode lock file: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores the lock at path, replacing any existing file atomically.
func (l *Lock) Write(path string) error {
	data, err := l.Encode()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".modhost-lock-*")
	if err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Locked returns the locked version of name.
func (l *Lock) Locked(name string) (semver.Version, bool) {
	m, ok := l.Modules[name]
	if !ok {
		return semver.Version{}, false
	}
	v, err := semver.ParseVersion(m.Version)
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}

// Names returns the locked module names, sorted.
func (l *Lock) Names() []string {
	return slices.Sorted(maps.Keys(l.Modules))
}

// FromModules builds a lock from resolved modules and everything they import.
func FromModules(mods []*modsys.Module) (*Lock, error) {
	l := New()
	for _, m := range mods {
		for _, inst := range modsys.ImportedClosure(m.Instance()) {
			if inst.State() != modsys.StateReady {
				continue
			}
			def := inst.Definition()
			entry := LockedModule{Version: def.Version.String()}
			if def.Repository != nil {
				entry.Repository = def.Repository.Name()
			}
			for _, imp := range inst.Imports() {
				entry.Imports = append(entry.Imports, imp.Name())
			}
			if prev, ok := l.Modules[def.Name]; ok && prev.Version != entry.Version {
				versions := []string{prev.Version, entry.Version}
				slices.Sort(versions)
				return nil, &ConflictError{Module: def.Name, Versions: versions}
			}
			l.Modules[def.Name] = entry
		}
	}
	return l, nil
}
