// SPDX-License-Identifier: MPL-2.0

package moddef

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/invowk/modhost/pkg/cueutil"
	"github.com/invowk/modhost/pkg/semver"
)

const (
	// ModuleSuffix is the directory suffix of a module inside a DirRepository.
	ModuleSuffix = ".modhost"
	// ModuleFile is the definition file inside a module directory.
	ModuleFile = "module.cue"
	// ContentDir holds the module's classes and resources.
	ContentDir = "content"
)

//go:embed module_schema.cue
var moduleSchema []byte

type (
	// DirRepository loads definitions from "<name>.modhost/module.cue" files
	// directly under a directory.
	DirRepository struct {
		name   string
		dir    string
		parent Repository

		mu      sync.RWMutex
		defs    []*Definition
		modules map[string]loadedModule
	}

	loadedModule struct {
		raw       []byte
		signature string
		def       *Definition
	}

	moduleFile struct {
		Name           string            `json:"name"`
		Version        string            `json:"version"`
		Imports        []importFile      `json:"imports"`
		Exports        []string          `json:"exports"`
		Members        []string          `json:"members,omitempty"`
		Releasable     bool              `json:"releasable"`
		Initializer    string            `json:"initializer"`
		ImportPolicy   string            `json:"import_policy"`
		OverridePolicy string            `json:"override_policy"`
		Attributes     map[string]string `json:"attributes,omitempty"`
	}

	importFile struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		Reexport bool   `json:"reexport"`
		Optional bool   `json:"optional"`
	}
)

// OpenDir loads every module under dir. parent may be nil.
func OpenDir(ctx context.Context, name, dir string, parent Repository) (*DirRepository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", name, err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("repository %s: %w", name, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("repository %s: %s is not a directory", name, abs)
	}
	r := &DirRepository{name: name, dir: abs, parent: parent, modules: map[string]loadedModule{}}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the absolute directory the repository reads.
func (r *DirRepository) Dir() string { return r.dir }

func (r *DirRepository) Name() string       { return r.name }
func (r *DirRepository) Parent() Repository { return r.parent }

func (r *DirRepository) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs)
}

func (r *DirRepository) Find(name string, c semver.Constraint) (*Definition, error) {
	return findBest(r.Definitions(), r.parent, name, c)
}

// Reload rescans the directory. Modules whose module.cue and content tree are
// unchanged keep their *Definition; every other previous definition is
// returned as stale. On error the repository keeps its previous state.
func (r *DirRepository) Reload(ctx context.Context) (stale []*Definition, err error) {
	matches, err := doublestar.Glob(os.DirFS(r.dir), "*"+ModuleSuffix+"/"+ModuleFile)
	if err != nil {
		return nil, fmt.Errorf("repository %s: scan %s: %w", r.name, r.dir, err)
	}
	slices.Sort(matches)

	r.mu.RLock()
	previous := r.modules
	r.mu.RUnlock()

	next := make(map[string]loadedModule, len(matches))
	var errs []error
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		moduleDir := filepath.Join(r.dir, filepath.Dir(filepath.FromSlash(match)))
		lm, err := r.loadModule(moduleDir, previous[moduleDir])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next[moduleDir] = lm
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	defs := make([]*Definition, 0, len(next))
	for _, match := range matches {
		defs = append(defs, next[filepath.Join(r.dir, filepath.Dir(filepath.FromSlash(match)))].def)
	}
	for dir, old := range previous {
		if cur, ok := next[dir]; !ok || cur.def != old.def {
			stale = append(stale, old.def)
		}
	}

	r.mu.Lock()
	r.modules = next
	r.defs = defs
	r.mu.Unlock()
	return stale, nil
}

func (r *DirRepository) loadModule(moduleDir string, prev loadedModule) (loadedModule, error) {
	path := filepath.Join(moduleDir, ModuleFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return loadedModule{}, &InvalidDefinitionError{Source: path, Reason: "cannot read", Err: err}
	}
	contentDir := filepath.Join(moduleDir, ContentDir)
	sig := treeSignature(contentDir)
	if prev.def != nil && bytes.Equal(prev.raw, raw) && prev.signature == sig {
		return prev, nil
	}

	doc, err := cueutil.Decode[moduleFile](moduleSchema, raw, "#Module", cueutil.WithFilename(path))
	if err != nil {
		return loadedModule{}, &InvalidDefinitionError{Source: path, Reason: "does not match schema", Err: err}
	}
	mf := doc.Value

	if want := strings.TrimSuffix(filepath.Base(moduleDir), ModuleSuffix); want != mf.Name {
		return loadedModule{}, &InvalidDefinitionError{
			Source: path,
			Name:   mf.Name,
			Reason: fmt.Sprintf("directory %s must be named %s%s", filepath.Base(moduleDir), mf.Name, ModuleSuffix),
		}
	}

	def, err := mf.definition(path, contentDir)
	if err != nil {
		return loadedModule{}, err
	}
	stored, err := normalize(def, r, path)
	if err != nil {
		return loadedModule{}, err
	}
	return loadedModule{raw: raw, signature: sig, def: stored}, nil
}

func (mf moduleFile) definition(path, contentDir string) (Definition, error) {
	invalid := func(reason string, err error) error {
		return &InvalidDefinitionError{Source: path, Name: mf.Name, Reason: reason, Err: err}
	}
	v, err := semver.ParseVersion(mf.Version)
	if err != nil {
		return Definition{}, invalid("bad version", err)
	}
	def := Definition{
		Name:           mf.Name,
		Version:        v,
		Exports:        mf.Exports,
		Members:        mf.Members,
		Releasable:     mf.Releasable,
		Initializer:    mf.Initializer,
		ImportPolicy:   mf.ImportPolicy,
		OverridePolicy: mf.OverridePolicy,
		Attributes:     mf.Attributes,
	}
	for i, imp := range mf.Imports {
		c, err := semver.ParseConstraint(imp.Version)
		if err != nil {
			return Definition{}, invalid(fmt.Sprintf("imports[%d] (%s) has a bad version constraint", i, imp.Name), err)
		}
		def.Imports = append(def.Imports, ImportDeclaration{
			Name:       imp.Name,
			Constraint: c,
			Reexport:   imp.Reexport,
			Optional:   imp.Optional,
		})
	}
	if info, err := os.Stat(contentDir); err == nil && info.IsDir() {
		content, err := NewDirContent(contentDir)
		if err != nil {
			return Definition{}, invalid("bad content directory", err)
		}
		def.Content = content
	} else {
		def.Content = EmptyContent("file://" + filepath.ToSlash(filepath.Dir(path)))
	}
	return def, nil
}

// treeSignature summarizes names, sizes and modification times under dir.
func treeSignature(dir string) string {
	var b strings.Builder
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fmt.Fprintf(&b, "%s:%d:%d;", p, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	return b.String()
}
