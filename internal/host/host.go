// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/modhost/internal/config"
	"github.com/invowk/modhost/internal/watch"
	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modsys"
	"github.com/invowk/modhost/pkg/semver"
)

// maxConcurrentRoots bounds the roots waiting on the engine at once.
const maxConcurrentRoots = 8

type (
	// Root is a module the host keeps resolved.
	Root struct {
		Spec       config.RootSpec
		Name       string
		Constraint semver.Constraint
	}

	// Status is the outcome of the latest resolution of a root. Exactly one
	// of Module and Err is set once the root has been resolved.
	Status struct {
		Root   Root
		Module *modsys.Module
		Err    error
	}

	// Host resolves a fixed list of roots and re-resolves them as their
	// repositories change.
	Host struct {
		engine *modsys.Engine
		repos  *Repositories
		roots  []Root
		logger *log.Logger

		// applyMu serializes ResolveAll and Apply.
		applyMu sync.Mutex

		mu     sync.RWMutex
		status []Status
	}
)

// ParseRoots splits every spec into a Root.
func ParseRoots(specs []config.RootSpec) ([]Root, error) {
	roots := make([]Root, 0, len(specs))
	for _, spec := range specs {
		name, c, err := spec.Split()
		if err != nil {
			return nil, err
		}
		roots = append(roots, Root{Spec: spec, Name: name, Constraint: c})
	}
	return roots, nil
}

// New creates a Host. A nil logger discards output.
func New(engine *modsys.Engine, repos *Repositories, roots []Root, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	status := make([]Status, len(roots))
	for i, r := range roots {
		status[i] = Status{Root: r}
	}
	return &Host{
		engine: engine,
		repos:  repos,
		roots:  slices.Clone(roots),
		logger: logger,
		status: status,
	}
}

// Status returns the latest status of every root, in root order.
func (h *Host) Status() []Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.status)
}

// Ready reports whether every root is resolved and its instance is READY.
func (h *Host) Ready() bool {
	for _, st := range h.Status() {
		if st.Module == nil || st.Module.Instance().State() != modsys.StateReady {
			return false
		}
	}
	return true
}

// ResolveAll resolves every root concurrently. Resolution failures are
// reported per root in the returned statuses; the error is non-nil only when
// ctx ends first.
func (h *Host) ResolveAll(ctx context.Context) ([]Status, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	idx := make([]int, len(h.roots))
	for i := range idx {
		idx[i] = i
	}
	if err := h.resolve(ctx, idx); err != nil {
		return h.Status(), err
	}
	return h.Status(), nil
}

// Apply reloads the repositories with changes, releases stale releasable
// instances and resolves the affected roots again. A repository that fails to
// reload keeps its previous definitions and is reported in the joined error.
func (h *Host) Apply(ctx context.Context, changes watch.Changes) ([]Status, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	var errs []error
	var stale []*moddef.Definition
	for _, dir := range changes.Roots() {
		repo, ok := h.repos.ByDir(dir)
		if !ok {
			h.logger.Debug("ignoring change outside repositories", "dir", dir)
			continue
		}
		defs, err := repo.Reload(ctx)
		if err != nil {
			h.logger.Error("reload repository", "repository", repo.Name(), "err", err)
			errs = append(errs, fmt.Errorf("reload repository %s: %w", repo.Name(), err))
			continue
		}
		h.logger.Info("repository reloaded", "repository", repo.Name(), "paths", len(changes[dir]), "stale", len(defs))
		stale = append(stale, defs...)
	}

	for _, def := range stale {
		if h.engine.Lookup(def) == nil {
			continue
		}
		if !def.Releasable {
			h.logger.Warn("changed module is not releasable, keeping the running instance", "module", def.ID())
			continue
		}
		if err := h.engine.Release(ctx, def); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", def.ID(), err))
		}
	}

	idx, err := h.affected(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if len(idx) > 0 {
		if err := h.resolve(ctx, idx); err != nil {
			errs = append(errs, err)
		}
	}
	return h.Status(), errors.Join(errs...)
}

// affected returns the roots to resolve again: roots without a live module,
// and roots whose best definition changed. A live root whose definition
// changed but is not releasable is left alone.
func (h *Host) affected(ctx context.Context) ([]int, error) {
	var idx []int
	var errs []error
	for i, st := range h.Status() {
		if st.Module == nil || st.Module.Instance().State() == modsys.StateError {
			idx = append(idx, i)
			continue
		}
		def, err := moddef.Require(h.repos.Entry(), st.Root.Name, st.Root.Constraint)
		current := st.Module.Definition()
		if err == nil && def == current {
			continue
		}
		if !current.Releasable {
			h.logger.Warn("root changed but is not releasable, keeping the running instance", "root", st.Root.Spec)
			continue
		}
		if err := h.engine.Release(ctx, current); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", current.ID(), err))
			continue
		}
		idx = append(idx, i)
	}
	return idx, errors.Join(errs...)
}

// resolve resolves the roots at idx and records their statuses.
func (h *Host) resolve(ctx context.Context, idx []int) error {
	results := make([]Status, len(idx))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRoots)
	for n, i := range idx {
		root := h.roots[i]
		g.Go(func() error {
			results[n] = h.resolveRoot(gctx, root)
			return gctx.Err()
		})
	}
	err := g.Wait()

	h.mu.Lock()
	for n, i := range idx {
		if results[n].Module == nil && results[n].Err == nil {
			continue
		}
		h.status[i] = results[n]
	}
	h.mu.Unlock()
	return err
}

func (h *Host) resolveRoot(ctx context.Context, root Root) Status {
	st := Status{Root: root}
	def, err := moddef.Require(h.repos.Entry(), root.Name, root.Constraint)
	if err != nil {
		h.logger.Warn("root not found", "root", root.Spec, "err", err)
		st.Err = err
		return st
	}
	mod, err := h.engine.Resolve(ctx, def)
	if err != nil {
		if ctx.Err() != nil {
			return st
		}
		h.logger.Warn("root failed", "root", root.Spec, "module", def.ID(), "err", err)
		st.Err = err
		return st
	}
	h.logger.Debug("root resolved", "root", root.Spec, "module", mod)
	st.Module = mod
	return st
}
