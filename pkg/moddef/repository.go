// SPDX-License-Identifier: MPL-2.0

package moddef

import (
	"slices"
	"sync"

	"github.com/invowk/modhost/pkg/semver"
)

type (
	// Repository supplies module definitions by name and constraint.
	Repository interface {
		Name() string
		// Find returns the highest version of name satisfying c, searching this
		// repository and its parents. It returns (nil, nil) when nothing matches.
		Find(name string, c semver.Constraint) (*Definition, error)
		// Definitions lists this repository's own definitions, not its parents'.
		Definitions() []*Definition
		Parent() Repository
	}

	// MemoryRepository is a Repository populated in code.
	MemoryRepository struct {
		name   string
		parent Repository

		mu   sync.RWMutex
		defs []*Definition
	}
)

// NewMemoryRepository returns an empty repository. parent may be nil.
func NewMemoryRepository(name string, parent Repository) *MemoryRepository {
	return &MemoryRepository{name: name, parent: parent}
}

// Add validates def, binds it to the repository and returns the stored copy.
// The returned pointer is the definition's identity from then on.
func (r *MemoryRepository) Add(def Definition) (*Definition, error) {
	stored, err := normalize(def, r, "<memory:"+r.name+">")
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.defs = append(r.defs, stored)
	r.mu.Unlock()
	return stored, nil
}

// MustAdd is Add that panics on error.
func (r *MemoryRepository) MustAdd(def Definition) *Definition {
	stored, err := r.Add(def)
	if err != nil {
		panic(err)
	}
	return stored
}

// Remove drops def from the repository. It reports whether def was present.
func (r *MemoryRepository) Remove(def *Definition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.defs)
	r.defs = slices.DeleteFunc(r.defs, func(d *Definition) bool { return d == def })
	return len(r.defs) != n
}

func (r *MemoryRepository) Name() string       { return r.name }
func (r *MemoryRepository) Parent() Repository { return r.parent }

func (r *MemoryRepository) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs)
}

func (r *MemoryRepository) Find(name string, c semver.Constraint) (*Definition, error) {
	return findBest(r.Definitions(), r.parent, name, c)
}

// findBest picks the highest satisfying version among own and then the
// parent's best match. Among equal versions the first encountered wins, so a
// repository shadows its parent.
func findBest(own []*Definition, parent Repository, name string, c semver.Constraint) (*Definition, error) {
	var best *Definition
	consider := func(d *Definition) {
		if d == nil || d.Name != name || !semver.Satisfies(d.Version, c) {
			return
		}
		if best == nil || semver.Compare(d.Version, best.Version) > 0 {
			best = d
		}
	}
	for _, d := range own {
		consider(d)
	}
	if parent != nil {
		inherited, err := parent.Find(name, c)
		if err != nil {
			return nil, err
		}
		consider(inherited)
	}
	return best, nil
}
