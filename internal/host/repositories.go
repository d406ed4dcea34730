// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/invowk/modhost/internal/config"
	"github.com/invowk/modhost/pkg/moddef"
)

// ErrNoRepositories is returned by OpenRepositories for an empty list.
var ErrNoRepositories = errors.New("no repositories configured")

// Repositories is the set of directory repositories opened from
// configuration, in declaration order.
type Repositories struct {
	dirs   []*moddef.DirRepository
	byName map[string]*moddef.DirRepository
}

// OpenRepositories opens every configured repository. A parent must be
// declared before the repositories naming it.
func OpenRepositories(ctx context.Context, repos []config.RepositoryConfig) (*Repositories, error) {
	if len(repos) == 0 {
		return nil, ErrNoRepositories
	}
	r := &Repositories{byName: make(map[string]*moddef.DirRepository, len(repos))}
	for _, rc := range repos {
		var parent moddef.Repository
		if rc.Parent != "" {
			p, ok := r.byName[string(rc.Parent)]
			if !ok {
				return nil, fmt.Errorf("%w: repository %s names parent %q", config.ErrUnknownParent, rc.Name, rc.Parent)
			}
			parent = p
		}
		dir, err := moddef.OpenDir(ctx, string(rc.Name), string(rc.Path), parent)
		if err != nil {
			return nil, err
		}
		r.dirs = append(r.dirs, dir)
		r.byName[dir.Name()] = dir
	}
	return r, nil
}

// Entry returns the repository lookups start from: the last one declared.
func (r *Repositories) Entry() moddef.Repository {
	return r.dirs[len(r.dirs)-1]
}

// Dirs returns the opened repositories in declaration order.
func (r *Repositories) Dirs() []*moddef.DirRepository {
	return append([]*moddef.DirRepository(nil), r.dirs...)
}

// Get returns the repository called name.
func (r *Repositories) Get(name string) (*moddef.DirRepository, bool) {
	dir, ok := r.byName[name]
	return dir, ok
}

// ByDir returns the repository reading dir.
func (r *Repositories) ByDir(dir string) (*moddef.DirRepository, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, false
	}
	for _, d := range r.dirs {
		if d.Dir() == abs {
			return d, true
		}
	}
	return nil, false
}

// Paths returns the directory of every repository.
func (r *Repositories) Paths() []string {
	out := make([]string, len(r.dirs))
	for i, d := range r.dirs {
		out[i] = d.Dir()
	}
	return out
}
