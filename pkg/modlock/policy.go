// SPDX-License-Identifier: MPL-2.0

package modlock

import (
	"context"

	"github.com/invowk/modhost/pkg/moddef"
	"github.com/invowk/modhost/pkg/modsys"
	"github.com/invowk/modhost/pkg/semver"
)

// PolicyName is the override policy name Register uses.
const PolicyName = "lock"

// OverridePolicy pins imports to the versions recorded in a lock.
type OverridePolicy struct {
	lock *Lock
}

// Policy returns an override policy replaying l.
func (l *Lock) Policy() *OverridePolicy {
	return &OverridePolicy{lock: l}
}

// Narrow implements modsys.OverridePolicy.
func (p *OverridePolicy) Narrow(_ context.Context, _ *moddef.Definition, constraints map[string]semver.Constraint) (map[string]semver.Constraint, error) {
	out := make(map[string]semver.Constraint, len(constraints))
	for name, c := range constraints {
		out[name] = c
		if v, ok := p.lock.Locked(name); ok && c.Check(v) {
			out[name] = semver.Exact(v)
		}
	}
	return out, nil
}

// Register makes the lock available to definitions declaring the "lock"
// override policy.
func Register(reg *modsys.Registry, l *Lock) error {
	return reg.RegisterOverridePolicy(PolicyName, func(*modsys.Loader) (modsys.OverridePolicy, error) {
		return l.Policy(), nil
	})
}
