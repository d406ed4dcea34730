// SPDX-License-Identifier: MPL-2.0

// Package modlock records the versions a resolution chose in a TOML lock file
// and replays them through an override policy.
//
// A lock is keyed by module name. Replaying it narrows each import constraint
// to the locked version when that version still satisfies the declared
// constraint; otherwise the declared constraint is left alone, so an edited
// definition is never forced onto a version it no longer accepts.
package modlock
