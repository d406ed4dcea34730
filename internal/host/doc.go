// SPDX-License-Identifier: MPL-2.0

// Package host keeps a set of root modules resolved against directory
// repositories.
//
// A Host owns the repository chain built from configuration, resolves its
// roots on an engine, and applies repository changes reported by the watcher:
// changed repositories are reloaded, instances of stale releasable modules are
// released together with their importers, and every affected root is resolved
// afresh. Stale modules that are not releasable keep their running instance.
package host
