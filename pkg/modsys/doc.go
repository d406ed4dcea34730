// SPDX-License-Identifier: MPL-2.0

// Package modsys turns module definitions into live, initialized module
// instances.
//
// An [Engine] keeps one [Instance] per *moddef.Definition. Each instance moves
// through
//
//	new → found_direct_imports → found_all_imports → validated →
//	execute_initializer → initializer_complete → ready
//
// or drops to error from any state. A single worker goroutine advances every
// pending instance in repeated passes until no pass makes progress; the
// gates between stages only open once every instance in the imported closure
// has caught up, so import cycles between modules resolve. When nothing can
// progress and no new instance is queued, the remaining pending instances fail
// with [ErrRecursiveDependency].
//
// # Hooks
//
// Definitions name an [OverridePolicy], an [ImportPolicy] and an
// [Initializer] registered in a [Registry]. Hooks run on the worker with a
// context carrying the engine's drain capability: [Engine.Resolve] called
// with that context resolves the requested module inline instead of waiting,
// which is how one module's policy may depend on another module.
//
// # Loading
//
// Every instance owns a [Loader]. Once the instance is ready the loader
// serves a name from the first visible import exporting it, else from the
// module's own content. Visible imports are the direct imports plus whatever
// they reexport, see [ExpandReexports].
//
// # Failure and release
//
// A failed instance records an [*InitializationError], leaves the identity
// cache and unlinks itself from the instances it imported, so resolving the
// same definition again starts over. [Engine.Release] tears down a
// releasable module and everything importing it.
package modsys
