// SPDX-License-Identifier: MPL-2.0

// Package moddef holds the immutable, declared side of the module system.
//
// A [Definition] names a module at one version, lists the modules it imports
// (each with a version constraint and reexport/optional flags), the package
// names it exports and the packages it is a member of, and a [Content] handle
// the module's loader reads class and resource entries from. Definitions are
// supplied by a [Repository] and are never mutated once built; the engine in
// pkg/modsys keys its instance cache on the *Definition pointer.
//
// # Repositories
//
//   - [MemoryRepository]: definitions added in code, used by tests and embedders
//   - [DirRepository]: a directory of "<name>.modhost" folders, each holding a
//     module.cue validated against the embedded #Module schema and an optional
//     content/ tree
//
// Repositories chain through [Repository.Parent]; [Repository.Find] returns the
// highest version satisfying a constraint across a repository and its parents.
//
// # Names
//
// Class-style names are dotted ("util.text.Joiner"); their package is the prefix
// before the last dot ("util.text"). Resource names contain "/"
// ("util/text/words.txt"); their package is the directory with "/" replaced by
// "." ("util.text"). See [PackageOf].
package moddef
