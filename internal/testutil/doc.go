// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers write files and directories (MustWriteFile, MustMkdirAll)
// and lay out module definitions in a repository directory (WriteModule).
package testutil
