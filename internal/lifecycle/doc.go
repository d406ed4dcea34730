// SPDX-License-Identifier: MPL-2.0

// Package lifecycle runs a single long-lived worker goroutine behind a
// start/stop state machine.
//
// The module engine uses it for its background worker: atomic state reads,
// mutex-protected failure recording, WaitGroup tracking and context-based
// cancellation. A Runner is single-use: once stopped or failed, create a new one.
package lifecycle
