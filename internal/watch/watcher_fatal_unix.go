// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"syscall"
)

// isFatalWatchError reports inotify resource exhaustion, after which the
// watcher silently misses events:
//   - ENOSPC: fs.inotify.max_user_watches exceeded
//   - EMFILE: per-process file descriptor limit
//   - ENFILE: system-wide file descriptor limit
func isFatalWatchError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
