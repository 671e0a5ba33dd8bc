//go:build !windows

package watcher

import (
	"errors"
	"syscall"
)

// isFatalFsnotifyError reports errors after which the watch cannot keep
// delivering events: inotify watch exhaustion and descriptor limits.
func isFatalFsnotifyError(err error) bool {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		return true
	default:
		return false
	}
}
