//go:build windows

package watcher

import (
	"errors"
	"syscall"
)

// Win32 codes returned by ReadDirectoryChangesW once the handle is unusable
var fatalErrnos = []syscall.Errno{
	4, // ERROR_TOO_MANY_OPEN_FILES
	6, // ERROR_INVALID_HANDLE, usually a deleted watch root
	8, // ERROR_NOT_ENOUGH_MEMORY
}

func isFatalFsnotifyError(err error) bool {
	for _, errno := range fatalErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
