//go:build !windows

package watcher

import (
	"fmt"
	"syscall"
	"testing"
)

func TestIsFatalFsnotifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"watch limit", syscall.ENOSPC, true},
		{"process fd limit", syscall.EMFILE, true},
		{"system fd limit", syscall.ENFILE, true},
		{"wrapped", fmt.Errorf("inotify: %w", syscall.ENOSPC), true},
		{"permission", syscall.EACCES, false},
		{"plain error", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFatalFsnotifyError(tt.err); got != tt.want {
				t.Errorf("Expected %v for %v, got %v", tt.want, tt.err, got)
			}
		})
	}
}
