//go:build windows

package output

import (
	"syscall"
	"unsafe"
)

// Console mode flags used to turn on escape sequence processing
const (
	enableVirtualTerminalProcessing = 0x0004
	stdOutputHandle                 = uint32(0xFFFFFFF5)
)

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	procGetConsoleMode = kernel32.NewProc("GetConsoleMode")
	procSetConsoleMode = kernel32.NewProc("SetConsoleMode")
	procGetStdHandle   = kernel32.NewProc("GetStdHandle")
)

// enableANSI switches the stdout console into virtual terminal mode. It
// fails on consoles older than Windows 10.
func enableANSI() bool {
	handle, _, _ := procGetStdHandle.Call(uintptr(stdOutputHandle))
	if handle == 0 {
		return false
	}

	var mode uint32
	if ret, _, _ := procGetConsoleMode.Call(handle, uintptr(unsafe.Pointer(&mode))); ret == 0 {
		return false
	}
	if mode&enableVirtualTerminalProcessing != 0 {
		return true
	}

	ret, _, _ := procSetConsoleMode.Call(handle, uintptr(mode|enableVirtualTerminalProcessing))
	return ret != 0
}

