//go:build !windows

package output

// enableANSI reports ANSI support; Unix terminals always have it
func enableANSI() bool {
	return true
}
