//go:build windows

package exec

import (
	"os"
	"syscall"
)

// sysProcAttr returns no special attributes on Windows; process-group
// termination is approximated by killing the direct child only.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// killTree kills the child process. Descendants are not tracked on
// Windows.
func killTree(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}
