//go:build unix

package exec

import "syscall"

// sysProcAttr places the child in its own process group so a timeout
// kill reaches any descendants it spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// killTree kills the process group rooted at pid.
func killTree(pid int) {
	// Negative pid targets the whole group.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
