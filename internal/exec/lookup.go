package exec

import (
	"os/exec"
)

// LookPath reports where program resolves on the parent's PATH.
// Kept here so os/exec stays confined to this package.
func LookPath(program string) (string, error) {
	return exec.LookPath(program)
}
