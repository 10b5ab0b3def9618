//go:build !unix

package procedure

import (
	"errors"
	"os"
	"os/exec"
)

// Without process groups only the procedure itself can be killed; detached
// descendants may survive.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
