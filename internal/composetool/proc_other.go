//go:build !unix

package composetool

import (
	"errors"
	"os"
	"os/exec"
)

func startInGroup(*exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
