//go:build !windows

package command

import (
	"context"
	"os/exec"
)

type posixShell struct{}

// NewShell returns the POSIX shell, invoked as sh -c.
func NewShell() Shell {
	return posixShell{}
}

func (posixShell) Command(ctx context.Context, line string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", line)
}

func (posixShell) Name() string {
	return "sh"
}
