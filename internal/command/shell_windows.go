//go:build windows

package command

import (
	"context"
	"os/exec"
)

type cmdShell struct{}

// NewShell returns the Windows command interpreter, invoked as cmd /C.
func NewShell() Shell {
	return cmdShell{}
}

func (cmdShell) Command(ctx context.Context, line string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/C", line)
}

func (cmdShell) Name() string {
	return "cmd"
}
