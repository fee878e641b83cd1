package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/mailbody"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Result is the captured outcome of one command line. Failure is only set
// when the command could not be started; a non-zero exit is a normal result.
type Result struct {
	Command string
	Stdout  string
	Stderr  string
	Failure string
}

func (r Result) Failed() bool {
	return r.Failure != ""
}

// Shell turns a command line into a process for the host's shell.
type Shell interface {
	Command(ctx context.Context, line string) *exec.Cmd
	Name() string
}

// waitDelay bounds how long a killed command may keep its output pipes open.
const waitDelay = time.Second

type Runner struct {
	shell   Shell
	timeout time.Duration
}

type Configuration struct {
	// Shell defaults to the platform shell returned by NewShell.
	Shell Shell

	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration
}

func NewRunner(cfg Configuration) *Runner {
	if cfg.Shell == nil {
		cfg.Shell = NewShell()
	}

	return &Runner{
		shell:   cfg.Shell,
		timeout: cfg.Timeout,
	}
}

// Run executes every non-blank line of body in order and returns one
// result per executed line.
func (r *Runner) Run(ctx context.Context, body string) []Result {
	lines := Lines(body)
	results := make([]Result, 0, len(lines))

	for _, line := range lines {
		results = append(results, r.exec(ctx, line))
	}

	return results
}

// Lines returns the trimmed, non-empty lines of body.
func Lines(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (r *Runner) exec(ctx context.Context, line string) Result {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	slog.Debug("Executing command", slog.String("shell", r.shell.Name()), slog.String("command", line))

	var stdout, stderr bytes.Buffer
	cmd := r.shell.Command(ctx, line)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	res := Result{
		Command: line,
		Stdout:  strings.TrimSpace(mailbody.Decode(stdout.Bytes())),
		Stderr:  strings.TrimSpace(mailbody.Decode(stderr.Bytes())),
	}

	if r.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Stderr = strings.TrimSpace(res.Stderr + "\ncommand timed out after " + r.timeout.String())
	}

	// A background child still holding the output pipes does not make the
	// command itself a failure.
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.Debug("Command left output pipes open", slog.String("command", line))
		err = nil
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		slog.Warn("Failed to start command", slog.String("command", line), sloki.WrapError(err))
		res.Failure = fmt.Sprintf("Failed to execute command: %s. Error: %v", line, err)
	}

	return res
}
