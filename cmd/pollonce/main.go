package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/agent"
	"github.com/OliverSchlueter/mailcmd/internal/config"
	"github.com/OliverSchlueter/mailcmd/internal/credential"
	"github.com/spf13/pflag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// pollonce performs a single poll run and prints its report as JSON.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	// the interval is not used for a single run
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}

	agent.SetupLogging(cfg)
	agent.ResolveSecret(cfg, credential.NewStore())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", sloki.WrapError(err))
		os.Exit(2)
	}

	p, err := agent.NewPoller(cfg, nil)
	if err != nil {
		slog.Error("Could not set up poller", sloki.WrapError(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := p.Run(ctx, cfg.Credentials(), cfg.PollConfig())

	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if err != nil {
		slog.Error("Poll run failed", slog.String("run_id", report.RunID), sloki.WrapError(err))
		os.Exit(1)
	}
}
