package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/agent"
	"github.com/OliverSchlueter/mailcmd/internal/config"
	"github.com/OliverSchlueter/mailcmd/internal/credential"
	"github.com/OliverSchlueter/mailcmd/internal/poller"
	"github.com/OliverSchlueter/mailcmd/internal/scheduler"
	"github.com/spf13/pflag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	agent.SetupLogging(cfg)
	agent.ResolveSecret(cfg, credential.NewStore())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", sloki.WrapError(err))
		os.Exit(2)
	}

	strategy, _ := scheduler.ParseStrategy(cfg.Coordination)
	var claims *poller.Claims
	if strategy == scheduler.Claim {
		claims = poller.NewClaims()
	}

	p, err := agent.NewPoller(cfg, claims)
	if err != nil {
		slog.Error("Could not set up poller", sloki.WrapError(err))
		os.Exit(1)
	}

	creds := cfg.Credentials()
	pollCfg := cfg.PollConfig()

	sched := scheduler.NewScheduler(scheduler.Configuration{
		Interval: pollCfg.Interval,
		Strategy: strategy,
		Run: func(ctx context.Context) (poller.Report, error) {
			return p.Run(ctx, creds, pollCfg)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Addr != "" {
		srv := agent.NewStatusServer(cfg.Status.Addr, sched.History())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status server failed", sloki.WrapError(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("Started status server", slog.String("addr", cfg.Status.Addr))
	}

	slog.Info("Watching mailbox",
		slog.String("user", creds.Username),
		slog.String("imap", cfg.IMAP.Host),
		slog.Int("interval_minutes", cfg.Interval),
	)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Scheduler stopped", sloki.WrapError(err))
	}
	sched.Wait()
}
