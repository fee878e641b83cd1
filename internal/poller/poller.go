// Package poller runs one bounded pass over the unseen messages of a
// mailbox: command requests are executed and answered, echoes of command
// traffic are left alone and everything else is printed and deleted.
package poller

import (
	"context"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/command"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/mailbody"
	"github.com/OliverSchlueter/mailcmd/internal/mailbox"
	"github.com/OliverSchlueter/mailcmd/internal/reply"
	"github.com/google/uuid"
	"io"
	"log/slog"
	"os"
	"slices"
)

type Sender interface {
	Send(ctx context.Context, creds mail.Credentials, r mail.Reply) error
}

type Executor interface {
	Run(ctx context.Context, body string) []command.Result
}

type Poller struct {
	dialer mailbox.Dialer
	sender Sender
	runner Executor
	out    io.Writer
	claims *Claims
}

type Configuration struct {
	Dialer mailbox.Dialer
	Sender Sender
	Runner Executor
	// Out receives the dump of informational messages. Defaults to stdout.
	Out io.Writer
	// Claims enables claim-then-verify for runs that may overlap.
	Claims *Claims
}

func NewPoller(cfg Configuration) *Poller {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Runner == nil {
		cfg.Runner = command.NewRunner(command.Configuration{})
	}

	return &Poller{
		dialer: cfg.Dialer,
		sender: cfg.Sender,
		runner: cfg.Runner,
		out:    cfg.Out,
		claims: cfg.Claims,
	}
}

type runIDKey struct{}

// WithRunID attaches the ID the next Run reports under.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Run performs one poll run. Per-message problems are logged and counted in
// the report; only connection or session failures are returned.
func (p *Poller) Run(ctx context.Context, creds mail.Credentials, cfg mail.PollConfig) (Report, error) {
	report := Report{RunID: runIDFrom(ctx)}
	log := slog.With(slog.String("run_id", report.RunID))

	session, err := p.dialer.Dial(ctx, creds)
	if err != nil {
		return report, fmt.Errorf("could not open mailbox session: %w", err)
	}
	defer func() {
		if err := session.Logout(); err != nil {
			log.Warn("Failed to log out of mailbox", sloki.WrapError(err))
		}
	}()

	uids, err := session.Unseen()
	if err != nil {
		return report, err
	}
	slices.Sort(uids)
	report.Listed = len(uids)
	log.Debug("Listed unseen messages", slog.Int("count", len(uids)))

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := p.process(ctx, log, session, creds, cfg, uid, &report)
		if errors.Is(err, mailbox.ErrMessageNotFound) {
			log.Warn("Message disappeared before it could be processed", slog.Any("uid", uid))
			report.Skipped++
			continue
		}
		if err != nil {
			return report, fmt.Errorf("message %d: %w", uid, err)
		}
	}

	return report, nil
}

func (p *Poller) process(ctx context.Context, log *slog.Logger, s mailbox.Session, creds mail.Credentials, cfg mail.PollConfig, uid uint32, report *Report) error {
	msg, err := s.Fetch(uid)
	if err != nil {
		return err
	}
	if msg.Envelope == nil {
		log.Error(fmt.Sprintf("No envelope found for message ID %d", uid))
		report.Skipped++
		return nil
	}
	env := *msg.Envelope

	class := mail.Classify(env.Subject, cfg.CommandTag)
	log = log.With(slog.Any("uid", uid), slog.String("class", class.String()))

	if class == mail.CommandEcho {
		log.Debug("Leaving command echo unseen", slog.String("subject", env.Subject))
		report.Echoes++
		return s.RemoveFlags(uid, mailbox.FlagSeen)
	}

	if env.From == "" {
		log.Error(fmt.Sprintf("Incomplete address for message ID %d", uid))
		report.Skipped++
		return nil
	}

	ok, err := p.claim(s, uid)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("Message is handled by another run")
		report.Skipped++
		return nil
	}
	defer p.release(uid)

	body := mailbody.Extract(msg.Raw)

	if class == mail.Informational {
		p.dump(env, body)
		report.Informational++
		return consume(s, uid)
	}

	// consumed before execution, whatever happens afterwards
	if err := consume(s, uid); err != nil {
		return err
	}
	report.Requests++

	results := p.runner.Run(ctx, body)
	report.Commands += len(results)
	log.Info("Executed command request", slog.String("from", env.From), slog.Int("commands", len(results)))

	if err := p.sender.Send(ctx, creds, reply.Compose(results, env, body)); err != nil {
		log.Error("Failed to send reply", slog.String("to", env.From), sloki.WrapError(err))
		report.ReplyFailures++
	}
	return nil
}

// claim reserves uid for this run and re-checks on the server that nobody
// consumed it since it was listed.
func (p *Poller) claim(s mailbox.Session, uid uint32) (bool, error) {
	if p.claims == nil {
		return true, nil
	}
	if !p.claims.Claim(uid) {
		return false, nil
	}

	flags, err := s.Flags(uid)
	if err != nil {
		p.claims.Release(uid)
		return false, err
	}
	if mailbox.HasFlag(flags, mailbox.FlagDeleted) || mailbox.HasFlag(flags, mailbox.FlagSeen) {
		p.claims.Release(uid)
		return false, nil
	}
	return true, nil
}

func (p *Poller) release(uid uint32) {
	if p.claims != nil {
		p.claims.Release(uid)
	}
}

func consume(s mailbox.Session, uid uint32) error {
	if err := s.AddFlags(uid, mailbox.FlagSeen, mailbox.FlagDeleted); err != nil {
		return err
	}
	return s.Expunge()
}
