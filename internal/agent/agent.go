// Package agent wires the configured components into a poller. It is shared
// by the long running agent and the one-shot binary.
package agent

import (
	"errors"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/command"
	"github.com/OliverSchlueter/mailcmd/internal/config"
	"github.com/OliverSchlueter/mailcmd/internal/credential"
	"github.com/OliverSchlueter/mailcmd/internal/imap"
	"github.com/OliverSchlueter/mailcmd/internal/poller"
	"github.com/OliverSchlueter/mailcmd/internal/scheduler"
	"github.com/OliverSchlueter/mailcmd/internal/smtp"
	"github.com/OliverSchlueter/mailcmd/internal/statushandler"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const ServiceName = "mailcmd"

func SetupLogging(cfg *config.Config) {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.Log.LokiURL,
		Service:      ServiceName,
		ConsoleLevel: level,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.Log.LokiURL != "",
	})
	slog.SetDefault(slog.New(lokiService))
}

type SecretStore interface {
	Lookup(user string) (string, error)
	Save(user, secret string) error
}

// ResolveSecret fills in the password from the keyring when none was
// configured, or stores the configured one when asked to.
func ResolveSecret(cfg *config.Config, store SecretStore) {
	if cfg.Username == "" {
		return
	}

	if cfg.Password != "" {
		if !cfg.KeyringSave {
			return
		}
		if err := store.Save(cfg.Username, cfg.Password); err != nil {
			slog.Warn("Could not store password in keyring", sloki.WrapError(err))
			return
		}
		slog.Info("Stored password in keyring", slog.String("user", cfg.Username))
		return
	}

	if !cfg.Keyring {
		return
	}
	secret, err := store.Lookup(cfg.Username)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			slog.Warn("Could not read password from keyring", sloki.WrapError(err))
		}
		return
	}
	cfg.Password = secret
}

// NewPoller builds the poller for cfg. claims is nil unless runs may overlap.
func NewPoller(cfg *config.Config, claims *poller.Claims) (*poller.Poller, error) {
	tlsPolicy, err := smtp.ParseTLSPolicy(cfg.SMTP.TLSPolicy)
	if err != nil {
		return nil, err
	}

	var dkim *smtp.DKIM
	if cfg.DKIM.Enabled() {
		domain := cfg.DKIM.Domain
		if domain == "" {
			if i := strings.LastIndex(cfg.Username, "@"); i >= 0 {
				domain = cfg.Username[i+1:]
			}
		}
		dkim, err = smtp.LoadDKIM(smtp.DKIMConfiguration{
			KeyFile:  cfg.DKIM.KeyFile,
			Selector: cfg.DKIM.Selector,
			Domain:   domain,
		})
		if err != nil {
			return nil, err
		}
	}

	return poller.NewPoller(poller.Configuration{
		Dialer: imap.NewDialer(imap.Configuration{
			Host: cfg.IMAP.Host,
			Port: cfg.IMAP.Port,
		}),
		Sender: smtp.NewSender(smtp.Configuration{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			TLSPolicy: tlsPolicy,
			DKIM:      dkim,
		}),
		Runner: command.NewRunner(command.Configuration{
			Timeout: cfg.CommandTimeout,
		}),
		Out:    os.Stdout,
		Claims: claims,
	}), nil
}

// NewStatusServer serves the run history under /api/v1.
func NewStatusServer(addr string, history *scheduler.History) *http.Server {
	mux := http.NewServeMux()
	statushandler.New(history).Register("/api/v1", mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
