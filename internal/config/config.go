// Package config loads the agent settings from flags, MAILCMD_* environment
// variables, an optional YAML file and the compiled-in fallback, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/scheduler"
	"github.com/OliverSchlueter/mailcmd/internal/smtp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"log/slog"
	"strings"
	"time"
)

const EnvPrefix = "MAILCMD"

type Endpoint struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type SMTPConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	TLSPolicy string `mapstructure:"tls_policy" yaml:"tls_policy"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	LokiURL string `mapstructure:"loki_url" yaml:"loki_url"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type DKIMConfig struct {
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
	Selector string `mapstructure:"selector" yaml:"selector"`
	Domain   string `mapstructure:"domain" yaml:"domain"`
}

func (d DKIMConfig) Enabled() bool {
	return d.KeyFile != ""
}

type Config struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// Interval is the poll interval in minutes.
	Interval int    `mapstructure:"interval" yaml:"interval"`
	Tag      string `mapstructure:"tag" yaml:"tag"`

	IMAP Endpoint   `mapstructure:"imap" yaml:"imap"`
	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`

	Coordination   string        `mapstructure:"coordination" yaml:"coordination"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`

	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Status StatusConfig `mapstructure:"status" yaml:"status"`
	DKIM   DKIMConfig   `mapstructure:"dkim" yaml:"dkim"`

	Keyring     bool `mapstructure:"keyring" yaml:"keyring"`
	KeyringSave bool `mapstructure:"keyring_save" yaml:"keyring_save"`
}

var defaults = map[string]any{
	"imap.host":       "imap.gmail.com",
	"imap.port":       993,
	"smtp.host":       "smtp.gmail.com",
	"smtp.port":       587,
	"smtp.tls_policy": "mandatory",
	"coordination":    string(scheduler.Serial),
	"command_timeout": time.Duration(0),
	"log.level":       "info",
	"log.loki_url":    "",
	"status.addr":     "",
	"dkim.key_file":   "",
	"dkim.selector":   "mail",
	"dkim.domain":     "",
	"keyring":         true,
	"keyring_save":    false,
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"username":        "username",
	"password":        "password",
	"time":            "interval",
	"string":          "tag",
	"imap-host":       "imap.host",
	"imap-port":       "imap.port",
	"smtp-host":       "smtp.host",
	"smtp-port":       "smtp.port",
	"smtp-tls":        "smtp.tls_policy",
	"coordination":    "coordination",
	"command-timeout": "command_timeout",
	"log-level":       "log.level",
	"loki-url":        "log.loki_url",
	"status-addr":     "status.addr",
	"dkim-key":        "dkim.key_file",
	"dkim-selector":   "dkim.selector",
	"dkim-domain":     "dkim.domain",
	"keyring":         "keyring",
	"keyring-save":    "keyring_save",
}

// NewFlagSet declares every command line flag of the agent.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringP("username", "u", "", "Mailbox username")
	fs.StringP("password", "p", "", "Mailbox password or app token")
	fs.IntP("time", "t", 0, "Time interval to check mail (in minutes)")
	fs.StringP("string", "s", "", "Command tag matched in 'Command (<tag>)' subjects (not case sensitive)")
	fs.String("config", "", "Path to a YAML config file")
	fs.String("imap-host", "imap.gmail.com", "IMAP server host")
	fs.Int("imap-port", 993, "IMAP server port (implicit TLS)")
	fs.String("smtp-host", "smtp.gmail.com", "SMTP submission host")
	fs.Int("smtp-port", 587, "SMTP submission port")
	fs.String("smtp-tls", "mandatory", "SMTP STARTTLS policy: mandatory, opportunistic or none")
	fs.String("coordination", string(scheduler.Serial), "Run coordination: serial or claim")
	fs.Duration("command-timeout", 0, "Per-command timeout, 0 disables it")
	fs.String("log-level", "info", "Console log level: debug, info, warn or error")
	fs.String("loki-url", "", "Loki push URL, empty disables Loki")
	fs.String("status-addr", "", "Listen address of the status API, empty disables it")
	fs.String("dkim-key", "", "PEM private key for DKIM signing of replies")
	fs.String("dkim-selector", "mail", "DKIM selector")
	fs.String("dkim-domain", "", "DKIM signing domain, defaults to the username's domain")
	fs.Bool("keyring", true, "Look up the password in the OS keyring when none is configured")
	fs.Bool("keyring-save", false, "Store the given password in the OS keyring")

	return fs
}

// Load parses args and merges all configuration sources. It does not
// validate the result.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("mailcmd")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(fs)
}

// LoadFlags merges an already parsed flag set with the other sources.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, value := range fallback {
		v.SetDefault(key, value)
	}

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("could not bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		path := f.Value.String()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to start polling. The password must
// already be resolved, including the keyring lookup.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, errors.New("username: must not be empty"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password: must not be empty"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval: must be a positive number of minutes, got %d", c.Interval))
	}
	if strings.TrimSpace(c.Tag) == "" {
		errs = append(errs, errors.New("tag: must not be empty"))
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		errs = append(errs, fmt.Errorf("imap.port: invalid port %d", c.IMAP.Port))
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port: invalid port %d", c.SMTP.Port))
	}
	if _, err := smtp.ParseTLSPolicy(c.SMTP.TLSPolicy); err != nil {
		errs = append(errs, fmt.Errorf("smtp.tls_policy: %w", err))
	}
	if _, err := scheduler.ParseStrategy(c.Coordination); err != nil {
		errs = append(errs, fmt.Errorf("coordination: %w", err))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command_timeout: must not be negative, got %s", c.CommandTimeout))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) Credentials() mail.Credentials {
	return mail.Credentials{
		Username: c.Username,
		Secret:   c.Password,
	}
}

func (c *Config) PollConfig() mail.PollConfig {
	return mail.PollConfig{
		Interval:   time.Duration(c.Interval) * time.Minute,
		CommandTag: c.Tag,
	}
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
