package smtp

import (
	"context"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/goutils/idgen"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	gomail "github.com/wneessen/go-mail"
	"log/slog"
	"strings"
)

const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 587
)

var ErrDelivery = errors.New("reply delivery failed")

// Sender submits replies through an authenticated SMTP session. Every call
// opens its own connection.
type Sender struct {
	host      string
	port      int
	tlsPolicy gomail.TLSPolicy
	dkim      *DKIM
}

type Configuration struct {
	Host      string
	Port      int
	TLSPolicy gomail.TLSPolicy
	// DKIM signs outgoing replies when set.
	DKIM *DKIM
}

func NewSender(config Configuration) *Sender {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}

	return &Sender{
		host:      config.Host,
		port:      config.Port,
		tlsPolicy: config.TLSPolicy,
		dkim:      config.DKIM,
	}
}

// Send delivers exactly one message. Errors wrap ErrDelivery.
func (s *Sender) Send(ctx context.Context, creds mail.Credentials, r mail.Reply) error {
	m, err := s.build(creds, r)
	if err != nil {
		return fmt.Errorf("%w: could not build message: %w", ErrDelivery, err)
	}

	c, err := gomail.NewClient(
		s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(creds.Username),
		gomail.WithPassword(creds.Secret),
		gomail.WithTLSPolicy(s.tlsPolicy),
	)
	if err != nil {
		return fmt.Errorf("%w: could not create client: %w", ErrDelivery, err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	slog.Info("Reply sent", slog.String("to", r.To), slog.String("subject", r.Subject))
	return nil
}

func (s *Sender) build(creds mail.Credentials, r mail.Reply) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(creds.Username, creds.Username); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", creds.Username, err)
	}
	if err := m.To(r.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", r.To, err)
	}
	m.Subject(r.Subject)
	m.SetMessageIDWithValue(idgen.GenerateID(20) + "@" + domainOf(creds.Username))
	m.SetDate()
	if r.InReplyTo != "" {
		ref := "<" + strings.Trim(r.InReplyTo, "<>") + ">"
		m.SetGenHeader(gomail.HeaderInReplyTo, ref)
		m.SetGenHeader(gomail.HeaderReferences, ref)
	}
	m.SetBodyString(gomail.TypeTextPlain, r.Body)

	if s.dkim != nil {
		if err := s.dkim.Sign(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// ParseTLSPolicy maps the configured policy name to go-mail's policy.
func ParseTLSPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "", "mandatory":
		return gomail.TLSMandatory, nil
	case "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return gomail.TLSMandatory, fmt.Errorf("unknown tls policy %q", name)
	}
}
