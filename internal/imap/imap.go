package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/mailbox"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost = "imap.gmail.com"
	DefaultPort = 993
	inbox       = "INBOX"
	dialTimeout = 30 * time.Second
)

// Dialer opens go-imap sessions against one server.
type Dialer struct {
	addr      string
	tlsConfig *tls.Config
	plaintext bool
}

type Configuration struct {
	Host string
	Port int
	// TLSConfig overrides the default client TLS settings.
	TLSConfig *tls.Config
	// Plaintext skips TLS entirely. Only meant for local test servers.
	Plaintext bool
}

func NewDialer(config Configuration) *Dialer {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}

	return &Dialer{
		addr:      net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		tlsConfig: config.TLSConfig,
		plaintext: config.Plaintext,
	}
}

func (d *Dialer) Dial(ctx context.Context, creds mail.Credentials) (mailbox.Session, error) {
	opts := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	nd := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if d.plaintext {
		conn, err = nd.DialContext(ctx, "tcp", d.addr)
	} else {
		td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", d.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", d.addr, err)
	}

	c := imapclient.New(conn, opts)
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	if err := c.Login(creds.Username, creds.Secret).Wait(); err != nil {
		stop()
		_ = c.Close()

		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, fmt.Errorf("login as %s: %w: %s", creds.Username, mailbox.ErrAuthentication, imapErr.Text)
		}
		return nil, fmt.Errorf("login as %s: %w", creds.Username, err)
	}

	if _, err := c.Select(inbox, nil).Wait(); err != nil {
		stop()
		_ = c.Logout().Wait()
		_ = c.Close()
		return nil, fmt.Errorf("could not select %s: %w", inbox, err)
	}

	slog.Debug("IMAP session opened", slog.String("addr", d.addr), slog.String("user", creds.Username))

	return &session{client: c, stop: stop}, nil
}

type session struct {
	client *imapclient.Client
	stop   func() bool
}

func (s *session) Unseen() ([]uint32, error) {
	data, err := s.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("could not search unseen messages: %w", err)
	}

	var uids []uint32
	for _, uid := range data.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func (s *session) Fetch(uid uint32) (*mail.Message, error) {
	section := &imap.FetchItemBodySection{Peek: true}

	msgs, err := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("could not fetch message %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("fetch %d: %w", uid, mailbox.ErrMessageNotFound)
	}

	buf := msgs[0]
	return &mail.Message{
		UID:      uid,
		Envelope: envelopeFromIMAP(buf.Envelope),
		Raw:      buf.FindBodySection(section),
	}, nil
}

func (s *session) Flags(uid uint32) ([]mailbox.Flag, error) {
	msgs, err := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:   true,
		Flags: true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("could not fetch flags of message %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("flags %d: %w", uid, mailbox.ErrMessageNotFound)
	}

	flags := make([]mailbox.Flag, 0, len(msgs[0].Flags))
	for _, f := range msgs[0].Flags {
		flags = append(flags, mailbox.Flag(f))
	}
	return flags, nil
}

func (s *session) AddFlags(uid uint32, flags ...mailbox.Flag) error {
	return s.store(uid, imap.StoreFlagsAdd, flags)
}

func (s *session) RemoveFlags(uid uint32, flags ...mailbox.Flag) error {
	return s.store(uid, imap.StoreFlagsDel, flags)
}

func (s *session) store(uid uint32, op imap.StoreFlagsOp, flags []mailbox.Flag) error {
	imapFlags := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		imapFlags = append(imapFlags, imap.Flag(f))
	}

	err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  imapFlags,
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("could not store flags on message %d: %w", uid, err)
	}
	return nil
}

func (s *session) Expunge() error {
	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("could not expunge: %w", err)
	}
	return nil
}

func (s *session) Logout() error {
	s.stop()

	err := s.client.Logout().Wait()
	if cerr := s.client.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("could not log out: %w", err)
	}
	return nil
}
