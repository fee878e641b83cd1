package fake

import (
	"context"
	"errors"
	"fmt"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/mailbox"
	"sort"
	"strings"
	"sync"
)

var errClosed = errors.New("session is logged out")

type Message struct {
	UID      uint32
	Envelope *mail.Envelope
	Raw      []byte
	Flags    []mailbox.Flag
}

// Server is an in-memory single-account mailbox. It implements
// mailbox.Dialer and records every session call.
type Server struct {
	Username string
	Secret   string

	// DialErr, when set, is returned by every Dial.
	DialErr error
	// BeforeFetch runs right before a message is read. Tests use it to
	// change the mailbox between listing and fetching.
	BeforeFetch func(uid uint32)

	messages map[uint32]*Message
	nextUID  uint32
	calls    []string
	dials    int
	logouts  int
	mu       sync.Mutex
}

func NewServer(creds mail.Credentials) *Server {
	return &Server{
		Username: creds.Username,
		Secret:   creds.Secret,
		messages: map[uint32]*Message{},
		nextUID:  1,
		mu:       sync.Mutex{},
	}
}

// Deliver stores a new unseen message and returns its UID.
func (s *Server) Deliver(env *mail.Envelope, raw string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := s.nextUID
	s.nextUID++
	s.messages[uid] = &Message{
		UID:      uid,
		Envelope: env,
		Raw:      []byte(raw),
	}
	return uid
}

// DeliverUID stores a message under a fixed UID.
func (s *Server) DeliverUID(uid uint32, env *mail.Envelope, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[uid] = &Message{
		UID:      uid,
		Envelope: env,
		Raw:      []byte(raw),
	}
	if uid >= s.nextUID {
		s.nextUID = uid + 1
	}
}

func (s *Server) Remove(uid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, uid)
}

func (s *Server) Has(uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.messages[uid]
	return ok
}

func (s *Server) MessageFlags(uid uint32) []mailbox.Flag {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[uid]
	if !ok {
		return nil
	}
	return append([]mailbox.Flag(nil), m.Flags...)
}

func (s *Server) SetFlags(uid uint32, flags ...mailbox.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.messages[uid]; ok {
		m.Flags = append([]mailbox.Flag(nil), flags...)
	}
}

// Calls returns the session operations in the order they were issued,
// e.g. "fetch 3" or "add 3 \Seen \Deleted".
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dials
}

func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.logouts
}

func (s *Server) Dial(ctx context.Context, creds mail.Credentials) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	if creds.Username != s.Username || creds.Secret != s.Secret {
		return nil, fmt.Errorf("login as %s: %w", creds.Username, mailbox.ErrAuthentication)
	}

	return &session{server: s}, nil
}

func (s *Server) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

type session struct {
	server *Server
	closed bool
}

func (c *session) Unseen() ([]uint32, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	s.record("unseen")

	var uids []uint32
	for uid, m := range s.messages {
		if !mailbox.HasFlag(m.Flags, mailbox.FlagSeen) {
			uids = append(uids, uid)
		}
	}
	// servers make no ordering promise
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

func (c *session) Fetch(uid uint32) (*mail.Message, error) {
	if hook := c.server.BeforeFetch; hook != nil {
		hook(uid)
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	s.record("fetch %d", uid)

	m, ok := s.messages[uid]
	if !ok {
		return nil, fmt.Errorf("fetch %d: %w", uid, mailbox.ErrMessageNotFound)
	}

	msg := &mail.Message{
		UID: uid,
		Raw: append([]byte(nil), m.Raw...),
	}
	if m.Envelope != nil {
		env := *m.Envelope
		msg.Envelope = &env
	}
	return msg, nil
}

func (c *session) Flags(uid uint32) ([]mailbox.Flag, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	s.record("flags %d", uid)

	m, ok := s.messages[uid]
	if !ok {
		return nil, fmt.Errorf("flags %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	return append([]mailbox.Flag(nil), m.Flags...), nil
}

func (c *session) AddFlags(uid uint32, flags ...mailbox.Flag) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	s.record("add %d %s", uid, joinFlags(flags))

	m, ok := s.messages[uid]
	if !ok {
		// STORE on a missing UID is a no-op for IMAP servers
		return nil
	}
	for _, f := range flags {
		if !mailbox.HasFlag(m.Flags, f) {
			m.Flags = append(m.Flags, f)
		}
	}
	return nil
}

func (c *session) RemoveFlags(uid uint32, flags ...mailbox.Flag) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	s.record("remove %d %s", uid, joinFlags(flags))

	m, ok := s.messages[uid]
	if !ok {
		return nil
	}
	kept := m.Flags[:0]
	for _, f := range m.Flags {
		if !mailbox.HasFlag(flags, f) {
			kept = append(kept, f)
		}
	}
	m.Flags = kept
	return nil
}

func (c *session) Expunge() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	s.record("expunge")

	for uid, m := range s.messages {
		if mailbox.HasFlag(m.Flags, mailbox.FlagDeleted) {
			delete(s.messages, uid)
		}
	}
	return nil
}

func (c *session) Logout() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	c.closed = true
	s.logouts++
	s.record("logout")
	return nil
}

func joinFlags(flags []mailbox.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}
