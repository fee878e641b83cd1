package poller

import (
	"bytes"
	"context"
	"errors"
	"github.com/OliverSchlueter/mailcmd/internal/command"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/mailbox"
	"github.com/OliverSchlueter/mailcmd/internal/mailbox/fake"
	"slices"
	"strings"
	"sync"
	"testing"
)

var (
	testCreds = mail.Credentials{Username: "agent@example.com", Secret: "secret"}
	testCfg   = mail.PollConfig{CommandTag: "x1"}
)

type fakeSender struct {
	mu      sync.Mutex
	replies []mail.Reply
	err     error
}

func (s *fakeSender) Send(_ context.Context, _ mail.Credentials, r mail.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies = append(s.replies, r)
	return s.err
}

func (s *fakeSender) Replies() []mail.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]mail.Reply(nil), s.replies...)
}

type fakeRunner struct {
	run func(body string) []command.Result
}

func (r *fakeRunner) Run(_ context.Context, body string) []command.Result {
	return r.run(body)
}

func envelope(subject, from string) *mail.Envelope {
	return &mail.Envelope{
		Subject:   subject,
		Date:      "Mon, 02 Jan 2006 15:04:05 +0000",
		From:      from,
		To:        "agent@example.com",
		MessageID: "abc@example.com",
	}
}

func rawMail(subject, body string) string {
	return "Subject: " + subject + "\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + body
}

func newTestPoller(server *fake.Server, sender *fakeSender, out *bytes.Buffer) *Poller {
	return NewPoller(Configuration{
		Dialer: server,
		Sender: sender,
		Out:    out,
	})
}

func TestRunProcessesInAscendingOrder(t *testing.T) {
	server := fake.NewServer(testCreds)
	for _, uid := range []uint32{5, 2, 9} {
		server.DeliverUID(uid, envelope("hello", "bob@example.com"), rawMail("hello", "hi\r\n"))
	}

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var fetched []string
	for _, c := range server.Calls() {
		if strings.HasPrefix(c, "fetch ") {
			fetched = append(fetched, c)
		}
	}
	expected := []string{"fetch 2", "fetch 5", "fetch 9"}
	if !slices.Equal(fetched, expected) {
		t.Errorf("Expected fetch order %v, got %v", expected, fetched)
	}
	if report.Listed != 3 || report.Informational != 3 {
		t.Errorf("Expected 3 listed and 3 informational, got %+v", report)
	}
}

func TestRunCommandRequestRoundTrip(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(envelope("Command (x1)", "alice@example.com"), rawMail("Command (x1)", "echo hello"))
	sender := &fakeSender{}

	p := newTestPoller(server, sender, &bytes.Buffer{})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	replies := sender.Replies()
	if len(replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(replies))
	}
	r := replies[0]
	if r.Subject != "Re: Command (x1)" {
		t.Errorf("Expected subject %q, got %q", "Re: Command (x1)", r.Subject)
	}
	if r.To != "alice@example.com" {
		t.Errorf("Expected reply to alice@example.com, got %q", r.To)
	}
	if !strings.Contains(r.Body, "Command Sent:\necho hello\n") {
		t.Errorf("Expected a block for echo hello, got %q", r.Body)
	}
	if !strings.Contains(r.Body, "Command Response:\n__________________________________________\n\nhello\n") {
		t.Errorf("Expected captured stdout hello, got %q", r.Body)
	}

	if server.Has(uid) {
		t.Error("Expected the request to be removed from the mailbox")
	}
	if report.Requests != 1 || report.Commands != 1 || report.ReplyFailures != 0 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestRunConsumesRequestBeforeExecuting(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(envelope("COMMAND (X1)", "alice@example.com"), rawMail("COMMAND (X1)", "uptime\n"))

	var presentDuringRun bool
	p := NewPoller(Configuration{
		Dialer: server,
		Sender: &fakeSender{},
		Out:    &bytes.Buffer{},
		Runner: &fakeRunner{run: func(body string) []command.Result {
			presentDuringRun = server.Has(uid)
			return []command.Result{{Command: "uptime", Stdout: "up"}}
		}},
	})

	if _, err := p.Run(context.Background(), testCreds, testCfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if presentDuringRun {
		t.Error("Expected the request to be expunged before the commands ran")
	}
}

func TestRunConsumesRequestWhenDeliveryFails(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(envelope("Command (x1)", "alice@example.com"), rawMail("Command (x1)", "echo hello"))
	sender := &fakeSender{err: errors.New("connection refused")}

	p := newTestPoller(server, sender, &bytes.Buffer{})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected delivery failures not to fail the run, got %v", err)
	}

	if server.Has(uid) {
		t.Error("Expected the request to be removed even though the reply failed")
	}
	if report.ReplyFailures != 1 {
		t.Errorf("Expected 1 reply failure, got %d", report.ReplyFailures)
	}
}

func TestRunLeavesEchoUnseen(t *testing.T) {
	server := fake.NewServer(testCreds)
	echo := server.Deliver(envelope("Re: Command (x1)", "agent@example.com"), rawMail("Re: Command (x1)", "Command Sent:\n"))
	other := server.Deliver(envelope("Command (x1X)", "alice@example.com"), rawMail("Command (x1X)", "rm -rf /\n"))
	sender := &fakeSender{}

	p := newTestPoller(server, sender, &bytes.Buffer{})
	for i := 0; i < 2; i++ {
		report, err := p.Run(context.Background(), testCreds, testCfg)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if report.Echoes != 2 {
			t.Errorf("Expected 2 echoes on run %d, got %d", i+1, report.Echoes)
		}
	}

	for _, uid := range []uint32{echo, other} {
		if !server.Has(uid) {
			t.Errorf("Expected echo %d to stay in the mailbox", uid)
		}
		if mailbox.HasFlag(server.MessageFlags(uid), mailbox.FlagSeen) {
			t.Errorf("Expected echo %d to stay unseen", uid)
		}
	}
	if n := len(sender.Replies()); n != 0 {
		t.Errorf("Expected no replies for echoes, got %d", n)
	}
}

func TestRunPrintsAndDeletesInformational(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "hello there\r\n"))
	out := &bytes.Buffer{}

	p := newTestPoller(server, &fakeSender{}, out)
	if _, err := p.Run(context.Background(), testCreds, testCfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := "From:    bob@example.com\n" +
		"To:      agent@example.com\n" +
		"Date:    Mon, 02 Jan 2006 15:04:05 +0000\n" +
		"Subject: hello\n" +
		"__________________________________________\n\n" +
		"hello there\r\n\n\n" +
		"===================================================\n\n\n\n"
	if out.String() != expected {
		t.Errorf("Expected dump:\n%q\ngot:\n%q", expected, out.String())
	}
	if server.Has(uid) {
		t.Error("Expected the informational message to be removed")
	}
}

func TestRunRendersMissingRecipientAsUnknown(t *testing.T) {
	server := fake.NewServer(testCreds)
	env := envelope("hello", "bob@example.com")
	env.To = ""
	uid := server.Deliver(env, rawMail("hello", "hi"))
	out := &bytes.Buffer{}

	p := newTestPoller(server, &fakeSender{}, out)
	if _, err := p.Run(context.Background(), testCreds, testCfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(out.String(), "To:      Unknown\n") {
		t.Errorf("Expected Unknown recipient, got %q", out.String())
	}
	if server.Has(uid) {
		t.Error("Expected the message to be removed")
	}
}

func TestRunSkipsMessagesWithoutSender(t *testing.T) {
	server := fake.NewServer(testCreds)
	request := server.Deliver(envelope("Command (x1)", ""), rawMail("Command (x1)", "echo hello"))
	info := server.Deliver(envelope("hello", ""), rawMail("hello", "hi"))
	sender := &fakeSender{}
	out := &bytes.Buffer{}

	executed := false
	p := NewPoller(Configuration{
		Dialer: server,
		Sender: sender,
		Out:    out,
		Runner: &fakeRunner{run: func(string) []command.Result {
			executed = true
			return nil
		}},
	})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, uid := range []uint32{request, info} {
		if !server.Has(uid) {
			t.Errorf("Expected message %d to stay in the mailbox", uid)
		}
		if flags := server.MessageFlags(uid); len(flags) != 0 {
			t.Errorf("Expected message %d to be untouched, got flags %v", uid, flags)
		}
	}
	if executed || len(sender.Replies()) != 0 || out.Len() != 0 {
		t.Error("Expected nothing to be executed, sent or printed")
	}
	if report.Skipped != 2 {
		t.Errorf("Expected 2 skipped messages, got %d", report.Skipped)
	}
}

func TestRunSkipsMessagesWithoutEnvelope(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(nil, "garbage")

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !server.Has(uid) {
		t.Error("Expected the message to stay in the mailbox")
	}
	if report.Skipped != 1 {
		t.Errorf("Expected 1 skipped message, got %d", report.Skipped)
	}
}

func TestRunSkipsVanishedMessages(t *testing.T) {
	server := fake.NewServer(testCreds)
	first := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "a"))
	second := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "b"))
	server.BeforeFetch = func(uid uint32) {
		if uid == first {
			server.Remove(first)
		}
	}

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if server.Has(second) {
		t.Error("Expected the second message to be processed")
	}
	if report.Skipped != 1 || report.Informational != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestRunAuthenticationFailure(t *testing.T) {
	server := fake.NewServer(testCreds)

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	_, err := p.Run(context.Background(), mail.Credentials{Username: testCreds.Username, Secret: "nope"}, testCfg)
	if !errors.Is(err, mailbox.ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication, got %v", err)
	}
	if server.Logouts() != 0 {
		t.Errorf("Expected no logout without a session, got %d", server.Logouts())
	}
}

func TestRunLogsOutWhenCancelled(t *testing.T) {
	server := fake.NewServer(testCreds)
	first := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "a"))
	second := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.BeforeFetch = func(uint32) {
		cancel()
	}

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	_, err := p.Run(ctx, testCreds, testCfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if server.Has(first) {
		t.Error("Expected the message in progress to be finished")
	}
	if !server.Has(second) {
		t.Error("Expected the remaining message to be left for the next run")
	}
	if server.Logouts() != 1 {
		t.Errorf("Expected 1 logout, got %d", server.Logouts())
	}
}

func TestRunUsesRunIDFromContext(t *testing.T) {
	server := fake.NewServer(testCreds)

	p := newTestPoller(server, &fakeSender{}, &bytes.Buffer{})
	report, err := p.Run(WithRunID(context.Background(), "run-1"), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("Expected run ID run-1, got %q", report.RunID)
	}

	report, _ = p.Run(context.Background(), testCreds, testCfg)
	if report.RunID == "" {
		t.Error("Expected a generated run ID")
	}
}

func TestRunWithClaimsSkipsClaimedMessages(t *testing.T) {
	server := fake.NewServer(testCreds)
	held := server.Deliver(envelope("Command (x1)", "alice@example.com"), rawMail("Command (x1)", "echo a"))
	free := server.Deliver(envelope("hello", "bob@example.com"), rawMail("hello", "b"))
	sender := &fakeSender{}

	claims := NewClaims()
	claims.Claim(held)

	p := NewPoller(Configuration{Dialer: server, Sender: sender, Out: &bytes.Buffer{}, Claims: claims})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !server.Has(held) {
		t.Error("Expected the claimed message to be left to its owner")
	}
	if server.Has(free) {
		t.Error("Expected the unclaimed message to be processed")
	}
	if len(sender.Replies()) != 0 {
		t.Error("Expected no reply for a claimed request")
	}
	if report.Skipped != 1 {
		t.Errorf("Expected 1 skipped message, got %d", report.Skipped)
	}
	if claims.Len() != 1 {
		t.Errorf("Expected only the foreign claim to remain, got %d", claims.Len())
	}
}

func TestRunWithClaimsReverifiesOnServer(t *testing.T) {
	server := fake.NewServer(testCreds)
	uid := server.Deliver(envelope("Command (x1)", "alice@example.com"), rawMail("Command (x1)", "echo a"))
	server.BeforeFetch = func(uint32) {
		// another agent consumed the request after we listed it
		server.SetFlags(uid, mailbox.FlagSeen, mailbox.FlagDeleted)
	}
	sender := &fakeSender{}

	p := NewPoller(Configuration{Dialer: server, Sender: sender, Out: &bytes.Buffer{}, Claims: NewClaims()})
	report, err := p.Run(context.Background(), testCreds, testCfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(sender.Replies()) != 0 {
		t.Error("Expected no reply for a request consumed elsewhere")
	}
	if report.Requests != 0 || report.Skipped != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestDump(t *testing.T) {
	got := Dump(mail.Envelope{}, "body")

	expected := "From:    Unknown\nTo:      Unknown\nDate:    No Date\nSubject: No Subject\n" +
		"__________________________________________\n\nbody\n\n" +
		"===================================================\n\n\n\n"
	if got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}

func TestClaims(t *testing.T) {
	c := NewClaims()

	if !c.Claim(1) {
		t.Error("Expected first claim to succeed")
	}
	if c.Claim(1) {
		t.Error("Expected second claim to fail")
	}
	c.Release(1)
	if !c.Claim(1) {
		t.Error("Expected claim after release to succeed")
	}
}
