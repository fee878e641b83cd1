package mail

import "time"

const (
	NoSubject      = "No Subject"
	NoDate         = "No Date"
	UnknownAddress = "Unknown"
)

// Credentials are the mailbox account credentials. The same pair is used
// for retrieval and for submission.
type Credentials struct {
	Username string
	Secret   string
}

type PollConfig struct {
	Interval   time.Duration
	CommandTag string
}

// Envelope holds the message metadata. Empty fields are absent.
type Envelope struct {
	Subject   string
	Date      string
	From      string
	To        string
	MessageID string
}

func (e Envelope) DisplaySubject() string {
	return orDefault(e.Subject, NoSubject)
}

func (e Envelope) DisplayDate() string {
	return orDefault(e.Date, NoDate)
}

func (e Envelope) DisplayFrom() string {
	return orDefault(e.From, UnknownAddress)
}

func (e Envelope) DisplayTo() string {
	return orDefault(e.To, UnknownAddress)
}

// Message is one unseen mailbox entry as fetched by a poll run.
type Message struct {
	UID      uint32
	Envelope *Envelope
	Raw      []byte
}

// Reply is the answer to a command request. It is built once and handed
// straight to the sender.
type Reply struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
