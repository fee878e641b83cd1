package imap

import (
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/emersion/go-imap/v2"
	"strings"
	"time"
)

func envelopeFromIMAP(env *imap.Envelope) *mail.Envelope {
	if env == nil {
		return nil
	}

	out := &mail.Envelope{
		Subject:   env.Subject,
		From:      firstAddress(env.From),
		To:        firstAddress(env.To),
		MessageID: strings.Trim(env.MessageID, "<>"),
	}
	if !env.Date.IsZero() {
		out.Date = env.Date.Format(time.RFC1123Z)
	}
	return out
}

// firstAddress returns the first complete mailbox@host address. Group
// markers and addresses missing either part are ignored.
func firstAddress(addrs []imap.Address) string {
	for _, a := range addrs {
		if a.Mailbox == "" || a.Host == "" {
			continue
		}
		return a.Mailbox + "@" + a.Host
	}
	return ""
}
