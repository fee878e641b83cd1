package poller

import (
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"io"
	"strings"
)

type Report struct {
	RunID         string `json:"run_id"`
	Listed        int    `json:"listed"`
	Requests      int    `json:"requests"`
	Echoes        int    `json:"echoes"`
	Informational int    `json:"informational"`
	Skipped       int    `json:"skipped"`
	Commands      int    `json:"commands"`
	ReplyFailures int    `json:"reply_failures"`
}

var (
	dumpRule  = strings.Repeat("_", 42)
	dumpBreak = strings.Repeat("=", 51)
)

// Dump renders an informational message for the operator console.
func Dump(env mail.Envelope, body string) string {
	var b strings.Builder
	b.WriteString("From:    " + env.DisplayFrom() + "\n")
	b.WriteString("To:      " + env.DisplayTo() + "\n")
	b.WriteString("Date:    " + env.DisplayDate() + "\n")
	b.WriteString("Subject: " + env.DisplaySubject() + "\n")
	b.WriteString(dumpRule + "\n\n")
	b.WriteString(body + "\n\n")
	b.WriteString(dumpBreak + "\n\n\n\n")
	return b.String()
}

func (p *Poller) dump(env mail.Envelope, body string) {
	// one write per message keeps dumps of overlapping runs apart
	_, _ = io.WriteString(p.out, Dump(env, body))
}
