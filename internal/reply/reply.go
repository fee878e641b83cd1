package reply

import (
	"github.com/OliverSchlueter/mailcmd/internal/command"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"strings"
)

const (
	labelSent     = "Command Sent:\n"
	labelResponse = "Command Response:\n"
	underline     = "__________________________________________\n\n"
	divider       = "===================================================\n\n\n"
	trailerTitle  = "************* ORIGINAL MESSAGE BELOW: *************\n\n\n"
	trailerRule   = "\n---------------------------------------------------\n\n"
)

// Compose builds the reply to a command request sent with env.
func Compose(results []command.Result, env mail.Envelope, original string) mail.Reply {
	return mail.Reply{
		To:        env.From,
		Subject:   "Re: " + env.DisplaySubject(),
		Body:      Body(results, env, original),
		InReplyTo: env.MessageID,
	}
}

// Body renders one block per result followed by the original message.
// The layout is part of the command protocol and must stay stable.
func Body(results []command.Result, env mail.Envelope, original string) string {
	var b strings.Builder

	for _, res := range results {
		b.WriteString(labelSent)
		b.WriteString(res.Command + "\n")
		b.WriteString(underline)
		b.WriteString(labelResponse)
		b.WriteString(underline)
		if res.Failed() {
			b.WriteString(res.Failure)
		} else {
			b.WriteString(res.Stdout + "\n" + res.Stderr + "\n")
		}
		b.WriteString(divider)
	}

	b.WriteString(trailerTitle)
	b.WriteString(divider)
	b.WriteString("From:      " + env.DisplayFrom())
	b.WriteString("\nTo:      " + env.DisplayTo())
	b.WriteString("\nDate:    " + env.DisplayDate())
	b.WriteString("\nSubject: " + env.DisplaySubject())
	b.WriteString(trailerRule)
	b.WriteString(original)

	return b.String()
}
