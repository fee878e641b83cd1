// Package mailbox defines the session contract the poller drives. A
// Session is bound to the INBOX of one authenticated account and is used
// by a single run only.
package mailbox

import (
	"context"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
)

type Flag string

const (
	FlagSeen    Flag = `\Seen`
	FlagDeleted Flag = `\Deleted`
)

// Dialer opens an authenticated session with INBOX selected.
// Cancelling ctx tears the session down.
type Dialer interface {
	Dial(ctx context.Context, creds mail.Credentials) (Session, error)
}

type Session interface {
	// Unseen lists the UIDs of all messages without the \Seen flag.
	Unseen() ([]uint32, error)
	// Fetch returns the envelope and the full raw message without
	// setting \Seen.
	Fetch(uid uint32) (*mail.Message, error)
	Flags(uid uint32) ([]Flag, error)
	AddFlags(uid uint32, flags ...Flag) error
	RemoveFlags(uid uint32, flags ...Flag) error
	Expunge() error
	Logout() error
}

func HasFlag(flags []Flag, f Flag) bool {
	for _, flag := range flags {
		if flag == f {
			return true
		}
	}
	return false
}
