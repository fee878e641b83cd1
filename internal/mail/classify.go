package mail

import "strings"

type Classification int

const (
	Informational Classification = iota
	CommandRequest
	CommandEcho
)

func (c Classification) String() string {
	switch c {
	case CommandRequest:
		return "command_request"
	case CommandEcho:
		return "command_echo"
	default:
		return "informational"
	}
}

// RequestSubject returns the exact subject a command request must carry.
func RequestSubject(tag string) string {
	return "Command (" + tag + ")"
}

// Classify decides how a message with the given subject is handled.
// Subjects that look like command traffic but do not carry the configured
// tag, including our own replies, are echoes and must never be consumed.
func Classify(subject, tag string) Classification {
	if strings.EqualFold(subject, RequestSubject(tag)) {
		return CommandRequest
	}

	lower := strings.ToLower(subject)
	if strings.HasPrefix(lower, "command (") || strings.HasPrefix(lower, "re: command (") {
		return CommandEcho
	}

	return Informational
}
