package scheduler

import (
	"fmt"
	"strings"
)

// Strategy decides what happens when a tick fires while a run is still in
// flight.
type Strategy string

const (
	// Serial runs one poll at a time. One further tick may wait, any more
	// are dropped.
	Serial Strategy = "serial"
	// Claim lets runs overlap. The poller claims each message and re-checks
	// it on the server before acting.
	Claim Strategy = "claim"
)

func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(strings.ToLower(name)) {
	case "", Serial:
		return Serial, nil
	case Claim:
		return Claim, nil
	default:
		return Serial, fmt.Errorf("unknown coordination strategy %q", name)
	}
}
