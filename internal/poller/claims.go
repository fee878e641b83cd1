package poller

import "sync"

// Claims is the set of UIDs currently being acted on. It is shared by all
// runs of one process.
type Claims struct {
	mu   sync.Mutex
	held map[uint32]struct{}
}

func NewClaims() *Claims {
	return &Claims{
		held: map[uint32]struct{}{},
	}
}

// Claim reports whether uid was free and is now held by the caller.
func (c *Claims) Claim(uid uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.held[uid]; ok {
		return false
	}
	c.held[uid] = struct{}{}
	return true
}

func (c *Claims) Release(uid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.held, uid)
}

func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.held)
}
