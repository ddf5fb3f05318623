package lobby

import (
	"sync"

	"github.com/kapu/arena-relay/internal/protocol"
)

// Channel is the broadcast group every authenticated connection sits in
// while it is not inside a room. Presence online/offline events and
// pre-match chatter flow through it; it keeps no state beyond membership.
type Channel struct {
	mu      sync.RWMutex
	members map[string]protocol.Sender
}

func NewChannel() *Channel {
	return &Channel{members: make(map[string]protocol.Sender)}
}

func (c *Channel) Join(conn protocol.Sender) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	c.members[conn.ID()] = conn
	c.mu.Unlock()
}

func (c *Channel) Leave(conn protocol.Sender) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	delete(c.members, conn.ID())
	c.mu.Unlock()
}

func (c *Channel) Contains(conn protocol.Sender) bool {
	if conn == nil {
		return false
	}
	c.mu.RLock()
	_, ok := c.members[conn.ID()]
	c.mu.RUnlock()
	return ok
}

func (c *Channel) Broadcast(env protocol.Envelope) {
	c.BroadcastExcept(nil, env)
}

// BroadcastExcept delivers env to every member but except. Sends are
// handed to each connection's own queue; a slow member never delays the rest.
func (c *Channel) BroadcastExcept(except protocol.Sender, env protocol.Envelope) {
	c.mu.RLock()
	targets := make([]protocol.Sender, 0, len(c.members))
	for id, m := range c.members {
		if except != nil && id == except.ID() {
			continue
		}
		targets = append(targets, m)
	}
	c.mu.RUnlock()
	for _, m := range targets {
		m.Send(env)
	}
}

func (c *Channel) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}
