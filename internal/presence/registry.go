package presence

import (
	"sync"
	"time"

	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/protocol"
	"go.uber.org/zap"
)

// Broadcaster is where presence announcements go (the lobby channel).
type Broadcaster interface {
	Broadcast(env protocol.Envelope)
	BroadcastExcept(except protocol.Sender, env protocol.Envelope)
}

// entry tracks the current connection for one identity. The pending
// offline timer lives on the entry so cancelling it on rejoin is a
// structural operation, not a separate handle to forget.
type entry struct {
	conn         protocol.Sender
	offlineTimer *time.Timer
}

// Registry maps stable identities to their live connections and absorbs
// reconnections: a replacement inside the grace window is silent, and the
// offline broadcast fires only when the grace timer outlives the mapping.
type Registry struct {
	mu      sync.RWMutex
	grace   time.Duration
	lobby   Broadcaster
	entries map[string]*entry
	byConn  map[string]string // conn ID -> identity, current connections only
	closed  bool
}

func NewRegistry(grace time.Duration, lobby Broadcaster) *Registry {
	return &Registry{
		grace:   grace,
		lobby:   lobby,
		entries: make(map[string]*entry),
		byConn:  make(map[string]string),
	}
}

// Join registers conn as the current connection for identity. A first
// join announces userOnline to everyone else; a rejoin replaces the stale
// connection silently and cancels any pending offline timer. Returns
// whether this was a reconnection.
func (r *Registry) Join(identity string, conn protocol.Sender) bool {
	if identity == "" || conn == nil {
		return false
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	e, existed := r.entries[identity]
	if !existed {
		r.entries[identity] = &entry{conn: conn}
		r.byConn[conn.ID()] = identity
		r.mu.Unlock()
		obslog.L().Info("presence_join", zap.String("identity", identity), zap.String("conn", conn.ID()))
		r.lobby.BroadcastExcept(conn, protocol.MustEnvelope(protocol.EvtUserOnline, protocol.UserEvent{Identity: identity}))
		return false
	}
	if e.offlineTimer != nil {
		e.offlineTimer.Stop()
		e.offlineTimer = nil
	}
	old := e.conn
	if old != nil {
		// stale reverse mapping is discarded immediately
		delete(r.byConn, old.ID())
	}
	e.conn = conn
	r.byConn[conn.ID()] = identity
	r.mu.Unlock()
	if old != nil && old.ID() != conn.ID() {
		obslog.L().Info("presence_reconnect", zap.String("identity", identity),
			zap.String("old_conn", old.ID()), zap.String("new_conn", conn.ID()))
		return true
	}
	return false
}

// MarkPendingOffline arms the grace timer for identity after conn dropped.
// The timer only fires an offline if the identity still maps to conn when
// it elapses; a rejoin in between makes it a no-op.
func (r *Registry) MarkPendingOffline(identity string, conn protocol.Sender) {
	if identity == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	e := r.entries[identity]
	if e == nil || e.conn == nil || e.conn.ID() != conn.ID() {
		return // already replaced by a newer connection
	}
	if e.offlineTimer != nil {
		e.offlineTimer.Stop()
	}
	connID := conn.ID()
	e.offlineTimer = time.AfterFunc(r.grace, func() { r.expire(identity, connID) })
	obslog.L().Debug("presence_grace_armed", zap.String("identity", identity), zap.String("conn", connID))
}

func (r *Registry) expire(identity, connID string) {
	r.mu.Lock()
	e := r.entries[identity]
	if e == nil || e.conn == nil || e.conn.ID() != connID {
		r.mu.Unlock()
		return
	}
	delete(r.entries, identity)
	delete(r.byConn, connID)
	r.mu.Unlock()
	obslog.L().Info("presence_offline", zap.String("identity", identity))
	r.lobby.Broadcast(protocol.MustEnvelope(protocol.EvtUserOffline, protocol.UserEvent{Identity: identity}))
}

// Resolve returns the current connection for identity, or nil.
func (r *Registry) Resolve(identity string) protocol.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.entries[identity]; e != nil {
		return e.conn
	}
	return nil
}

// IdentityFor returns the identity a connection is currently bound to.
// Empty means the session is stale (never joined, or replaced).
func (r *Registry) IdentityFor(conn protocol.Sender) string {
	if conn == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[conn.ID()]
}

// Online snapshots the identities that currently have a live connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Close stops every pending offline timer. Entries are left in place;
// the registry is only closed on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.entries {
		if e.offlineTimer != nil {
			e.offlineTimer.Stop()
			e.offlineTimer = nil
		}
	}
}
