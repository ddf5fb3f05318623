package room

import (
	"encoding/json"
	"time"

	"github.com/kapu/arena-relay/internal/protocol"
)

// Status is the room lifecycle state. Transitions only move forward:
// waiting -> selecting -> active -> finished -> (rematch -> selecting) or removal.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusSelecting Status = "selecting"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusRematch   Status = "rematch-pending"
)

const (
	seatHost  = 0
	seatGuest = 1
)

// Room is the server-side record of one match: two seats, spectators, the
// last authoritative snapshot, and the rematch ballot. Seat 0 is the host
// and alone may publish snapshots; host authority is fixed at creation and
// survives rematches.
type Room struct {
	ID         string
	Status     Status
	Challenger string
	Opponent   string

	seats      [2]protocol.Sender
	spectators map[string]protocol.Sender

	characters   [2]*string
	snapshot     json.RawMessage
	stats        protocol.MatchStats
	rematchVotes [2]*bool

	lastActivity time.Time
}

func newRoom(id, challenger, opponent string, host protocol.Sender, now time.Time) *Room {
	return &Room{
		ID:           id,
		Status:       StatusWaiting,
		Challenger:   challenger,
		Opponent:     opponent,
		seats:        [2]protocol.Sender{host, nil},
		spectators:   make(map[string]protocol.Sender),
		snapshot:     protocol.DefaultSnapshot(),
		lastActivity: now,
	}
}

// seatOf returns the seat index of conn, or -1.
func (r *Room) seatOf(conn protocol.Sender) int {
	if conn == nil {
		return -1
	}
	for i, s := range r.seats {
		if s != nil && s.ID() == conn.ID() {
			return i
		}
	}
	return -1
}

// sendExcept delivers env to both seats and all spectators except one
// connection (pass nil to reach everyone).
func (r *Room) sendExcept(except protocol.Sender, env protocol.Envelope) {
	exceptID := ""
	if except != nil {
		exceptID = except.ID()
	}
	for _, s := range r.seats {
		if s != nil && s.ID() != exceptID {
			s.Send(env)
		}
	}
	for _, sp := range r.spectators {
		if sp.ID() != exceptID {
			sp.Send(env)
		}
	}
}

func (r *Room) bothSelected() bool {
	return r.characters[0] != nil && r.characters[1] != nil
}

func (r *Room) resetForRematch() {
	r.characters = [2]*string{}
	r.rematchVotes = [2]*bool{}
	r.stats = protocol.MatchStats{}
	r.snapshot = protocol.DefaultSnapshot()
	r.Status = StatusSelecting
	r.lastActivity = time.Now()
}

// Snapshot returns the last stored simulation snapshot.
func (r *Room) Snapshot() json.RawMessage { return r.snapshot }

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrStaleSession     = staticErr("session not bound to an identity")
	ErrOpponentNotFound = staticErr("opponent not found")
	ErrSelfChallenge    = staticErr("cannot challenge yourself")
	ErrNoOpponents      = staticErr("no opponents available")
	ErrRoomNotFound     = staticErr("room not found")
	ErrBadState         = staticErr("room is not in a valid state for this operation")
	ErrNotYourChallenge = staticErr("challenge addressed to a different player")
	ErrNotSeated        = staticErr("connection is not seated in this room")
	ErrNotHost          = staticErr("only the host publishes snapshots")
	ErrPlayerBusy       = staticErr("player already seated in another room")
	ErrCharacterLocked  = staticErr("character already selected for this seat")
	ErrTooManyRooms     = staticErr("room table is full")
)
