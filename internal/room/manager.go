package room

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/arena-relay/internal/lobby"
	"github.com/kapu/arena-relay/internal/msgcat"
	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/persist"
	"github.com/kapu/arena-relay/internal/presence"
	"github.com/kapu/arena-relay/internal/protocol"
	"go.uber.org/zap"
)

// Options tunes the supervisor timers and table limits.
type Options struct {
	InactivityTTL time.Duration
	SweepInterval time.Duration
	MaxRooms      int
}

// Manager owns the room table and drives every room through its
// lifecycle. All mutation goes through one mutex, which gives each room
// FIFO event ordering; nothing inside the lock blocks on I/O (history
// writes go through the async recorder).
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	presence *presence.Registry
	lobby    *lobby.Channel
	messages *msgcat.Catalog
	recorder persist.Recorder

	inactivityTTL time.Duration
	sweepInterval time.Duration
	maxRooms      int

	now func() time.Time
}

func NewManager(reg *presence.Registry, lob *lobby.Channel, cat *msgcat.Catalog, rec persist.Recorder, opts Options) *Manager {
	if opts.InactivityTTL <= 0 {
		opts.InactivityTTL = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.MaxRooms <= 0 {
		opts.MaxRooms = 500
	}
	if rec == nil {
		rec = persist.Nop{}
	}
	return &Manager{
		rooms:         make(map[string]*Room),
		presence:      reg,
		lobby:         lob,
		messages:      cat,
		recorder:      rec,
		inactivityTTL: opts.InactivityTTL,
		sweepInterval: opts.SweepInterval,
		maxRooms:      opts.MaxRooms,
		now:           time.Now,
	}
}

// Challenge creates a waiting room seating the challenger and delivers
// the invitation to the named opponent.
func (m *Manager) Challenge(conn protocol.Sender, opponentName string) error {
	challenger := m.presence.IdentityFor(conn)
	if challenger == "" {
		m.sendAuthError(conn)
		return ErrStaleSession
	}
	opponentName = strings.TrimSpace(opponentName)
	if opponentName == challenger {
		m.sendRoomError(conn, "errors.self_challenge", nil)
		return ErrSelfChallenge
	}
	opponent := m.presence.Resolve(opponentName)
	if opponent == nil {
		m.sendRoomError(conn, "errors.opponent_not_found", map[string]string{"Name": opponentName})
		return ErrOpponentNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked(challenger) {
		m.sendRoomError(conn, "errors.self_busy", nil)
		return ErrPlayerBusy
	}
	if m.busyLocked(opponentName) {
		m.sendRoomError(conn, "errors.player_busy", map[string]string{"Name": opponentName})
		return ErrPlayerBusy
	}
	if len(m.rooms) >= m.maxRooms {
		m.sendRoomError(conn, "errors.server_busy", nil)
		return ErrTooManyRooms
	}

	id := roomID(challenger, opponentName)
	r := newRoom(id, challenger, opponentName, conn, m.now())
	m.rooms[id] = r

	_ = m.recorder.CreateMatch(context.Background(), persist.MatchRecord{
		RoomID: id,
		P1Name: challenger,
		P2Name: opponentName,
	})

	opponent.Send(protocol.MustEnvelope(protocol.EvtChallengeReceived,
		protocol.ChallengeReceived{Challenger: challenger, RoomID: id}))
	conn.Send(protocol.MustEnvelope(protocol.EvtChallengeSent,
		protocol.ChallengeSent{OpponentName: opponentName}))

	obslog.L().Info("room_create",
		zap.String("room_id", id),
		zap.String("challenger", challenger),
		zap.String("opponent", opponentName))
	return nil
}

// QuickMatch challenges a uniformly random online opponent.
func (m *Manager) QuickMatch(conn protocol.Sender) error {
	return m.randomMatch(conn, "quick_match")
}

// RankedMatch currently uses the same random pairing as QuickMatch.
func (m *Manager) RankedMatch(conn protocol.Sender) error {
	return m.randomMatch(conn, "ranked_match")
}

func (m *Manager) randomMatch(conn protocol.Sender, kind string) error {
	identity := m.presence.IdentityFor(conn)
	if identity == "" {
		m.sendAuthError(conn)
		return ErrStaleSession
	}
	online := m.presence.Online()
	candidates := online[:0]
	for _, name := range online {
		if name != identity {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		m.sendRoomError(conn, "errors.no_opponents", nil)
		return ErrNoOpponents
	}
	pick := candidates[rand.Intn(len(candidates))]
	obslog.L().Info(kind, zap.String("identity", identity), zap.String("opponent", pick))
	return m.Challenge(conn, pick)
}

// Accept seats the named opponent and moves the room into character
// selection. Each seat receives its own gameStart carrying its index.
func (m *Manager) Accept(roomID string, conn protocol.Sender) error {
	identity := m.presence.IdentityFor(conn)
	if identity == "" {
		m.sendAuthError(conn)
		return ErrStaleSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		m.sendRoomError(conn, "errors.room_not_found", nil)
		return ErrRoomNotFound
	}
	if r.Status != StatusWaiting {
		m.sendRoomError(conn, "errors.challenge_resolved", nil)
		return ErrBadState
	}
	if identity != r.Opponent {
		m.sendRoomError(conn, "errors.not_your_challenge", nil)
		return ErrNotYourChallenge
	}
	if m.busyLocked(identity) {
		m.sendRoomError(conn, "errors.self_busy", nil)
		return ErrPlayerBusy
	}

	r.seats[seatGuest] = conn
	r.Status = StatusSelecting
	r.lastActivity = m.now()

	host := r.seats[seatHost]
	m.lobby.Leave(host)
	m.lobby.Leave(conn)

	host.Send(protocol.MustEnvelope(protocol.EvtChallengeAccepted,
		protocol.ChallengeAccepted{RoomID: r.ID, OpponentName: r.Opponent}))
	host.Send(gameStartEnv(r, seatHost))
	conn.Send(gameStartEnv(r, seatGuest))

	obslog.L().Info("room_accept", zap.String("room_id", r.ID), zap.String("opponent", identity))
	return nil
}

// Reject resolves a waiting room negatively: the challenger is notified
// and the room is removed with a cancel on the history side.
func (m *Manager) Reject(roomID string, conn protocol.Sender) error {
	identity := m.presence.IdentityFor(conn)
	if identity == "" {
		m.sendAuthError(conn)
		return ErrStaleSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		m.sendRoomError(conn, "errors.room_not_found", nil)
		return ErrRoomNotFound
	}
	if r.Status != StatusWaiting {
		m.sendRoomError(conn, "errors.challenge_resolved", nil)
		return ErrBadState
	}
	if identity != r.Opponent {
		m.sendRoomError(conn, "errors.not_your_challenge", nil)
		return ErrNotYourChallenge
	}

	if host := r.seats[seatHost]; host != nil {
		host.Send(protocol.MustEnvelope(protocol.EvtChallengeRejected,
			protocol.ChallengeRejected{Challenger: identity, RoomID: r.ID}))
	}
	_ = m.recorder.CancelMatch(context.Background(), r.ID)
	m.removeLocked(r, "rejected")
	return nil
}

// SelectCharacter locks one seat's character choice. The second lock
// starts the match: status active, fresh snapshot, per-seat gameStart,
// and a start on the history side.
func (m *Manager) SelectCharacter(roomID string, conn protocol.Sender, playerIndex int, characterName string) error {
	characterName = strings.TrimSpace(characterName)
	if characterName == "" || playerIndex < 0 || playerIndex > 1 {
		return ErrBadState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		m.sendRoomError(conn, "errors.room_not_found", nil)
		return ErrRoomNotFound
	}
	if r.Status != StatusSelecting {
		obslog.L().Warn("select_out_of_phase", zap.String("room_id", roomID), zap.String("status", string(r.Status)))
		return ErrBadState
	}
	seat := r.seatOf(conn)
	if seat != playerIndex {
		return ErrNotSeated
	}
	if r.characters[playerIndex] != nil {
		m.sendRoomError(conn, "errors.character_locked", nil)
		return ErrCharacterLocked
	}

	r.characters[playerIndex] = &characterName
	r.lastActivity = m.now()
	r.sendExcept(conn, protocol.MustEnvelope(protocol.EvtOpponentCharacter,
		protocol.OpponentCharacterSelected{RoomID: r.ID, PlayerIndex: playerIndex, CharacterName: characterName}))
	obslog.L().Info("character_select",
		zap.String("room_id", r.ID), zap.Int("seat", playerIndex), zap.String("character", characterName))

	if !r.bothSelected() {
		return nil
	}

	r.Status = StatusActive
	r.snapshot = protocol.DefaultSnapshot()
	r.lastActivity = m.now()
	for seatIdx, s := range r.seats {
		if s != nil {
			s.Send(gameStartEnv(r, seatIdx))
		}
	}
	_ = m.recorder.StartMatch(context.Background(), r.ID)
	obslog.L().Info("match_start",
		zap.String("room_id", r.ID),
		zap.Stringp("p1_char", r.characters[0]),
		zap.Stringp("p2_char", r.characters[1]))
	return nil
}

// RelayInput forwards a player's input blob verbatim to the rest of the
// room. The payload is opaque to this layer.
func (m *Manager) RelayInput(roomID string, conn protocol.Sender, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return ErrRoomNotFound
	}
	if r.Status != StatusActive {
		return ErrBadState
	}
	if r.seatOf(conn) < 0 {
		return ErrNotSeated
	}
	r.sendExcept(conn, protocol.RawEnvelope(protocol.EvtGameInput, payload))
	return nil
}

// RelaySnapshot accepts the host-authoritative state, stores it, and
// forwards it to the other seat and spectators. A non-host publish is a
// no-op: no state change and no broadcast.
func (m *Manager) RelaySnapshot(roomID string, conn protocol.Sender, snapshot, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return ErrRoomNotFound
	}
	if r.Status != StatusActive {
		return ErrBadState
	}
	if r.seatOf(conn) != seatHost {
		return ErrNotHost
	}
	if len(snapshot) > 0 {
		r.snapshot = snapshot
	}
	r.lastActivity = m.now()
	r.sendExcept(conn, protocol.RawEnvelope(protocol.EvtGameStateSync, payload))
	return nil
}

// GameEnded handles the end-of-match report. Only the first report on an
// active room wins; the result is recorded and announced to the whole room.
func (m *Manager) GameEnded(roomID string, conn protocol.Sender, req protocol.GameEndedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return ErrRoomNotFound
	}
	if r.seatOf(conn) < 0 {
		return ErrNotSeated
	}
	if r.Status != StatusActive {
		return ErrBadState
	}

	r.Status = StatusFinished
	r.lastActivity = m.now()
	if req.Stats != nil {
		r.stats = *req.Stats
	}

	winner := strings.TrimSpace(req.Winner)
	loser := r.Opponent
	if winner == r.Opponent {
		loser = r.Challenger
	}

	_ = m.recorder.FinishMatch(context.Background(), finishRecord(r, winner, req.FinalState))

	r.sendExcept(nil, protocol.MustEnvelope(protocol.EvtGameEnded, protocol.GameEnded{
		RoomID:     r.ID,
		Winner:     winner,
		Loser:      loser,
		P1Name:     r.Challenger,
		P2Name:     r.Opponent,
		P1Char:     r.characters[0],
		P2Char:     r.characters[1],
		FinalState: req.FinalState,
	}))
	obslog.L().Info("match_end", zap.String("room_id", r.ID), zap.String("winner", winner))
	return nil
}

// RematchVote records one seat's ballot. Two yes votes reset the room
// back to character selection; any no vote dissolves it and returns both
// players to the lobby.
func (m *Manager) RematchVote(roomID string, conn protocol.Sender, playerIndex int, accepted bool) error {
	if playerIndex < 0 || playerIndex > 1 {
		return ErrBadState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return ErrRoomNotFound
	}
	if r.Status != StatusFinished && r.Status != StatusRematch {
		return ErrBadState
	}
	if r.seatOf(conn) != playerIndex {
		return ErrNotSeated
	}

	r.Status = StatusRematch
	vote := accepted
	r.rematchVotes[playerIndex] = &vote
	r.lastActivity = m.now()
	obslog.L().Info("rematch_vote",
		zap.String("room_id", r.ID), zap.Int("seat", playerIndex), zap.Bool("accepted", accepted))

	if r.rematchVotes[0] == nil || r.rematchVotes[1] == nil {
		return nil
	}

	if *r.rematchVotes[0] && *r.rematchVotes[1] {
		r.resetForRematch()
		r.sendExcept(nil, protocol.MustEnvelope(protocol.EvtRematchAccepted, protocol.RematchEvent{RoomID: r.ID}))
		for seatIdx, s := range r.seats {
			if s != nil {
				s.Send(protocol.MustEnvelope(protocol.EvtRematchStart, protocol.RematchStart{
					RoomID:      r.ID,
					PlayerIndex: seatIdx,
					P1Name:      r.Challenger,
					P2Name:      r.Opponent,
				}))
			}
		}
		obslog.L().Info("rematch_start", zap.String("room_id", r.ID))
		return nil
	}

	r.sendExcept(nil, protocol.MustEnvelope(protocol.EvtRematchRejected, protocol.RematchEvent{RoomID: r.ID}))
	for _, s := range r.seats {
		if s != nil {
			m.lobby.Join(s)
		}
	}
	m.removeLocked(r, "rematch_rejected")
	return nil
}

// JoinSpectator attaches a connection to the active room of target. The
// spectator leaves the lobby and gets an immediate state snapshot before
// the ongoing relay traffic.
func (m *Manager) JoinSpectator(conn protocol.Sender, targetName string) error {
	targetName = strings.TrimSpace(targetName)
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Room
	for _, r := range m.rooms {
		if r.Challenger == targetName || r.Opponent == targetName {
			found = r
			if r.Status == StatusActive {
				break
			}
		}
	}
	if found == nil {
		m.sendRoomError(conn, "errors.spectate_not_found", map[string]string{"Name": targetName})
		return ErrRoomNotFound
	}
	if found.Status != StatusActive {
		m.sendRoomError(conn, "errors.spectate_not_active", nil)
		return ErrBadState
	}

	m.lobby.Leave(conn)
	found.spectators[conn.ID()] = conn
	conn.Send(protocol.MustEnvelope(protocol.EvtSpectatorJoined, protocol.SpectatorJoined{RoomID: found.ID}))
	conn.Send(protocol.RawEnvelope(protocol.EvtSpectatorGameState, found.snapshot))
	obslog.L().Info("spectate_join", zap.String("room_id", found.ID), zap.String("conn", conn.ID()))
	return nil
}

// HandleDisconnect tears down any room the connection was seated in,
// immediately and with no grace period (unlike lobby presence), and
// detaches it from any room it was spectating.
func (m *Manager) HandleDisconnect(conn protocol.Sender) {
	if conn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		if seat := r.seatOf(conn); seat >= 0 {
			r.sendExcept(conn, protocol.MustEnvelope(protocol.EvtOpponentGone,
				protocol.ErrorMessage{Message: m.messages.Text("game.opponent_disconnected")}))
			if r.Status != StatusFinished && r.Status != StatusRematch {
				_ = m.recorder.CancelMatch(context.Background(), id)
			}
			for _, s := range r.seats {
				if s != nil && s.ID() != conn.ID() {
					m.lobby.Join(s)
				}
			}
			m.removeLocked(r, "player_disconnected")
			continue
		}
		if _, ok := r.spectators[conn.ID()]; ok {
			delete(r.spectators, conn.ID())
			obslog.L().Info("spectate_leave", zap.String("room_id", id), zap.String("conn", conn.ID()))
		}
	}
}

// Sweep removes waiting rooms that sat idle past the inactivity TTL and
// cancels them on the history side. Returns how many rooms were reaped.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	for id, r := range m.rooms {
		if r.Status != StatusWaiting {
			continue
		}
		if now.Sub(r.lastActivity) <= m.inactivityTTL {
			continue
		}
		_ = m.recorder.CancelMatch(context.Background(), id)
		m.removeLocked(r, "inactivity")
		reaped++
	}
	return reaped
}

// Run drives the periodic sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// RoomCount reports the size of the room table.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// removeLocked is the single deletion path: spectators are detached back
// to the lobby and the record leaves the table. Callers hold m.mu.
func (m *Manager) removeLocked(r *Room, reason string) {
	for _, sp := range r.spectators {
		m.lobby.Join(sp)
	}
	r.spectators = make(map[string]protocol.Sender)
	delete(m.rooms, r.ID)
	obslog.L().Info("room_close", zap.String("room_id", r.ID), zap.String("reason", reason))
}

// busyLocked reports whether identity is seated in any non-finished room.
// The named opponent of a waiting room is not seated yet and stays free
// to accept or ignore. Callers hold m.mu.
func (m *Manager) busyLocked(identity string) bool {
	for _, r := range m.rooms {
		switch r.Status {
		case StatusWaiting:
			if r.Challenger == identity {
				return true
			}
		case StatusSelecting, StatusActive:
			if r.Challenger == identity || r.Opponent == identity {
				return true
			}
		}
	}
	return false
}

func (m *Manager) sendRoomError(conn protocol.Sender, key string, data any) {
	if conn == nil {
		return
	}
	var msg string
	if data != nil {
		msg = m.messages.MustRender(key, data)
	} else {
		msg = m.messages.Text(key)
	}
	conn.Send(protocol.MustEnvelope(protocol.EvtRoomError, protocol.ErrorMessage{Message: msg}))
}

func (m *Manager) sendAuthError(conn protocol.Sender) {
	if conn == nil {
		return
	}
	conn.Send(protocol.MustEnvelope(protocol.EvtAuthError,
		protocol.ErrorMessage{Message: m.messages.Text("errors.auth_expired")}))
}

func gameStartEnv(r *Room, seat int) protocol.Envelope {
	return protocol.MustEnvelope(protocol.EvtGameStart, protocol.GameStart{
		RoomID:      r.ID,
		PlayerIndex: seat,
		P1Name:      r.Challenger,
		P2Name:      r.Opponent,
		P1Char:      r.characters[0],
		P2Char:      r.characters[1],
	})
}

func finishRecord(r *Room, winner string, fs protocol.FinalState) persist.FinishRecord {
	return persist.FinishRecord{
		RoomID:        r.ID,
		Winner:        winner,
		P1HealthFinal: fs.P1Health,
		P2HealthFinal: fs.P2Health,
		TimeLeft:      fs.TimeLeft,
		HitsP1:        r.stats.HitsP1,
		HitsP2:        r.stats.HitsP2,
		CombosP1:      r.stats.CombosP1,
		CombosP2:      r.stats.CombosP2,
	}
}

func roomID(challenger, opponent string) string {
	return fmt.Sprintf("game_%s_vs_%s_%s", challenger, opponent, strings.Split(uuid.NewString(), "-")[0])
}
