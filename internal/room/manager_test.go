package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kapu/arena-relay/internal/lobby"
	"github.com/kapu/arena-relay/internal/msgcat"
	"github.com/kapu/arena-relay/internal/persist"
	"github.com/kapu/arena-relay/internal/presence"
	"github.com/kapu/arena-relay/internal/protocol"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []protocol.Envelope
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env protocol.Envelope) {
	c.mu.Lock()
	c.events = append(c.events, env)
	c.mu.Unlock()
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// last returns the payload of the most recent frame for event.
func (c *fakeConn) last(t *testing.T, event string, out any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(c.events[i].Data, out); err != nil {
				t.Fatalf("decode %s payload: %v", event, err)
			}
		}
		return
	}
	t.Fatalf("no %s frame received by %s", event, c.id)
}

type recorderSpy struct {
	mu       sync.Mutex
	creates  []persist.MatchRecord
	starts   []string
	finishes []persist.FinishRecord
	cancels  []string
}

func (r *recorderSpy) CreateMatch(_ context.Context, rec persist.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, rec)
	return nil
}

func (r *recorderSpy) StartMatch(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, roomID)
	return nil
}

func (r *recorderSpy) FinishMatch(_ context.Context, rec persist.FinishRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, rec)
	return nil
}

func (r *recorderSpy) CancelMatch(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, roomID)
	return nil
}

type testEnv struct {
	mgr      *Manager
	registry *presence.Registry
	lobby    *lobby.Channel
	rec      *recorderSpy
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	lob := lobby.NewChannel()
	reg := presence.NewRegistry(time.Minute, lob)
	rec := &recorderSpy{}
	mgr := NewManager(reg, lob, cat, rec, Options{
		InactivityTTL: 5 * time.Minute,
		SweepInterval: time.Minute,
		MaxRooms:      10,
	})
	return &testEnv{mgr: mgr, registry: reg, lobby: lob, rec: rec}
}

func (e *testEnv) join(t *testing.T, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: "conn-" + name}
	e.registry.Join(name, conn)
	e.lobby.Join(conn)
	return conn
}

// singleRoom returns the only room in the table.
func (e *testEnv) singleRoom(t *testing.T) *Room {
	t.Helper()
	e.mgr.mu.Lock()
	defer e.mgr.mu.Unlock()
	if len(e.mgr.rooms) != 1 {
		t.Fatalf("expected exactly 1 room, table has %d", len(e.mgr.rooms))
	}
	for _, r := range e.mgr.rooms {
		return r
	}
	return nil
}

// startMatch drives two players through challenge, accept and character
// selection into an active room.
func startMatch(t *testing.T, e *testEnv, host, guest *fakeConn) *Room {
	t.Helper()
	hostName := e.registry.IdentityFor(host)
	guestName := e.registry.IdentityFor(guest)
	if err := e.mgr.Challenge(host, guestName); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	var recv protocol.ChallengeReceived
	guest.last(t, protocol.EvtChallengeReceived, &recv)
	if recv.Challenger != hostName {
		t.Fatalf("challengeReceived.challenger = %q, want %q", recv.Challenger, hostName)
	}
	if err := e.mgr.Accept(recv.RoomID, guest); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := e.mgr.SelectCharacter(recv.RoomID, host, 0, "Ryu"); err != nil {
		t.Fatalf("SelectCharacter host: %v", err)
	}
	if err := e.mgr.SelectCharacter(recv.RoomID, guest, 1, "Ken"); err != nil {
		t.Fatalf("SelectCharacter guest: %v", err)
	}
	r := e.singleRoom(t)
	if r.Status != StatusActive {
		t.Fatalf("room status = %q after both selections, want %q", r.Status, StatusActive)
	}
	return r
}

func TestChallengeAcceptSelectStartsMatch(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	var sent protocol.ChallengeSent
	alice.last(t, protocol.EvtChallengeSent, &sent)
	if sent.OpponentName != "bob" {
		t.Fatalf("challengeSent.opponentName = %q", sent.OpponentName)
	}
	var recv protocol.ChallengeReceived
	bob.last(t, protocol.EvtChallengeReceived, &recv)
	if recv.RoomID == "" {
		t.Fatalf("challengeReceived carries empty roomID")
	}

	r := e.singleRoom(t)
	if r.Status != StatusWaiting {
		t.Fatalf("room status = %q, want waiting", r.Status)
	}

	if err := e.mgr.Accept(recv.RoomID, bob); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if r.Status != StatusSelecting {
		t.Fatalf("room status = %q after accept, want selecting", r.Status)
	}
	// accepted players leave the lobby until the room dissolves
	if e.lobby.Contains(alice) || e.lobby.Contains(bob) {
		t.Fatalf("seated players still in lobby")
	}
	var hostStart, guestStart protocol.GameStart
	alice.last(t, protocol.EvtGameStart, &hostStart)
	bob.last(t, protocol.EvtGameStart, &guestStart)
	if hostStart.PlayerIndex != 0 || guestStart.PlayerIndex != 1 {
		t.Fatalf("player indexes = %d/%d, want 0/1", hostStart.PlayerIndex, guestStart.PlayerIndex)
	}

	if err := e.mgr.SelectCharacter(recv.RoomID, alice, 0, "Ryu"); err != nil {
		t.Fatalf("SelectCharacter alice: %v", err)
	}
	var picked protocol.OpponentCharacterSelected
	bob.last(t, protocol.EvtOpponentCharacter, &picked)
	if picked.CharacterName != "Ryu" || picked.PlayerIndex != 0 {
		t.Fatalf("opponentCharacterSelected = %+v", picked)
	}
	if err := e.mgr.SelectCharacter(recv.RoomID, bob, 1, "Ken"); err != nil {
		t.Fatalf("SelectCharacter bob: %v", err)
	}

	if r.Status != StatusActive {
		t.Fatalf("room status = %q after both selections, want active", r.Status)
	}
	var state protocol.GameState
	if err := json.Unmarshal(r.Snapshot(), &state); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if state.TimeLeft != 99 || len(state.Characters) != 2 {
		t.Fatalf("unexpected round-start snapshot: %+v", state)
	}
	if state.Characters[0].Health != 100 || state.Characters[1].Health != 100 {
		t.Fatalf("fighters not at full health: %+v", state.Characters)
	}
	if state.Characters[0].Position.X != 200 || state.Characters[1].Position.X != 800 {
		t.Fatalf("fighters not at starting positions: %+v", state.Characters)
	}

	var aliceStart protocol.GameStart
	alice.last(t, protocol.EvtGameStart, &aliceStart)
	if aliceStart.P1Char == nil || *aliceStart.P1Char != "Ryu" || aliceStart.P2Char == nil || *aliceStart.P2Char != "Ken" {
		t.Fatalf("final gameStart missing characters: %+v", aliceStart)
	}

	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if len(e.rec.creates) != 1 || len(e.rec.starts) != 1 {
		t.Fatalf("recorder saw %d creates / %d starts, want 1/1", len(e.rec.creates), len(e.rec.starts))
	}
	if e.rec.creates[0].P1Name != "alice" || e.rec.creates[0].P2Name != "bob" {
		t.Fatalf("created record = %+v", e.rec.creates[0])
	}
}

func TestQuickMatchWithNoOpponents(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")

	err := e.mgr.QuickMatch(alice)
	if !errors.Is(err, ErrNoOpponents) {
		t.Fatalf("QuickMatch error = %v, want ErrNoOpponents", err)
	}
	var msg protocol.ErrorMessage
	alice.last(t, protocol.EvtRoomError, &msg)
	if msg.Message != "no opponents available" {
		t.Fatalf("roomError message = %q", msg.Message)
	}
	if e.mgr.RoomCount() != 0 {
		t.Fatalf("room created despite failed quick match")
	}
}

func TestQuickMatchPairsWithOnlyOtherPlayer(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	if err := e.mgr.QuickMatch(alice); err != nil {
		t.Fatalf("QuickMatch: %v", err)
	}
	var recv protocol.ChallengeReceived
	bob.last(t, protocol.EvtChallengeReceived, &recv)
	if recv.Challenger != "alice" {
		t.Fatalf("quick match challenged wrong player: %+v", recv)
	}
}

func TestSelfChallengeRejected(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")

	if err := e.mgr.Challenge(alice, "alice"); !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("self challenge error = %v, want ErrSelfChallenge", err)
	}
	if alice.count(protocol.EvtRoomError) != 1 {
		t.Fatalf("expected one roomError frame")
	}
}

func TestChallengerBusyBlocksNewChallenge(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	e.join(t, "bob")
	carol := e.join(t, "carol")
	dave := e.join(t, "dave")

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	// alice holds an open challenge and counts as busy
	if err := e.mgr.Challenge(carol, "alice"); !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("challenging busy player: err = %v, want ErrPlayerBusy", err)
	}
	// bob is only the named target of a pending invite and stays free
	if err := e.mgr.Challenge(dave, "bob"); err != nil {
		t.Fatalf("challenging pending invitee: %v", err)
	}
}

func TestRejectNotifiesChallengerAndCancels(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	var recv protocol.ChallengeReceived
	bob.last(t, protocol.EvtChallengeReceived, &recv)

	if err := e.mgr.Reject(recv.RoomID, bob); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	var rejected protocol.ChallengeRejected
	alice.last(t, protocol.EvtChallengeRejected, &rejected)
	if rejected.Challenger != "bob" {
		t.Fatalf("challengeRejected.challenger = %q, want rejecter name", rejected.Challenger)
	}
	if e.mgr.RoomCount() != 0 {
		t.Fatalf("rejected room still in table")
	}
	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if len(e.rec.cancels) != 1 {
		t.Fatalf("recorder saw %d cancels, want 1", len(e.rec.cancels))
	}
}

func TestAcceptByWrongPlayer(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	carol := e.join(t, "carol")

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	var recv protocol.ChallengeReceived
	bob.last(t, protocol.EvtChallengeReceived, &recv)

	if err := e.mgr.Accept(recv.RoomID, carol); !errors.Is(err, ErrNotYourChallenge) {
		t.Fatalf("Accept by third party: err = %v, want ErrNotYourChallenge", err)
	}
	r := e.singleRoom(t)
	if r.Status != StatusWaiting {
		t.Fatalf("room left waiting state on bad accept")
	}
}

func TestSecondCharacterSelectionRejected(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	var recv protocol.ChallengeReceived
	bob.last(t, protocol.EvtChallengeReceived, &recv)
	if err := e.mgr.Accept(recv.RoomID, bob); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := e.mgr.SelectCharacter(recv.RoomID, alice, 0, "Ryu"); err != nil {
		t.Fatalf("first selection: %v", err)
	}
	if err := e.mgr.SelectCharacter(recv.RoomID, alice, 0, "Ken"); !errors.Is(err, ErrCharacterLocked) {
		t.Fatalf("second selection: err = %v, want ErrCharacterLocked", err)
	}
	r := e.singleRoom(t)
	if r.characters[0] == nil || *r.characters[0] != "Ryu" {
		t.Fatalf("locked character changed: %v", r.characters[0])
	}
}

func TestRelayInputReachesPeerAndSpectators(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	watcher := e.join(t, "watcher")
	if err := e.mgr.JoinSpectator(watcher, "alice"); err != nil {
		t.Fatalf("JoinSpectator: %v", err)
	}
	if watcher.count(protocol.EvtSpectatorJoined) != 1 || watcher.count(protocol.EvtSpectatorGameState) != 1 {
		t.Fatalf("spectator missed the join snapshot")
	}

	payload := json.RawMessage(`{"roomID":"` + r.ID + `","input":{"action":"punch"}}`)
	if err := e.mgr.RelayInput(r.ID, alice, payload); err != nil {
		t.Fatalf("RelayInput: %v", err)
	}
	if bob.count(protocol.EvtGameInput) != 1 {
		t.Fatalf("peer did not receive the input frame")
	}
	if watcher.count(protocol.EvtGameInput) != 1 {
		t.Fatalf("spectator did not receive the input frame")
	}
	if alice.count(protocol.EvtGameInput) != 0 {
		t.Fatalf("input echoed back to sender")
	}
}

func TestNonHostSnapshotIgnored(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	before := string(r.Snapshot())
	bogus := json.RawMessage(`{"timeleft":1,"characters":[]}`)
	if err := e.mgr.RelaySnapshot(r.ID, bob, bogus, bogus); !errors.Is(err, ErrNotHost) {
		t.Fatalf("guest snapshot: err = %v, want ErrNotHost", err)
	}
	if string(r.Snapshot()) != before {
		t.Fatalf("guest snapshot overwrote the stored state")
	}
	if alice.count(protocol.EvtGameStateSync) != 0 {
		t.Fatalf("guest snapshot was relayed")
	}

	if err := e.mgr.RelaySnapshot(r.ID, alice, bogus, bogus); err != nil {
		t.Fatalf("host snapshot: %v", err)
	}
	if string(r.Snapshot()) != string(bogus) {
		t.Fatalf("host snapshot not stored")
	}
	if bob.count(protocol.EvtGameStateSync) != 1 {
		t.Fatalf("host snapshot not relayed to peer")
	}
}

func TestGameEndedRecordsResultOnce(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	req := protocol.GameEndedRequest{
		RoomID:     r.ID,
		Winner:     "bob",
		FinalState: protocol.FinalState{P1Health: 0, P2Health: 37, TimeLeft: 12},
		Stats:      &protocol.MatchStats{HitsP1: 4, HitsP2: 11, CombosP2: 3},
	}
	if err := e.mgr.GameEnded(r.ID, alice, req); err != nil {
		t.Fatalf("GameEnded: %v", err)
	}
	if r.Status != StatusFinished {
		t.Fatalf("room status = %q, want finished", r.Status)
	}
	var ended protocol.GameEnded
	bob.last(t, protocol.EvtGameEnded, &ended)
	if ended.Winner != "bob" || ended.Loser != "alice" {
		t.Fatalf("gameEnded winner/loser = %q/%q", ended.Winner, ended.Loser)
	}

	// duplicate report is refused
	if err := e.mgr.GameEnded(r.ID, bob, req); !errors.Is(err, ErrBadState) {
		t.Fatalf("second report: err = %v, want ErrBadState", err)
	}

	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if len(e.rec.finishes) != 1 {
		t.Fatalf("recorder saw %d finishes, want 1", len(e.rec.finishes))
	}
	fin := e.rec.finishes[0]
	if fin.Winner != "bob" || fin.P2HealthFinal != 37 || fin.TimeLeft != 12 || fin.HitsP2 != 11 {
		t.Fatalf("finish record = %+v", fin)
	}
}

func TestRematchBothAcceptRestartsSelection(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	end := protocol.GameEndedRequest{RoomID: r.ID, Winner: "alice"}
	if err := e.mgr.GameEnded(r.ID, alice, end); err != nil {
		t.Fatalf("GameEnded: %v", err)
	}

	if err := e.mgr.RematchVote(r.ID, alice, 0, true); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if r.Status != StatusRematch {
		t.Fatalf("room status = %q after first vote, want rematch-pending", r.Status)
	}
	if err := e.mgr.RematchVote(r.ID, bob, 1, true); err != nil {
		t.Fatalf("second vote: %v", err)
	}

	if r.Status != StatusSelecting {
		t.Fatalf("room status = %q after both accepted, want selecting", r.Status)
	}
	if r.characters[0] != nil || r.characters[1] != nil {
		t.Fatalf("character locks survived the rematch reset")
	}
	var restart protocol.RematchStart
	bob.last(t, protocol.EvtRematchStart, &restart)
	if restart.PlayerIndex != 1 || restart.RoomID != r.ID {
		t.Fatalf("rematchStart = %+v", restart)
	}
}

func TestRematchDeclineDissolvesRoom(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	if err := e.mgr.GameEnded(r.ID, alice, protocol.GameEndedRequest{RoomID: r.ID, Winner: "alice"}); err != nil {
		t.Fatalf("GameEnded: %v", err)
	}
	if err := e.mgr.RematchVote(r.ID, alice, 0, true); err != nil {
		t.Fatalf("accept vote: %v", err)
	}
	if err := e.mgr.RematchVote(r.ID, bob, 1, false); err != nil {
		t.Fatalf("decline vote: %v", err)
	}

	if e.mgr.RoomCount() != 0 {
		t.Fatalf("declined room still in table")
	}
	if alice.count(protocol.EvtRematchRejected) != 1 || bob.count(protocol.EvtRematchRejected) != 1 {
		t.Fatalf("rematchRejected not delivered to both seats")
	}
	if !e.lobby.Contains(alice) || !e.lobby.Contains(bob) {
		t.Fatalf("players not returned to the lobby")
	}
}

func TestDisconnectDuringActiveMatch(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	watcher := e.join(t, "watcher")
	if err := e.mgr.JoinSpectator(watcher, "bob"); err != nil {
		t.Fatalf("JoinSpectator: %v", err)
	}

	e.mgr.HandleDisconnect(alice)

	if bob.count(protocol.EvtOpponentGone) != 1 {
		t.Fatalf("survivor did not learn about the disconnect")
	}
	if watcher.count(protocol.EvtOpponentGone) != 1 {
		t.Fatalf("spectator did not learn about the disconnect")
	}
	if e.mgr.RoomCount() != 0 {
		t.Fatalf("room %s survived a seated disconnect", r.ID)
	}
	if !e.lobby.Contains(bob) || !e.lobby.Contains(watcher) {
		t.Fatalf("survivor or spectator not returned to the lobby")
	}
	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if len(e.rec.cancels) != 1 {
		t.Fatalf("recorder saw %d cancels, want 1", len(e.rec.cancels))
	}
}

func TestDisconnectAfterFinishKeepsResult(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	r := startMatch(t, e, alice, bob)

	if err := e.mgr.GameEnded(r.ID, alice, protocol.GameEndedRequest{RoomID: r.ID, Winner: "alice"}); err != nil {
		t.Fatalf("GameEnded: %v", err)
	}
	e.mgr.HandleDisconnect(bob)

	// a finished match is never cancelled on the history side
	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if len(e.rec.cancels) != 0 {
		t.Fatalf("finished match was cancelled: %v", e.rec.cancels)
	}
	if len(e.rec.finishes) != 1 {
		t.Fatalf("recorder saw %d finishes, want 1", len(e.rec.finishes))
	}
}

func TestSpectateRequiresActiveRoom(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	e.join(t, "bob")
	watcher := e.join(t, "watcher")

	if err := e.mgr.JoinSpectator(watcher, "nobody"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("spectate unknown player: err = %v, want ErrRoomNotFound", err)
	}

	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := e.mgr.JoinSpectator(watcher, "alice"); !errors.Is(err, ErrBadState) {
		t.Fatalf("spectate waiting room: err = %v, want ErrBadState", err)
	}
}

func TestSweepReapsIdleWaitingRooms(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")

	base := time.Now()
	e.mgr.now = func() time.Time { return base }
	if err := e.mgr.Challenge(alice, "bob"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	// inside the TTL nothing is reaped
	e.mgr.now = func() time.Time { return base.Add(4 * time.Minute) }
	if n := e.mgr.Sweep(); n != 0 {
		t.Fatalf("early sweep reaped %d rooms", n)
	}

	e.mgr.now = func() time.Time { return base.Add(6 * time.Minute) }
	if n := e.mgr.Sweep(); n != 1 {
		t.Fatalf("sweep reaped %d rooms, want 1", n)
	}
	if e.mgr.RoomCount() != 0 {
		t.Fatalf("expired room still in table")
	}
	e.rec.mu.Lock()
	cancels := len(e.rec.cancels)
	e.rec.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("recorder saw %d cancels, want 1", cancels)
	}

	// bob never sat down, so the expired invite leaves him free
	if err := e.mgr.Challenge(bob, "alice"); err != nil {
		t.Fatalf("Challenge after sweep: %v", err)
	}
}

func TestSweepLeavesActiveRoomsAlone(t *testing.T) {
	e := newTestEnv(t)
	alice := e.join(t, "alice")
	bob := e.join(t, "bob")
	startMatch(t, e, alice, bob)

	base := time.Now()
	e.mgr.now = func() time.Time { return base.Add(time.Hour) }
	if n := e.mgr.Sweep(); n != 0 {
		t.Fatalf("sweep reaped %d active rooms", n)
	}
	if e.mgr.RoomCount() != 1 {
		t.Fatalf("active room disappeared")
	}
}

func TestUnboundConnectionGetsAuthError(t *testing.T) {
	e := newTestEnv(t)
	ghost := &fakeConn{id: "conn-ghost"}

	if err := e.mgr.Challenge(ghost, "anyone"); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("Challenge from unbound conn: err = %v, want ErrStaleSession", err)
	}
	if ghost.count(protocol.EvtAuthError) != 1 {
		t.Fatalf("expected one authError frame")
	}
}
