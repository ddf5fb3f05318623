package transport

import (
	"encoding/json"
	"strings"

	"github.com/kapu/arena-relay/internal/lobby"
	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/presence"
	"github.com/kapu/arena-relay/internal/protocol"
	"github.com/kapu/arena-relay/internal/room"
	"go.uber.org/zap"
)

// Router turns decoded envelopes into calls on the presence registry and
// the room manager. A malformed payload affects only its own connection:
// it is logged and dropped, never fatal.
type Router struct {
	registry *presence.Registry
	lobby    *lobby.Channel
	rooms    *room.Manager
}

func NewRouter(reg *presence.Registry, lob *lobby.Channel, rooms *room.Manager) *Router {
	return &Router{registry: reg, lobby: lob, rooms: rooms}
}

// HandleJoin binds conn to identity and seats it in the lobby. Used both
// for handshake-query auth and for explicit joinLobby events.
func (rt *Router) HandleJoin(conn protocol.Sender, identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return
	}
	rt.registry.Join(identity, conn)
	rt.lobby.Join(conn)
}

// Authenticated reports whether conn has announced an identity.
func (rt *Router) Authenticated(conn protocol.Sender) bool {
	return rt.registry.IdentityFor(conn) != ""
}

// HandleDisconnect runs the two disconnect paths in order: rooms first
// (immediate, no grace), then lobby presence (grace timer).
func (rt *Router) HandleDisconnect(conn protocol.Sender) {
	identity := rt.registry.IdentityFor(conn)
	rt.rooms.HandleDisconnect(conn)
	rt.lobby.Leave(conn)
	if identity != "" {
		rt.registry.MarkPendingOffline(identity, conn)
	}
}

func (rt *Router) Dispatch(conn protocol.Sender, env protocol.Envelope) {
	switch env.Event {
	case protocol.EvtJoinLobby:
		var req protocol.JoinLobbyRequest
		if rt.decode(conn, env, &req) {
			rt.HandleJoin(conn, req.Identity)
		}
	case protocol.EvtChallengeUser:
		var req protocol.ChallengeRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.Challenge(conn, req.OpponentName)
		}
	case protocol.EvtQuickMatch:
		_ = rt.rooms.QuickMatch(conn)
	case protocol.EvtRankedMatch:
		_ = rt.rooms.RankedMatch(conn)
	case protocol.EvtAcceptChallenge:
		var req protocol.RoomRef
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.Accept(req.RoomID, conn)
		}
	case protocol.EvtRejectChallenge:
		var req protocol.RoomRef
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.Reject(req.RoomID, conn)
		}
	case protocol.EvtSelectCharacter:
		var req protocol.SelectCharacterRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.SelectCharacter(req.RoomID, conn, req.PlayerIndex, req.CharacterName)
		}
	case protocol.EvtGameInput:
		var req protocol.RoomRef
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.RelayInput(req.RoomID, conn, env.Data)
		}
	case protocol.EvtSyncGameState:
		var req protocol.SyncGameStateRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.RelaySnapshot(req.RoomID, conn, req.GameState, env.Data)
		}
	case protocol.EvtGameEnded:
		var req protocol.GameEndedRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.GameEnded(req.RoomID, conn, req)
		}
	case protocol.EvtRematchResponse:
		var req protocol.RematchResponseRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.RematchVote(req.RoomID, conn, req.PlayerIndex, req.Accepted)
		}
	case protocol.EvtJoinSpectator:
		var req protocol.SpectateRequest
		if rt.decode(conn, env, &req) {
			_ = rt.rooms.JoinSpectator(conn, req.TargetName)
		}
	default:
		obslog.L().Warn("unknown_event", zap.String("conn", conn.ID()), zap.String("event", env.Event))
	}
}

func (rt *Router) decode(conn protocol.Sender, env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		obslog.L().Warn("bad_payload",
			zap.String("conn", conn.ID()),
			zap.String("event", env.Event),
			zap.Error(err))
		return false
	}
	return true
}
