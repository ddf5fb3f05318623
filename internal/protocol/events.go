package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single frame type on the wire: one JSON object per
// websocket message, with the event name and an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound events (client -> server).
const (
	EvtJoinLobby       = "joinLobby"
	EvtChallengeUser   = "challengeUser"
	EvtQuickMatch      = "quickMatch"
	EvtRankedMatch     = "rankedMatch"
	EvtAcceptChallenge = "acceptChallenge"
	EvtRejectChallenge = "rejectChallenge"
	EvtSelectCharacter = "selectCharacter"
	EvtGameInput       = "gameInput"
	EvtSyncGameState   = "syncGameState"
	EvtGameEnded       = "gameEnded"
	EvtRematchResponse = "rematchResponse"
	EvtJoinSpectator   = "joinSpectator"
)

// Outbound events (server -> client).
const (
	EvtUserOnline         = "userOnline"
	EvtUserOffline        = "userOffline"
	EvtChallengeReceived  = "challengeReceived"
	EvtChallengeSent      = "challengeSent"
	EvtChallengeAccepted  = "challengeAccepted"
	EvtChallengeRejected  = "challengeRejected"
	EvtRoomError          = "roomError"
	EvtAuthError          = "authError"
	EvtGameStart          = "gameStart"
	EvtOpponentCharacter  = "opponentCharacterSelected"
	EvtGameStateSync      = "gameStateSync"
	EvtOpponentGone       = "opponentDisconnected"
	EvtRematchAccepted    = "rematchAccepted"
	EvtRematchRejected    = "rematchRejected"
	EvtRematchStart       = "rematchStart"
	EvtSpectatorJoined    = "spectatorJoined"
	EvtSpectatorGameState = "gameState"
)

// Sender is one live client connection as seen by the state layer.
// Send must never block event handling; the transport buffers and drops
// slow consumers on its own.
type Sender interface {
	ID() string
	Send(env Envelope)
}

// NewEnvelope marshals v into an Envelope for event.
func NewEnvelope(event string, v any) (Envelope, error) {
	if v == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types that cannot fail to marshal.
func MustEnvelope(event string, v any) Envelope {
	env, err := NewEnvelope(event, v)
	if err != nil {
		panic(err)
	}
	return env
}

// RawEnvelope wraps an already-encoded payload without re-marshaling,
// used when relaying client blobs verbatim.
func RawEnvelope(event string, raw json.RawMessage) Envelope {
	return Envelope{Event: event, Data: raw}
}
