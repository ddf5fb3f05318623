package protocol

import "encoding/json"

// Inbound payloads. Field names follow the wire protocol spoken by the
// browser client.

type JoinLobbyRequest struct {
	Identity string `json:"identity"`
}

type ChallengeRequest struct {
	OpponentName string `json:"opponentName"`
}

// RoomRef is the minimal payload shape for events addressed to a room;
// relay events are parsed as RoomRef and forwarded verbatim.
type RoomRef struct {
	RoomID string `json:"roomID"`
}

type SelectCharacterRequest struct {
	RoomID        string `json:"roomID"`
	PlayerIndex   int    `json:"playerIndex"`
	CharacterName string `json:"characterName"`
}

type SyncGameStateRequest struct {
	RoomID    string          `json:"roomID"`
	GameState json.RawMessage `json:"gameState"`
}

type GameEndedRequest struct {
	RoomID     string      `json:"roomID"`
	Winner     string      `json:"winner"`
	FinalState FinalState  `json:"finalState"`
	Stats      *MatchStats `json:"stats,omitempty"`
}

type RematchResponseRequest struct {
	RoomID      string `json:"roomID"`
	PlayerIndex int    `json:"playerIndex"`
	Accepted    bool   `json:"accepted"`
}

type SpectateRequest struct {
	TargetName string `json:"userNameToSpectate"`
}

// Outbound payloads.

type UserEvent struct {
	Identity string `json:"identity"`
}

type ChallengeReceived struct {
	Challenger string `json:"challenger"`
	RoomID     string `json:"roomID"`
}

type ChallengeSent struct {
	OpponentName string `json:"opponentName"`
}

type ChallengeAccepted struct {
	RoomID       string `json:"roomID"`
	OpponentName string `json:"opponentName"`
}

type ChallengeRejected struct {
	Challenger string `json:"challenger"`
	RoomID     string `json:"roomID"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// GameStart is sent to each seat individually: the two players are
// symmetric apart from PlayerIndex. Nil characters mean selection is
// still open.
type GameStart struct {
	RoomID      string  `json:"roomID"`
	PlayerIndex int     `json:"playerIndex"`
	P1Name      string  `json:"p1Name"`
	P2Name      string  `json:"p2Name"`
	P1Char      *string `json:"p1Char"`
	P2Char      *string `json:"p2Char"`
}

type OpponentCharacterSelected struct {
	RoomID        string `json:"roomID"`
	PlayerIndex   int    `json:"playerIndex"`
	CharacterName string `json:"characterName"`
}

type GameEnded struct {
	RoomID     string     `json:"roomID"`
	Winner     string     `json:"winner"`
	Loser      string     `json:"loser"`
	P1Name     string     `json:"p1Name"`
	P2Name     string     `json:"p2Name"`
	P1Char     *string    `json:"p1Char"`
	P2Char     *string    `json:"p2Char"`
	FinalState FinalState `json:"finalState"`
}

type RematchEvent struct {
	RoomID string `json:"roomID"`
}

type RematchStart struct {
	RoomID      string `json:"roomID"`
	PlayerIndex int    `json:"playerIndex"`
	P1Name      string `json:"p1Name"`
	P2Name      string `json:"p2Name"`
}

type SpectatorJoined struct {
	RoomID string `json:"roomID"`
}
