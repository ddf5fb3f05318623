package protocol

import "encoding/json"

// The server stores simulation snapshots as opaque blobs; only the
// freshly-created default is built here so both clients start a round
// from an identical state.

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type CharacterState struct {
	Health          int      `json:"health"`
	Position        Position `json:"position"`
	CurrentState    string   `json:"currentState"`
	FacingDirection int      `json:"facingDirection"`
}

type GameState struct {
	TimeLeft   int              `json:"timeleft"`
	Characters []CharacterState `json:"characters"`
}

// FinalState is the end-of-match summary reported by the winning client.
type FinalState struct {
	P1Health int `json:"p1Health"`
	P2Health int `json:"p2Health"`
	TimeLeft int `json:"timeLeft"`
}

// MatchStats accumulates per-round counters. The JSON keys are the field
// names of the external match-history service.
type MatchStats struct {
	HitsP1   int `json:"golpes_jugador1"`
	HitsP2   int `json:"golpes_jugador2"`
	CombosP1 int `json:"combos_jugador1"`
	CombosP2 int `json:"combos_jugador2"`
}

// DefaultGameState returns the round-start state: full health, 99 on the
// clock, fighters at opposite edges facing each other.
func DefaultGameState() GameState {
	return GameState{
		TimeLeft: 99,
		Characters: []CharacterState{
			{Health: 100, Position: Position{X: 200, Y: 0}, CurrentState: "standing", FacingDirection: 1},
			{Health: 100, Position: Position{X: 800, Y: 0}, CurrentState: "standing", FacingDirection: -1},
		},
	}
}

// DefaultSnapshot is DefaultGameState pre-encoded for storage and relay.
func DefaultSnapshot() json.RawMessage {
	raw, err := json.Marshal(DefaultGameState())
	if err != nil {
		panic(err)
	}
	return raw
}
