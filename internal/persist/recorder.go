package persist

import "context"

// MatchRecord describes a newly created match. JSON tags are the field
// names of the external match-history service.
type MatchRecord struct {
	RoomID string `json:"room_id"`
	P1Name string `json:"nombre_jugador1"`
	P2Name string `json:"nombre_jugador2"`
	P1Char string `json:"personaje_jugador1"`
	P2Char string `json:"personaje_jugador2"`
}

// FinishRecord carries the final result and accumulated round stats.
type FinishRecord struct {
	RoomID        string `json:"room_id"`
	Winner        string `json:"nombre_ganador"`
	P1HealthFinal int    `json:"salud_jugador1_final"`
	P2HealthFinal int    `json:"salud_jugador2_final"`
	TimeLeft      int    `json:"tiempo_restante"`
	HitsP1        int    `json:"golpes_jugador1"`
	HitsP2        int    `json:"golpes_jugador2"`
	CombosP1      int    `json:"combos_jugador1"`
	CombosP2      int    `json:"combos_jugador2"`
}

// Recorder is the match-history sink. Callers treat every write as
// best-effort: the in-memory room state is the source of truth and never
// waits on, or is corrected by, the historical record.
type Recorder interface {
	CreateMatch(ctx context.Context, rec MatchRecord) error
	StartMatch(ctx context.Context, roomID string) error
	FinishMatch(ctx context.Context, rec FinishRecord) error
	CancelMatch(ctx context.Context, roomID string) error
}

// Nop is the recorder used when no history sink is configured.
type Nop struct{}

func (Nop) CreateMatch(context.Context, MatchRecord) error  { return nil }
func (Nop) StartMatch(context.Context, string) error        { return nil }
func (Nop) FinishMatch(context.Context, FinishRecord) error { return nil }
func (Nop) CancelMatch(context.Context, string) error       { return nil }
