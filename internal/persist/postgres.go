package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PGRecorder writes match history straight into Postgres, for deployments
// that run without the separate history service.
type PGRecorder struct {
	db *sql.DB
}

func NewPGRecorder(databaseURL string) (*PGRecorder, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PGRecorder{db: db}, nil
}

func (r *PGRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PGRecorder) CreateMatch(ctx context.Context, rec MatchRecord) error {
	q := `INSERT INTO matches (
	    room_id, player1, player2, character1, character2, status, created_at
	  ) VALUES ($1,$2,$3,$4,$5,'pending',NOW())
	  ON CONFLICT (room_id) DO UPDATE SET
	    player1=EXCLUDED.player1,
	    player2=EXCLUDED.player2,
	    character1=EXCLUDED.character1,
	    character2=EXCLUDED.character2`
	_, err := r.db.ExecContext(ctx, q, rec.RoomID, rec.P1Name, rec.P2Name, rec.P1Char, rec.P2Char)
	return err
}

func (r *PGRecorder) StartMatch(ctx context.Context, roomID string) error {
	q := `UPDATE matches SET status='in_progress', started_at=NOW() WHERE room_id=$1`
	_, err := r.db.ExecContext(ctx, q, roomID)
	return err
}

func (r *PGRecorder) FinishMatch(ctx context.Context, rec FinishRecord) error {
	q := `UPDATE matches SET
	    status='finished',
	    winner=$2,
	    p1_health_final=$3,
	    p2_health_final=$4,
	    time_left=$5,
	    hits_p1=$6, hits_p2=$7, combos_p1=$8, combos_p2=$9,
	    ended_at=NOW()
	  WHERE room_id=$1`
	_, err := r.db.ExecContext(ctx, q,
		rec.RoomID, rec.Winner,
		rec.P1HealthFinal, rec.P2HealthFinal, rec.TimeLeft,
		rec.HitsP1, rec.HitsP2, rec.CombosP1, rec.CombosP2,
	)
	return err
}

func (r *PGRecorder) CancelMatch(ctx context.Context, roomID string) error {
	q := `UPDATE matches SET status='cancelled', ended_at=NOW() WHERE room_id=$1`
	_, err := r.db.ExecContext(ctx, q, roomID)
	return err
}
