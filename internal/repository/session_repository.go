package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wagerhall/wager-server/internal/persistence"
)

// SessionRepository stores session records in Postgres.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a Postgres session store.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ persistence.Store = (*SessionRepository)(nil)

const upsertSession = `
INSERT INTO sessions (
	id, white_player_name, black_player_name, wager, status, moves,
	winner_name, platform_fee, created_at, completed_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (id) DO UPDATE SET
	black_player_name = EXCLUDED.black_player_name,
	status            = EXCLUDED.status,
	moves             = EXCLUDED.moves,
	winner_name       = EXCLUDED.winner_name,
	platform_fee      = EXCLUDED.platform_fee,
	completed_at      = EXCLUDED.completed_at,
	updated_at        = now()
`

// SaveSession upserts rec by id.
func (r *SessionRepository) SaveSession(ctx context.Context, rec persistence.Record) error {
	moves := rec.Moves
	if moves == nil {
		moves = []persistence.Move{}
	}
	movesJSON, err := json.Marshal(moves)
	if err != nil {
		return fmt.Errorf("encode moves: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, upsertSession,
		rec.ID,
		rec.WhiteName,
		nullable(rec.BlackName),
		rec.Wager,
		rec.Status,
		movesJSON,
		nullable(rec.WinnerName),
		rec.PlatformFee,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

const selectSession = `
SELECT id, white_player_name, black_player_name, wager, status, moves,
	winner_name, platform_fee, created_at, completed_at
FROM sessions
WHERE id = $1
`

// GetSession loads the record stored for id.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Record, error) {
	var (
		rec       persistence.Record
		black     pgtype.Text
		winner    pgtype.Text
		movesJSON []byte
	)

	err := r.db.pool.QueryRow(ctx, selectSession, id).Scan(
		&rec.ID,
		&rec.WhiteName,
		&black,
		&rec.Wager,
		&rec.Status,
		&movesJSON,
		&winner,
		&rec.PlatformFee,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Record{}, persistence.ErrNotFound
		}
		return persistence.Record{}, fmt.Errorf("get session %s: %w", id, err)
	}

	rec.BlackName = black.String
	rec.WinnerName = winner.String
	if err := json.Unmarshal(movesJSON, &rec.Moves); err != nil {
		return persistence.Record{}, fmt.Errorf("decode moves of session %s: %w", id, err)
	}
	return rec, nil
}

const abandonStale = `
UPDATE sessions
SET status = 'ABANDONED', completed_at = $1, updated_at = now()
WHERE status IN ('WAITING', 'ACTIVE')
`

// AbandonStale marks every WAITING or ACTIVE row ABANDONED.
func (r *SessionRepository) AbandonStale(ctx context.Context, at time.Time) (int, error) {
	tag, err := r.db.pool.Exec(ctx, abandonStale, at)
	if err != nil {
		return 0, fmt.Errorf("abandon stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool is owned by DB.
func (r *SessionRepository) Close() error {
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
