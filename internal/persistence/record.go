package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no record exists for an id.
var ErrNotFound = errors.New("session record not found")

// Move is one applied move as stored in a record's history.
type Move struct {
	SAN   string `json:"san"`
	UCI   string `json:"uci"`
	From  string `json:"from"`
	To    string `json:"to"`
	Color string `json:"color"`
}

// Record is the durable shape of a session.
type Record struct {
	ID          string     `json:"id"`
	WhiteName   string     `json:"whitePlayerName"`
	BlackName   string     `json:"blackPlayerName,omitempty"`
	Wager       int        `json:"wager"`
	Status      string     `json:"status"`
	Moves       []Move     `json:"moves"`
	WinnerName  string     `json:"winnerName,omitempty"`
	PlatformFee int        `json:"platformFee"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	cp := r
	cp.Moves = append([]Move(nil), r.Moves...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// Store is a durable mirror of session records. SaveSession upserts by id.
type Store interface {
	SaveSession(ctx context.Context, rec Record) error
	GetSession(ctx context.Context, id string) (Record, error)
	Close() error
}

// StaleSweeper is implemented by stores that can close out records left
// unfinished by an earlier process.
type StaleSweeper interface {
	AbandonStale(ctx context.Context, at time.Time) (int, error)
}
