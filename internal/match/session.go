package match

import (
	"fmt"
	"time"

	"github.com/wagerhall/wager-server/internal/persistence"
)

// Status represents the lifecycle state of a session
type Status int

const (
	StatusWaiting Status = iota
	StatusActive
	StatusCompleted
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusActive:
		return "ACTIVE"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusWaiting, StatusActive, StatusCompleted, StatusAbandoned} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", text)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Seat is one of the two player slots.
type Seat struct {
	ConnID string
	Name   string
}

// Session is one wagered match. Fields are guarded by the owning registry
// entry's mutex and must not be read outside of it; use Snapshot.
type Session struct {
	ID          string
	White       Seat
	Black       *Seat
	Wager       int
	Status      Status
	Board       Board
	BoardState  string
	Moves       []AppliedMove
	Winner      string
	Fee         int
	CreatedAt   time.Time
	CompletedAt *time.Time

	// settled is set once escrow has been paid out or refunded.
	settled bool
}

// SideOf returns the side connID plays in this session.
func (s *Session) SideOf(connID string) (Side, bool) {
	if s.White.ConnID == connID {
		return White, true
	}
	if s.Black != nil && s.Black.ConnID == connID {
		return Black, true
	}
	return White, false
}

// Seated reports whether connID occupies a seat.
func (s *Session) Seated(connID string) bool {
	_, ok := s.SideOf(connID)
	return ok
}

// SeatFor returns the seat playing side.
func (s *Session) SeatFor(side Side) (Seat, error) {
	if side == White {
		return s.White, nil
	}
	if s.Black == nil {
		return Seat{}, fmt.Errorf("%w: session %s has no black seat", ErrInvariant, s.ID)
	}
	return *s.Black, nil
}

// Seats returns the connection ids of every filled seat.
func (s *Session) Seats() []string {
	ids := make([]string, 0, 2)
	if s.White.ConnID != "" {
		ids = append(ids, s.White.ConnID)
	}
	if s.Black != nil {
		ids = append(ids, s.Black.ConnID)
	}
	return ids
}

func (s *Session) finish(status Status, at time.Time) {
	s.Status = status
	s.CompletedAt = &at
}

// Snapshot captures a consistent view of a session for external use.
type Snapshot struct {
	ID          string        `json:"id"`
	WhiteName   string        `json:"whiteName"`
	BlackName   string        `json:"blackName,omitempty"`
	Wager       int           `json:"wager"`
	Status      Status        `json:"status"`
	BoardState  string        `json:"boardState"`
	Moves       []AppliedMove `json:"moves"`
	Winner      string        `json:"winner,omitempty"`
	Fee         int           `json:"fee"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`

	WhiteConn string `json:"-"`
	BlackConn string `json:"-"`
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          s.ID,
		WhiteName:   s.White.Name,
		WhiteConn:   s.White.ConnID,
		Wager:       s.Wager,
		Status:      s.Status,
		BoardState:  s.BoardState,
		Moves:       append([]AppliedMove{}, s.Moves...),
		Winner:      s.Winner,
		Fee:         s.Fee,
		CreatedAt:   s.CreatedAt,
		CompletedAt: cloneTime(s.CompletedAt),
	}
	if s.Black != nil {
		snap.BlackName = s.Black.Name
		snap.BlackConn = s.Black.ConnID
	}
	return snap
}

// Record returns the durable shape of the session.
func (s *Session) Record() persistence.Record {
	rec := persistence.Record{
		ID:          s.ID,
		WhiteName:   s.White.Name,
		Wager:       s.Wager,
		Status:      s.Status.String(),
		Moves:       make([]persistence.Move, 0, len(s.Moves)),
		WinnerName:  s.Winner,
		PlatformFee: s.Fee,
		CreatedAt:   s.CreatedAt,
		CompletedAt: cloneTime(s.CompletedAt),
	}
	if s.Black != nil {
		rec.BlackName = s.Black.Name
	}
	for _, mv := range s.Moves {
		rec.Moves = append(rec.Moves, persistence.Move{
			SAN:   mv.SAN,
			UCI:   mv.UCI,
			From:  mv.From,
			To:    mv.To,
			Color: mv.Color,
		})
	}
	return rec
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	cp := *src
	return &cp
}
