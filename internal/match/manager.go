package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wagerhall/wager-server/internal/ledger"
	"github.com/wagerhall/wager-server/internal/persistence"
)

// DefaultMinWager is the smallest stake a session may be created with.
const DefaultMinWager = 10

// Ledger is the identity store the manager drives.
type Ledger interface {
	Balances
	Close(connID string) bool
	Forget(connID string) (ledger.Identity, bool)
}

// Persister mirrors session records durably. Save is synchronous and bounded
// by the store's write timeout; a join holds its session lock for that long
// at worst, so a disconnect on the same session can stall behind it.
// Enqueue is fire-and-forget and must not block: the manager calls it with
// the session lock held.
type Persister interface {
	Save(ctx context.Context, rec persistence.Record) error
	Enqueue(rec persistence.Record)
}

// Config holds the game rules the manager enforces.
type Config struct {
	MinWager       int
	FeeBasisPoints int
}

// Manager runs the session lifecycle: it validates events, moves escrow,
// transitions sessions and emits the resulting events.
type Manager struct {
	registry  *Registry
	balances  Ledger
	escrow    *Escrow
	oracle    Oracle
	persister Persister
	notifier  Notifier
	lobby     LobbyNotifier
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a session manager.
func NewManager(
	balances Ledger,
	oracle Oracle,
	persister Persister,
	notifier Notifier,
	lobby LobbyNotifier,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinWager <= 0 {
		cfg.MinWager = DefaultMinWager
	}
	if cfg.FeeBasisPoints == 0 {
		cfg.FeeBasisPoints = DefaultFeeBasisPoints
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if lobby == nil {
		lobby = nopNotifier{}
	}

	return &Manager{
		registry:  NewRegistry(),
		balances:  balances,
		escrow:    NewEscrow(balances, cfg.FeeBasisPoints, logger),
		oracle:    oracle,
		persister: persister,
		notifier:  notifier,
		lobby:     lobby,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Registry exposes the live session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ListWaiting returns sessions waiting for an opponent, newest first.
func (m *Manager) ListWaiting() []Snapshot {
	return m.registry.ListWaiting()
}

// Session returns a snapshot of a live session.
func (m *Manager) Session(id string) (Snapshot, bool) {
	return m.registry.Get(id)
}

// Identify names the connection and reports its balance.
func (m *Manager) Identify(connID, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}

	balance := m.balances.Identify(connID, name)
	m.notifier.SendTo(connID, balanceEvent(balance))
	return balance, nil
}

// CreateSession opens a waiting session staked with wager from connID.
func (m *Manager) CreateSession(ctx context.Context, connID string, wager int) (Snapshot, error) {
	name, err := m.balances.Name(connID)
	if err != nil || !m.balances.Active(connID) {
		return Snapshot{}, ErrNotIdentified
	}
	if wager < m.cfg.MinWager {
		return Snapshot{}, fmt.Errorf("%w: minimum is %d", ErrWagerTooLow, m.cfg.MinWager)
	}

	board := m.oracle.NewBoard()
	s := &Session{
		ID:         uuid.NewString(),
		Wager:      wager,
		Status:     StatusWaiting,
		Board:      board,
		BoardState: m.oracle.Encode(board),
		Moves:      make([]AppliedMove, 0),
		CreatedAt:  m.now(),
	}

	balance, err := m.escrow.Open(s, White, connID, name)
	if err != nil {
		return Snapshot{}, err
	}
	m.notifier.SendTo(connID, balanceEvent(balance))

	if err := m.persister.Save(ctx, s.Record()); err != nil {
		m.compensate(s, White, connID)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e, err := m.registry.insert(s)
	if err != nil {
		m.compensate(s, White, connID)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.mu.Lock()
	if !m.balances.Active(connID) {
		// The creator left while the record was being written.
		m.abandonLocked(e)
		m.persister.Enqueue(s.Record())
		e.mu.Unlock()
		return Snapshot{}, ErrNotIdentified
	}
	snap := s.Snapshot()
	m.notifier.SendTo(connID, Event{
		Type: EventSessionCreated,
		Data: SessionCreated{SessionID: s.ID, Session: snap},
	})
	e.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("creator", name),
		zap.Int("wager", wager),
	)
	m.lobby.SessionsChanged()
	return snap, nil
}

// JoinSession seats connID as the second player and starts the match.
func (m *Manager) JoinSession(ctx context.Context, connID, sessionID string) (Snapshot, error) {
	name, err := m.balances.Name(connID)
	if err != nil || !m.balances.Active(connID) {
		return Snapshot{}, ErrNotIdentified
	}

	e, ok := m.registry.lookup(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	e.mu.Lock()
	s := e.session
	if e.closed || s.Status != StatusWaiting {
		e.mu.Unlock()
		return Snapshot{}, ErrSessionUnavailable
	}
	if s.White.ConnID == connID {
		e.mu.Unlock()
		return Snapshot{}, ErrSelfJoin
	}

	balance, err := m.escrow.Open(s, Black, connID, name)
	if err != nil {
		e.mu.Unlock()
		return Snapshot{}, err
	}
	s.Status = StatusActive

	if err := m.persister.Save(ctx, s.Record()); err != nil {
		s.Status = StatusWaiting
		m.compensate(s, Black, connID)
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.notifier.SendTo(connID, balanceEvent(balance))
	m.notifier.SendToAll(s.Seats(), Event{
		Type: EventSessionStarted,
		Data: SessionStarted{
			SessionID:  s.ID,
			WhiteName:  s.White.Name,
			BlackName:  s.Black.Name,
			Wager:      s.Wager,
			BoardState: s.BoardState,
		},
	})
	snap := s.Snapshot()
	e.mu.Unlock()

	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("white", snap.WhiteName),
		zap.String("black", snap.BlackName),
		zap.Int("wager", snap.Wager),
	)
	m.lobby.SessionsChanged()
	return snap, nil
}

// SubmitMove applies a move from connID. A terminal verdict settles the
// session and removes it.
func (m *Manager) SubmitMove(connID, sessionID string, mv Move) (AppliedMove, error) {
	e, ok := m.registry.lookup(sessionID)
	if !ok {
		return AppliedMove{}, ErrSessionNotFound
	}

	e.mu.Lock()
	s := e.session
	if e.closed || s.Status != StatusActive {
		e.mu.Unlock()
		return AppliedMove{}, ErrSessionNotActive
	}

	side, seated := s.SideOf(connID)
	if !seated || m.oracle.Turn(s.Board) != side {
		e.mu.Unlock()
		return AppliedMove{}, ErrNotYourTurn
	}

	next, applied, err := m.oracle.Apply(s.Board, mv)
	if err != nil {
		e.mu.Unlock()
		return AppliedMove{}, err
	}

	s.Board = next
	s.BoardState = m.oracle.Encode(next)
	s.Moves = append(s.Moves, applied)
	turn := m.oracle.Turn(next)

	m.notifier.SendToAll(s.Seats(), Event{
		Type: EventMoveApplied,
		Data: MoveApplied{
			SessionID:  s.ID,
			Move:       applied,
			BoardState: s.BoardState,
			Turn:       turn.Code(),
		},
	})

	verdict := m.oracle.Status(next)
	if verdict.Terminal() {
		// The side left to move is the one that was mated.
		m.completeLocked(e, verdict, turn.Opponent())
	}
	// Records are queued under the lock so they reach the store in the
	// order the session changed.
	m.persister.Enqueue(s.Record())
	e.mu.Unlock()

	if verdict.Terminal() {
		m.lobby.SessionsChanged()
	}
	return applied, nil
}

// completeLocked settles a session the oracle declared over.
func (m *Manager) completeLocked(e *entry, verdict Verdict, winner Side) {
	s := e.session

	settlement, err := m.escrow.Settle(s, verdict, winner)
	if err != nil {
		m.logger.Error("settlement failed, abandoning session",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		m.failLocked(e)
		return
	}

	s.finish(StatusCompleted, m.now())
	s.Winner = settlement.Winner
	s.Fee = settlement.Fee
	e.closed = true
	m.registry.Remove(s.ID)

	m.notifier.SendToAll(s.Seats(), Event{
		Type: EventSessionOver,
		Data: SessionOver{
			SessionID:    s.ID,
			Result:       settlement.Result,
			Reason:       settlement.Reason,
			Winner:       settlement.Winner,
			Payout:       settlement.Payout,
			Fee:          settlement.Fee,
			WhiteBalance: settlement.WhiteBalance,
			BlackBalance: settlement.BlackBalance,
		},
	})
	m.notifier.SendTo(s.White.ConnID, balanceEvent(settlement.WhiteBalance))
	if s.Black != nil {
		m.notifier.SendTo(s.Black.ConnID, balanceEvent(settlement.BlackBalance))
	}

	m.logger.Info("session completed",
		zap.String("session_id", s.ID),
		zap.String("result", string(settlement.Result)),
		zap.String("reason", settlement.Reason),
		zap.String("winner", settlement.Winner),
		zap.Int("payout", settlement.Payout),
		zap.Int("fee", settlement.Fee),
	)
}

// failLocked abandons a session whose state broke an invariant, refunding
// whoever is still reachable.
func (m *Manager) failLocked(e *entry) {
	s := e.session
	settlement := m.abandonLocked(e)

	m.notifier.SendToAll(s.Seats(), Event{
		Type: EventSessionOver,
		Data: SessionOver{
			SessionID:    s.ID,
			Result:       ResultAbandoned,
			Reason:       "session aborted, wagers refunded",
			WhiteBalance: settlement.WhiteBalance,
			BlackBalance: settlement.BlackBalance,
		},
	})
}

// abandonLocked refunds the pot, marks the session ABANDONED and removes it.
func (m *Manager) abandonLocked(e *entry) Settlement {
	s := e.session
	settlement := m.escrow.Refund(s)
	settlement.Result = ResultAbandoned

	s.finish(StatusAbandoned, m.now())
	e.closed = true
	m.registry.Remove(s.ID)

	m.logger.Info("session abandoned",
		zap.String("session_id", s.ID),
		zap.Int("wager", s.Wager),
		zap.Strings("seats", s.Seats()),
	)
	return settlement
}

// compensate credits back a debit whose record write failed.
func (m *Manager) compensate(s *Session, side Side, connID string) {
	balance, err := m.escrow.Release(s, side)
	if err != nil {
		m.logger.Warn("compensating refund failed",
			zap.String("session_id", s.ID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return
	}
	m.notifier.SendTo(connID, balanceEvent(balance))
}

type nopNotifier struct{}

func (nopNotifier) SendTo(string, Event)      {}
func (nopNotifier) SendToAll([]string, Event) {}
func (nopNotifier) SessionsChanged()          {}
