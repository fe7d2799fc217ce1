package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wagerhall/wager-server/internal/ledger"
	"github.com/wagerhall/wager-server/internal/persistence"
)

// scriptedBoard is the board of scriptedOracle: it only tracks whose turn it
// is, how many moves were played and the verdict of the last one.
type scriptedBoard struct {
	turn    Side
	ply     int
	verdict Verdict
}

// scriptedOracle accepts any move except "illegal". The notations "mate",
// "stalemate" and "repetition" end the game with the matching verdict.
type scriptedOracle struct{}

func (scriptedOracle) NewBoard() Board { return &scriptedBoard{turn: White} }

func (scriptedOracle) Apply(board Board, mv Move) (Board, AppliedMove, error) {
	b := board.(*scriptedBoard)
	if mv.Notation == "illegal" {
		return nil, AppliedMove{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.Notation)
	}

	next := &scriptedBoard{turn: b.turn.Opponent(), ply: b.ply + 1}
	switch mv.Notation {
	case "mate":
		next.verdict = Verdict{Outcome: OutcomeCheckmate, Reason: "Checkmate"}
	case "stalemate":
		next.verdict = Verdict{Outcome: OutcomeStalemate, Reason: "Stalemate"}
	case "repetition":
		next.verdict = Verdict{Outcome: OutcomeDraw, Reason: "Draw"}
	}
	return next, AppliedMove{SAN: mv.Notation, UCI: mv.Notation, Color: b.turn.Code()}, nil
}

func (scriptedOracle) Turn(board Board) Side { return board.(*scriptedBoard).turn }

func (scriptedOracle) Status(board Board) Verdict { return board.(*scriptedBoard).verdict }

func (scriptedOracle) Encode(board Board) string {
	b := board.(*scriptedBoard)
	return fmt.Sprintf("ply=%d turn=%s", b.ply, b.turn.Code())
}

// recordingNotifier keeps every event delivered per connection.
type recordingNotifier struct {
	mu      sync.Mutex
	events  map[string][]Event
	changes int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[string][]Event)}
}

func (r *recordingNotifier) SendTo(connID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connID] = append(r.events[connID], ev)
}

func (r *recordingNotifier) SendToAll(connIDs []string, ev Event) {
	for _, id := range connIDs {
		r.SendTo(id, ev)
	}
}

func (r *recordingNotifier) SessionsChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recordingNotifier) ofType(connID, eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events[connID] {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingNotifier) lobbyChanges() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes
}

// recordingPersister stores synchronous saves and queued records in order.
type recordingPersister struct {
	mu        sync.Mutex
	saved     []persistence.Record
	queued    []persistence.Record
	failSave  int
	onSave    func()
	onEnqueue func(persistence.Record)
}

func (p *recordingPersister) Save(_ context.Context, rec persistence.Record) error {
	p.mu.Lock()
	hook := p.onSave
	if p.failSave > 0 {
		p.failSave--
		p.mu.Unlock()
		return errors.New("database unavailable")
	}
	p.saved = append(p.saved, rec.Clone())
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (p *recordingPersister) Enqueue(rec persistence.Record) {
	p.mu.Lock()
	hook := p.onEnqueue
	p.mu.Unlock()
	if hook != nil {
		hook(rec)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, rec.Clone())
}

func (p *recordingPersister) setOnEnqueue(fn func(persistence.Record)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnqueue = fn
}

func (p *recordingPersister) setOnSave(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSave = fn
}

func (p *recordingPersister) queuedRecords() []persistence.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistence.Record(nil), p.queued...)
}

func (p *recordingPersister) lastQueued() (persistence.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queued) == 0 {
		return persistence.Record{}, false
	}
	return p.queued[len(p.queued)-1], true
}

// trackingLedger remembers the balance each identity held when forgotten.
type trackingLedger struct {
	*ledger.Ledger

	mu        sync.Mutex
	forgotten map[string]int
}

func (t *trackingLedger) Forget(connID string) (ledger.Identity, bool) {
	id, ok := t.Ledger.Forget(connID)
	if ok {
		t.mu.Lock()
		t.forgotten[connID] = id.Balance
		t.mu.Unlock()
	}
	return id, ok
}

func (t *trackingLedger) finalBalance(connID string) int {
	if balance, err := t.BalanceOf(connID); err == nil {
		return balance
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forgotten[connID]
}

type harness struct {
	manager   *Manager
	ledger    *trackingLedger
	notifier  *recordingNotifier
	persister *recordingPersister
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	l := &trackingLedger{
		Ledger:    ledger.New(ledger.DefaultStartingBalance, logger),
		forgotten: make(map[string]int),
	}
	notifier := newRecordingNotifier()
	persister := &recordingPersister{}

	m := NewManager(l, scriptedOracle{}, persister, notifier, notifier, Config{}, logger)
	return &harness{manager: m, ledger: l, notifier: notifier, persister: persister}
}

func (h *harness) identify(t *testing.T, connID, name string) {
	t.Helper()
	if _, err := h.manager.Identify(connID, name); err != nil {
		t.Fatalf("identify %s: %v", name, err)
	}
}

func (h *harness) balance(t *testing.T, connID string) int {
	t.Helper()
	balance, err := h.ledger.BalanceOf(connID)
	if err != nil {
		t.Fatalf("balance of %s: %v", connID, err)
	}
	return balance
}

// startMatch has alice create a session with wager and bob join it.
func (h *harness) startMatch(t *testing.T, wager int) string {
	t.Helper()
	h.identify(t, "alice", "Alice")
	h.identify(t, "bob", "Bob")

	snap, err := h.manager.CreateSession(context.Background(), "alice", wager)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := h.manager.JoinSession(context.Background(), "bob", snap.ID); err != nil {
		t.Fatalf("join session: %v", err)
	}
	return snap.ID
}

func (h *harness) move(t *testing.T, connID, sessionID, notation string) {
	t.Helper()
	if _, err := h.manager.SubmitMove(connID, sessionID, Move{Notation: notation}); err != nil {
		t.Fatalf("%s move %q: %v", connID, notation, err)
	}
}
