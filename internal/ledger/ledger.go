package ledger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultStartingBalance is credited to every connection on first identify.
const DefaultStartingBalance = 1000

var (
	ErrUnknownIdentity     = errors.New("unknown identity")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Identity is the ephemeral record kept for one connection.
type Identity struct {
	ConnID  string
	Name    string
	Balance int

	// closing identities accept credits only; their connection is going away.
	closing bool
}

// Ledger tracks display names and coin balances per connection. Balances
// live only as long as the connection does.
type Ledger struct {
	startingBalance int
	logger          *zap.Logger

	mu         sync.RWMutex
	identities map[string]*Identity
}

// New creates a ledger that starts every identity at startingBalance.
func New(startingBalance int, logger *zap.Logger) *Ledger {
	if startingBalance < 0 {
		startingBalance = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		startingBalance: startingBalance,
		logger:          logger,
		identities:      make(map[string]*Identity),
	}
}

// Identify registers connID under name and returns its balance. A connection
// that is already identified keeps its balance and only changes name.
func (l *Ledger) Identify(connID, name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.identities[connID]; ok {
		id.Name = name
		return id.Balance
	}

	l.identities[connID] = &Identity{
		ConnID:  connID,
		Name:    name,
		Balance: l.startingBalance,
	}

	l.logger.Info("identity registered",
		zap.String("conn_id", connID),
		zap.String("name", name),
		zap.Int("balance", l.startingBalance),
	)
	return l.startingBalance
}

// Known reports whether connID has been identified and not yet forgotten.
func (l *Ledger) Known(connID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.identities[connID]
	return ok
}

// Active reports whether connID is identified and not closing.
func (l *Ledger) Active(connID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.identities[connID]
	return ok && !id.closing
}

// Close marks connID as leaving. Debits are refused from then on while
// refunds can still be credited until Forget.
func (l *Ledger) Close(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.identities[connID]
	if !ok {
		return false
	}
	id.closing = true
	return true
}

// Name returns the display name of connID.
func (l *Ledger) Name(connID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.identities[connID]
	if !ok {
		return "", ErrUnknownIdentity
	}
	return id.Name, nil
}

// BalanceOf returns the current balance of connID.
func (l *Ledger) BalanceOf(connID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.identities[connID]
	if !ok {
		return 0, ErrUnknownIdentity
	}
	return id.Balance, nil
}

// Adjust applies delta to the balance of connID and returns the new balance.
// The balance is left untouched when the result would drop below zero.
func (l *Ledger) Adjust(connID string, delta int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.identities[connID]
	if !ok || (id.closing && delta < 0) {
		return 0, ErrUnknownIdentity
	}
	if id.Balance+delta < 0 {
		return id.Balance, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, id.Balance, delta)
	}
	id.Balance += delta
	return id.Balance, nil
}

// Forget drops connID and reports whether it was known. The balance is
// discarded.
func (l *Ledger) Forget(connID string) (Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.identities[connID]
	if !ok {
		return Identity{}, false
	}
	delete(l.identities, connID)

	l.logger.Info("identity forgotten",
		zap.String("conn_id", connID),
		zap.String("name", id.Name),
		zap.Int("discarded_balance", id.Balance),
	)
	return *id, true
}

// Len returns the number of identified connections.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.identities)
}
