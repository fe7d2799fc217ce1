package match

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultFeeBasisPoints is the platform fee taken from a checkmate pot (10%).
const DefaultFeeBasisPoints = 1000

// Balances is the ledger surface escrow needs.
type Balances interface {
	Identify(connID, name string) int
	Name(connID string) (string, error)
	BalanceOf(connID string) (int, error)
	Adjust(connID string, delta int) (int, error)
	Active(connID string) bool
}

// Result is the public outcome of a settled session.
type Result string

const (
	ResultCheckmate Result = "checkmate"
	ResultDraw      Result = "draw"
	ResultAbandoned Result = "abandoned"
)

// Settlement reports the escrow movement that closed a session.
type Settlement struct {
	Result       Result
	Reason       string
	Winner       string
	WinnerConn   string
	Payout       int
	Fee          int
	WhiteBalance int
	BlackBalance int
}

// Payout splits a checkmate pot for wager into the winner's payout and the
// platform fee. The fee is rounded down.
func Payout(wager, feeBasisPoints int) (payout, fee int) {
	pot := wager * 2
	fee = pot * feeBasisPoints / 10000
	return pot - fee, fee
}

// Escrow moves wagers between the ledger and a session's pot. Callers hold
// the session's entry lock.
type Escrow struct {
	balances       Balances
	feeBasisPoints int
	logger         *zap.Logger
}

// NewEscrow creates an escrow controller over balances.
func NewEscrow(balances Balances, feeBasisPoints int, logger *zap.Logger) *Escrow {
	if feeBasisPoints < 0 || feeBasisPoints > 10000 {
		feeBasisPoints = DefaultFeeBasisPoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escrow{balances: balances, feeBasisPoints: feeBasisPoints, logger: logger}
}

// Open debits the wager from connID and seats it on side. Nothing changes
// when it fails.
func (e *Escrow) Open(s *Session, side Side, connID, name string) (int, error) {
	if s.Seated(connID) {
		return 0, ErrReentry
	}
	if side == White && s.White.ConnID != "" || side == Black && s.Black != nil {
		return 0, fmt.Errorf("%w: %s seat of session %s already filled", ErrInvariant, side, s.ID)
	}

	balance, err := e.balances.BalanceOf(connID)
	if err != nil {
		return 0, err
	}
	if balance < s.Wager {
		return balance, ErrInsufficientBalance
	}

	balance, err = e.balances.Adjust(connID, -s.Wager)
	if err != nil {
		return balance, err
	}

	seat := Seat{ConnID: connID, Name: name}
	if side == White {
		s.White = seat
	} else {
		s.Black = &seat
	}

	e.logger.Debug("escrow opened",
		zap.String("session_id", s.ID),
		zap.String("conn_id", connID),
		zap.String("side", side.String()),
		zap.Int("wager", s.Wager),
		zap.Int("balance", balance),
	)
	return balance, nil
}

// Release undoes Open for side: the wager is credited back and the seat is
// emptied. It backs the compensating refund after a failed record write.
func (e *Escrow) Release(s *Session, side Side) (int, error) {
	var seat Seat
	if side == White {
		seat = s.White
		s.White = Seat{}
	} else {
		if s.Black == nil {
			return 0, fmt.Errorf("%w: no black seat to release", ErrInvariant)
		}
		seat = *s.Black
		s.Black = nil
	}
	return e.credit(s, seat, s.Wager)
}

// Refund credits the wager back to every seated identity that is still in
// the ledger. Seats whose identity is gone are skipped.
func (e *Escrow) Refund(s *Session) Settlement {
	settlement := Settlement{Result: ResultDraw}
	if s.settled {
		return e.balancesOf(s, settlement)
	}
	s.settled = true

	for _, side := range []Side{White, Black} {
		seat, err := s.SeatFor(side)
		if err != nil || seat.ConnID == "" {
			continue
		}
		balance, _ := e.credit(s, seat, s.Wager)
		if side == White {
			settlement.WhiteBalance = balance
		} else {
			settlement.BlackBalance = balance
		}
	}
	return settlement
}

// Settle resolves the pot of a finished session. On checkmate the winner
// receives the pot less the platform fee; any other verdict refunds both
// seats.
func (e *Escrow) Settle(s *Session, verdict Verdict, winner Side) (Settlement, error) {
	if s.settled {
		return Settlement{}, fmt.Errorf("%w: session %s already settled", ErrInvariant, s.ID)
	}
	if s.Black == nil {
		return Settlement{}, fmt.Errorf("%w: session %s settled without a black seat", ErrInvariant, s.ID)
	}

	if verdict.Outcome != OutcomeCheckmate {
		settlement := e.Refund(s)
		settlement.Reason = verdict.Reason
		return settlement, nil
	}

	s.settled = true
	seat, _ := s.SeatFor(winner)
	payout, fee := Payout(s.Wager, e.feeBasisPoints)
	if _, err := e.credit(s, seat, payout); err != nil {
		e.logger.Warn("winner unreachable, payout forfeited",
			zap.String("session_id", s.ID),
			zap.String("winner", seat.Name),
			zap.Int("payout", payout),
		)
	}

	settlement := Settlement{
		Result:     ResultCheckmate,
		Reason:     verdict.Reason,
		Winner:     seat.Name,
		WinnerConn: seat.ConnID,
		Payout:     payout,
		Fee:        fee,
	}
	return e.balancesOf(s, settlement), nil
}

func (e *Escrow) credit(s *Session, seat Seat, amount int) (int, error) {
	balance, err := e.balances.Adjust(seat.ConnID, amount)
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			e.logger.Info("skipping credit to departed identity",
				zap.String("session_id", s.ID),
				zap.String("conn_id", seat.ConnID),
				zap.Int("amount", amount),
			)
		}
		return 0, err
	}
	return balance, nil
}

func (e *Escrow) balancesOf(s *Session, settlement Settlement) Settlement {
	settlement.WhiteBalance, _ = e.balances.BalanceOf(s.White.ConnID)
	if s.Black != nil {
		settlement.BlackBalance, _ = e.balances.BalanceOf(s.Black.ConnID)
	}
	return settlement
}
