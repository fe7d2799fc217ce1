package match

import (
	"errors"

	"github.com/wagerhall/wager-server/internal/ledger"
)

var (
	ErrNotIdentified       = errors.New("identity not set")
	ErrInvalidName         = errors.New("display name required")
	ErrWagerTooLow         = errors.New("wager below minimum")
	ErrSelfJoin            = errors.New("cannot join own session")
	ErrReentry             = errors.New("identity already seated in session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionUnavailable  = errors.New("session not available")
	ErrSessionNotActive    = errors.New("session not active")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrIllegalMove         = errors.New("illegal move")
	ErrPersistence         = errors.New("session record not saved")
	ErrInvariant           = errors.New("session invariant violated")
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrUnknownIdentity     = ledger.ErrUnknownIdentity
)
