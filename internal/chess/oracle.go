// Package chess adapts github.com/corentings/chess/v2 to the rules oracle the
// session manager consumes.
package chess

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/wagerhall/wager-server/internal/match"
)

// Oracle validates and applies moves with the corentings/chess engine.
// Boards it returns are *nchess.Game values and are never mutated in place.
type Oracle struct{}

// NewOracle returns the chess rules oracle.
func NewOracle() Oracle {
	return Oracle{}
}

// NewBoard returns a game at the standard starting position.
func (Oracle) NewBoard() match.Board {
	return nchess.NewGame()
}

// NewBoardFromFEN returns a game starting at fen.
func NewBoardFromFEN(fen string) (match.Board, error) {
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(option), nil
}

// Apply plays mv on a copy of board. A move is accepted in coordinate form
// (From/To/Promotion), in UCI ("e2e4", "e7e8q") or in SAN ("Nf3", "exd5").
func (Oracle) Apply(board match.Board, mv match.Move) (match.Board, match.AppliedMove, error) {
	game, err := gameOf(board)
	if err != nil {
		return nil, match.AppliedMove{}, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return nil, match.AppliedMove{}, fmt.Errorf("%w: game is over", match.ErrIllegalMove)
	}

	next := game.Clone()
	before := next.Position()
	mover := before.Turn()

	if err := push(next, mv); err != nil {
		return nil, match.AppliedMove{}, fmt.Errorf("%w: %s", match.ErrIllegalMove, describe(mv))
	}

	moves := next.Moves()
	last := moves[len(moves)-1]
	claimDraw(next)

	applied := match.AppliedMove{
		SAN:   nchess.AlgebraicNotation{}.Encode(before, last),
		UCI:   last.String(),
		From:  last.S1().String(),
		To:    last.S2().String(),
		Color: sideOf(mover).Code(),
	}
	return next, applied, nil
}

// Turn reports the side to move.
func (Oracle) Turn(board match.Board) match.Side {
	game, err := gameOf(board)
	if err != nil {
		return match.White
	}
	return sideOf(game.Position().Turn())
}

// Status reports whether the game on board has ended and how.
func (Oracle) Status(board match.Board) match.Verdict {
	game, err := gameOf(board)
	if err != nil {
		return match.Verdict{}
	}

	switch game.Outcome() {
	case nchess.NoOutcome:
		return match.Verdict{Outcome: match.OutcomeNone}
	case nchess.WhiteWon, nchess.BlackWon:
		if game.Method() == nchess.Checkmate {
			return match.Verdict{Outcome: match.OutcomeCheckmate, Reason: "Checkmate"}
		}
		// Resignation is never recorded on boards this oracle builds.
		return match.Verdict{Outcome: match.OutcomeNone}
	default:
		if game.Method() == nchess.Stalemate {
			return match.Verdict{Outcome: match.OutcomeStalemate, Reason: "Stalemate"}
		}
		return match.Verdict{Outcome: match.OutcomeDraw, Reason: "Draw"}
	}
}

// Encode returns the FEN of board.
func (Oracle) Encode(board match.Board) string {
	game, err := gameOf(board)
	if err != nil {
		return ""
	}
	return game.FEN()
}

func push(game *nchess.Game, mv match.Move) error {
	if mv.From != "" || mv.To != "" {
		uci := strings.ToLower(strings.TrimSpace(mv.From + mv.To + mv.Promotion))
		return game.PushNotationMove(uci, nchess.UCINotation{}, nil)
	}

	notation := strings.TrimSpace(mv.Notation)
	if notation == "" {
		return fmt.Errorf("empty move")
	}
	if err := game.PushNotationMove(strings.ToLower(notation), nchess.UCINotation{}, nil); err == nil {
		return nil
	}
	return game.PushNotationMove(notation, nchess.AlgebraicNotation{}, nil)
}

// claimDraw ends the game when a threefold repetition or the fifty-move rule
// can be claimed. The engine only ends those automatically at five-fold and
// seventy-five moves.
func claimDraw(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, method := range game.EligibleDraws() {
		if method == nchess.ThreefoldRepetition || method == nchess.FiftyMoveRule {
			_ = game.Draw(method)
			return
		}
	}
}

func gameOf(board match.Board) (*nchess.Game, error) {
	game, ok := board.(*nchess.Game)
	if !ok || game == nil {
		return nil, fmt.Errorf("%w: unexpected board %T", match.ErrInvariant, board)
	}
	return game, nil
}

func sideOf(c nchess.Color) match.Side {
	if c == nchess.Black {
		return match.Black
	}
	return match.White
}

func describe(mv match.Move) string {
	if mv.Notation != "" {
		return mv.Notation
	}
	return mv.From + mv.To + mv.Promotion
}
