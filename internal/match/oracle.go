package match

// Board is the opaque board state owned by an Oracle.
type Board any

// Side identifies a seat by the colour it plays. The creator plays White.
type Side int

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == Black {
		return "black"
	}
	return "white"
}

// Code returns the single-letter colour code sent to clients.
func (s Side) Code() string {
	if s == Black {
		return "b"
	}
	return "w"
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

// Move is a move as submitted by a client. Either Notation (SAN or UCI) or
// From/To (with optional Promotion) is set.
type Move struct {
	Notation  string `json:"notation,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// AppliedMove describes a move the oracle accepted.
type AppliedMove struct {
	SAN   string `json:"san"`
	UCI   string `json:"uci"`
	From  string `json:"from"`
	To    string `json:"to"`
	Color string `json:"color"`
}

// Outcome classifies a board position.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCheckmate
	OutcomeStalemate
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCheckmate:
		return "checkmate"
	case OutcomeStalemate:
		return "stalemate"
	case OutcomeDraw:
		return "draw"
	default:
		return "none"
	}
}

// Verdict is the oracle's terminal status for a position.
type Verdict struct {
	Outcome Outcome
	Reason  string
}

// Terminal reports whether the game is over.
func (v Verdict) Terminal() bool {
	return v.Outcome != OutcomeNone
}

// Oracle adjudicates move legality and terminal conditions. Apply must not
// mutate board; a rejected move returns an error wrapping ErrIllegalMove.
type Oracle interface {
	NewBoard() Board
	Apply(board Board, move Move) (Board, AppliedMove, error)
	Turn(board Board) Side
	Status(board Board) Verdict
	Encode(board Board) string
}
