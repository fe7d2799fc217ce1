package match

// Outbound event types.
const (
	EventBalanceUpdated       = "balance-updated"
	EventSessionCreated       = "session-created"
	EventSessionsChanged      = "sessions-changed"
	EventSessionStarted       = "session-started"
	EventMoveApplied          = "move-applied"
	EventSessionOver          = "session-over"
	EventOpponentDisconnected = "opponent-disconnected"
	EventError                = "error"
)

// Event is one outbound message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type BalanceUpdated struct {
	Balance int `json:"balance"`
}

type SessionCreated struct {
	SessionID string   `json:"sessionId"`
	Session   Snapshot `json:"session"`
}

type SessionStarted struct {
	SessionID  string `json:"sessionId"`
	WhiteName  string `json:"whiteName"`
	BlackName  string `json:"blackName"`
	Wager      int    `json:"wager"`
	BoardState string `json:"boardState"`
}

type MoveApplied struct {
	SessionID  string      `json:"sessionId"`
	Move       AppliedMove `json:"move"`
	BoardState string      `json:"boardState"`
	Turn       string      `json:"turn"`
}

type SessionOver struct {
	SessionID    string `json:"sessionId"`
	Result       Result `json:"result"`
	Reason       string `json:"reason,omitempty"`
	Winner       string `json:"winner,omitempty"`
	Payout       int    `json:"payout,omitempty"`
	Fee          int    `json:"fee"`
	WhiteBalance int    `json:"whiteBalance"`
	BlackBalance int    `json:"blackBalance"`
}

type OpponentDisconnected struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Notifier delivers events to connections. Implementations must not block:
// the manager calls them while holding a session lock.
type Notifier interface {
	SendTo(connID string, ev Event)
	SendToAll(connIDs []string, ev Event)
}

// LobbyNotifier is told whenever the set of listed sessions changes.
type LobbyNotifier interface {
	SessionsChanged()
}

func balanceEvent(balance int) Event {
	return Event{Type: EventBalanceUpdated, Data: BalanceUpdated{Balance: balance}}
}
