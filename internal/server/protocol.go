package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wagerhall/wager-server/internal/match"
)

// Inbound message types.
const (
	MsgIdentify      = "identify"
	MsgCreateSession = "create-session"
	MsgJoinSession   = "join-session"
	MsgSubmitMove    = "submit-move"
)

// legacyTypes maps the message names of the first web client onto the
// current ones.
var legacyTypes = map[string]string{
	"set-username": MsgIdentify,
	"create-game":  MsgCreateSession,
	"join-game":    MsgJoinSession,
	"make-move":    MsgSubmitMove,
}

var errMalformed = errors.New("malformed message")

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type identifyRequest struct {
	Name string `json:"name"`
}

type createRequest struct {
	Wager int `json:"wager"`
}

type joinRequest struct {
	SessionID string `json:"sessionId"`
	GameID    string `json:"gameId"`
}

func (r joinRequest) id() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.GameID
}

type moveRequest struct {
	SessionID string          `json:"sessionId"`
	GameID    string          `json:"gameId"`
	Move      json.RawMessage `json:"move"`
}

func (r moveRequest) id() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.GameID
}

type coordinateMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion"`
}

// decodeEnvelope parses a frame and resolves legacy type names.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if current, ok := legacyTypes[env.Type]; ok {
		env.Type = current
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", errMalformed)
	}
	return env, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// decodeIdentify accepts {"name": "..."} or a bare JSON string.
func decodeIdentify(data json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return name, nil
	}
	var req identifyRequest
	if err := decodeData(data, &req); err != nil {
		return "", err
	}
	return req.Name, nil
}

// parseMove accepts a SAN or UCI string, or a {from,to,promotion} object.
func parseMove(raw json.RawMessage) (match.Move, error) {
	if len(raw) == 0 {
		return match.Move{}, fmt.Errorf("%w: missing move", errMalformed)
	}

	var notation string
	if err := json.Unmarshal(raw, &notation); err == nil {
		return match.Move{Notation: strings.TrimSpace(notation)}, nil
	}

	var coord coordinateMove
	if err := json.Unmarshal(raw, &coord); err != nil {
		return match.Move{}, fmt.Errorf("%w: move: %v", errMalformed, err)
	}
	if coord.From == "" || coord.To == "" {
		return match.Move{}, fmt.Errorf("%w: move needs from and to", errMalformed)
	}
	return match.Move{
		From:      strings.ToLower(coord.From),
		To:        strings.ToLower(coord.To),
		Promotion: strings.ToLower(coord.Promotion),
	}, nil
}
