package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wagerhall/wager-server/internal/match"
)

// Sessions is the session manager surface the transport drives.
type Sessions interface {
	Identify(connID, name string) (int, error)
	CreateSession(ctx context.Context, connID string, wager int) (match.Snapshot, error)
	JoinSession(ctx context.Context, connID, sessionID string) (match.Snapshot, error)
	SubmitMove(connID, sessionID string, mv match.Move) (match.AppliedMove, error)
	Disconnect(connID string)
	ListWaiting() []match.Snapshot
}

// Dispatcher decodes inbound frames and routes them to the session manager.
// Failures are answered with an error event to the sender only.
type Dispatcher struct {
	sessions Sessions
	notifier match.Notifier
	minWager int
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. minWager is only used to word the
// error shown for a stake below the minimum.
func NewDispatcher(sessions Sessions, notifier match.Notifier, minWager int, logger *zap.Logger) *Dispatcher {
	if minWager <= 0 {
		minWager = match.DefaultMinWager
	}
	return &Dispatcher{
		sessions: sessions,
		notifier: notifier,
		minWager: minWager,
		logger:   logger,
	}
}

// Handle processes one inbound frame from connID. A panic in a handler is
// logged and reported to the sender; the connection stays open.
func (d *Dispatcher) Handle(ctx context.Context, connID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic handling message",
				zap.String("conn_id", connID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.fail(connID, "Internal error")
		}
	}()

	env, err := decodeEnvelope(raw)
	if err != nil {
		d.logger.Debug("dropping malformed frame", zap.String("conn_id", connID), zap.Error(err))
		d.fail(connID, "Invalid message")
		return
	}

	if err := d.route(ctx, connID, env); err != nil {
		msg := d.clientMessage(env.Type, err)
		d.logger.Debug("request rejected",
			zap.String("conn_id", connID),
			zap.String("type", env.Type),
			zap.String("reason", msg),
			zap.Error(err),
		)
		d.fail(connID, msg)
	}
}

// Disconnect reconciles everything connID held.
func (d *Dispatcher) Disconnect(connID string) {
	d.sessions.Disconnect(connID)
}

func (d *Dispatcher) route(ctx context.Context, connID string, env Envelope) error {
	switch env.Type {
	case MsgIdentify:
		name, err := decodeIdentify(env.Data)
		if err != nil {
			return err
		}
		_, err = d.sessions.Identify(connID, name)
		return err

	case MsgCreateSession:
		var req createRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		_, err := d.sessions.CreateSession(ctx, connID, req.Wager)
		return err

	case MsgJoinSession:
		var req joinRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		_, err := d.sessions.JoinSession(ctx, connID, req.id())
		return err

	case MsgSubmitMove:
		var req moveRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		mv, err := parseMove(req.Move)
		if err != nil {
			return err
		}
		_, err = d.sessions.SubmitMove(connID, req.id(), mv)
		return err

	default:
		return fmt.Errorf("%w: unknown type %q", errMalformed, env.Type)
	}
}

// clientMessage words err for the client that caused it.
func (d *Dispatcher) clientMessage(msgType string, err error) string {
	switch {
	case errors.Is(err, errMalformed):
		return "Invalid message"
	case errors.Is(err, match.ErrNotIdentified):
		return "Please set username first"
	case errors.Is(err, match.ErrInvalidName):
		return "Username is required"
	case errors.Is(err, match.ErrWagerTooLow):
		return fmt.Sprintf("Minimum wager is %d coins", d.minWager)
	case errors.Is(err, match.ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, match.ErrSelfJoin):
		return "Cannot play against yourself"
	case errors.Is(err, match.ErrReentry):
		return "Already seated in this game"
	case errors.Is(err, match.ErrSessionNotFound):
		if msgType == MsgSubmitMove {
			return "Game not active"
		}
		return "Game not available"
	case errors.Is(err, match.ErrSessionUnavailable):
		return "Game not available"
	case errors.Is(err, match.ErrSessionNotActive):
		return "Game not active"
	case errors.Is(err, match.ErrNotYourTurn):
		return "Not your turn"
	case errors.Is(err, match.ErrIllegalMove):
		return "Invalid move"
	case errors.Is(err, match.ErrPersistence):
		if msgType == MsgJoinSession {
			return "failed to join session"
		}
		return "failed to create session"
	default:
		d.logger.Error("unexpected request failure",
			zap.String("type", msgType),
			zap.Error(err),
		)
		return "Internal error"
	}
}

func (d *Dispatcher) fail(connID, message string) {
	d.notifier.SendTo(connID, match.Event{
		Type: match.EventError,
		Data: match.ErrorMessage{Message: message},
	})
}
