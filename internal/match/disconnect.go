package match

import (
	"go.uber.org/zap"
)

const opponentLeftMessage = "Opponent disconnected. Wagers refunded."

// Disconnect reconciles every session connID is seated in and then drops
// its identity. Waiting sessions are refunded and removed; active sessions
// refund both seats and notify the remaining player.
func (m *Manager) Disconnect(connID string) {
	// Closing first refuses new escrow for connID, so no session can be
	// opened or joined behind the scan below.
	m.balances.Close(connID)

	for _, id := range m.registry.SeatedIn(connID) {
		m.reconcile(connID, id)
	}

	if id, ok := m.balances.Forget(connID); ok {
		m.logger.Debug("connection reconciled",
			zap.String("conn_id", connID),
			zap.String("name", id.Name),
		)
	}
}

func (m *Manager) reconcile(connID, sessionID string) {
	e, ok := m.registry.lookup(sessionID)
	if !ok {
		return
	}

	e.mu.Lock()
	s := e.session
	if e.closed || !s.Seated(connID) {
		e.mu.Unlock()
		return
	}

	switch s.Status {
	case StatusWaiting:
		m.abandonLocked(e)

	case StatusActive:
		if s.Black == nil {
			m.logger.Error("active session without a black seat",
				zap.String("session_id", s.ID),
				zap.String("conn_id", connID),
			)
		}
		settlement := m.abandonLocked(e)

		for _, side := range []Side{White, Black} {
			seat, err := s.SeatFor(side)
			if err != nil || seat.ConnID == connID {
				continue
			}
			balance := settlement.WhiteBalance
			if side == Black {
				balance = settlement.BlackBalance
			}
			m.notifier.SendTo(seat.ConnID, Event{
				Type: EventOpponentDisconnected,
				Data: OpponentDisconnected{SessionID: s.ID, Message: opponentLeftMessage},
			})
			m.notifier.SendTo(seat.ConnID, balanceEvent(balance))
		}

	default:
		e.mu.Unlock()
		return
	}

	m.persister.Enqueue(s.Record())
	e.mu.Unlock()

	m.lobby.SessionsChanged()
}
