package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// LobbyChange is the payload published on every lobby change.
type LobbyChange struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

// publisher is the part of *nats.Conn the publisher uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher mirrors lobby changes to a NATS subject so other processes
// can refresh their listings.
type NATSPublisher struct {
	conn    publisher
	subject string
	logger  *zap.Logger
	now     func() time.Time
}

// NewNATSPublisher connects to url. Reconnects are retried indefinitely.
func NewNATSPublisher(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("wager-server"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	logger.Info("nats connected",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("subject", subject),
	)
	return newPublisher(conn, subject, logger), nil
}

func newPublisher(conn publisher, subject string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, logger: logger, now: time.Now}
}

// SessionsChanged publishes a LobbyChange. Publish only buffers, so this
// never blocks on the network.
func (p *NATSPublisher) SessionsChanged() {
	payload, err := json.Marshal(LobbyChange{Type: "sessions-changed", At: p.now().UTC()})
	if err != nil {
		p.logger.Error("encode lobby change", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn("publish lobby change failed",
			zap.String("subject", p.subject),
			zap.Error(err),
		)
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
