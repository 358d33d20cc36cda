package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/reviewd/internal/session"
)

// NATSPublisher publishes session events to a NATS subject per session:
// <prefix>.<session-id>. External consumers (dashboards, CI bots) subscribe
// with a wildcard.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("reviewd"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "reviewd.sessions"
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logging.New().WithComponent("events"),
	}, nil
}

// Publish sends the event as JSON. Publish failures are logged, never
// propagated - event delivery is best-effort and must not fail a pipeline.
func (p *NATSPublisher) Publish(sessionID string, evt session.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("failed to encode event", map[string]interface{}{"error": err.Error()})
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, sessionID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
