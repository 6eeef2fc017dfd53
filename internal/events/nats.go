// ABOUTME: NATS core publisher for commit notifications
// ABOUTME: Each commit is published as a JSON message on a single subject

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes commits to a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. An empty subject uses DefaultSubject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("forgestate-events"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	logger := slog.Default().With("component", "events")
	logger.Info("publishing commits to NATS", "url", url, "subject", subject)

	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends c as JSON. NATS core publish is fire-and-forget so ctx is
// only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, c Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling commit: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	p.logger.Debug("published commit", "revision", c.Revision, "reason", c.Reason)
	return nil
}

// Subject returns the subject commits are published on
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	return nil
}
