package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConn is the subset of [*nats.Conn] used by [NATSPublisher].
type NATSConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher publishes envelopes as JSON to "<subject>.<event>".
type NATSPublisher struct {
	conn    NATSConn
	subject string
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn NATSConn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// DialNATS connects to the NATS server at url and returns a publisher for
// subject. The connection reconnects on its own forever; disconnects and
// reconnects are logged.
func DialNATS(url, subject, clientName string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("relay: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("relay: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect nats %s: %w", url, err)
	}
	slog.Info("relay: connected to nats", "url", nc.ConnectedUrl(), "subject", subject)
	return NewNATSPublisher(nc, subject), nil
}

// Name implements [Publisher].
func (p *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject env is published on.
func (p *NATSPublisher) Subject(env Envelope) string {
	return p.subject + "." + env.Event
}

// Publish implements [Publisher]. Lifecycle events are flushed so they are
// on the wire before Publish returns; samples ride the client's buffer.
func (p *NATSPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", env.Event, err)
	}
	if err := p.conn.Publish(p.Subject(env), data); err != nil {
		return fmt.Errorf("relay: nats publish %s: %w", p.Subject(env), err)
	}
	if env.Sample != nil {
		return nil
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("relay: nats flush: %w", err)
	}
	return nil
}

// Close implements [Publisher]. It drains the connection so buffered
// messages are delivered.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("relay: nats drain: %w", err)
	}
	return nil
}
