package guard

import (
	"context"
	"log/slog"
	"sync"

	nats "github.com/nats-io/nats.go"

	"github.com/bslinger/go-redlock/v1/redlock"
)

// NATSConsumer subscribes to NATS subjects and runs each message handler
// under a Guard. When several replicas subscribe to the same subject, the
// lock on the message's derived key makes sure only one of them processes a
// given message within the lease window; the others skip it silently.
type NATSConsumer struct {
	conn   *nats.Conn
	guard  *Guard[*nats.Msg]
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSConsumer returns a consumer using the provided connection. The
// caller keeps ownership of the connection.
func NewNATSConsumer(conn *nats.Conn, g *Guard[*nats.Msg]) *NATSConsumer {
	return &NATSConsumer{conn: conn, guard: g, logger: slog.Default()}
}

// Subscribe starts processing messages on subject. Each delivery runs
// through the guard; handler only executes when the message's key lock was
// acquired. Handler errors are logged, not redelivered; the lock layer is
// not an acknowledgement protocol.
func (c *NATSConsumer) Subscribe(subject string, handler func(ctx context.Context, msg *nats.Msg) error) error {
	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		executed, err := c.guard.Run(context.Background(), m, func(ctx context.Context, refresh redlock.RefreshFunc) error {
			return handler(ctx, m)
		})
		if err != nil {
			c.logger.Error("guarded handler failed", "subject", subject, "err", err)
			return
		}
		if !executed {
			c.logger.Debug("message handled by another replica", "subject", subject)
		}
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions.
func (c *NATSConsumer) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	var first error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
