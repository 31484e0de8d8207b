package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// EventChannel is the LISTEN/NOTIFY channel shared by guildd replicas.
const EventChannel = "guild_events"

// Notifier fans events out to every replica through LISTEN/NOTIFY.
// Payloads must stay under the 8000 byte NOTIFY limit.
type Notifier struct {
	pool   *pgxpool.Pool
	dsn    string
	logger *slog.Logger
}

// NewNotifier publishes through pool and listens on a dedicated lib/pq
// connection opened from dsn.
func NewNotifier(pool *pgxpool.Pool, dsn string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pool: pool, dsn: dsn, logger: logger}
}

// Notify publishes payload on EventChannel.
func (n *Notifier) Notify(ctx context.Context, payload []byte) error {
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, EventChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", EventChannel, err)
	}
	return nil
}

// Listen delivers every payload on EventChannel to handle until ctx is done.
// The listener reconnects on its own; notifications sent while disconnected
// are lost.
func (n *Notifier) Listen(ctx context.Context, handle func(payload []byte)) error {
	listener := pq.NewListener(n.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			n.logger.Warn("event listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			n.logger.Info("event listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			n.logger.Warn("event listener connect failed", "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(EventChannel); err != nil {
		return fmt.Errorf("listen %s: %w", EventChannel, err)
	}
	n.logger.Info("listening for events", "channel", EventChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-listener.Notify:
			// nil after a reconnect
			if note == nil {
				continue
			}
			handle([]byte(note.Extra))
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				n.logger.Warn("event listener ping failed", "error", err)
			}
		}
	}
}
