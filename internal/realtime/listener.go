package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/metrics"
)

// Channel is the NOTIFY channel the table triggers write to.
const Channel = "table_changes"

// Publisher accepts decoded changes. Satisfied by *Hub.
type Publisher interface {
	Publish(c Change)
}

// Listener holds one dedicated Postgres connection in LISTEN mode and forwards
// every notification to a Publisher. It reconnects with exponential backoff.
type Listener struct {
	connString string
	sink       Publisher

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewListener(connString string, sink Publisher) *Listener {
	return &Listener{
		connString: connString,
		sink:       sink,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.MinBackoff
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = l.MinBackoff
		}
		logrus.WithError(err).WithField("retry_in", backoff).Warn("realtime: listener disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.MaxBackoff {
			backoff = l.MaxBackoff
		}
	}
}

// listen reports whether LISTEN succeeded before the connection failed.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	logrus.WithField("channel", Channel).Info("realtime: listening for row changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait: %w", err)
		}
		c, err := DecodeNotification(n.Payload)
		if err != nil {
			logrus.WithError(err).Warn("realtime: skipping malformed notification")
			continue
		}
		metrics.ChangeEvents.WithLabelValues(c.Table).Inc()
		l.sink.Publish(c)
	}
}

// DecodeNotification parses a trigger payload.
func DecodeNotification(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode notification: %w", err)
	}
	if c.Table == "" || c.Type == "" {
		return Change{}, fmt.Errorf("decode notification: missing table or type")
	}
	return c, nil
}
