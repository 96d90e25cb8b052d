// Package realtime carries row change notifications from the store to
// in-process subscribers. The Postgres triggers emit one Change per row
// write; the Hub fans them out to filtered subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tableside/api/internal/enum"
)

var (
	ErrBadFilter    = errors.New("invalid change filter")
	ErrSlowConsumer = errors.New("subscriber dropped: queue overflow")
	ErrHubStopped   = errors.New("change hub stopped")
)

// Change is one committed row write. Record is the row after the change and
// is null for deletes; OldRecord is null for inserts. When Truncated is set
// the row was too large for a notification and the records hold only its id.
type Change struct {
	Type       string          `json:"type"`
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	Record     json.RawMessage `json:"record"`
	OldRecord  json.RawMessage `json:"old_record"`
	CommitTime time.Time       `json:"commit_time"`
	Truncated  bool            `json:"truncated,omitempty"`
}

// Row returns the most relevant row image: the new row, or the old one for
// deletes.
func (c Change) Row() json.RawMessage {
	if c.Type == enum.ChangeDelete || len(c.Record) == 0 || string(c.Record) == "null" {
		return c.OldRecord
	}
	return c.Record
}

// Decode unmarshals Row into v.
func (c Change) Decode(v any) error {
	row := c.Row()
	if len(row) == 0 || string(row) == "null" {
		return fmt.Errorf("decode %s change on %s: empty row", c.Type, c.Table)
	}
	if err := json.Unmarshal(row, v); err != nil {
		return fmt.Errorf("decode %s change on %s: %w", c.Type, c.Table, err)
	}
	return nil
}

// Filter selects changes. Empty Event or "*" matches every event type; empty
// Schema matches any schema; Column/Value restrict to rows whose column equals
// the value.
type Filter struct {
	Event  string
	Schema string
	Table  string
	Column string
	Value  string
}

// ParseFilter builds a Filter from the wire form used by subscribers:
// expr is empty or "<column>=eq.<value>".
func ParseFilter(table, event, expr string) (Filter, error) {
	f := Filter{Table: strings.TrimSpace(table), Event: strings.ToUpper(strings.TrimSpace(event))}
	if f.Table == "" {
		return Filter{}, fmt.Errorf("%w: table is required", ErrBadFilter)
	}
	switch f.Event {
	case "", enum.ChangeAll, enum.ChangeInsert, enum.ChangeUpdate, enum.ChangeDelete:
	default:
		return Filter{}, fmt.Errorf("%w: unknown event %q", ErrBadFilter, event)
	}
	if expr == "" {
		return f, nil
	}
	col, val, ok := strings.Cut(expr, "=eq.")
	if !ok || col == "" || val == "" {
		return Filter{}, fmt.Errorf("%w: expected <column>=eq.<value>, got %q", ErrBadFilter, expr)
	}
	f.Column, f.Value = col, val
	return f, nil
}

// String renders the filter in the same wire form ParseFilter accepts.
func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

func (f Filter) Matches(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Schema != "" && f.Schema != c.Schema {
		return false
	}
	if f.Event != "" && f.Event != enum.ChangeAll && f.Event != c.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(c.Row(), &row); err != nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == f.Value
	}
	return fmt.Sprint(v) == f.Value
}

// Subscription is a live registration on a Feed.
type Subscription interface {
	// Close stops delivery. No callback starts after Close returns.
	Close()
	// Done is closed once the subscription has ended for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended, nil after a plain Close.
	Err() error
}

// Feed is anything that delivers changes: the server-side Hub, or a remote
// websocket feed on the client.
type Feed interface {
	Subscribe(ctx context.Context, f Filter, fn func(Change)) (Subscription, error)
}
