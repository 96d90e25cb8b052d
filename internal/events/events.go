// Package events publishes order lifecycle events to a message bus so other
// systems (kitchen displays, notifications) can follow orders without polling.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tableside/api/internal/model"
)

const (
	OrderPlaced        = "order.placed"
	OrderStatusChanged = "order.status"
)

// Event is the JSON body put on the bus.
type Event struct {
	Type       string      `json:"type"`
	Order      model.Order `json:"order"`
	FromStatus string      `json:"from_status,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func New(typ string, o model.Order, from string) Event {
	return Event{Type: typ, Order: o, FromStatus: from, OccurredAt: time.Now().UTC()}
}

// RoutingKey is the topic the event is published under:
// "order.placed" or "order.status.<status>".
func (e Event) RoutingKey() string {
	if e.Type == OrderStatusChanged {
		return fmt.Sprintf("%s.%s", OrderStatusChanged, e.Order.Status)
	}
	return e.Type
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Open returns the publisher for driver: "amqp", "nats", or "none"/"" for Noop.
func Open(driver, amqpURL, natsURL string) (Publisher, error) {
	switch driver {
	case "", "none":
		return Noop{}, nil
	case "amqp":
		p, err := DialAMQP(amqpURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "nats":
		p, err := DialNATS(natsURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", driver)
	}
}

// Noop discards events. It is the default when no bus is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
