package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the routing key to form the NATS subject,
// e.g. "tableside.order.status.ready".
const SubjectPrefix = "tableside."

type NATS struct {
	nc *nats.Conn
}

func DialNATS(url string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("tableside-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{nc: nc}, nil
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := SubjectPrefix + e.RoutingKey()
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATS) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
