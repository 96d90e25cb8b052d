package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/model"
	"github.com/tableside/api/internal/optimistic"
	"github.com/tableside/api/internal/realtime"
)

// Stats are the dashboard counters. Pending counts orders not yet ready
// (pending and preparing); Completed counts ready and completed ones.
type Stats struct {
	TotalOrders int             `json:"total_orders"`
	Revenue     decimal.Decimal `json:"revenue"`
	Pending     int             `json:"pending"`
	Completed   int             `json:"completed"`
	Cancelled   int             `json:"cancelled"`
}

// ComputeStats sums revenue over every order that was not cancelled.
func ComputeStats(orders []model.Order) Stats {
	s := Stats{TotalOrders: len(orders), Revenue: decimal.Zero}
	for _, o := range orders {
		switch o.Status {
		case enum.OrderStatusPending, enum.OrderStatusPreparing:
			s.Pending++
		case enum.OrderStatusReady, enum.OrderStatusCompleted:
			s.Completed++
		case enum.OrderStatusCancelled:
			s.Cancelled++
			continue
		}
		s.Revenue = s.Revenue.Add(o.TotalAmount)
	}
	return s
}

// SplitHistory separates a customer's orders into ones still in progress and
// finished ones, keeping the input order.
func SplitHistory(orders []model.Order) (active, past []model.Order) {
	active, past = []model.Order{}, []model.Order{}
	for _, o := range orders {
		if IsActive(o.Status) {
			active = append(active, o)
		} else {
			past = append(past, o)
		}
	}
	return active, past
}

// OrderLister loads the orders a dashboard starts from, newest first.
type OrderLister interface {
	ListRecentOrders(ctx context.Context) ([]model.Order, error)
}

// Board is the staff view of live orders. Status changes show immediately and
// are reverted, per order, if the store rejects them.
type Board struct {
	engine *Engine
	lister OrderLister
	actor  Actor
	orders *optimistic.Controller[model.Order]
}

func NewBoard(engine *Engine, lister OrderLister, actor Actor, notifier optimistic.Notifier) *Board {
	return &Board{
		engine: engine,
		lister: lister,
		actor:  actor,
		orders: optimistic.New(func(o model.Order) string { return o.ID.String() }, notifier),
	}
}

// Load replaces the board with the store's current orders.
func (b *Board) Load(ctx context.Context) error {
	orders, err := b.lister.ListRecentOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	b.orders.Replace(orders)
	return nil
}

// Watch confirms every order change the feed reports until the returned
// subscription is closed.
func (b *Board) Watch(ctx context.Context) (realtime.Subscription, error) {
	return b.engine.ObserveAll(ctx, b.orders.Confirm)
}

// Advance sets an order's status optimistically.
func (b *Board) Advance(ctx context.Context, id uuid.UUID, target string) error {
	key := id.String()
	current, ok := b.orders.Get(key)
	if !ok {
		return ErrOrderNotFound
	}
	from := current.Status
	if err := validateTransition(from, target); err != nil {
		return err
	}
	return b.orders.Apply(ctx, key,
		func(o model.Order) model.Order {
			o.Status = target
			return o
		},
		func(ctx context.Context) error {
			_, err := b.engine.AdvanceFrom(ctx, b.actor, id, from, target)
			return err
		})
}

func (b *Board) Cancel(ctx context.Context, id uuid.UUID) error {
	return b.Advance(ctx, id, enum.OrderStatusCancelled)
}

// Orders returns the visible orders, newest first.
func (b *Board) Orders() []model.Order {
	return b.orders.Snapshot()
}

func (b *Board) Stats() Stats {
	return ComputeStats(b.orders.Snapshot())
}

// OnChange registers fn to receive the visible orders after every change.
func (b *Board) OnChange(fn func([]model.Order)) func() {
	return b.orders.OnChange(fn)
}
