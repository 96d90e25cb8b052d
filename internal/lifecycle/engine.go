package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/cart"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/events"
	"github.com/tableside/api/internal/localstore"
	"github.com/tableside/api/internal/metrics"
	"github.com/tableside/api/internal/model"
	"github.com/tableside/api/internal/realtime"
)

// Errors returned by the lifecycle engine.
var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrTableRequired     = errors.New("table number is required")
	ErrInvalidQuantity   = errors.New("quantity must be > 0")
	ErrInvalidPrice      = errors.New("price must be >= 0")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrStatusConflict    = errors.New("order status was changed by someone else")
	ErrForbidden         = errors.New("owner privilege required")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNoActiveOrder     = errors.New("no recent order found to track")

	// Raised by stores that check lines against the live catalog.
	ErrPriceChanged    = errors.New("menu price changed since the item was added")
	ErrItemUnavailable = errors.New("menu item is not available")
	ErrUnknownModifier = errors.New("modifier is not offered for this item")
	ErrUnknownMenuItem = errors.New("menu item does not exist")
)

// Store persists orders. UpdateOrderStatus is a compare-and-set on the
// current status and reports model.ErrNotFound when the row does not match.
type Store interface {
	InsertOrder(ctx context.Context, o NewOrder) (model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string) (model.Order, error)
}

// NewOrder is a validated order ready to persist.
type NewOrder struct {
	OrderNumber  string          `json:"order_number"`
	TableNumber  string          `json:"table_number"`
	CustomerName string          `json:"customer_name"`
	UserID       *uuid.UUID      `json:"user_id,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Items        []NewOrderItem  `json:"items"`
}

type NewOrderItem struct {
	MenuItemID       uuid.UUID        `json:"menu_item_id"`
	Quantity         int32            `json:"quantity"`
	SelectedToppings []model.Modifier `json:"selected_toppings"`
	PriceAtTime      decimal.Decimal  `json:"price_at_time"`
}

// Authorizer answers whether a user may run privileged order operations.
// Satisfied by *auth.Resolver.
type Authorizer interface {
	IsOwner(ctx context.Context, userID uuid.UUID, email string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, userID uuid.UUID, email string) bool

func (f AuthorizerFunc) IsOwner(ctx context.Context, userID uuid.UUID, email string) bool {
	return f(ctx, userID, email)
}

// Actor identifies who is asking for a status change.
type Actor struct {
	UserID uuid.UUID
	Email  string
}

// NumberGenerator produces display order numbers. They are not identifiers
// and may repeat.
type NumberGenerator interface {
	Next() string
}

// NumberFunc adapts a function to NumberGenerator.
type NumberFunc func() string

func (f NumberFunc) Next() string { return f() }

// RandomNumbers yields "#1000" through "#9999".
var RandomNumbers = NumberFunc(func() string {
	return fmt.Sprintf("#%d", 1000+rand.IntN(9000))
})

// Line is one requested order line with the menu item as the customer saw it.
type Line struct {
	Item             model.MenuItem
	Quantity         int32
	SelectedToppings []model.Modifier
}

type PlaceOrder struct {
	Lines        []Line
	TableNumber  string
	CustomerName string
	UserID       *uuid.UUID
}

// Engine runs order operations against a Store. Feed and Local are optional:
// without a Feed the Observe calls fail, without Local nothing is remembered.
type Engine struct {
	store     Store
	auth      Authorizer
	numbers   NumberGenerator
	publisher events.Publisher
	feed      realtime.Feed
	local     localstore.Storage
}

type Option func(*Engine)

func WithNumbers(g NumberGenerator) Option    { return func(e *Engine) { e.numbers = g } }
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }
func WithFeed(f realtime.Feed) Option         { return func(e *Engine) { e.feed = f } }
func WithLocal(s localstore.Storage) Option   { return func(e *Engine) { e.local = s } }

func NewEngine(store Store, auth Authorizer, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		auth:      auth,
		numbers:   RandomNumbers,
		publisher: events.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates req and persists a new pending order. Each line's price is
// captured from the item snapshot, and the total is fixed here.
func (e *Engine) Create(ctx context.Context, req PlaceOrder) (model.Order, error) {
	if len(req.Lines) == 0 {
		return model.Order{}, ErrEmptyCart
	}
	table := strings.TrimSpace(req.TableNumber)
	if table == "" {
		return model.Order{}, ErrTableRequired
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		customer = enum.DefaultCustomerName
	}

	total := decimal.Zero
	items := make([]NewOrderItem, 0, len(req.Lines))
	for i, l := range req.Lines {
		if l.Quantity <= 0 {
			return model.Order{}, fmt.Errorf("line[%d]: %w", i, ErrInvalidQuantity)
		}
		if l.Item.Price.IsNegative() {
			return model.Order{}, fmt.Errorf("line[%d]: %w", i, ErrInvalidPrice)
		}
		for _, m := range l.SelectedToppings {
			if m.Price.IsNegative() {
				return model.Order{}, fmt.Errorf("line[%d] modifier %q: %w", i, m.Name, ErrInvalidPrice)
			}
		}
		mods := l.SelectedToppings
		if mods == nil {
			mods = []model.Modifier{}
		}
		unit := l.Item.Price.Add(model.ModifiersTotal(mods))
		total = total.Add(unit.Mul(decimal.NewFromInt32(l.Quantity)))
		items = append(items, NewOrderItem{
			MenuItemID:       l.Item.ID,
			Quantity:         l.Quantity,
			SelectedToppings: mods,
			PriceAtTime:      l.Item.Price,
		})
	}

	order, err := e.store.InsertOrder(ctx, NewOrder{
		OrderNumber:  e.numbers.Next(),
		TableNumber:  table,
		CustomerName: customer,
		UserID:       req.UserID,
		TotalAmount:  total,
		Items:        items,
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("insert order: %w", err)
	}

	metrics.OrdersPlaced.Inc()
	e.publish(ctx, events.OrderPlaced, order, "")
	return order, nil
}

// Checkout places the cart's contents as an order. On success the cart is
// emptied and the new order id is remembered for tracking; on failure the
// cart is untouched.
func (e *Engine) Checkout(ctx context.Context, c *cart.Cart, table, customer string, userID *uuid.UUID) (model.Order, error) {
	if c.IsEmpty() {
		return model.Order{}, ErrEmptyCart
	}
	cartLines := c.Lines()
	lines := make([]Line, len(cartLines))
	for i, l := range cartLines {
		lines[i] = Line{Item: l.Item, Quantity: l.Quantity, SelectedToppings: l.SelectedToppings}
	}

	order, err := e.Create(ctx, PlaceOrder{
		Lines:        lines,
		TableNumber:  table,
		CustomerName: customer,
		UserID:       userID,
	})
	if err != nil {
		return model.Order{}, err
	}

	c.Clear()
	e.remember(order.ID)
	return order, nil
}

// Advance moves an order to target. Only owners may do this.
func (e *Engine) Advance(ctx context.Context, actor Actor, id uuid.UUID, target string) (model.Order, error) {
	if !e.auth.IsOwner(ctx, actor.UserID, actor.Email) {
		return model.Order{}, ErrForbidden
	}
	if !ValidStatus(target) {
		return model.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	current, err := e.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return e.transition(ctx, current, target)
}

// AdvanceFrom is Advance for a caller that already knows the status it
// expects the order to be in; the write fails with ErrStatusConflict if the
// order has moved on.
func (e *Engine) AdvanceFrom(ctx context.Context, actor Actor, id uuid.UUID, from, target string) (model.Order, error) {
	if !e.auth.IsOwner(ctx, actor.UserID, actor.Email) {
		return model.Order{}, ErrForbidden
	}
	if err := validateTransition(from, target); err != nil {
		return model.Order{}, err
	}
	updated, err := e.store.UpdateOrderStatus(ctx, id, from, target)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return model.Order{}, fmt.Errorf("update status: %w", err)
		}
		if _, getErr := e.store.GetOrder(ctx, id); errors.Is(getErr, model.ErrNotFound) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, ErrStatusConflict
	}
	e.afterTransition(ctx, updated, from)
	return updated, nil
}

// Cancel moves an order to cancelled from any non-terminal state.
func (e *Engine) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (model.Order, error) {
	return e.Advance(ctx, actor, id, enum.OrderStatusCancelled)
}

func (e *Engine) transition(ctx context.Context, current model.Order, target string) (model.Order, error) {
	if err := validateTransition(current.Status, target); err != nil {
		return model.Order{}, err
	}
	updated, err := e.store.UpdateOrderStatus(ctx, current.ID, current.Status, target)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Order{}, ErrStatusConflict
		}
		return model.Order{}, fmt.Errorf("update status: %w", err)
	}
	e.afterTransition(ctx, updated, current.Status)
	return updated, nil
}

func (e *Engine) afterTransition(ctx context.Context, o model.Order, from string) {
	metrics.OrderTransitions.WithLabelValues(o.Status).Inc()
	e.publish(ctx, events.OrderStatusChanged, o, from)
}

// Get loads one order by its durable id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (model.Order, error) {
	o, err := e.store.GetOrder(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Order{}, ErrOrderNotFound
	}
	return o, err
}

// ResolveActive picks the order a tracker should show: explicit (e.g. from a
// link) wins over remembered. A resolved explicit id becomes the remembered
// one.
func (e *Engine) ResolveActive(ctx context.Context, explicit, remembered string) (model.Order, error) {
	raw := strings.TrimSpace(explicit)
	fromExplicit := raw != ""
	if !fromExplicit {
		raw = strings.TrimSpace(remembered)
	}
	if raw == "" {
		return model.Order{}, ErrNoActiveOrder
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return model.Order{}, ErrOrderNotFound
	}
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logrus.WithError(err).WithField("order_id", id).Debug("lifecycle: resolve active order")
		}
		return model.Order{}, ErrOrderNotFound
	}
	if fromExplicit {
		e.remember(o.ID)
	}
	return o, nil
}

// Remembered returns the last order id stored on this device, if any.
func (e *Engine) Remembered() string {
	if e.local == nil {
		return ""
	}
	v, _, err := e.local.Get(enum.StorageKeyLastOrderID)
	if err != nil {
		logrus.WithError(err).Debug("lifecycle: read last order id")
	}
	return v
}

func (e *Engine) remember(id uuid.UUID) {
	if e.local == nil {
		return
	}
	if err := e.local.Set(enum.StorageKeyLastOrderID, id.String()); err != nil {
		logrus.WithError(err).Warn("lifecycle: store last order id")
	}
}

// ObserveOrder delivers every committed update of one order. Close the
// subscription when the view goes away.
func (e *Engine) ObserveOrder(ctx context.Context, id uuid.UUID, fn func(model.Order)) (realtime.Subscription, error) {
	if e.feed == nil {
		return nil, errors.New("lifecycle: no change feed configured")
	}
	f := realtime.Filter{
		Event:  enum.ChangeUpdate,
		Table:  enum.TableOrders,
		Column: "id",
		Value:  id.String(),
	}
	return e.feed.Subscribe(ctx, f, e.decodeOrders(ctx, fn))
}

// Track subscribes to one order and only then reads its current row, so an
// update committed between the two still reaches fn. fn may also see changes
// older than the returned row.
func (e *Engine) Track(ctx context.Context, id uuid.UUID, fn func(model.Order)) (model.Order, realtime.Subscription, error) {
	sub, err := e.ObserveOrder(ctx, id, fn)
	if err != nil {
		return model.Order{}, nil, err
	}
	o, err := e.Get(ctx, id)
	if err != nil {
		sub.Close()
		return model.Order{}, nil, err
	}
	return o, sub, nil
}

// ObserveAll delivers every inserted or updated order.
func (e *Engine) ObserveAll(ctx context.Context, fn func(model.Order)) (realtime.Subscription, error) {
	if e.feed == nil {
		return nil, errors.New("lifecycle: no change feed configured")
	}
	f := realtime.Filter{Event: enum.ChangeAll, Table: enum.TableOrders}
	return e.feed.Subscribe(ctx, f, e.decodeOrders(ctx, fn))
}

// decodeOrders turns order changes into rows. A truncated change carries only
// the id, so the row is fetched from the store.
func (e *Engine) decodeOrders(ctx context.Context, fn func(model.Order)) func(realtime.Change) {
	return func(c realtime.Change) {
		if c.Type == enum.ChangeDelete {
			return
		}
		var o model.Order
		if err := c.Decode(&o); err != nil {
			logrus.WithError(err).Warn("lifecycle: undecodable order change")
			return
		}
		if c.Truncated {
			full, err := e.store.GetOrder(ctx, o.ID)
			if err != nil {
				logrus.WithError(err).WithField("order_id", o.ID).Warn("lifecycle: fetch changed order")
				return
			}
			o = full
		}
		fn(o)
	}
}

func (e *Engine) publish(ctx context.Context, typ string, o model.Order, from string) {
	if err := e.publisher.Publish(ctx, events.New(typ, o, from)); err != nil {
		logrus.WithError(err).WithField("order_id", o.ID).Warn("lifecycle: publish event")
	}
}
