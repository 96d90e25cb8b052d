package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/model"
)

// RecentOrdersLimit bounds the admin dashboard's order list.
const RecentOrdersLimit = 200

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetMenuItem(ctx context.Context, id uuid.UUID) (model.MenuItem, error)
	InsertOrder(ctx context.Context, arg database.InsertOrderParams) (model.Order, error)
	InsertOrderItem(ctx context.Context, arg database.InsertOrderItemParams) (model.OrderItem, error)
	GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	ListOrderItemsForOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (model.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// OrderService is the Postgres-backed lifecycle.Store. It re-checks every
// line against the live catalog before anything is written.
type OrderService struct {
	pool     TxBeginner
	db       database.DBTX
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService. db serves reads outside a
// transaction and is usually the same pool.
func NewOrderService(pool TxBeginner, db database.DBTX, newStore NewOrderStore) *OrderService {
	return &OrderService{pool: pool, db: db, newStore: newStore}
}

// InsertOrder validates the lines against the catalog and writes the order and
// its items atomically. The stored total is recomputed from the verified
// lines; a caller whose snapshot disagrees gets ErrPriceChanged.
func (s *OrderService) InsertOrder(ctx context.Context, o lifecycle.NewOrder) (model.Order, error) {
	if len(o.Items) == 0 {
		return model.Order{}, lifecycle.ErrEmptyCart
	}
	if o.TableNumber == "" {
		return model.Order{}, lifecycle.ErrTableRequired
	}

	// --- Begin transaction ---
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Verify lines against the catalog ---
	total := decimal.Zero
	for i, item := range o.Items {
		if item.Quantity <= 0 {
			return model.Order{}, fmt.Errorf("item[%d]: %w", i, lifecycle.ErrInvalidQuantity)
		}
		menuItem, err := store.GetMenuItem(ctx, item.MenuItemID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Order{}, fmt.Errorf("item[%d]: %w", i, lifecycle.ErrUnknownMenuItem)
			}
			return model.Order{}, fmt.Errorf("item[%d]: get menu item: %w", i, err)
		}
		if !menuItem.IsAvailable {
			return model.Order{}, fmt.Errorf("item[%d] %q: %w", i, menuItem.Name, lifecycle.ErrItemUnavailable)
		}
		if !menuItem.Price.Equal(item.PriceAtTime) {
			return model.Order{}, fmt.Errorf("item[%d] %q: %w", i, menuItem.Name, lifecycle.ErrPriceChanged)
		}
		for j, mod := range item.SelectedToppings {
			if !menuItem.HasTopping(mod) {
				return model.Order{}, fmt.Errorf("item[%d].toppings[%d] %q: %w", i, j, mod.Name, lifecycle.ErrUnknownModifier)
			}
		}
		unit := menuItem.Price.Add(model.ModifiersTotal(item.SelectedToppings))
		total = total.Add(unit.Mul(decimal.NewFromInt32(item.Quantity)))
	}
	if !total.Equal(o.TotalAmount) {
		return model.Order{}, fmt.Errorf("total %s, catalog says %s: %w",
			o.TotalAmount.StringFixed(2), total.StringFixed(2), lifecycle.ErrPriceChanged)
	}

	// --- Insert order ---
	table := o.TableNumber
	order, err := store.InsertOrder(ctx, database.InsertOrderParams{
		OrderNumber:  o.OrderNumber,
		Status:       enum.OrderStatusPending,
		TotalAmount:  total,
		TableNumber:  &table,
		CustomerName: o.CustomerName,
		UserID:       o.UserID,
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	// --- Insert items ---
	order.Items = make([]model.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		created, err := store.InsertOrderItem(ctx, database.InsertOrderItemParams{
			OrderID:          order.ID,
			MenuItemID:       item.MenuItemID,
			Quantity:         item.Quantity,
			SelectedToppings: item.SelectedToppings,
			PriceAtTime:      item.PriceAtTime,
		})
		if err != nil {
			return model.Order{}, fmt.Errorf("create order item: %w", err)
		}
		order.Items = append(order.Items, created)
	}

	// --- Commit ---
	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return order, nil
}

// GetOrder returns the order with its lines.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	store := s.newStore(s.db)
	order, err := store.GetOrder(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if order.Items, err = store.ListOrderItems(ctx, id); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// UpdateOrderStatus writes to only if the order is still in from.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string) (model.Order, error) {
	return s.newStore(s.db).UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:         id,
		Status:     to,
		FromStatus: from,
	})
}

// ListRecentOrders returns the newest orders with their lines.
func (s *OrderService) ListRecentOrders(ctx context.Context) ([]model.Order, error) {
	return s.ListOrders(ctx, database.ListOrdersParams{Limit: RecentOrdersLimit})
}

// ListUserOrders returns one customer's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return s.ListOrders(ctx, database.ListOrdersParams{UserID: &userID, Limit: RecentOrdersLimit})
}

func (s *OrderService) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error) {
	store := s.newStore(s.db)
	orders, err := store.ListOrders(ctx, arg)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := store.ListOrderItemsForOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []model.OrderItem{}
		}
	}
	return orders, nil
}
