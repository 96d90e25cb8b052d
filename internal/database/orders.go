package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/model"
)

const orderColumns = `id, order_number, status, total_amount, table_number, customer_name, user_id, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o      model.Order
		total  pgtype.Numeric
		userID pgtype.UUID
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &total, &o.TableNumber,
		&o.CustomerName, &userID, &o.CreatedAt, &o.UpdatedAt)
	o.TotalAmount = numericToDecimal(total)
	o.UserID = uuidPtr(userID)
	return o, err
}

type InsertOrderParams struct {
	OrderNumber  string
	Status       string
	TotalAmount  decimal.Decimal
	TableNumber  *string
	CustomerName string
	UserID       *uuid.UUID
}

func (q *Queries) InsertOrder(ctx context.Context, arg InsertOrderParams) (model.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx,
		`INSERT INTO orders (order_number, status, total_amount, table_number, customer_name, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+orderColumns,
		arg.OrderNumber, arg.Status, decimalToNumeric(arg.TotalAmount), arg.TableNumber,
		arg.CustomerName, pgUUID(arg.UserID)))
	return o, mapErr("insert order", err)
}

type InsertOrderItemParams struct {
	OrderID          uuid.UUID
	MenuItemID       uuid.UUID
	Quantity         int32
	SelectedToppings []model.Modifier
	PriceAtTime      decimal.Decimal
}

func (q *Queries) InsertOrderItem(ctx context.Context, arg InsertOrderItemParams) (model.OrderItem, error) {
	toppings, err := encodeModifiers(arg.SelectedToppings)
	if err != nil {
		return model.OrderItem{}, err
	}
	var (
		it    model.OrderItem
		price pgtype.Numeric
	)
	err = q.db.QueryRow(ctx,
		`INSERT INTO order_items (order_id, menu_item_id, quantity, selected_toppings, price_at_time)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 RETURNING id, order_id, menu_item_id, quantity, price_at_time`,
		arg.OrderID, arg.MenuItemID, arg.Quantity, toppings, decimalToNumeric(arg.PriceAtTime),
	).Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &price)
	if err != nil {
		return model.OrderItem{}, mapErr("insert order item", err)
	}
	it.PriceAtTime = numericToDecimal(price)
	it.SelectedToppings = arg.SelectedToppings
	if it.SelectedToppings == nil {
		it.SelectedToppings = []model.Modifier{}
	}
	return it, nil
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	return o, mapErr("get order", err)
}

type ListOrdersParams struct {
	Status string
	UserID *uuid.UUID
	Limit  int32
	Offset int32
}

// ListOrders returns orders newest first. Empty Status and nil UserID mean no
// filter on that column.
func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]model.Order, error) {
	var status pgtype.Text
	if arg.Status != "" {
		status = pgtype.Text{String: arg.Status, Valid: true}
	}
	limit := arg.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE ($1::text IS NULL OR status = $1)
		   AND ($2::uuid IS NULL OR user_id = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		status, pgUUID(arg.UserID), limit, arg.Offset)
	if err != nil {
		return nil, mapErr("list orders", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr("scan order", err)
		}
		orders = append(orders, o)
	}
	return orders, mapErr("list orders", rows.Err())
}

// ListOrderItems returns the lines of one order with the current menu item
// name for display. Price and toppings come from the line, never the menu.
func (q *Queries) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.menu_item_id, COALESCE(m.name, ''), oi.quantity,
		        oi.selected_toppings, oi.price_at_time
		 FROM order_items oi
		 LEFT JOIN menu_items m ON m.id = oi.menu_item_id
		 WHERE oi.order_id = $1
		 ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, mapErr("list order items", err)
	}
	defer rows.Close()

	items := []model.OrderItem{}
	for rows.Next() {
		var (
			it       model.OrderItem
			toppings []byte
			price    pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.MenuItemName, &it.Quantity,
			&toppings, &price); err != nil {
			return nil, mapErr("scan order item", err)
		}
		it.PriceAtTime = numericToDecimal(price)
		if it.SelectedToppings, err = decodeModifiers(toppings); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, mapErr("list order items", rows.Err())
}

type UpdateOrderStatusParams struct {
	ID         uuid.UUID
	Status     string
	FromStatus string
}

// UpdateOrderStatus is a compare-and-set: the row only changes when its
// current status is FromStatus. A mismatch reports model.ErrNotFound.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (model.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3
		 RETURNING `+orderColumns,
		arg.ID, arg.Status, arg.FromStatus))
	return o, mapErr("update order status", err)
}

// ListOrderItemsForOrders returns the lines of several orders keyed by order.
func (q *Queries) ListOrderItemsForOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error) {
	out := make(map[uuid.UUID][]model.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.menu_item_id, COALESCE(m.name, ''), oi.quantity,
		        oi.selected_toppings, oi.price_at_time
		 FROM order_items oi
		 LEFT JOIN menu_items m ON m.id = oi.menu_item_id
		 WHERE oi.order_id = ANY($1)
		 ORDER BY oi.order_id, oi.id`, orderIDs)
	if err != nil {
		return nil, mapErr("list order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it       model.OrderItem
			toppings []byte
			price    pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.MenuItemName, &it.Quantity,
			&toppings, &price); err != nil {
			return nil, mapErr("scan order item", err)
		}
		it.PriceAtTime = numericToDecimal(price)
		if it.SelectedToppings, err = decodeModifiers(toppings); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, mapErr("list order items", rows.Err())
}
