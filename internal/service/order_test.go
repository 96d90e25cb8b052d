package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/model"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	committed   bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = m.commitErr == nil
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getMenuItemFn       func(ctx context.Context, id uuid.UUID) (model.MenuItem, error)
	insertOrderFn       func(ctx context.Context, arg database.InsertOrderParams) (model.Order, error)
	insertOrderItemFn   func(ctx context.Context, arg database.InsertOrderItemParams) (model.OrderItem, error)
	getOrderFn          func(ctx context.Context, id uuid.UUID) (model.Order, error)
	listOrdersFn        func(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error)
	listOrderItemsFn    func(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	listItemsForOrderFn func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error)
	updateOrderStatusFn func(ctx context.Context, arg database.UpdateOrderStatusParams) (model.Order, error)
}

func (m *mockOrderStore) GetMenuItem(ctx context.Context, id uuid.UUID) (model.MenuItem, error) {
	return m.getMenuItemFn(ctx, id)
}
func (m *mockOrderStore) InsertOrder(ctx context.Context, arg database.InsertOrderParams) (model.Order, error) {
	return m.insertOrderFn(ctx, arg)
}
func (m *mockOrderStore) InsertOrderItem(ctx context.Context, arg database.InsertOrderItemParams) (model.OrderItem, error) {
	return m.insertOrderItemFn(ctx, arg)
}
func (m *mockOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return m.getOrderFn(ctx, id)
}
func (m *mockOrderStore) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error) {
	return m.listOrdersFn(ctx, arg)
}
func (m *mockOrderStore) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	return m.listOrderItemsFn(ctx, orderID)
}
func (m *mockOrderStore) ListOrderItemsForOrders(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error) {
	return m.listItemsForOrderFn(ctx, ids)
}
func (m *mockOrderStore) UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (model.Order, error) {
	return m.updateOrderStatusFn(ctx, arg)
}

// --- Test helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestService creates an OrderService with mocked dependencies.
// store is the mock OrderStore that will be returned by the NewOrderStore factory.
func newTestService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, nil, newStore), tx
}

// defaultStore returns a mockOrderStore whose catalog holds item at 8.50 with
// one topping. Individual tests override the functions they care about.
func defaultStore(item model.MenuItem) (*mockOrderStore, *[]database.InsertOrderItemParams) {
	var inserted []database.InsertOrderItemParams
	return &mockOrderStore{
		getMenuItemFn: func(ctx context.Context, id uuid.UUID) (model.MenuItem, error) {
			if id == item.ID {
				return item, nil
			}
			return model.MenuItem{}, model.ErrNotFound
		},
		insertOrderFn: func(ctx context.Context, arg database.InsertOrderParams) (model.Order, error) {
			return model.Order{
				ID:           uuid.New(),
				OrderNumber:  arg.OrderNumber,
				Status:       arg.Status,
				TotalAmount:  arg.TotalAmount,
				TableNumber:  arg.TableNumber,
				CustomerName: arg.CustomerName,
				UserID:       arg.UserID,
			}, nil
		},
		insertOrderItemFn: func(ctx context.Context, arg database.InsertOrderItemParams) (model.OrderItem, error) {
			inserted = append(inserted, arg)
			return model.OrderItem{
				ID:               uuid.New(),
				OrderID:          arg.OrderID,
				MenuItemID:       arg.MenuItemID,
				Quantity:         arg.Quantity,
				SelectedToppings: arg.SelectedToppings,
				PriceAtTime:      arg.PriceAtTime,
			}, nil
		},
	}, &inserted
}

func burger() model.MenuItem {
	return model.MenuItem{
		ID:          uuid.New(),
		Name:        "Burger",
		Price:       dec("8.50"),
		IsAvailable: true,
		Toppings:    []model.Modifier{{Name: "Cheese", Price: dec("1.00")}},
	}
}

func basicOrder(item model.MenuItem) lifecycle.NewOrder {
	return lifecycle.NewOrder{
		OrderNumber:  "#4242",
		TableNumber:  "7",
		CustomerName: "Guest",
		TotalAmount:  dec("19.00"),
		Items: []lifecycle.NewOrderItem{{
			MenuItemID:       item.ID,
			Quantity:         2,
			SelectedToppings: []model.Modifier{{Name: "Cheese", Price: dec("1.00")}},
			PriceAtTime:      dec("8.50"),
		}},
	}
}

// =====================
// InsertOrder
// =====================

func TestInsertOrder_Success(t *testing.T) {
	item := burger()
	store, inserted := defaultStore(item)
	svc, tx := newTestService(store)

	order, err := svc.InsertOrder(context.Background(), basicOrder(item))
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if order.Status != enum.OrderStatusPending {
		t.Errorf("status: got %q, want pending", order.Status)
	}
	if !order.TotalAmount.Equal(dec("19.00")) {
		t.Errorf("total: got %s, want 19.00", order.TotalAmount)
	}
	if order.TableNumber == nil || *order.TableNumber != "7" {
		t.Errorf("table: got %v, want 7", order.TableNumber)
	}
	if len(*inserted) != 1 || (*inserted)[0].OrderID != order.ID {
		t.Errorf("inserted items: %+v", *inserted)
	}
	if len(order.Items) != 1 {
		t.Errorf("returned items: got %d, want 1", len(order.Items))
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
}

func TestInsertOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(item *model.MenuItem, o *lifecycle.NewOrder)
		want   error
	}{
		{"empty", func(_ *model.MenuItem, o *lifecycle.NewOrder) { o.Items = nil }, lifecycle.ErrEmptyCart},
		{"no table", func(_ *model.MenuItem, o *lifecycle.NewOrder) { o.TableNumber = "" }, lifecycle.ErrTableRequired},
		{"zero quantity", func(_ *model.MenuItem, o *lifecycle.NewOrder) { o.Items[0].Quantity = 0 }, lifecycle.ErrInvalidQuantity},
		{"unknown item", func(_ *model.MenuItem, o *lifecycle.NewOrder) { o.Items[0].MenuItemID = uuid.New() }, lifecycle.ErrUnknownMenuItem},
		{"unavailable", func(it *model.MenuItem, _ *lifecycle.NewOrder) { it.IsAvailable = false }, lifecycle.ErrItemUnavailable},
		{"price changed", func(it *model.MenuItem, _ *lifecycle.NewOrder) { it.Price = dec("9.00") }, lifecycle.ErrPriceChanged},
		{"unknown topping", func(_ *model.MenuItem, o *lifecycle.NewOrder) {
			o.Items[0].SelectedToppings = []model.Modifier{{Name: "Gold leaf", Price: dec("1.00")}}
		}, lifecycle.ErrUnknownModifier},
		{"topping price changed", func(it *model.MenuItem, _ *lifecycle.NewOrder) {
			it.Toppings = []model.Modifier{{Name: "Cheese", Price: dec("1.50")}}
		}, lifecycle.ErrUnknownModifier},
		{"total mismatch", func(_ *model.MenuItem, o *lifecycle.NewOrder) { o.TotalAmount = dec("1.00") }, lifecycle.ErrPriceChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := burger()
			req := basicOrder(item)
			tt.mutate(&item, &req)
			store, inserted := defaultStore(item)
			store.insertOrderFn = func(ctx context.Context, arg database.InsertOrderParams) (model.Order, error) {
				t.Fatal("order must not be inserted")
				return model.Order{}, nil
			}
			svc, tx := newTestService(store)

			_, err := svc.InsertOrder(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if len(*inserted) != 0 || tx.committed {
				t.Error("nothing should be written")
			}
		})
	}
}

func TestInsertOrder_ItemInsertFailsRollsBack(t *testing.T) {
	item := burger()
	store, _ := defaultStore(item)
	store.insertOrderItemFn = func(ctx context.Context, arg database.InsertOrderItemParams) (model.OrderItem, error) {
		return model.OrderItem{}, errors.New("disk full")
	}
	svc, tx := newTestService(store)

	if _, err := svc.InsertOrder(context.Background(), basicOrder(item)); err == nil {
		t.Fatal("expected error")
	}
	if tx.committed {
		t.Error("transaction committed after item failure")
	}
}

func TestInsertOrder_BeginFails(t *testing.T) {
	item := burger()
	store, _ := defaultStore(item)
	pool := &mockTxBeginner{err: errors.New("pool closed")}
	svc := NewOrderService(pool, nil, func(database.DBTX) OrderStore { return store })

	if _, err := svc.InsertOrder(context.Background(), basicOrder(item)); err == nil {
		t.Fatal("expected error")
	}
}

// =====================
// Reads and status
// =====================

func TestGetOrder_IncludesItems(t *testing.T) {
	id := uuid.New()
	store := &mockOrderStore{
		getOrderFn: func(ctx context.Context, got uuid.UUID) (model.Order, error) {
			return model.Order{ID: got, Status: enum.OrderStatusReady}, nil
		},
		listOrderItemsFn: func(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
			return []model.OrderItem{{OrderID: orderID, Quantity: 3}}, nil
		},
	}
	svc, _ := newTestService(store)

	o, err := svc.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].OrderID != id {
		t.Errorf("items: %+v", o.Items)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	store := &mockOrderStore{
		getOrderFn: func(ctx context.Context, id uuid.UUID) (model.Order, error) {
			return model.Order{}, model.ErrNotFound
		},
	}
	svc, _ := newTestService(store)

	if _, err := svc.GetOrder(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateOrderStatus_PassesExpectedStatus(t *testing.T) {
	var got database.UpdateOrderStatusParams
	store := &mockOrderStore{
		updateOrderStatusFn: func(ctx context.Context, arg database.UpdateOrderStatusParams) (model.Order, error) {
			got = arg
			return model.Order{ID: arg.ID, Status: arg.Status}, nil
		},
	}
	svc, _ := newTestService(store)
	id := uuid.New()

	if _, err := svc.UpdateOrderStatus(context.Background(), id, enum.OrderStatusPending, enum.OrderStatusPreparing); err != nil {
		t.Fatal(err)
	}
	if got.ID != id || got.FromStatus != enum.OrderStatusPending || got.Status != enum.OrderStatusPreparing {
		t.Errorf("params: %+v", got)
	}
}

func TestListRecentOrders_AttachesItems(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &mockOrderStore{
		listOrdersFn: func(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error) {
			if arg.Limit != RecentOrdersLimit {
				t.Errorf("limit: got %d", arg.Limit)
			}
			return []model.Order{{ID: a}, {ID: b}}, nil
		},
		listItemsForOrderFn: func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error) {
			return map[uuid.UUID][]model.OrderItem{a: {{OrderID: a}}}, nil
		},
	}
	svc, _ := newTestService(store)

	orders, err := svc.ListRecentOrders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(orders[0].Items) != 1 {
		t.Errorf("order a items: %d", len(orders[0].Items))
	}
	if orders[1].Items == nil || len(orders[1].Items) != 0 {
		t.Errorf("order b items: %#v, want empty slice", orders[1].Items)
	}
}
