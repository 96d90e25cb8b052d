package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/model"
	"github.com/tableside/api/internal/optimistic"
	"github.com/tableside/api/internal/realtime"
)

func order(status, total string) model.Order {
	return model.Order{ID: uuid.New(), Status: status, TotalAmount: decimal.RequireFromString(total)}
}

func TestComputeStats(t *testing.T) {
	orders := []model.Order{
		order(enum.OrderStatusPending, "10.00"),
		order(enum.OrderStatusPreparing, "5.50"),
		order(enum.OrderStatusReady, "7.25"),
		order(enum.OrderStatusCompleted, "20.00"),
		order(enum.OrderStatusCancelled, "99.00"),
	}
	s := ComputeStats(orders)

	assert.Equal(t, 5, s.TotalOrders)
	assert.Equal(t, "42.75", s.Revenue.StringFixed(2))
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Cancelled)

	empty := ComputeStats(nil)
	assert.True(t, empty.Revenue.IsZero())
}

func TestSplitHistory(t *testing.T) {
	orders := []model.Order{
		order(enum.OrderStatusCompleted, "1"),
		order(enum.OrderStatusPending, "1"),
		order(enum.OrderStatusReady, "1"),
		order(enum.OrderStatusCancelled, "1"),
		order(enum.OrderStatusPreparing, "1"),
	}
	active, past := SplitHistory(orders)
	require.Len(t, active, 3)
	require.Len(t, past, 2)
	assert.Equal(t, enum.OrderStatusPending, active[0].Status)
	assert.Equal(t, enum.OrderStatusCompleted, past[0].Status)
}

// flakyStore fails status writes for chosen orders.
type flakyStore struct {
	*memStore
	mu   sync.Mutex
	fail map[uuid.UUID]error
}

func (f *flakyStore) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string) (model.Order, error) {
	f.mu.Lock()
	err := f.fail[id]
	f.mu.Unlock()
	if err != nil {
		return model.Order{}, err
	}
	return f.memStore.UpdateOrderStatus(ctx, id, from, to)
}

func sortedBoard(t *testing.T) (*Board, *flakyStore, []model.Order, *[]optimistic.Notice) {
	t.Helper()
	store := &flakyStore{memStore: newMemStore(), fail: map[uuid.UUID]error{}}
	a := placed(t, store.memStore, enum.OrderStatusPending)
	b := placed(t, store.memStore, enum.OrderStatusPreparing)

	var notices []optimistic.Notice
	e := newEngine(store)
	board := NewBoard(e, store, ownerActor, optimistic.NotifierFunc(func(n optimistic.Notice) {
		notices = append(notices, n)
	}))
	require.NoError(t, board.Load(context.Background()))

	orders := []model.Order{a, b}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID.String() < orders[j].ID.String() })
	return board, store, orders, &notices
}

func statusOf(b *Board, id uuid.UUID) string {
	for _, o := range b.Orders() {
		if o.ID == id {
			return o.Status
		}
	}
	return ""
}

func TestBoard_AdvanceSuccess(t *testing.T) {
	board, store, orders, notices := sortedBoard(t)

	require.NoError(t, board.Advance(context.Background(), orders[0].ID, NextStatus(orders[0].Status)))

	stored, _ := store.GetOrder(context.Background(), orders[0].ID)
	assert.Equal(t, stored.Status, statusOf(board, orders[0].ID))
	assert.Empty(t, *notices)
}

func TestBoard_AdvanceFailureRollsBack(t *testing.T) {
	board, store, orders, notices := sortedBoard(t)
	before := board.Orders()
	boom := errors.New("network unreachable")
	store.fail[orders[1].ID] = boom

	err := board.Cancel(context.Background(), orders[1].ID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, board.Orders())
	require.Len(t, *notices, 1)
	assert.Equal(t, orders[1].ID.String(), (*notices)[0].Key)
}

func TestBoard_ForbiddenRollsBack(t *testing.T) {
	store := newMemStore()
	o := placed(t, store, enum.OrderStatusPending)
	board := NewBoard(newEngine(store), store, customerActor, nil)
	require.NoError(t, board.Load(context.Background()))

	err := board.Advance(context.Background(), o.ID, enum.OrderStatusPreparing)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, enum.OrderStatusPending, statusOf(board, o.ID))
}

func TestBoard_RejectsInvalidLocally(t *testing.T) {
	board, _, orders, notices := sortedBoard(t)

	for _, o := range orders {
		if o.Status == enum.OrderStatusPreparing {
			err := board.Advance(context.Background(), o.ID, enum.OrderStatusPending)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.ErrorIs(t, board.Advance(context.Background(), uuid.New(), enum.OrderStatusReady), ErrOrderNotFound)
	assert.Empty(t, *notices)
}

func TestBoard_WatchConfirmsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := realtime.NewHub()
	go hub.Run(ctx)

	store := newMemStore()
	e := newEngine(store, WithFeed(hub))
	board := NewBoard(e, store, ownerActor, nil)
	require.NoError(t, board.Load(ctx))

	sub, err := board.Watch(ctx)
	require.NoError(t, err)
	defer sub.Close()

	fresh := order(enum.OrderStatusPending, "12.00")
	publishOrder(t, hub, enum.ChangeInsert, fresh)
	require.Eventually(t, func() bool { return len(board.Orders()) == 1 }, time.Second, 5*time.Millisecond)

	fresh.Status = enum.OrderStatusReady
	publishOrder(t, hub, enum.ChangeUpdate, fresh)
	require.Eventually(t, func() bool { return statusOf(board, fresh.ID) == enum.OrderStatusReady }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "12.00", board.Stats().Revenue.StringFixed(2))
	assert.Equal(t, 1, board.Stats().Completed)
}
