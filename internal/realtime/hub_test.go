package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableside/api/internal/enum"
)

func orderChange(t *testing.T, typ, id, status string) Change {
	t.Helper()
	rec, err := json.Marshal(map[string]any{"id": id, "status": status})
	require.NoError(t, err)
	return Change{Type: typ, Schema: "public", Table: enum.TableOrders, Record: rec}
}

func startHub(t *testing.T, size int) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHubSize(size)
	go h.Run(ctx)
	return h
}

type collector struct {
	mu  sync.Mutex
	got []Change
}

func (c *collector) add(ch Change) {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, ch := range c.got {
		var row struct{ Status string }
		_ = json.Unmarshal(ch.Record, &row)
		out = append(out, row.Status)
	}
	return out
}

func TestHub_FilteredDeliveryInOrder(t *testing.T) {
	h := startHub(t, 16)
	ctx := context.Background()

	var mine, all collector
	f, err := ParseFilter(enum.TableOrders, enum.ChangeUpdate, "id=eq.o-1")
	require.NoError(t, err)
	subMine, err := h.Subscribe(ctx, f, mine.add)
	require.NoError(t, err)
	defer subMine.Close()
	subAll, err := h.Subscribe(ctx, Filter{Table: enum.TableOrders}, all.add)
	require.NoError(t, err)
	defer subAll.Close()

	h.Publish(orderChange(t, enum.ChangeInsert, "o-1", "pending"))
	h.Publish(orderChange(t, enum.ChangeUpdate, "o-2", "preparing"))
	h.Publish(orderChange(t, enum.ChangeUpdate, "o-1", "preparing"))
	h.Publish(orderChange(t, enum.ChangeUpdate, "o-1", "ready"))

	require.Eventually(t, func() bool { return mine.len() == 2 && all.len() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"preparing", "ready"}, mine.statuses())
	assert.Equal(t, []string{"pending", "preparing", "preparing", "ready"}, all.statuses())
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	h := startHub(t, 16)

	var c collector
	sub, err := h.Subscribe(context.Background(), Filter{Table: enum.TableOrders}, c.add)
	require.NoError(t, err)

	h.Publish(orderChange(t, enum.ChangeUpdate, "o-1", "preparing"))
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish after Close")
	}
	assert.NoError(t, sub.Err())

	h.Publish(orderChange(t, enum.ChangeUpdate, "o-1", "ready"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
	assert.Equal(t, 0, h.Subscribers())
}

func TestHub_ContextCancelCloses(t *testing.T) {
	h := startHub(t, 16)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := h.Subscribe(ctx, Filter{Table: enum.TableMenuItems}, func(Change) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by context")
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := startHub(t, 1)
	block := make(chan struct{})
	defer close(block)

	sub, err := h.Subscribe(context.Background(), Filter{Table: enum.TableOrders}, func(Change) {
		<-block
	})
	require.NoError(t, err)

	var fast collector
	other, err := h.Subscribe(context.Background(), Filter{Table: enum.TableOrders}, fast.add)
	require.NoError(t, err)
	defer other.Close()

	// First change is taken by the blocked callback, second fills the queue,
	// third overflows it.
	for i := 0; i < 3; i++ {
		h.Publish(orderChange(t, enum.ChangeUpdate, "o-1", "preparing"))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sub.Err(), ErrSlowConsumer)
	require.Eventually(t, func() bool { return fast.len() == 3 }, time.Second, 5*time.Millisecond)
}

func TestHub_StopEndsSubscriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)

	sub, err := h.Subscribe(context.Background(), Filter{Table: enum.TableOrders}, func(Change) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended by hub stop")
	}
	assert.ErrorIs(t, sub.Err(), ErrHubStopped)

	_, err = h.Subscribe(context.Background(), Filter{Table: enum.TableOrders}, func(Change) {})
	assert.ErrorIs(t, err, ErrHubStopped)
}
