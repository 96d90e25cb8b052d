package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/metrics"
)

// DefaultQueueSize is the per-subscriber buffer. A subscriber that falls this
// far behind is dropped.
const DefaultQueueSize = 256

// Hub fans changes out to filtered subscribers. Registration and broadcast
// run through one loop so every subscriber sees changes in publish order.
type Hub struct {
	subs map[*subscriber]bool

	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan Change

	stopped chan struct{}
	once    sync.Once

	queueSize int

	mu sync.RWMutex
}

func NewHub() *Hub {
	return NewHubSize(DefaultQueueSize)
}

// NewHubSize creates a hub whose subscribers buffer queueSize changes.
func NewHubSize(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:       make(map[*subscriber]bool),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan Change, 256),
		stopped:    make(chan struct{}),
		queueSize:  queueSize,
	}
}

// Run is the hub's main loop. Call it as a goroutine; it returns when ctx is
// cancelled, ending every subscription.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subs[s] = true
			h.mu.Unlock()
			metrics.RealtimeSubscribers.Inc()

		case s := <-h.unregister:
			h.mu.Lock()
			h.remove(s, nil)
			h.mu.Unlock()

		case c := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subs {
				if !s.filter.Matches(c) {
					continue
				}
				select {
				case s.queue <- c:
				default:
					logrus.WithFields(logrus.Fields{
						"table":  s.filter.Table,
						"filter": s.filter.String(),
					}).Warn("realtime: dropping slow subscriber")
					metrics.RealtimeDropped.Inc()
					h.remove(s, ErrSlowConsumer)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(s *subscriber, reason error) {
	if !h.subs[s] {
		return
	}
	delete(h.subs, s)
	if reason != nil {
		s.setErr(reason)
	}
	close(s.queue)
	metrics.RealtimeSubscribers.Dec()
}

func (h *Hub) stop() {
	h.once.Do(func() {
		close(h.stopped)
		h.mu.Lock()
		for s := range h.subs {
			h.remove(s, ErrHubStopped)
		}
		h.mu.Unlock()
	})
}

// Publish hands c to the run loop. It drops the change once the hub has
// stopped.
func (h *Hub) Publish(c Change) {
	select {
	case h.broadcast <- c:
	case <-h.stopped:
	}
}

// Subscribe registers fn for changes matching f. fn runs on a goroutine owned
// by the subscription, one change at a time. Cancelling ctx closes the
// subscription.
func (h *Hub) Subscribe(ctx context.Context, f Filter, fn func(Change)) (Subscription, error) {
	if f.Table == "" {
		return nil, ErrBadFilter
	}
	s := &subscriber{
		hub:    h,
		filter: f,
		fn:     fn,
		queue:  make(chan Change, h.queueSize),
		done:   make(chan struct{}),
	}
	select {
	case h.register <- s:
	case <-h.stopped:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go s.deliver()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type subscriber struct {
	hub    *Hub
	filter Filter
	fn     func(Change)
	queue  chan Change
	done   chan struct{}

	closed atomic.Bool

	errMu sync.Mutex
	err   error
}

func (s *subscriber) deliver() {
	defer close(s.done)
	for c := range s.queue {
		if s.closed.Load() {
			continue
		}
		s.fn(c)
	}
}

func (s *subscriber) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	select {
	case s.hub.unregister <- s:
	case <-s.hub.stopped:
	}
}

func (s *subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *subscriber) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}
