// Package optimistic applies local changes to a keyed collection before the
// store confirms them, and reverts exactly the failed change when it does not.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"github.com/tableside/api/internal/metrics"
)

var ErrUnknownKey = errors.New("no entity with that key")

// Notice describes a mutation the store rejected. The local value has already
// been reverted when the notice is sent.
type Notice struct {
	Key string
	Err error
}

type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type mutation[T any] struct {
	id    uint64
	apply func(T) T
}

// entry keeps the last value the store agreed to plus the mutations still in
// flight; the visible value is confirmed with every pending mutation applied
// in order. version counts store confirmations.
type entry[T any] struct {
	confirmed T
	version   uint64
	pending   []mutation[T]
}

func (e *entry[T]) current() T {
	v := e.confirmed
	for _, m := range e.pending {
		v = m.apply(v)
	}
	return v
}

func (e *entry[T]) drop(id uint64) (mutation[T], bool) {
	for i, m := range e.pending {
		if m.id == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return m, true
		}
	}
	return mutation[T]{}, false
}

// Controller holds an ordered collection of T keyed by key(T).
type Controller[T any] struct {
	key      func(T) string
	notifier Notifier

	mu        sync.Mutex
	order     []string
	entries   map[string]*entry[T]
	seq       uint64
	listeners map[uint64]func([]T)
}

// New creates a controller. notifier may be nil.
func New[T any](key func(T) string, notifier Notifier) *Controller[T] {
	return &Controller[T]{
		key:       key,
		notifier:  notifier,
		entries:   make(map[string]*entry[T]),
		listeners: make(map[uint64]func([]T)),
	}
}

// Apply shows mutate's result immediately, then runs commit. On success the
// mutated value becomes the confirmed one, unless the store confirmed a newer
// value for the entity while commit ran. On failure only this mutation is
// removed, the entity is recomputed from what remains, a Notice is sent and
// commit's error is returned.
func (c *Controller[T]) Apply(ctx context.Context, key string, mutate func(T) T, commit func(context.Context) error) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownKey
	}
	c.seq++
	id := c.seq
	version := e.version
	e.pending = append(e.pending, mutation[T]{id: id, apply: mutate})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	err := commit(ctx)

	c.mu.Lock()
	e, ok = c.entries[key]
	if ok {
		if m, found := e.drop(id); found && err == nil && e.version == version {
			e.confirmed = m.apply(e.confirmed)
		}
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	if err != nil {
		metrics.OptimisticRollbacks.Inc()
		if c.notifier != nil {
			c.notifier.Notify(Notice{Key: key, Err: err})
		}
		return err
	}
	return nil
}

// Replace swaps in a fresh collection from the store. Pending mutations on
// entities that are still present stay layered on top.
func (c *Controller[T]) Replace(all []T) {
	c.mu.Lock()
	entries := make(map[string]*entry[T], len(all))
	order := make([]string, 0, len(all))
	for _, v := range all {
		k := c.key(v)
		if _, dup := entries[k]; dup {
			continue
		}
		e := &entry[T]{confirmed: v}
		if old, ok := c.entries[k]; ok {
			e.pending = old.pending
			e.version = old.version + 1
		}
		entries[k] = e
		order = append(order, k)
	}
	c.entries = entries
	c.order = order
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Confirm records v as the store's current value. Unknown entities are added
// at the front, since change notifications are for the newest rows.
func (c *Controller[T]) Confirm(v T) {
	k := c.key(v)
	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.confirmed = v
		e.version++
	} else {
		c.entries[k] = &entry[T]{confirmed: v}
		c.order = append([]string{k}, c.order...)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Remove forgets an entity, e.g. after a delete notification.
func (c *Controller[T]) Remove(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Get returns the visible value of one entity.
func (c *Controller[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.current(), true
}

// Pending reports how many mutations are in flight for key.
func (c *Controller[T]) Pending(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return len(e.pending)
	}
	return 0
}

// Snapshot returns the visible collection in order.
func (c *Controller[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// OnChange registers fn to receive the visible collection after every change.
// It returns a function that removes the registration.
func (c *Controller[T]) OnChange(fn func([]T)) func() {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller[T]) snapshotLocked() []T {
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k].current())
	}
	return out
}

func (c *Controller[T]) emit(snap []T) {
	c.mu.Lock()
	fns := make([]func([]T), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
