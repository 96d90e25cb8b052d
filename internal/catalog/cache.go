// Package catalog mirrors the menu, categories, daily offers and (for staff
// views) recent orders, and keeps the mirror fresh from the change feed.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/metrics"
	"github.com/tableside/api/internal/model"
	"github.com/tableside/api/internal/realtime"
	"golang.org/x/sync/errgroup"
)

// Source loads the public collections. Satisfied by *database.Queries and by
// the API client.
type Source interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListMenuItems(ctx context.Context) ([]model.MenuItem, error)
	ListDailyOffers(ctx context.Context) ([]model.DailyOffer, error)
}

// OrderSource loads recent orders, newest first.
type OrderSource interface {
	ListRecentOrders(ctx context.Context) ([]model.Order, error)
}

// Snapshot is an immutable view of the catalog. Never modify one that came
// from the cache.
type Snapshot struct {
	Categories  []model.Category
	MenuItems   []model.MenuItem
	Offers      []model.DailyOffer
	Orders      []model.Order
	Errors      map[string]error
	RefreshedAt time.Time
}

// Options configures a Cache. Orders enables the fourth collection.
type Options struct {
	Orders OrderSource
}

type Cache struct {
	src    Source
	orders OrderSource

	snap    atomic.Pointer[Snapshot]
	loading atomic.Bool

	refreshMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(*Snapshot)
	nextID    int
}

func New(src Source, opts Options) *Cache {
	c := &Cache{
		src:       src,
		orders:    opts.Orders,
		listeners: make(map[int]func(*Snapshot)),
	}
	c.snap.Store(&Snapshot{
		Categories: []model.Category{},
		MenuItems:  []model.MenuItem{},
		Offers:     []model.DailyOffer{},
		Orders:     []model.Order{},
	})
	return c
}

// Snapshot returns the current view. It never blocks on a refresh.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Loading is true while a refresh is in flight.
func (c *Cache) Loading() bool {
	return c.loading.Load()
}

// Refresh fetches every collection concurrently and swaps in one new snapshot
// once all fetches have finished. A collection whose fetch fails keeps its
// previous contents; the failures are recorded on the snapshot and returned
// joined.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.loading.Store(true)
	defer c.loading.Store(false)

	prev := c.snap.Load()
	next := &Snapshot{
		Categories: prev.Categories,
		MenuItems:  prev.MenuItems,
		Offers:     prev.Offers,
		Orders:     prev.Orders,
		Errors:     map[string]error{},
	}

	var (
		g      errgroup.Group
		errMu  sync.Mutex
		cats   []model.Category
		items  []model.MenuItem
		offers []model.DailyOffer
		orders []model.Order
	)
	failed := map[string]error{}
	record := func(table string, err error) {
		errMu.Lock()
		failed[table] = fmt.Errorf("fetch %s: %w", table, err)
		errMu.Unlock()
	}

	g.Go(func() error {
		v, err := c.src.ListCategories(ctx)
		if err != nil {
			record(enum.TableCategories, err)
			return nil
		}
		cats = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListMenuItems(ctx)
		if err != nil {
			record(enum.TableMenuItems, err)
			return nil
		}
		items = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListDailyOffers(ctx)
		if err != nil {
			record(enum.TableDailyOffers, err)
			return nil
		}
		offers = v
		return nil
	})
	if c.orders != nil {
		g.Go(func() error {
			v, err := c.orders.ListRecentOrders(ctx)
			if err != nil {
				record(enum.TableOrders, err)
				return nil
			}
			orders = v
			return nil
		})
	}
	_ = g.Wait()

	if _, bad := failed[enum.TableCategories]; !bad && cats != nil {
		next.Categories = cats
	}
	if _, bad := failed[enum.TableMenuItems]; !bad && items != nil {
		next.MenuItems = items
	}
	if _, bad := failed[enum.TableDailyOffers]; !bad && offers != nil {
		next.Offers = offers
	}
	if _, bad := failed[enum.TableOrders]; !bad && orders != nil {
		next.Orders = orders
	}
	next.Errors = failed
	next.RefreshedAt = time.Now()

	c.snap.Store(next)

	errs := make([]error, 0, len(failed))
	for _, err := range failed {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		metrics.CatalogRefreshes.WithLabelValues("partial").Inc()
		logrus.WithError(errors.Join(errs...)).Warn("catalog: refresh incomplete, keeping previous values")
	} else {
		metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
	}

	c.emit(next)
	return errors.Join(errs...)
}

// Subscribe keeps the cache fresh from feed: any change on a mirrored table
// schedules a full refresh. Changes that arrive while a refresh is running
// collapse into a single follow-up refresh. The returned function stops the
// worker and closes every subscription.
func (c *Cache) Subscribe(ctx context.Context, feed realtime.Feed) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	trigger := make(chan struct{}, 1)
	poke := func(realtime.Change) {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	tables := []string{enum.TableMenuItems, enum.TableCategories, enum.TableDailyOffers}
	if c.orders != nil {
		tables = append(tables, enum.TableOrders)
	}

	subs := make([]realtime.Subscription, 0, len(tables))
	closeAll := func() {
		for _, s := range subs {
			s.Close()
		}
	}
	for _, table := range tables {
		s, err := feed.Subscribe(ctx, realtime.Filter{Table: table, Event: enum.ChangeAll}, poke)
		if err != nil {
			closeAll()
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", table, err)
		}
		subs = append(subs, s)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
					logrus.WithError(err).Debug("catalog: change-driven refresh")
				}
			}
		}
	}()

	return func() {
		closeAll()
		cancel()
		<-done
	}, nil
}

// OnChange registers fn to run after every snapshot swap.
func (c *Cache) OnChange(fn func(*Snapshot)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) emit(s *Snapshot) {
	c.mu.Lock()
	fns := make([]func(*Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// ── Derived reads ──

// AvailableInCategory lists available items, optionally limited to one
// category and to names containing search (case-insensitive).
func (s *Snapshot) AvailableInCategory(categoryID *uuid.UUID, search string) []model.MenuItem {
	search = strings.ToLower(strings.TrimSpace(search))
	out := []model.MenuItem{}
	for _, it := range s.MenuItems {
		if !it.IsAvailable {
			continue
		}
		if categoryID != nil && (it.CategoryID == nil || *it.CategoryID != *categoryID) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.Name), search) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (s *Snapshot) ActiveOffers() []model.DailyOffer {
	out := []model.DailyOffer{}
	for _, o := range s.Offers {
		if o.IsActive {
			out = append(out, o)
		}
	}
	return out
}

func (s *Snapshot) Item(id uuid.UUID) (model.MenuItem, bool) {
	for _, it := range s.MenuItems {
		if it.ID == id {
			return it, true
		}
	}
	return model.MenuItem{}, false
}

func (s *Snapshot) Category(id uuid.UUID) (model.Category, bool) {
	for _, cat := range s.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return model.Category{}, false
}
