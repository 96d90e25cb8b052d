// Package cart is the client-owned basket of lines a customer builds before
// checkout. Every change is written through to local storage.
package cart

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/localstore"
	"github.com/tableside/api/internal/model"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrNoSuchLine      = errors.New("no cart line at that position")
)

// Line is one cart entry. Item is a snapshot of the menu item at the time it
// was added; later catalog changes do not alter it.
type Line struct {
	Item             model.MenuItem   `json:"item"`
	Quantity         int32            `json:"quantity"`
	SelectedToppings []model.Modifier `json:"selected_toppings"`
}

// UnitPrice is the item price plus the selected modifiers.
func (l Line) UnitPrice() decimal.Decimal {
	return l.Item.Price.Add(model.ModifiersTotal(l.SelectedToppings))
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt32(l.Quantity))
}

type Cart struct {
	storage localstore.Storage

	mu    sync.Mutex
	lines []Line
}

// Open restores the cart saved in storage. A missing or unreadable entry
// yields an empty cart. A nil storage keeps the cart in memory only.
func Open(storage localstore.Storage) *Cart {
	c := &Cart{storage: storage}
	if storage == nil {
		return c
	}
	raw, ok, err := storage.Get(enum.StorageKeyCart)
	if err != nil {
		logrus.WithError(err).Debug("cart: read storage")
		return c
	}
	if !ok || raw == "" {
		return c
	}
	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		logrus.WithError(err).Debug("cart: discarding corrupt saved cart")
		return c
	}
	for _, l := range lines {
		if l.Quantity > 0 {
			c.lines = append(c.lines, l)
		}
	}
	return c
}

// Add puts qty of item with mods into the cart. A line for the same item with
// an equal modifier list absorbs the quantity.
func (c *Cart) Add(item model.MenuItem, qty int32, mods []model.Modifier) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if mods == nil {
		mods = []model.Modifier{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		if c.lines[i].Item.ID == item.ID && model.ModifiersEqual(c.lines[i].SelectedToppings, mods) {
			c.lines[i].Quantity += qty
			c.persist()
			return nil
		}
	}
	c.lines = append(c.lines, Line{
		Item:             item,
		Quantity:         qty,
		SelectedToppings: append([]model.Modifier(nil), mods...),
	})
	c.persist()
	return nil
}

// Remove deletes the line at index.
func (c *Cart) Remove(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.lines) {
		return ErrNoSuchLine
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	c.persist()
	return nil
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.persist()
}

func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Total())
	}
	return total
}

func (c *Cart) LineTotal(index int) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.lines) {
		return decimal.Zero, ErrNoSuchLine
	}
	return c.lines[index].Total(), nil
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	for i, l := range c.lines {
		l.SelectedToppings = append([]model.Modifier(nil), l.SelectedToppings...)
		out[i] = l
	}
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return c.Len() == 0
}

// persist must be called with mu held. Storage failures are logged; the
// in-memory cart stays authoritative for the session.
func (c *Cart) persist() {
	if c.storage == nil {
		return
	}
	lines := c.lines
	if lines == nil {
		lines = []Line{}
	}
	b, err := json.Marshal(lines)
	if err != nil {
		logrus.WithError(err).Warn("cart: encode")
		return
	}
	if err := c.storage.Set(enum.StorageKeyCart, string(b)); err != nil {
		logrus.WithError(err).Warn("cart: write storage")
	}
}
