// Package model holds the domain types shared by the server, the store layer
// and the client-side core. JSON tags follow the column names of the store.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Modifier is an optional add-on to a menu item ("topping" on the menu).
type Modifier struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ModifiersEqual reports whether two modifier lists are equal by value,
// position by position.
func ModifiersEqual(a, b []Modifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}

// ModifiersTotal sums the incremental prices of mods.
func ModifiersTotal(mods []Modifier) decimal.Decimal {
	total := decimal.Zero
	for _, m := range mods {
		total = total.Add(m.Price)
	}
	return total
}

type Category struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SortOrder int32     `json:"sort_order"`
	ImageURL  *string   `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

type MenuItem struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	CategoryID   *uuid.UUID      `json:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
	ImageURL     *string         `json:"image_url"`
	IsAvailable  bool            `json:"is_available"`
	Toppings     []Modifier      `json:"toppings"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HasTopping reports whether m is one of the item's modifier options with the
// same price.
func (it MenuItem) HasTopping(m Modifier) bool {
	for _, t := range it.Toppings {
		if t.Name == m.Name && t.Price.Equal(m.Price) {
			return true
		}
	}
	return false
}

type DailyOffer struct {
	ID            uuid.UUID        `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	NewPrice      decimal.Decimal  `json:"new_price"`
	OriginalPrice *decimal.Decimal `json:"original_price"`
	IsActive      bool             `json:"is_active"`
	ImageURL      *string          `json:"image_url"`
	CreatedAt     time.Time        `json:"created_at"`
}

// DiscountPercent returns the rounded discount against the original price,
// and false when there is no original price to compare with.
func (o DailyOffer) DiscountPercent() (int64, bool) {
	if o.OriginalPrice == nil || !o.OriginalPrice.IsPositive() {
		return 0, false
	}
	ratio := o.NewPrice.Div(*o.OriginalPrice)
	pct := decimal.NewFromInt(1).Sub(ratio).Mul(decimal.NewFromInt(100)).Round(0)
	return pct.IntPart(), true
}

type Order struct {
	ID           uuid.UUID       `json:"id"`
	OrderNumber  string          `json:"order_number"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TableNumber  *string         `json:"table_number"`
	CustomerName string          `json:"customer_name"`
	UserID       *uuid.UUID      `json:"user_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Items        []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID               uuid.UUID       `json:"id"`
	OrderID          uuid.UUID       `json:"order_id"`
	MenuItemID       uuid.UUID       `json:"menu_item_id"`
	MenuItemName     string          `json:"menu_item_name,omitempty"`
	Quantity         int32           `json:"quantity"`
	SelectedToppings []Modifier      `json:"selected_toppings"`
	PriceAtTime      decimal.Decimal `json:"price_at_time"`
}

// LineTotal is (captured price + modifiers) * quantity.
func (oi OrderItem) LineTotal() decimal.Decimal {
	unit := oi.PriceAtTime.Add(ModifiersTotal(oi.SelectedToppings))
	return unit.Mul(decimal.NewFromInt32(oi.Quantity))
}

type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the auth-provider side of an account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuthSession struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at"`
	CreatedAt time.Time  `json:"created_at"`
}

type PasswordReset struct {
	TokenHash  string     `json:"-"`
	UserID     uuid.UUID  `json:"user_id"`
	RedirectTo string     `json:"redirect_to"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at"`
}
