package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/model"
)

// ── Categories ──

const categoryColumns = `id, name, sort_order, image_url, created_at`

func scanCategory(row pgx.Row) (model.Category, error) {
	var c model.Category
	err := row.Scan(&c.ID, &c.Name, &c.SortOrder, &c.ImageURL, &c.CreatedAt)
	return c, err
}

func (q *Queries) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := q.db.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, mapErr("list categories", err)
	}
	defer rows.Close()

	items := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, mapErr("scan category", err)
		}
		items = append(items, c)
	}
	return items, mapErr("list categories", rows.Err())
}

type CreateCategoryParams struct {
	Name      string
	SortOrder int32
	ImageURL  *string
}

func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) (model.Category, error) {
	c, err := scanCategory(q.db.QueryRow(ctx,
		`INSERT INTO categories (name, sort_order, image_url) VALUES ($1, $2, $3)
		 RETURNING `+categoryColumns,
		arg.Name, arg.SortOrder, arg.ImageURL))
	return c, mapErr("create category", err)
}

type UpdateCategoryParams struct {
	ID        uuid.UUID
	Name      string
	SortOrder int32
	ImageURL  *string
}

func (q *Queries) UpdateCategory(ctx context.Context, arg UpdateCategoryParams) (model.Category, error) {
	c, err := scanCategory(q.db.QueryRow(ctx,
		`UPDATE categories SET name = $2, sort_order = $3, image_url = $4 WHERE id = $1
		 RETURNING `+categoryColumns,
		arg.ID, arg.Name, arg.SortOrder, arg.ImageURL))
	return c, mapErr("update category", err)
}

func (q *Queries) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete category", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("delete category", pgx.ErrNoRows)
	}
	return nil
}

// ── Menu items ──

const menuItemSelect = `
SELECT m.id, m.name, m.description, m.price, m.category_id, COALESCE(c.name, ''),
       m.image_url, m.is_available, m.toppings, m.created_at
FROM menu_items m
LEFT JOIN categories c ON c.id = m.category_id`

func scanMenuItem(row pgx.Row) (model.MenuItem, error) {
	var (
		it       model.MenuItem
		price    pgtype.Numeric
		catID    pgtype.UUID
		toppings []byte
	)
	err := row.Scan(&it.ID, &it.Name, &it.Description, &price, &catID, &it.CategoryName,
		&it.ImageURL, &it.IsAvailable, &toppings, &it.CreatedAt)
	if err != nil {
		return it, err
	}
	it.Price = numericToDecimal(price)
	it.CategoryID = uuidPtr(catID)
	it.Toppings, err = decodeModifiers(toppings)
	return it, err
}

// ListMenuItems returns every item joined with its category name, newest first.
func (q *Queries) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	rows, err := q.db.Query(ctx, menuItemSelect+` ORDER BY m.created_at DESC`)
	if err != nil {
		return nil, mapErr("list menu items", err)
	}
	defer rows.Close()

	items := []model.MenuItem{}
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, mapErr("scan menu item", err)
		}
		items = append(items, it)
	}
	return items, mapErr("list menu items", rows.Err())
}

func (q *Queries) GetMenuItem(ctx context.Context, id uuid.UUID) (model.MenuItem, error) {
	it, err := scanMenuItem(q.db.QueryRow(ctx, menuItemSelect+` WHERE m.id = $1`, id))
	return it, mapErr("get menu item", err)
}

type MenuItemParams struct {
	Name        string
	Description string
	Price       decimal.Decimal
	CategoryID  *uuid.UUID
	ImageURL    *string
	IsAvailable bool
	Toppings    []model.Modifier
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg MenuItemParams) (model.MenuItem, error) {
	toppings, err := encodeModifiers(arg.Toppings)
	if err != nil {
		return model.MenuItem{}, err
	}
	var id uuid.UUID
	err = q.db.QueryRow(ctx,
		`INSERT INTO menu_items (name, description, price, category_id, image_url, is_available, toppings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		 RETURNING id`,
		arg.Name, arg.Description, decimalToNumeric(arg.Price), pgUUID(arg.CategoryID),
		arg.ImageURL, arg.IsAvailable, toppings).Scan(&id)
	if err != nil {
		return model.MenuItem{}, mapErr("create menu item", err)
	}
	return q.GetMenuItem(ctx, id)
}

func (q *Queries) UpdateMenuItem(ctx context.Context, id uuid.UUID, arg MenuItemParams) (model.MenuItem, error) {
	toppings, err := encodeModifiers(arg.Toppings)
	if err != nil {
		return model.MenuItem{}, err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE menu_items
		 SET name = $2, description = $3, price = $4, category_id = $5, image_url = $6,
		     is_available = $7, toppings = $8::jsonb
		 WHERE id = $1`,
		id, arg.Name, arg.Description, decimalToNumeric(arg.Price), pgUUID(arg.CategoryID),
		arg.ImageURL, arg.IsAvailable, toppings)
	if err != nil {
		return model.MenuItem{}, mapErr("update menu item", err)
	}
	if tag.RowsAffected() == 0 {
		return model.MenuItem{}, mapErr("update menu item", pgx.ErrNoRows)
	}
	return q.GetMenuItem(ctx, id)
}

func (q *Queries) SetMenuItemAvailability(ctx context.Context, id uuid.UUID, available bool) (model.MenuItem, error) {
	tag, err := q.db.Exec(ctx, `UPDATE menu_items SET is_available = $2 WHERE id = $1`, id, available)
	if err != nil {
		return model.MenuItem{}, mapErr("set availability", err)
	}
	if tag.RowsAffected() == 0 {
		return model.MenuItem{}, mapErr("set availability", pgx.ErrNoRows)
	}
	return q.GetMenuItem(ctx, id)
}

func (q *Queries) DeleteMenuItem(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete menu item", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("delete menu item", pgx.ErrNoRows)
	}
	return nil
}

// ── Daily offers ──

const offerColumns = `id, title, description, new_price, original_price, is_active, image_url, created_at`

func scanOffer(row pgx.Row) (model.DailyOffer, error) {
	var (
		o             model.DailyOffer
		newPrice      pgtype.Numeric
		originalPrice pgtype.Numeric
	)
	err := row.Scan(&o.ID, &o.Title, &o.Description, &newPrice, &originalPrice,
		&o.IsActive, &o.ImageURL, &o.CreatedAt)
	o.NewPrice = numericToDecimal(newPrice)
	o.OriginalPrice = numericToDecimalPtr(originalPrice)
	return o, err
}

// ListDailyOffers returns every offer, newest first. Filtering on is_active is
// left to the reader so the admin panel sees inactive offers too.
func (q *Queries) ListDailyOffers(ctx context.Context) ([]model.DailyOffer, error) {
	rows, err := q.db.Query(ctx, `SELECT `+offerColumns+` FROM daily_offers ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr("list offers", err)
	}
	defer rows.Close()

	offers := []model.DailyOffer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, mapErr("scan offer", err)
		}
		offers = append(offers, o)
	}
	return offers, mapErr("list offers", rows.Err())
}

type OfferParams struct {
	Title         string
	Description   string
	NewPrice      decimal.Decimal
	OriginalPrice *decimal.Decimal
	IsActive      bool
	ImageURL      *string
}

func (q *Queries) CreateDailyOffer(ctx context.Context, arg OfferParams) (model.DailyOffer, error) {
	o, err := scanOffer(q.db.QueryRow(ctx,
		`INSERT INTO daily_offers (title, description, new_price, original_price, is_active, image_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+offerColumns,
		arg.Title, arg.Description, decimalToNumeric(arg.NewPrice), decimalPtrToNumeric(arg.OriginalPrice),
		arg.IsActive, arg.ImageURL))
	return o, mapErr("create offer", err)
}

func (q *Queries) UpdateDailyOffer(ctx context.Context, id uuid.UUID, arg OfferParams) (model.DailyOffer, error) {
	o, err := scanOffer(q.db.QueryRow(ctx,
		`UPDATE daily_offers
		 SET title = $2, description = $3, new_price = $4, original_price = $5, is_active = $6, image_url = $7
		 WHERE id = $1
		 RETURNING `+offerColumns,
		id, arg.Title, arg.Description, decimalToNumeric(arg.NewPrice), decimalPtrToNumeric(arg.OriginalPrice),
		arg.IsActive, arg.ImageURL))
	return o, mapErr("update offer", err)
}

func (q *Queries) DeleteDailyOffer(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM daily_offers WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete offer", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("delete offer", pgx.ErrNoRows)
	}
	return nil
}

// ── Helpers ──

func decodeModifiers(b []byte) ([]model.Modifier, error) {
	mods := []model.Modifier{}
	if len(b) == 0 {
		return mods, nil
	}
	if err := json.Unmarshal(b, &mods); err != nil {
		return nil, fmt.Errorf("decode modifiers: %w", err)
	}
	return mods, nil
}

func encodeModifiers(mods []model.Modifier) (string, error) {
	if mods == nil {
		mods = []model.Modifier{}
	}
	b, err := json.Marshal(mods)
	if err != nil {
		return "", fmt.Errorf("encode modifiers: %w", err)
	}
	return string(b), nil
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func pgUUID(u *uuid.UUID) pgtype.UUID {
	if u == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *u, Valid: true}
}

func pgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
