package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/model"
)

// RecentOrdersLimit is how many orders the dashboard loads.
const RecentOrdersLimit = 200

// --- Catalog ---

func (c *Client) ListCategories(ctx context.Context) ([]model.Category, error) {
	var out []model.Category
	if err := c.do(ctx, http.MethodGet, "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	var out []model.MenuItem
	if err := c.do(ctx, http.MethodGet, "/menu-items", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDailyOffers(ctx context.Context) ([]model.DailyOffer, error) {
	var out []model.DailyOffer
	if err := c.do(ctx, http.MethodGet, "/offers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Orders ---

type orderItemRequest struct {
	MenuItemID       uuid.UUID        `json:"menu_item_id"`
	Quantity         int32            `json:"quantity"`
	PriceAtTime      string           `json:"price_at_time"`
	SelectedToppings []model.Modifier `json:"selected_toppings"`
}

type orderRequest struct {
	TableNumber  string             `json:"table_number"`
	CustomerName string             `json:"customer_name"`
	Items        []orderItemRequest `json:"items"`
}

type orderPage struct {
	Orders []model.Order `json:"orders"`
}

// InsertOrder places the order through the API. The server assigns the
// order number and re-checks every line against its catalog, so the number
// and total in o are informational.
func (c *Client) InsertOrder(ctx context.Context, o lifecycle.NewOrder) (model.Order, error) {
	req := orderRequest{
		TableNumber:  o.TableNumber,
		CustomerName: o.CustomerName,
		Items:        make([]orderItemRequest, len(o.Items)),
	}
	for i, it := range o.Items {
		req.Items[i] = orderItemRequest{
			MenuItemID:       it.MenuItemID,
			Quantity:         it.Quantity,
			PriceAtTime:      it.PriceAtTime.String(),
			SelectedToppings: it.SelectedToppings,
		}
	}

	var out model.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return model.Order{}, err
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (model.Order, error) {
	var out model.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+id.String(), nil, &out); err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// UpdateOrderStatus is a compare-and-set on the server. A conflict answer
// means the order was not in status from and is reported as
// model.ErrNotFound, which is what lifecycle.Store implementations return.
func (c *Client) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string) (model.Order, error) {
	var out model.Order
	err := c.do(ctx, http.MethodPatch, "/orders/"+id.String()+"/status", map[string]string{"status": to, "from": from}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return model.Order{}, fmt.Errorf("update status: %w", model.ErrNotFound)
		}
		return model.Order{}, err
	}
	return out, nil
}

// ListRecentOrders returns the newest orders. Owner only.
func (c *Client) ListRecentOrders(ctx context.Context) ([]model.Order, error) {
	return c.ListOrders(ctx, "", RecentOrdersLimit)
}

// ListOrders returns orders, optionally in one status, newest first.
func (c *Client) ListOrders(ctx context.Context, status string, limit int) ([]model.Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page orderPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Orders, nil
}

// MyOrders returns the signed-in customer's orders split into in-progress and
// finished ones.
func (c *Client) MyOrders(ctx context.Context) (active, past []model.Order, err error) {
	var out struct {
		Active []model.Order `json:"active"`
		Past   []model.Order `json:"past"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/orders", nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Active, out.Past, nil
}

// DashboardStats returns the server-side counters, optionally for a date
// range (YYYY-MM-DD, inclusive). Empty bounds are omitted.
func (c *Client) DashboardStats(ctx context.Context, start, end string) (lifecycle.Stats, error) {
	q := url.Values{}
	if start != "" {
		q.Set("start_date", start)
	}
	if end != "" {
		q.Set("end_date", end)
	}
	path := "/dashboard/stats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out lifecycle.Stats
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return lifecycle.Stats{}, err
	}
	return out, nil
}
