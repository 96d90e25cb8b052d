package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/handler"
	"github.com/tableside/api/internal/model"
)

type recentOrdersFunc func(ctx context.Context) ([]model.Order, error)

func (f recentOrdersFunc) ListRecentOrders(ctx context.Context) ([]model.Order, error) { return f(ctx) }

func setupDashboardRouter(orders []model.Order, err error) *chi.Mux {
	h := handler.NewDashboardHandler(recentOrdersFunc(func(context.Context) ([]model.Order, error) {
		return orders, err
	}))
	r := chi.NewRouter()
	h.RegisterOwnerRoutes(r)
	return r
}

func dashOrder(status, total string, at time.Time) model.Order {
	return model.Order{ID: uuid.New(), Status: status, TotalAmount: decimal.RequireFromString(total), CreatedAt: at}
}

func TestDashboardStats(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	orders := []model.Order{
		dashOrder(enum.OrderStatusPending, "10.00", day2),
		dashOrder(enum.OrderStatusPreparing, "5.50", day2),
		dashOrder(enum.OrderStatusReady, "4.50", day1),
		dashOrder(enum.OrderStatusCompleted, "20.00", day1),
		dashOrder(enum.OrderStatusCancelled, "99.00", day1),
	}

	rr := doRequestAs(t, setupDashboardRouter(orders, nil), ownerClaims(), "GET", "/dashboard/stats", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["total_orders"] != float64(5) {
		t.Errorf("total_orders: got %v, want 5", resp["total_orders"])
	}
	if resp["revenue"] != "40" {
		t.Errorf("revenue: got %v, want 40 (cancelled excluded)", resp["revenue"])
	}
	if resp["pending"] != float64(2) || resp["completed"] != float64(2) || resp["cancelled"] != float64(1) {
		t.Errorf("counters: got pending=%v completed=%v cancelled=%v", resp["pending"], resp["completed"], resp["cancelled"])
	}
	daily := resp["daily"].([]interface{})
	if len(daily) != 2 {
		t.Fatalf("daily: got %d days, want 2", len(daily))
	}
	first := daily[0].(map[string]interface{})
	if first["date"] != "2026-03-01" || first["revenue"] != "24.5" {
		t.Errorf("first day: got %v", first)
	}
}

func TestDashboardStats_DateRange(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := []model.Order{
		dashOrder(enum.OrderStatusCompleted, "10.00", day1),
		dashOrder(enum.OrderStatusCompleted, "7.00", day1.AddDate(0, 0, 3)),
	}
	router := setupDashboardRouter(orders, nil)

	rr := doRequestAs(t, router, ownerClaims(), "GET", "/dashboard/stats?start_date=2026-03-02&end_date=2026-03-04", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decodeResponse(t, rr); resp["revenue"] != "7" {
		t.Errorf("revenue: got %v, want 7", resp["revenue"])
	}

	rr = doRequestAs(t, router, ownerClaims(), "GET", "/dashboard/stats?start_date=2026-03-05&end_date=2026-03-01", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("inverted range: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequestAs(t, router, ownerClaims(), "GET", "/dashboard/stats?start_date=yesterday", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestDashboardStats_StoreError(t *testing.T) {
	rr := doRequestAs(t, setupDashboardRouter(nil, errors.New("db down")), ownerClaims(), "GET", "/dashboard/stats", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
