package handler

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/model"
)

// DashboardHandler serves the admin dashboard counters.
type DashboardHandler struct {
	orders lifecycle.OrderLister
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(orders lifecycle.OrderLister) *DashboardHandler {
	return &DashboardHandler{orders: orders}
}

// RegisterOwnerRoutes registers the dashboard endpoints. Mount behind RequireOwner.
func (h *DashboardHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Get("/dashboard/stats", h.Stats)
}

// --- Response types ---

type dailySalesResponse struct {
	Date       string          `json:"date"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type dashboardResponse struct {
	lifecycle.Stats
	Daily []dailySalesResponse `json:"daily"`
}

// --- Handlers ---

// Stats computes the dashboard counters over recent orders. start_date and
// end_date (YYYY-MM-DD, UTC, inclusive) narrow the window.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	orders, err := h.orders.ListRecentOrders(r.Context())
	if err != nil {
		logrus.WithError(err).Error("dashboard orders")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	inRange := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if !start.IsZero() && o.CreatedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !o.CreatedAt.Before(end) {
			continue
		}
		inRange = append(inRange, o)
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Stats: lifecycle.ComputeStats(inRange),
		Daily: dailySales(inRange),
	})
}

// --- Helpers ---

// dailySales groups non-cancelled orders by UTC day, oldest first.
func dailySales(orders []model.Order) []dailySalesResponse {
	byDay := map[string]*dailySalesResponse{}
	for _, o := range orders {
		if o.Status == enum.OrderStatusCancelled {
			continue
		}
		day := o.CreatedAt.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &dailySalesResponse{Date: day, Revenue: decimal.Zero}
			byDay[day] = d
		}
		d.OrderCount++
		d.Revenue = d.Revenue.Add(o.TotalAmount)
	}

	out := make([]dailySalesResponse, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// parseDateRange reads optional start_date and end_date. A zero bound means
// unbounded; end is returned exclusive.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	var start, end time.Time

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format: %w", err)
		}
		start = t
	}

	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format: %w", err)
		}
		// Make end_date exclusive by adding 1 day
		end = t.AddDate(0, 0, 1)
	}

	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be before end_date")
	}
	return start, end, nil
}
