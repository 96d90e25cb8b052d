package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/middleware"
	"github.com/tableside/api/internal/model"
)

// OrderEngine defines the lifecycle operations needed by order handlers.
// Satisfied by *lifecycle.Engine; narrow interface for testability.
type OrderEngine interface {
	Create(ctx context.Context, req lifecycle.PlaceOrder) (model.Order, error)
	Get(ctx context.Context, id uuid.UUID) (model.Order, error)
	Advance(ctx context.Context, actor lifecycle.Actor, id uuid.UUID, target string) (model.Order, error)
	AdvanceFrom(ctx context.Context, actor lifecycle.Actor, id uuid.UUID, from, target string) (model.Order, error)
	Cancel(ctx context.Context, actor lifecycle.Actor, id uuid.UUID) (model.Order, error)
}

// OrderLister defines the read queries behind the order list endpoints.
// Satisfied by *service.OrderService.
type OrderLister interface {
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]model.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	engine OrderEngine
	lister OrderLister
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(engine OrderEngine, lister OrderLister) *OrderHandler {
	return &OrderHandler{engine: engine, lister: lister}
}

// RegisterRoutes registers the public order endpoints. Mount at /orders
// behind OptionalAuth so signed-in customers get the order linked to them.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
}

// RegisterOwnerRoutes registers the dashboard endpoints. Mount behind RequireOwner.
func (h *OrderHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / Response types ---

type createOrderRequest struct {
	TableNumber  string                   `json:"table_number"`
	CustomerName string                   `json:"customer_name"`
	Items        []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	MenuItemID       string           `json:"menu_item_id"`
	Quantity         int32            `json:"quantity"`
	PriceAtTime      string           `json:"price_at_time"`
	SelectedToppings []model.Modifier `json:"selected_toppings"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	// From is the status the caller last saw. When set, the write only
	// succeeds if the order is still in that status.
	From string `json:"from"`
}

type orderListResponse struct {
	Orders []model.Order `json:"orders"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// --- Handlers ---

// Create places an order for a guest or a signed-in customer. Prices are the
// ones the customer saw; the store rejects the order if the menu changed.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	lines := make([]lifecycle.Line, 0, len(req.Items))
	for i, item := range req.Items {
		id, err := uuid.Parse(item.MenuItemID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "invalid menu_item_id")})
			return
		}
		price, err := decimal.NewFromString(item.PriceAtTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatItemError(i, "invalid price_at_time")})
			return
		}
		lines = append(lines, lifecycle.Line{
			Item:             model.MenuItem{ID: id, Price: price},
			Quantity:         item.Quantity,
			SelectedToppings: item.SelectedToppings,
		})
	}

	place := lifecycle.PlaceOrder{
		Lines:        lines,
		TableNumber:  req.TableNumber,
		CustomerName: req.CustomerName,
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		uid := claims.UserID
		place.UserID = &uid
	}

	order, err := h.engine.Create(r.Context(), place)
	if err != nil {
		writeOrderError(w, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// Get returns one order with its lines. The durable id is the capability:
// anyone holding it can track the order.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.engine.Get(r.Context(), orderID)
	if err != nil {
		writeOrderError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// List returns orders newest first for the dashboard.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	// Parse pagination
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListOrdersParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		if !lifecycle.ValidStatus(s) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
			return
		}
		params.Status = s
	}
	if s := r.URL.Query().Get("user_id"); s != "" {
		uid, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
			return
		}
		params.UserID = &uid
	}

	orders, err := h.lister.ListOrders(r.Context(), params)
	if err != nil {
		logrus.WithError(err).Error("list orders")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: orders,
		Limit:  limit,
		Offset: offset,
	})
}

// UpdateStatus moves an order along its lifecycle.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	actor := lifecycle.Actor{UserID: claims.UserID, Email: claims.Email}
	var updated model.Order
	if req.From != "" {
		updated, err = h.engine.AdvanceFrom(r.Context(), actor, orderID, req.From, req.Status)
	} else {
		updated, err = h.engine.Advance(r.Context(), actor, orderID, req.Status)
	}
	if err != nil {
		writeOrderError(w, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Cancel cancels an order that has not finished yet.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	cancelled, err := h.engine.Cancel(r.Context(), lifecycle.Actor{UserID: claims.UserID, Email: claims.Email}, orderID)
	if err != nil {
		writeOrderError(w, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// --- Helpers ---

func formatItemError(idx int, msg string) string {
	return fmt.Sprintf("items[%d]: %s", idx, msg)
}

func writeOrderError(w http.ResponseWriter, op string, err error) {
	switch {
	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrStatusConflict),
		errors.Is(err, lifecycle.ErrPriceChanged),
		errors.Is(err, lifecycle.ErrItemUnavailable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logrus.WithError(err).Error(op)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		lifecycle.ErrEmptyCart,
		lifecycle.ErrTableRequired,
		lifecycle.ErrInvalidQuantity,
		lifecycle.ErrInvalidPrice,
		lifecycle.ErrInvalidStatus,
		lifecycle.ErrUnknownMenuItem,
		lifecycle.ErrUnknownModifier,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
