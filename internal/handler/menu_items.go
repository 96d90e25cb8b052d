package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/model"
)

// MenuItemStore defines the database methods needed by menu item handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuItemStore interface {
	ListMenuItems(ctx context.Context) ([]model.MenuItem, error)
	GetMenuItem(ctx context.Context, id uuid.UUID) (model.MenuItem, error)
	CreateMenuItem(ctx context.Context, arg database.MenuItemParams) (model.MenuItem, error)
	UpdateMenuItem(ctx context.Context, id uuid.UUID, arg database.MenuItemParams) (model.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, id uuid.UUID, available bool) (model.MenuItem, error)
	DeleteMenuItem(ctx context.Context, id uuid.UUID) error
}

// MenuItemHandler handles menu item CRUD endpoints.
type MenuItemHandler struct {
	store MenuItemStore
}

// NewMenuItemHandler creates a new MenuItemHandler.
func NewMenuItemHandler(store MenuItemStore) *MenuItemHandler {
	return &MenuItemHandler{store: store}
}

// RegisterRoutes registers the public read endpoints.
// Expected to be mounted at /menu-items.
func (h *MenuItemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

// RegisterOwnerRoutes registers the write endpoints. Mount behind RequireOwner.
func (h *MenuItemHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/availability", h.SetAvailability)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type menuItemRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       string           `json:"price"`
	CategoryID  *string          `json:"category_id"`
	ImageURL    *string          `json:"image_url"`
	IsAvailable *bool            `json:"is_available"`
	Toppings    []model.Modifier `json:"toppings"`
}

type availabilityRequest struct {
	IsAvailable *bool `json:"is_available"`
}

// --- Handlers ---

// List returns every menu item, newest first, with its category name.
func (h *MenuItemHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMenuItems(r.Context())
	if err != nil {
		logrus.WithError(err).Error("list menu items")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Get returns one menu item.
func (h *MenuItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	item, err := h.store.GetMenuItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		logrus.WithError(err).Error("get menu item")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Create adds a new menu item.
func (h *MenuItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req menuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, msg := req.toParams()
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	item, err := h.store.CreateMenuItem(r.Context(), params)
	if err != nil {
		if errors.Is(err, database.ErrInUse) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "category does not exist"})
			return
		}
		logrus.WithError(err).Error("create menu item")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

// Update replaces an existing menu item's fields.
func (h *MenuItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	var req menuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, msg := req.toParams()
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	item, err := h.store.UpdateMenuItem(r.Context(), id, params)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
		case errors.Is(err, database.ErrInUse):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "category does not exist"})
		default:
			logrus.WithError(err).Error("update menu item")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// SetAvailability toggles whether customers can order the item.
func (h *MenuItemHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.IsAvailable == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "is_available is required"})
		return
	}

	item, err := h.store.SetMenuItemAvailability(r.Context(), id, *req.IsAvailable)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		logrus.WithError(err).Error("set menu item availability")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Delete removes a menu item. Items referenced by past orders cannot be
// deleted; mark them unavailable instead.
func (h *MenuItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	if err := h.store.DeleteMenuItem(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
		case errors.Is(err, database.ErrInUse):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "menu item has orders; mark it unavailable instead"})
		default:
			logrus.WithError(err).Error("delete menu item")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// toParams validates the request. A non-empty message is a 400.
func (req menuItemRequest) toParams() (database.MenuItemParams, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return database.MenuItemParams{}, "name is required"
	}

	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return database.MenuItemParams{}, "invalid price"
	}
	if price.IsNegative() {
		return database.MenuItemParams{}, "price must be >= 0"
	}

	var categoryID *uuid.UUID
	if req.CategoryID != nil && *req.CategoryID != "" {
		cid, err := uuid.Parse(*req.CategoryID)
		if err != nil {
			return database.MenuItemParams{}, "invalid category_id"
		}
		categoryID = &cid
	}

	toppings := make([]model.Modifier, 0, len(req.Toppings))
	for _, t := range req.Toppings {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return database.MenuItemParams{}, "topping name is required"
		}
		if t.Price.IsNegative() {
			return database.MenuItemParams{}, "topping price must be >= 0"
		}
		toppings = append(toppings, t)
	}

	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}

	return database.MenuItemParams{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       price,
		CategoryID:  categoryID,
		ImageURL:    emptyToNil(req.ImageURL),
		IsAvailable: available,
		Toppings:    toppings,
	}, ""
}
