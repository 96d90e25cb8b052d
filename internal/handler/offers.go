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

// OfferStore defines the database methods needed by daily offer handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OfferStore interface {
	ListDailyOffers(ctx context.Context) ([]model.DailyOffer, error)
	CreateDailyOffer(ctx context.Context, arg database.OfferParams) (model.DailyOffer, error)
	UpdateDailyOffer(ctx context.Context, id uuid.UUID, arg database.OfferParams) (model.DailyOffer, error)
	DeleteDailyOffer(ctx context.Context, id uuid.UUID) error
}

// OfferHandler handles daily offer endpoints.
type OfferHandler struct {
	store OfferStore
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(store OfferStore) *OfferHandler {
	return &OfferHandler{store: store}
}

// RegisterRoutes registers the public read endpoint.
// Expected to be mounted at /offers.
func (h *OfferHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
}

// RegisterOwnerRoutes registers the write endpoints. Mount behind RequireOwner.
func (h *OfferHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type offerRequest struct {
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	NewPrice      string  `json:"new_price"`
	OriginalPrice *string `json:"original_price"`
	IsActive      *bool   `json:"is_active"`
	ImageURL      *string `json:"image_url"`
}

type offerResponse struct {
	model.DailyOffer
	DiscountPercent *int64 `json:"discount_percent"`
}

func toOfferResponse(o model.DailyOffer) offerResponse {
	resp := offerResponse{DailyOffer: o}
	if pct, ok := o.DiscountPercent(); ok {
		resp.DiscountPercent = &pct
	}
	return resp
}

// --- Handlers ---

// List returns offers newest first. ?active=true limits the list to offers
// currently shown to customers.
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	offers, err := h.store.ListDailyOffers(r.Context())
	if err != nil {
		logrus.WithError(err).Error("list offers")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	resp := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		if activeOnly && !o.IsActive {
			continue
		}
		resp = append(resp, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create adds a daily offer.
func (h *OfferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, msg := req.toParams()
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	offer, err := h.store.CreateDailyOffer(r.Context(), params)
	if err != nil {
		logrus.WithError(err).Error("create offer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(offer))
}

// Update replaces an offer's fields.
func (h *OfferHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offer ID"})
		return
	}

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	params, msg := req.toParams()
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	offer, err := h.store.UpdateDailyOffer(r.Context(), id, params)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "offer not found"})
			return
		}
		logrus.WithError(err).Error("update offer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

// Delete removes an offer.
func (h *OfferHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offer ID"})
		return
	}

	if err := h.store.DeleteDailyOffer(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "offer not found"})
			return
		}
		logrus.WithError(err).Error("delete offer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (req offerRequest) toParams() (database.OfferParams, string) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return database.OfferParams{}, "title is required"
	}

	newPrice, err := decimal.NewFromString(strings.TrimSpace(req.NewPrice))
	if err != nil {
		return database.OfferParams{}, "invalid new_price"
	}
	if newPrice.IsNegative() {
		return database.OfferParams{}, "new_price must be >= 0"
	}

	var original *decimal.Decimal
	if req.OriginalPrice != nil && strings.TrimSpace(*req.OriginalPrice) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(*req.OriginalPrice))
		if err != nil {
			return database.OfferParams{}, "invalid original_price"
		}
		if d.IsNegative() {
			return database.OfferParams{}, "original_price must be >= 0"
		}
		original = &d
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return database.OfferParams{
		Title:         title,
		Description:   strings.TrimSpace(req.Description),
		NewPrice:      newPrice,
		OriginalPrice: original,
		IsActive:      active,
		ImageURL:      emptyToNil(req.ImageURL),
	}, ""
}
