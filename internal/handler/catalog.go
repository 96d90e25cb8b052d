package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tableside/api/internal/catalog"
	"github.com/tableside/api/internal/model"
)

// CatalogReader exposes the server-side catalog mirror.
// Satisfied by *catalog.Cache.
type CatalogReader interface {
	Snapshot() *catalog.Snapshot
	Loading() bool
}

// CatalogHandler serves the customer menu page from the cached catalog so
// menu reads never hit the database.
type CatalogHandler struct {
	cache CatalogReader
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(cache CatalogReader) *CatalogHandler {
	return &CatalogHandler{cache: cache}
}

// RegisterRoutes registers GET /catalog.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/catalog", h.Get)
}

// --- Request / Response types ---

type catalogResponse struct {
	Categories  []model.Category `json:"categories"`
	MenuItems   []model.MenuItem `json:"menu_items"`
	Offers      []offerResponse  `json:"offers"`
	RefreshedAt time.Time        `json:"refreshed_at"`
	Loading     bool             `json:"loading"`
	Stale       []string         `json:"stale,omitempty"`
}

// --- Handlers ---

// Get returns categories, available menu items and active offers.
// ?category_id= and ?q= narrow the menu items.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.cache.Snapshot()
	if snap.RefreshedAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "catalog is loading"})
		return
	}

	var categoryID *uuid.UUID
	if s := r.URL.Query().Get("category_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category_id"})
			return
		}
		categoryID = &id
	}

	active := snap.ActiveOffers()
	offers := make([]offerResponse, len(active))
	for i, o := range active {
		offers[i] = toOfferResponse(o)
	}

	resp := catalogResponse{
		Categories:  snap.Categories,
		MenuItems:   snap.AvailableInCategory(categoryID, r.URL.Query().Get("q")),
		Offers:      offers,
		RefreshedAt: snap.RefreshedAt,
		Loading:     h.cache.Loading(),
	}
	for table := range snap.Errors {
		resp.Stale = append(resp.Stale, table)
	}
	sort.Strings(resp.Stale)
	writeJSON(w, http.StatusOK, resp)
}
