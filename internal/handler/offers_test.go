package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/handler"
	"github.com/tableside/api/internal/model"
)

// --- Mock store ---

type mockOfferStore struct {
	offers []model.DailyOffer
}

func (m *mockOfferStore) ListDailyOffers(_ context.Context) ([]model.DailyOffer, error) {
	return m.offers, nil
}

func (m *mockOfferStore) CreateDailyOffer(_ context.Context, arg database.OfferParams) (model.DailyOffer, error) {
	o := model.DailyOffer{
		ID:            uuid.New(),
		Title:         arg.Title,
		Description:   arg.Description,
		NewPrice:      arg.NewPrice,
		OriginalPrice: arg.OriginalPrice,
		IsActive:      arg.IsActive,
		ImageURL:      arg.ImageURL,
		CreatedAt:     time.Now(),
	}
	m.offers = append([]model.DailyOffer{o}, m.offers...)
	return o, nil
}

func (m *mockOfferStore) UpdateDailyOffer(_ context.Context, id uuid.UUID, arg database.OfferParams) (model.DailyOffer, error) {
	for i, o := range m.offers {
		if o.ID == id {
			o.Title = arg.Title
			o.NewPrice = arg.NewPrice
			o.OriginalPrice = arg.OriginalPrice
			o.IsActive = arg.IsActive
			m.offers[i] = o
			return o, nil
		}
	}
	return model.DailyOffer{}, model.ErrNotFound
}

func (m *mockOfferStore) DeleteDailyOffer(_ context.Context, id uuid.UUID) error {
	for i, o := range m.offers {
		if o.ID == id {
			m.offers = append(m.offers[:i], m.offers[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

// --- Helpers ---

func setupOfferRouter(store *mockOfferStore) *chi.Mux {
	h := handler.NewOfferHandler(store)
	r := chi.NewRouter()
	r.Route("/offers", func(r chi.Router) {
		h.RegisterRoutes(r)
		h.RegisterOwnerRoutes(r)
	})
	return r
}

// --- Tests ---

func TestOfferCreate_DiscountPercent(t *testing.T) {
	store := &mockOfferStore{}

	rr := doRequest(t, setupOfferRouter(store), "POST", "/offers", map[string]interface{}{
		"title":          "Lunch deal",
		"new_price":      "15.00",
		"original_price": "20.00",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["discount_percent"] != float64(25) {
		t.Errorf("discount_percent: got %v, want 25", resp["discount_percent"])
	}
	if resp["is_active"] != true {
		t.Errorf("is_active should default to true, got %v", resp["is_active"])
	}
}

func TestOfferCreate_NoOriginalPrice(t *testing.T) {
	rr := doRequest(t, setupOfferRouter(&mockOfferStore{}), "POST", "/offers", map[string]interface{}{
		"title": "Soup of the day", "new_price": "4.00",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusCreated)
	}
	resp := decodeResponse(t, rr)
	if resp["discount_percent"] != nil {
		t.Errorf("discount_percent: got %v, want null", resp["discount_percent"])
	}
}

func TestOfferCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"new_price": "1"}},
		{"missing price", map[string]interface{}{"title": "X"}},
		{"negative price", map[string]interface{}{"title": "X", "new_price": "-2"}},
		{"bad original", map[string]interface{}{"title": "X", "new_price": "2", "original_price": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, setupOfferRouter(&mockOfferStore{}), "POST", "/offers", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestOfferList_ActiveFilter(t *testing.T) {
	store := &mockOfferStore{offers: []model.DailyOffer{
		{ID: uuid.New(), Title: "On", NewPrice: decimal.NewFromInt(5), IsActive: true},
		{ID: uuid.New(), Title: "Off", NewPrice: decimal.NewFromInt(5), IsActive: false},
	}}
	router := setupOfferRouter(store)

	rr := doRequest(t, router, "GET", "/offers", nil)
	if got := len(decodeListResponse(t, rr)); got != 2 {
		t.Errorf("all offers: got %d, want 2", got)
	}

	rr = doRequest(t, router, "GET", "/offers?active=true", nil)
	resp := decodeListResponse(t, rr)
	if len(resp) != 1 || resp[0]["title"] != "On" {
		t.Errorf("active offers: got %v", resp)
	}
}

func TestOfferUpdateAndDelete(t *testing.T) {
	id := uuid.New()
	store := &mockOfferStore{offers: []model.DailyOffer{{ID: id, Title: "Old", NewPrice: decimal.NewFromInt(5), IsActive: true}}}
	router := setupOfferRouter(store)

	rr := doRequest(t, router, "PUT", "/offers/"+id.String(), map[string]interface{}{
		"title": "New", "new_price": "6.00", "is_active": false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if store.offers[0].IsActive {
		t.Error("offer still active")
	}

	rr = doRequest(t, router, "DELETE", "/offers/"+id.String(), nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: got %d, want %d", rr.Code, http.StatusNoContent)
	}
	rr = doRequest(t, router, "DELETE", "/offers/"+id.String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
