package handler_test

import (
	"context"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/handler"
	"github.com/tableside/api/internal/model"
)

// --- Mock store ---

type mockCategoryStore struct {
	categories map[uuid.UUID]model.Category // keyed by category ID
}

func newMockCategoryStore() *mockCategoryStore {
	return &mockCategoryStore{categories: make(map[uuid.UUID]model.Category)}
}

func (m *mockCategoryStore) ListCategories(_ context.Context) ([]model.Category, error) {
	result := make([]model.Category, 0, len(m.categories))
	for _, c := range m.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SortOrder < result[j].SortOrder })
	return result, nil
}

func (m *mockCategoryStore) CreateCategory(_ context.Context, arg database.CreateCategoryParams) (model.Category, error) {
	c := model.Category{
		ID:        uuid.New(),
		Name:      arg.Name,
		SortOrder: arg.SortOrder,
		ImageURL:  arg.ImageURL,
		CreatedAt: time.Now(),
	}
	m.categories[c.ID] = c
	return c, nil
}

func (m *mockCategoryStore) UpdateCategory(_ context.Context, arg database.UpdateCategoryParams) (model.Category, error) {
	c, ok := m.categories[arg.ID]
	if !ok {
		return model.Category{}, model.ErrNotFound
	}
	c.Name = arg.Name
	c.SortOrder = arg.SortOrder
	c.ImageURL = arg.ImageURL
	m.categories[c.ID] = c
	return c, nil
}

func (m *mockCategoryStore) DeleteCategory(_ context.Context, id uuid.UUID) error {
	if _, ok := m.categories[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.categories, id)
	return nil
}

// --- Helpers ---

func setupCategoryRouter(store *mockCategoryStore) *chi.Mux {
	h := handler.NewCategoryHandler(store)
	r := chi.NewRouter()
	r.Route("/categories", func(r chi.Router) {
		h.RegisterRoutes(r)
		h.RegisterOwnerRoutes(r)
	})
	return r
}

// --- List tests ---

func TestCategoryList_Empty(t *testing.T) {
	router := setupCategoryRouter(newMockCategoryStore())

	rr := doRequest(t, router, "GET", "/categories", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeListResponse(t, rr)
	if len(resp) != 0 {
		t.Errorf("expected empty list, got %d items", len(resp))
	}
}

func TestCategoryList_SortOrder(t *testing.T) {
	store := newMockCategoryStore()
	for i, name := range []string{"Desserts", "Mains", "Starters"} {
		id := uuid.New()
		store.categories[id] = model.Category{ID: id, Name: name, SortOrder: int32(3 - i), CreatedAt: time.Now()}
	}

	rr := doRequest(t, setupCategoryRouter(store), "GET", "/categories", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeListResponse(t, rr)
	if len(resp) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(resp))
	}
	if resp[0]["name"] != "Starters" {
		t.Errorf("first: got %v, want Starters", resp[0]["name"])
	}
}

// --- Create tests ---

func TestCategoryCreate_Valid(t *testing.T) {
	router := setupCategoryRouter(newMockCategoryStore())

	rr := doRequest(t, router, "POST", "/categories", map[string]interface{}{
		"name":       "  Beverages ",
		"sort_order": 2,
		"image_url":  "http://api.test/storage/category-images/bev.png",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "Beverages" {
		t.Errorf("name: got %v, want Beverages", resp["name"])
	}
	// JSON numbers decode as float64
	if resp["sort_order"] != float64(2) {
		t.Errorf("sort_order: got %v, want 2", resp["sort_order"])
	}
	if resp["image_url"] != "http://api.test/storage/category-images/bev.png" {
		t.Errorf("image_url: got %v", resp["image_url"])
	}
}

func TestCategoryCreate_BlankImageIsNull(t *testing.T) {
	router := setupCategoryRouter(newMockCategoryStore())

	rr := doRequest(t, router, "POST", "/categories", map[string]interface{}{"name": "Simple", "image_url": " "})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusCreated)
	}
	resp := decodeResponse(t, rr)
	if resp["image_url"] != nil {
		t.Errorf("image_url: got %v, want null", resp["image_url"])
	}
}

func TestCategoryCreate_MissingName(t *testing.T) {
	router := setupCategoryRouter(newMockCategoryStore())

	rr := doRequest(t, router, "POST", "/categories", map[string]interface{}{"sort_order": 1})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	resp := decodeResponse(t, rr)
	if resp["error"] != "name is required" {
		t.Errorf("error: got %v, want 'name is required'", resp["error"])
	}
}

func TestCategoryCreate_InvalidBody(t *testing.T) {
	rr := doRequest(t, setupCategoryRouter(newMockCategoryStore()), "POST", "/categories", "not json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// --- Update tests ---

func TestCategoryUpdate_Valid(t *testing.T) {
	store := newMockCategoryStore()
	catID := uuid.New()
	store.categories[catID] = model.Category{ID: catID, Name: "Old Name", CreatedAt: time.Now()}

	rr := doRequest(t, setupCategoryRouter(store), "PUT", "/categories/"+catID.String(), map[string]interface{}{
		"name":       "New Name",
		"sort_order": 5,
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "New Name" {
		t.Errorf("name: got %v, want 'New Name'", resp["name"])
	}
	if resp["sort_order"] != float64(5) {
		t.Errorf("sort_order: got %v, want 5", resp["sort_order"])
	}
}

func TestCategoryUpdate_NotFound(t *testing.T) {
	rr := doRequest(t, setupCategoryRouter(newMockCategoryStore()), "PUT", "/categories/"+uuid.New().String(), map[string]interface{}{
		"name": "Whatever",
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCategoryUpdate_InvalidID(t *testing.T) {
	rr := doRequest(t, setupCategoryRouter(newMockCategoryStore()), "PUT", "/categories/not-a-uuid", map[string]interface{}{
		"name": "Whatever",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// --- Delete tests ---

func TestCategoryDelete(t *testing.T) {
	store := newMockCategoryStore()
	catID := uuid.New()
	store.categories[catID] = model.Category{ID: catID, Name: "Food", CreatedAt: time.Now()}
	router := setupCategoryRouter(store)

	rr := doRequest(t, router, "DELETE", "/categories/"+catID.String(), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNoContent)
	}
	if _, ok := store.categories[catID]; ok {
		t.Error("category still in store")
	}

	rr = doRequest(t, router, "DELETE", "/categories/"+catID.String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
