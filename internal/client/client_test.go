package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/localstore"
	"github.com/tableside/api/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, routes func(r chi.Router)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testSession(userID uuid.UUID, role string) auth.Session {
	return auth.Session{
		AccessToken:  "access-" + userID.String(),
		RefreshToken: "refresh-" + userID.String(),
		ExpiresAt:    time.Now().Add(time.Hour),
		SessionID:    uuid.New(),
		User:         auth.Identity{ID: userID, Email: "a@b.c", Role: role},
	}
}

func TestListMenuItems_SendsToken(t *testing.T) {
	item := model.MenuItem{ID: uuid.New(), Name: "Burger", Price: decimal.RequireFromString("9.5"), IsAvailable: true}
	var gotAuth string
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/menu-items", func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, []model.MenuItem{item})
		})
	})

	c := New(srv.URL, nil)
	c.setSession(&auth.Session{AccessToken: "tok"})

	items, err := c.ListMenuItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	assert.True(t, items[0].Price.Equal(item.Price))
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestAPIError_MapsToSentinels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		want   error
	}{
		{"price changed", http.StatusConflict, "items[0]: menu price changed since the item was added", lifecycle.ErrPriceChanged},
		{"bad credentials", http.StatusUnauthorized, "invalid credentials", auth.ErrInvalidCredentials},
		{"not found by status", http.StatusNotFound, "category not found", model.ErrNotFound},
		{"forbidden by status", http.StatusForbidden, "owner access required", lifecycle.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(r chi.Router) {
				r.Get("/categories", func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tt.status, map[string]string{"error": tt.msg})
				})
			})
			_, err := New(srv.URL, nil).ListCategories(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestAdvanceFrom_ConflictThroughAPI(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/auth/session", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, auth.Identity{ID: owner, Role: enum.RoleOwner})
		})
		r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order status was changed by someone else"})
		})
		r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, model.Order{ID: id, Status: enum.OrderStatusReady})
		})
	})

	c := New(srv.URL, nil)
	sess := testSession(owner, enum.RoleOwner)
	c.setSession(&sess)

	_, err := c.UpdateOrderStatus(context.Background(), id, enum.OrderStatusPending, enum.OrderStatusPreparing)
	assert.ErrorIs(t, err, model.ErrNotFound)

	engine := lifecycle.NewEngine(c, c)
	_, err = engine.AdvanceFrom(context.Background(), lifecycle.Actor{UserID: owner}, id, enum.OrderStatusPending, enum.OrderStatusPreparing)
	assert.ErrorIs(t, err, lifecycle.ErrStatusConflict)
}

func TestIsOwner_UsesServerRole(t *testing.T) {
	user := uuid.New()
	var role atomic.Value
	role.Store(enum.RoleCustomer)
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/auth/session", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, auth.Identity{ID: user, Role: role.Load().(string)})
		})
	})

	c := New(srv.URL, nil)
	assert.False(t, c.IsOwner(context.Background(), user, ""), "signed out")

	// The session's role hint says owner; the server's answer wins.
	sess := testSession(user, enum.RoleOwner)
	c.setSession(&sess)
	assert.False(t, c.IsOwner(context.Background(), user, ""))

	role.Store(enum.RoleOwner)
	assert.True(t, c.IsOwner(context.Background(), user, ""))
	assert.False(t, c.IsOwner(context.Background(), uuid.New(), ""), "different user")
}

func TestSignIn_PersistsSession(t *testing.T) {
	user := uuid.New()
	sess := testSession(user, enum.RoleCustomer)
	srv := newTestServer(t, func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, sess)
		})
		r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	local := localstore.NewMemory()
	c := New(srv.URL, local)
	got, err := c.SignIn(context.Background(), "a@b.c", "secret123")
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, got.AccessToken)

	restored := New(srv.URL, local)
	assert.Equal(t, sess.AccessToken, restored.Token())

	require.NoError(t, restored.SignOut(context.Background()))
	assert.Empty(t, restored.Token())
	assert.Empty(t, New(srv.URL, local).Token())
}

func TestSignIn_TimeoutFallsBackToExistingSession(t *testing.T) {
	user := uuid.New()
	release := make(chan struct{})

	var sessionValid atomic.Bool
	sessionValid.Store(true)
	srv := newTestServer(t, func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		r.Get("/auth/session", func(w http.ResponseWriter, r *http.Request) {
			if !sessionValid.Load() {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session expired or signed out"})
				return
			}
			writeJSON(w, http.StatusOK, auth.Identity{ID: user, Role: enum.RoleCustomer})
		})
	})
	t.Cleanup(func() { close(release) })

	c := New(srv.URL, nil)
	c.signInTimeout = 50 * time.Millisecond

	_, err := c.SignIn(context.Background(), "a@b.c", "secret123")
	assert.ErrorIs(t, err, ErrTimeout, "no stored session")

	sess := testSession(user, enum.RoleCustomer)
	c.setSession(&sess)
	got, err := c.SignIn(context.Background(), "a@b.c", "secret123")
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, got.AccessToken)

	sessionValid.Store(false)
	_, err = c.SignIn(context.Background(), "a@b.c", "secret123")
	assert.ErrorIs(t, err, ErrTimeout, "stored session rejected")
}

func TestListOrders_Query(t *testing.T) {
	var gotQuery string
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{"orders": []model.Order{{ID: uuid.New()}}, "limit": 200, "offset": 0})
		})
	})

	orders, err := New(srv.URL, nil).ListRecentOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, "limit=200", gotQuery)
}
