package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/blob"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/middleware"
	"github.com/tableside/api/internal/model"
)

// ProfileStore defines the database methods needed by profile handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type ProfileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error)
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	UpdateProfile(ctx context.Context, arg database.UpdateProfileParams) (model.Profile, error)
	UpdateProfileRole(ctx context.Context, id uuid.UUID, role string) (model.Profile, error)
}

// UserOrderLister loads one customer's orders, newest first.
type UserOrderLister interface {
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
}

// RoleNotifier is told when a user's role changes so cached roles are dropped.
// Satisfied by *auth.Service.
type RoleNotifier interface {
	NotifyUserUpdated(userID uuid.UUID)
}

// ProfileHandler handles the signed-in user's profile and the owner's
// account list.
type ProfileHandler struct {
	store    ProfileStore
	orders   UserOrderLister
	storage  blob.Storage
	notifier RoleNotifier
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(store ProfileStore, orders UserOrderLister, storage blob.Storage, notifier RoleNotifier) *ProfileHandler {
	return &ProfileHandler{store: store, orders: orders, storage: storage, notifier: notifier}
}

// RegisterRoutes registers the /me endpoints. Mount behind Authenticate.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Put("/me", h.UpdateMe)
	r.Post("/me/avatar", h.UploadAvatar)
	r.Get("/me/orders", h.MyOrders)
}

// RegisterOwnerRoutes registers account management. Mount behind RequireOwner.
func (h *ProfileHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Get("/profiles", h.List)
	r.Patch("/profiles/{id}/role", h.UpdateRole)
}

// --- Request / Response types ---

type updateProfileRequest struct {
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type orderHistoryResponse struct {
	Active []model.Order `json:"active"`
	Past   []model.Order `json:"past"`
}

// --- Handlers ---

// Me returns the caller's profile.
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	profile, err := h.store.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		writeProfileError(w, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateMe changes the caller's display name and avatar URL.
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	profile, err := h.store.UpdateProfile(r.Context(), database.UpdateProfileParams{
		ID:        claims.UserID,
		FullName:  strings.TrimSpace(req.FullName),
		AvatarURL: emptyToNil(req.AvatarURL),
	})
	if err != nil {
		writeProfileError(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UploadAvatar stores a new avatar under the caller's folder and points the
// profile at it.
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	current, err := h.store.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		writeProfileError(w, "get profile", err)
		return
	}

	url, status, msg := storeImage(r, h.storage, enum.BucketAvatars, claims.UserID.String())
	if msg != "" {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	profile, err := h.store.UpdateProfile(r.Context(), database.UpdateProfileParams{
		ID:        claims.UserID,
		FullName:  current.FullName,
		AvatarURL: &url,
	})
	if err != nil {
		writeProfileError(w, "update avatar", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// MyOrders returns the caller's orders split into in-progress and finished.
func (h *ProfileHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orders, err := h.orders.ListUserOrders(r.Context(), claims.UserID)
	if err != nil {
		logrus.WithError(err).Error("list user orders")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	active, past := lifecycle.SplitHistory(orders)
	writeJSON(w, http.StatusOK, orderHistoryResponse{Active: active, Past: past})
}

// List returns every profile for the owner's account screen.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles(r.Context())
	if err != nil {
		logrus.WithError(err).Error("list profiles")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// UpdateRole promotes or demotes an account. Owners cannot change their own
// role, so the last owner cannot lock themselves out.
func (h *ProfileHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile ID"})
		return
	}
	if id == claims.UserID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot change your own role"})
		return
	}

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Role != enum.RoleOwner && req.Role != enum.RoleCustomer {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be owner or customer"})
		return
	}

	profile, err := h.store.UpdateProfileRole(r.Context(), id, req.Role)
	if err != nil {
		writeProfileError(w, "update role", err)
		return
	}
	h.notifier.NotifyUserUpdated(id)

	logrus.WithFields(logrus.Fields{"user_id": id, "role": req.Role, "by": claims.UserID}).Info("role updated")
	writeJSON(w, http.StatusOK, profile)
}

// --- Helpers ---

func writeProfileError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		return
	}
	logrus.WithError(err).Error(op)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
