package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/blob"
	"github.com/tableside/api/internal/enum"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// UploadHandler stores catalog images for the admin panel.
type UploadHandler struct {
	storage blob.Storage
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(storage blob.Storage) *UploadHandler {
	return &UploadHandler{storage: storage}
}

// RegisterOwnerRoutes registers the upload endpoint. Mount behind RequireOwner.
func (h *UploadHandler) RegisterOwnerRoutes(r chi.Router) {
	r.Post("/uploads/{bucket}", h.Upload)
}

// --- Handlers ---

// Upload accepts a multipart "file" field and answers with its public URL.
// Avatars go through /me/avatar instead.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	if bucket == enum.BucketAvatars || !blob.KnownBucket(bucket) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown bucket"})
		return
	}

	url, status, msg := storeImage(r, h.storage, bucket, "")
	if msg != "" {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// --- Helpers ---

// storeImage saves the request's "file" field under bucket/prefix with a
// random name. On failure it returns the status and message to answer with.
func storeImage(r *http.Request, storage blob.Storage, bucket, prefix string) (string, int, string) {
	r.Body = http.MaxBytesReader(nil, r.Body, blob.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(blob.MaxUploadSize); err != nil {
		return "", http.StatusBadRequest, "invalid multipart form"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", http.StatusBadRequest, "file is required"
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtensions[ext] {
		return "", http.StatusBadRequest, "unsupported file type"
	}

	name, err := blob.RandomName(ext)
	if err != nil {
		logrus.WithError(err).Error("upload name")
		return "", http.StatusInternalServerError, "internal server error"
	}
	if prefix != "" {
		name = prefix + "/" + name
	}

	if err := storage.Upload(r.Context(), bucket, name, file); err != nil {
		switch {
		case errors.Is(err, blob.ErrTooLarge):
			return "", http.StatusRequestEntityTooLarge, "file too large"
		case errors.Is(err, blob.ErrUnknownBucket), errors.Is(err, blob.ErrBadPath):
			return "", http.StatusBadRequest, err.Error()
		default:
			logrus.WithError(err).WithField("bucket", bucket).Error("upload")
			return "", http.StatusInternalServerError, "internal server error"
		}
	}
	return storage.PublicURL(bucket, name), 0, ""
}
