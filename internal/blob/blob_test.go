package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableside/api/internal/blob"
	"github.com/tableside/api/internal/enum"
)

func TestUploadAndServe(t *testing.T) {
	store, err := blob.NewLocal(t.TempDir(), "http://api.test/")
	require.NoError(t, err)

	err = store.Upload(context.Background(), enum.BucketMenuImages, "burger.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "http://api.test/storage/menu-images/burger.png", store.PublicURL(enum.BucketMenuImages, "burger.png"))

	rr := httptest.NewRecorder()
	store.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/storage/menu-images/burger.png", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "png-bytes", rr.Body.String())
}

func TestUploadRejectsBadInput(t *testing.T) {
	store, err := blob.NewLocal(t.TempDir(), "http://api.test")
	require.NoError(t, err)
	ctx := context.Background()

	err = store.Upload(ctx, "secrets", "a.png", strings.NewReader("x"))
	assert.True(t, errors.Is(err, blob.ErrUnknownBucket), "got %v", err)

	err = store.Upload(ctx, enum.BucketAvatars, "../escape.png", strings.NewReader("x"))
	assert.True(t, errors.Is(err, blob.ErrBadPath), "got %v", err)

	big := io.LimitReader(bytes.NewReader(make([]byte, blob.MaxUploadSize+10)), blob.MaxUploadSize+10)
	err = store.Upload(ctx, enum.BucketAvatars, "big.png", big)
	assert.True(t, errors.Is(err, blob.ErrTooLarge), "got %v", err)
}

func TestNoDirectoryListing(t *testing.T) {
	store, err := blob.NewLocal(t.TempDir(), "http://api.test")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	store.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/storage/avatars/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRandomName(t *testing.T) {
	a, err := blob.RandomName(".JPG")
	require.NoError(t, err)
	b, err := blob.RandomName("jpg")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.NotEqual(t, a, b)
}
