// Package blob stores uploaded images by bucket and path and hands out public
// URLs for them.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/enum"
)

// MaxUploadSize bounds a single object.
const MaxUploadSize = 10 << 20

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrBadPath       = errors.New("invalid object path")
	ErrTooLarge      = fmt.Errorf("object exceeds %d bytes", MaxUploadSize)
)

// Buckets lists the buckets the service accepts.
var Buckets = []string{
	enum.BucketMenuImages,
	enum.BucketCategoryImages,
	enum.BucketOfferImages,
	enum.BucketAvatars,
}

// Storage is the blob store seen by handlers.
type Storage interface {
	Upload(ctx context.Context, bucket, objectPath string, r io.Reader) error
	PublicURL(bucket, objectPath string) string
}

// KnownBucket reports whether bucket is accepted.
func KnownBucket(bucket string) bool {
	for _, b := range Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

// RandomName returns a collision-resistant object name keeping ext.
func RandomName(ext string) (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random name: %w", err)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return hex.EncodeToString(b), nil
	}
	return hex.EncodeToString(b) + "." + ext, nil
}

// Local keeps objects on disk under root/<bucket>/<path> and serves them at
// baseURL/storage/<bucket>/<path>.
type Local struct {
	root    string
	baseURL string
}

func NewLocal(root, baseURL string) (*Local, error) {
	for _, b := range Buckets {
		if err := os.MkdirAll(filepath.Join(root, b), 0o755); err != nil {
			return nil, fmt.Errorf("create bucket dir: %w", err)
		}
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) resolve(bucket, objectPath string) (string, error) {
	if !KnownBucket(bucket) {
		return "", fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, objectPath)
	}
	return filepath.Join(l.root, bucket, filepath.FromSlash(clean[1:])), nil
}

// Upload writes r to the object, replacing any previous content.
func (l *Local) Upload(ctx context.Context, bucket, objectPath string, r io.Reader) error {
	dst, err := l.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, MaxUploadSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if n > MaxUploadSize {
		return ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store object: %w", err)
	}
	logrus.WithFields(logrus.Fields{"bucket": bucket, "path": objectPath, "bytes": n}).Debug("blob: stored object")
	return nil
}

func (l *Local) PublicURL(bucket, objectPath string) string {
	return l.baseURL + "/storage/" + url.PathEscape(bucket) + "/" + strings.TrimLeft(objectPath, "/")
}

// Handler serves stored objects. Mount it at /storage/.
func (l *Local) Handler() http.Handler {
	fs := http.FileServer(http.Dir(l.root))
	return http.StripPrefix("/storage", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No directory listings.
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}))
}
