// Package client talks to the Tableside HTTP API. A Client satisfies the
// store and source interfaces the shared core is written against, so the
// CLI runs the same cart, catalog cache and lifecycle engine as the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/localstore"
	"github.com/tableside/api/internal/model"
)

const (
	// DefaultTimeout bounds every request that has no tighter deadline.
	DefaultTimeout = 15 * time.Second

	// maxErrorBodySize limits how much of an error response is read.
	maxErrorBodySize = 4096
)

// ErrTimeout is returned when the API does not answer in time.
var ErrTimeout = errors.New("operation timed out")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// knownErrors are matched against error messages so callers can test API
// failures with errors.Is like local ones.
var knownErrors = []error{
	lifecycle.ErrEmptyCart,
	lifecycle.ErrTableRequired,
	lifecycle.ErrInvalidQuantity,
	lifecycle.ErrInvalidPrice,
	lifecycle.ErrInvalidStatus,
	lifecycle.ErrInvalidTransition,
	lifecycle.ErrStatusConflict,
	lifecycle.ErrPriceChanged,
	lifecycle.ErrItemUnavailable,
	lifecycle.ErrUnknownModifier,
	lifecycle.ErrUnknownMenuItem,
	auth.ErrCredentialsRequired,
	auth.ErrWeakPassword,
	auth.ErrEmailTaken,
	auth.ErrInvalidCredentials,
	auth.ErrSessionInvalid,
	auth.ErrResetTokenInvalid,
}

// Unwrap maps the answer onto the matching sentinel error.
func (e *APIError) Unwrap() error {
	for _, known := range knownErrors {
		if strings.Contains(e.Message, known.Error()) {
			return known
		}
	}
	switch e.Status {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusForbidden:
		return lifecycle.ErrForbidden
	case http.StatusUnauthorized:
		return auth.ErrSessionInvalid
	}
	return nil
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	local      localstore.Storage

	signInTimeout time.Duration

	mu      sync.RWMutex
	session *auth.Session
}

// New creates a client for the API at baseURL. When local is non-nil the
// session is persisted there and restored on the next start.
func New(baseURL string, local localstore.Storage) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		local:      local,

		signInTimeout: SignInTimeout,
	}
	c.restoreSession()
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// do sends a JSON request and decodes a JSON answer into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
