package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/enum"
)

// SignInTimeout bounds a sign-in round trip.
const SignInTimeout = 8 * time.Second

// Token returns the current access token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// SignIn exchanges credentials for a session. If the API does not answer
// within SignInTimeout the client checks whether a stored session is still
// valid and, if so, carries on with it.
func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	signCtx, cancel := context.WithTimeout(ctx, c.signInTimeout)
	defer cancel()

	var sess auth.Session
	err := c.do(signCtx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &sess)
	if err == nil {
		c.setSession(&sess)
		return &sess, nil
	}
	if !errors.Is(err, ErrTimeout) && !errors.Is(signCtx.Err(), context.DeadlineExceeded) {
		return nil, err
	}

	logrus.WithField("email", email).Warn("sign-in timed out, checking for an existing session")
	existing := c.Session()
	if existing == nil {
		return nil, ErrTimeout
	}
	checkCtx, cancelCheck := context.WithTimeout(ctx, c.signInTimeout)
	defer cancelCheck()
	if _, err := c.CurrentSession(checkCtx); err != nil {
		return nil, ErrTimeout
	}
	return existing, nil
}

// SignUp creates a customer account and signs it in.
func (c *Client) SignUp(ctx context.Context, email, password, fullName string) (*auth.Session, error) {
	var sess auth.Session
	body := map[string]string{"email": email, "password": password, "full_name": fullName}
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, &sess); err != nil {
		return nil, err
	}
	c.setSession(&sess)
	return &sess, nil
}

// SignOut revokes the session on the server and forgets it locally. The local
// copy is dropped even when the server cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.setSession(nil)
	return err
}

// CurrentSession asks the server who the caller is. The role in the answer
// is resolved server-side.
func (c *Client) CurrentSession(ctx context.Context) (*auth.Identity, error) {
	if c.Token() == "" {
		return nil, auth.ErrSessionInvalid
	}
	var ident auth.Identity
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

// Refresh trades the refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) (*auth.Session, error) {
	current := c.Session()
	if current == nil {
		return nil, auth.ErrSessionInvalid
	}
	var sess auth.Session
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": current.RefreshToken}, &sess); err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			c.setSession(nil)
		}
		return nil, err
	}
	c.setSession(&sess)
	return &sess, nil
}

// RequestPasswordReset asks the server to mail a reset link.
func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	return c.do(ctx, http.MethodPost, "/auth/password-reset", map[string]string{"email": email, "redirect_to": redirectTo}, nil)
}

// ResetPassword sets a new password from a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/auth/password-reset/confirm", map[string]string{"token": token, "password": newPassword}, nil)
}

// IsOwner reports whether the signed-in user is an owner according to the
// server. It only gates what the CLI offers; the server checks again.
func (c *Client) IsOwner(ctx context.Context, userID uuid.UUID, _ string) bool {
	ident, err := c.CurrentSession(ctx)
	if err != nil {
		logrus.WithError(err).Debug("client: role check")
		return false
	}
	return ident.ID == userID && ident.Role == enum.RoleOwner
}

func (c *Client) setSession(s *auth.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if c.local == nil {
		return
	}
	value := ""
	if s != nil {
		b, err := json.Marshal(s)
		if err != nil {
			logrus.WithError(err).Warn("client: encode session")
			return
		}
		value = string(b)
	}
	if err := c.local.Set(enum.StorageKeySession, value); err != nil {
		logrus.WithError(err).Warn("client: store session")
	}
}

func (c *Client) restoreSession() {
	if c.local == nil {
		return
	}
	raw, ok, err := c.local.Get(enum.StorageKeySession)
	if err != nil || !ok || raw == "" {
		return
	}
	var s auth.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		logrus.WithError(err).Warn("client: discarding unreadable session")
		return
	}
	c.session = &s
}
