package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	PasswordResetTTL  = time.Hour
)

// Errors returned by the auth service.
var (
	ErrCredentialsRequired = errors.New("email and password are required")
	ErrWeakPassword        = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken          = errors.New("an account with this email already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrSessionInvalid      = errors.New("session expired or signed out")
	ErrResetTokenInvalid   = errors.New("password reset link is invalid or expired")
)

// Auth state change types.
const (
	EventSignedIn         = "SIGNED_IN"
	EventSignedOut        = "SIGNED_OUT"
	EventTokenRefreshed   = "TOKEN_REFRESHED"
	EventUserUpdated      = "USER_UPDATED"
	EventPasswordRecovery = "PASSWORD_RECOVERY"
)

type Event struct {
	Type      string
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// Store defines the database methods needed by the auth service.
// Satisfied by *database.Queries; narrow interface for testability.
type Store interface {
	CreateAccount(ctx context.Context, email, passwordHash, fullName, role string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	CreateSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (model.AuthSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (model.AuthSession, error)
	ExtendSession(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id uuid.UUID) error
	RevokeUserSessions(ctx context.Context, userID uuid.UUID) error
	CreatePasswordReset(ctx context.Context, arg model.PasswordReset) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (model.PasswordReset, error)
}

// Session is what a successful sign-in, sign-up or refresh hands back.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionID    uuid.UUID `json:"session_id"`
	User         Identity  `json:"user"`
}

// Identity is the signed-in user as seen by callers.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	SessionID uuid.UUID `json:"-"`
}

// SignUpMeta is optional profile data collected at sign-up.
type SignUpMeta struct {
	FullName string `json:"full_name"`
}

type Service struct {
	store    Store
	secret   string
	resolver *Resolver
	mailer   Mailer
	now      func() time.Time

	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

func NewService(store Store, secret string, resolver *Resolver, mailer Mailer) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	s := &Service{
		store:     store,
		secret:    secret,
		resolver:  resolver,
		mailer:    mailer,
		now:       time.Now,
		listeners: make(map[int]func(Event)),
	}
	s.OnAuthStateChange(resolver.HandleAuthEvent)
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a customer account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string, meta SignUpMeta) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrCredentialsRequired
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateAccount(ctx, email, string(hash), strings.TrimSpace(meta.FullName), enum.RoleCustomer)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return s.startSession(ctx, user)
}

// SignIn checks the password and opens a new session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrCredentialsRequired
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(ctx, user)
}

func (s *Service) startSession(ctx context.Context, user model.User) (*Session, error) {
	sess, err := s.store.CreateSession(ctx, user.ID, s.now().Add(RefreshTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	out, err := s.issue(ctx, user, sess.ID)
	if err != nil {
		return nil, err
	}
	s.emit(Event{Type: EventSignedIn, UserID: user.ID, SessionID: sess.ID})
	return out, nil
}

func (s *Service) issue(ctx context.Context, user model.User, sessionID uuid.UUID) (*Session, error) {
	role := s.resolver.Role(ctx, user.ID, user.Email)
	access, err := GenerateToken(s.secret, user.ID, sessionID, user.Email, role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := GenerateRefreshToken(s.secret, user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(AccessTokenTTL),
		SessionID:    sessionID,
		User:         Identity{ID: user.ID, Email: user.Email, Role: role, SessionID: sessionID},
	}, nil
}

// SignOut revokes the session. Tokens issued for it stop working.
func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}
	if err := s.store.RevokeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.emit(Event{Type: EventSignedOut, UserID: sess.UserID, SessionID: sessionID})
	return nil
}

// CurrentSession validates an access token against its live session and
// returns the identity with a freshly resolved role.
func (s *Service) CurrentSession(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := ValidateToken(s.secret, accessToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if err := s.VerifySession(ctx, claims.SessionID); err != nil {
		return nil, err
	}
	return &Identity{
		ID:        claims.UserID,
		Email:     claims.Email,
		Role:      s.resolver.Role(ctx, claims.UserID, claims.Email),
		SessionID: claims.SessionID,
	}, nil
}

// VerifySession reports ErrSessionInvalid for revoked, expired or unknown
// sessions.
func (s *Service) VerifySession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrSessionInvalid
		}
		return fmt.Errorf("get session: %w", err)
	}
	if sess.RevokedAt != nil || !sess.ExpiresAt.After(s.now()) {
		return ErrSessionInvalid
	}
	return nil
}

// Refresh exchanges a refresh token for a new token pair on the same session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	userID, sessionID, err := ValidateRefreshToken(s.secret, refreshToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if err := s.VerifySession(ctx, sessionID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.store.ExtendSession(ctx, sessionID, s.now().Add(RefreshTokenTTL)); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("extend session: %w", err)
	}
	out, err := s.issue(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}
	s.emit(Event{Type: EventTokenRefreshed, UserID: userID, SessionID: sessionID})
	return out, nil
}

// RequestPasswordReset mails a one-time link to email. Unknown addresses
// succeed silently so the endpoint does not reveal which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrCredentialsRequired
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}

	token, hash, err := newResetToken()
	if err != nil {
		return err
	}
	if err := s.store.CreatePasswordReset(ctx, model.PasswordReset{
		TokenHash:  hash,
		UserID:     user.ID,
		RedirectTo: redirectTo,
		ExpiresAt:  s.now().Add(PasswordResetTTL),
	}); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := resetLink(redirectTo, token)
	body := fmt.Sprintf("Follow this link to choose a new password:\n\n%s\n\nThe link expires in one hour.", link)
	if err := s.mailer.Send(ctx, user.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	s.emit(Event{Type: EventPasswordRecovery, UserID: user.ID})
	return nil
}

// ResetPassword sets a new password using a reset token and signs the user
// out everywhere.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return ErrCredentialsRequired
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	reset, err := s.store.ConsumePasswordReset(ctx, hashToken(token), s.now())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, reset.UserID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.RevokeUserSessions(ctx, reset.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", reset.UserID).Warn("auth: revoke sessions after reset")
	}
	s.emit(Event{Type: EventUserUpdated, UserID: reset.UserID})
	return nil
}

// OnAuthStateChange registers fn for sign-in, sign-out, refresh and profile
// events. It returns the unsubscribe function.
func (s *Service) OnAuthStateChange(fn func(Event)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// NotifyUserUpdated announces a profile change, e.g. a role update.
func (s *Service) NotifyUserUpdated(userID uuid.UUID) {
	s.emit(Event{Type: EventUserUpdated, UserID: userID})
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// --- Helpers ---

func newResetToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetLink(redirectTo, token string) string {
	u, err := url.Parse(redirectTo)
	if err != nil || redirectTo == "" {
		return "token=" + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
