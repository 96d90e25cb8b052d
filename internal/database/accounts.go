package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tableside/api/internal/model"
)

// ── Users ──

func (q *Queries) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES (lower($1), $2)
		 RETURNING id, email, password_hash, created_at`,
		email, passwordHash).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, mapErr("create user", err)
}

// CreateAccount inserts a user and its profile in one statement.
func (q *Queries) CreateAccount(ctx context.Context, email, passwordHash, fullName, role string) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx,
		`WITH u AS (
		     INSERT INTO users (email, password_hash) VALUES (lower($1), $2)
		     RETURNING id, email, password_hash, created_at
		 ), p AS (
		     INSERT INTO profiles (id, full_name, role) SELECT id, $3, $4 FROM u
		 )
		 SELECT id, email, password_hash, created_at FROM u`,
		email, passwordHash, fullName, role).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, mapErr("create account", err)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = lower($1)`,
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, mapErr("get user by email", err)
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`,
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, mapErr("get user", err)
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return mapErr("update password", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("update password", pgx.ErrNoRows)
	}
	return nil
}

// ── Profiles ──

const profileSelect = `
SELECT p.id, u.email, p.full_name, p.avatar_url, p.role, p.created_at
FROM profiles p
JOIN users u ON u.id = p.id`

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.Role, &p.CreatedAt)
	return p, err
}

func (q *Queries) CreateProfile(ctx context.Context, id uuid.UUID, fullName, role string) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO profiles (id, full_name, role) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, fullName, role)
	return mapErr("create profile", err)
}

func (q *Queries) GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	p, err := scanProfile(q.db.QueryRow(ctx, profileSelect+` WHERE p.id = $1`, id))
	return p, mapErr("get profile", err)
}

// GetProfileRole is the narrow lookup used by role resolution.
func (q *Queries) GetProfileRole(ctx context.Context, id uuid.UUID) (string, error) {
	var role string
	err := q.db.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, id).Scan(&role)
	return role, mapErr("get profile role", err)
}

func (q *Queries) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := q.db.Query(ctx, profileSelect+` ORDER BY p.created_at`)
	if err != nil {
		return nil, mapErr("list profiles", err)
	}
	defer rows.Close()

	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, mapErr("scan profile", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, mapErr("list profiles", rows.Err())
}

type UpdateProfileParams struct {
	ID        uuid.UUID
	FullName  string
	AvatarURL *string
}

func (q *Queries) UpdateProfile(ctx context.Context, arg UpdateProfileParams) (model.Profile, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE profiles SET full_name = $2, avatar_url = $3 WHERE id = $1`,
		arg.ID, arg.FullName, arg.AvatarURL)
	if err != nil {
		return model.Profile{}, mapErr("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Profile{}, mapErr("update profile", pgx.ErrNoRows)
	}
	return q.GetProfile(ctx, arg.ID)
}

func (q *Queries) UpdateProfileRole(ctx context.Context, id uuid.UUID, role string) (model.Profile, error) {
	tag, err := q.db.Exec(ctx, `UPDATE profiles SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return model.Profile{}, mapErr("update role", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Profile{}, mapErr("update role", pgx.ErrNoRows)
	}
	return q.GetProfile(ctx, id)
}

// ── Sessions ──

func scanSession(row pgx.Row) (model.AuthSession, error) {
	var (
		s       model.AuthSession
		revoked pgtype.Timestamptz
	)
	err := row.Scan(&s.ID, &s.UserID, &s.ExpiresAt, &revoked, &s.CreatedAt)
	if revoked.Valid {
		t := revoked.Time
		s.RevokedAt = &t
	}
	return s, err
}

func (q *Queries) CreateSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (model.AuthSession, error) {
	s, err := scanSession(q.db.QueryRow(ctx,
		`INSERT INTO auth_sessions (user_id, expires_at) VALUES ($1, $2)
		 RETURNING id, user_id, expires_at, revoked_at, created_at`,
		userID, expiresAt))
	return s, mapErr("create session", err)
}

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (model.AuthSession, error) {
	s, err := scanSession(q.db.QueryRow(ctx,
		`SELECT id, user_id, expires_at, revoked_at, created_at FROM auth_sessions WHERE id = $1`, id))
	return s, mapErr("get session", err)
}

func (q *Queries) ExtendSession(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE auth_sessions SET expires_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, expiresAt)
	if err != nil {
		return mapErr("extend session", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("extend session", pgx.ErrNoRows)
	}
	return nil
}

// RevokeSession is idempotent; revoking twice keeps the first timestamp.
func (q *Queries) RevokeSession(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	return mapErr("revoke session", err)
}

func (q *Queries) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return mapErr("revoke user sessions", err)
}

// ── Password resets ──

func (q *Queries) CreatePasswordReset(ctx context.Context, arg model.PasswordReset) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO password_resets (token_hash, user_id, redirect_to, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		arg.TokenHash, arg.UserID, arg.RedirectTo, arg.ExpiresAt)
	return mapErr("create password reset", err)
}

// ConsumePasswordReset marks an unused, unexpired token as used and returns it.
func (q *Queries) ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (model.PasswordReset, error) {
	var (
		r    model.PasswordReset
		used pgtype.Timestamptz
	)
	err := q.db.QueryRow(ctx,
		`UPDATE password_resets SET used_at = $2
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		 RETURNING token_hash, user_id, redirect_to, expires_at, used_at`,
		tokenHash, pgTime(&now)).Scan(&r.TokenHash, &r.UserID, &r.RedirectTo, &r.ExpiresAt, &used)
	if used.Valid {
		t := used.Time
		r.UsedAt = &t
	}
	return r, mapErr("consume password reset", err)
}
