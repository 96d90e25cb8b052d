package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/model"
)

// DefaultRoleLookupTimeout bounds the profile lookup.
const DefaultRoleLookupTimeout = 4 * time.Second

// RoleStore is the lookup the resolver needs.
// Satisfied by *database.Queries.
type RoleStore interface {
	GetProfileRole(ctx context.Context, id uuid.UUID) (string, error)
}

// Resolver decides whether a user is an owner or a customer. Identities on
// the bootstrap list are owners without a profile; everyone else is resolved
// from their profile, with the answer cached until sign-out.
type Resolver struct {
	store   RoleStore
	timeout time.Duration

	mu     sync.RWMutex
	owners map[string]bool
	cache  map[uuid.UUID]string
}

func NewResolver(store RoleStore, bootstrapOwners []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultRoleLookupTimeout
	}
	r := &Resolver{
		store:   store,
		timeout: timeout,
		cache:   make(map[uuid.UUID]string),
	}
	r.SetBootstrapOwners(bootstrapOwners)
	return r
}

// SetBootstrapOwners replaces the allow-list. Entries are e-mails or user IDs.
func (r *Resolver) SetBootstrapOwners(list []string) {
	owners := make(map[string]bool, len(list))
	for _, v := range list {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			owners[v] = true
		}
	}
	r.mu.Lock()
	r.owners = owners
	r.mu.Unlock()
}

func (r *Resolver) isBootstrapOwner(userID uuid.UUID, email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if email != "" && r.owners[strings.ToLower(strings.TrimSpace(email))] {
		return true
	}
	return userID != uuid.Nil && r.owners[userID.String()]
}

// Role resolves the user's role. A lookup that fails or outlasts the timeout
// yields customer and is not cached.
func (r *Resolver) Role(ctx context.Context, userID uuid.UUID, email string) string {
	if r.isBootstrapOwner(userID, email) {
		return enum.RoleOwner
	}
	if userID == uuid.Nil {
		return enum.RoleCustomer
	}

	r.mu.RLock()
	cached, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		role string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		role, err := r.store.GetProfileRole(lookupCtx, userID)
		ch <- result{role, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-lookupCtx.Done():
		res = result{err: lookupCtx.Err()}
	}

	if res.err != nil {
		if !errors.Is(res.err, model.ErrNotFound) {
			logrus.WithError(res.err).WithField("user_id", userID).Warn("auth: role lookup failed, using customer")
		}
		return enum.RoleCustomer
	}
	if res.role != enum.RoleOwner && res.role != enum.RoleCustomer {
		return enum.RoleCustomer
	}

	r.mu.Lock()
	r.cache[userID] = res.role
	r.mu.Unlock()
	return res.role
}

func (r *Resolver) IsOwner(ctx context.Context, userID uuid.UUID, email string) bool {
	return r.Role(ctx, userID, email) == enum.RoleOwner
}

// Invalidate drops the cached role for userID.
func (r *Resolver) Invalidate(userID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// HandleAuthEvent clears cached roles when a user signs out or their profile
// changes. Register it with Service.OnAuthStateChange.
func (r *Resolver) HandleAuthEvent(ev Event) {
	switch ev.Type {
	case EventSignedOut, EventUserUpdated:
		r.Invalidate(ev.UserID)
	}
}
