// Package user is the directory of identities: profile records plus the
// username and external-identity indexes that point at them.
//
// Profiles and indexes live under separate keys and are written without a
// transaction. Every read that dereferences an index therefore checks that
// the profile still exists and still carries the indexed value; anything
// else is reported as not found. Concurrent read-modify-write of one profile
// is last-writer-wins.
package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"identity-service/internal/kv"
	"identity-service/internal/logger"

	"github.com/google/uuid"
)

// ErrNotFound is returned by mutations of the session mirror when the
// owning user does not exist. Lookups report a miss as nil, nil instead.
var ErrNotFound = errors.New("user: not found")

const (
	profilePrefix       = "profile:"
	usernameIndexPrefix = "index:username:"
	externalIndexPrefix = "index:external:"

	DefaultMaxSessions = 32
)

func profileKey(id string) string {
	return profilePrefix + id
}

func usernameKey(username string) string {
	return usernameIndexPrefix + normalizeUsername(username)
}

func externalKey(source AuthSource, externalID string) string {
	return externalIndexPrefix + string(source) + ":" + externalID
}

// Options tunes a Directory. Zero values pick defaults.
type Options struct {
	MaxSessions int
	Now         func() time.Time
}

// Directory owns user profiles and their secondary indexes.
type Directory struct {
	store       kv.Store
	maxSessions int
	now         func() time.Time
}

// NewDirectory creates a Directory over the Users store.
func NewDirectory(store kv.Store, opts Options) (*Directory, error) {
	if store == nil {
		return nil, kv.ErrMisconfigured
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Directory{
		store:       store,
		maxSessions: opts.MaxSessions,
		now:         opts.Now,
	}, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// CreateUser registers a user who has just completed a provider login.
// An empty role defaults to reader.
func (d *Directory) CreateUser(
	ctx context.Context,
	source AuthSource,
	externalID string,
	email string,
	username string,
	role Role,
) (*User, error) {

	if externalID == "" {
		return nil, fmt.Errorf("user: external id is required")
	}
	if role == "" {
		role = RoleReader
	}

	now := d.now().UTC()
	u := &User{
		ID:         newID(),
		Username:   username,
		Email:      email,
		Role:       role,
		AuthSource: source,
		ExternalID: externalID,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := d.create(ctx, u, "create_user"); err != nil {
		return nil, err
	}
	return u, nil
}

// CreatePreRegisteredUser adds a user ahead of their first login. The
// external id stays empty until LinkExternalIdentity.
func (d *Directory) CreatePreRegisteredUser(
	ctx context.Context,
	username string,
	email string,
	role Role,
	source AuthSource,
) (*User, error) {

	now := d.now().UTC()
	u := &User{
		ID:         newID(),
		Username:   username,
		Email:      email,
		Role:       role,
		AuthSource: source,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := d.create(ctx, u, "create_preregistered_user"); err != nil {
		return nil, err
	}
	return u, nil
}

func (d *Directory) create(ctx context.Context, u *User, op string) error {
	if err := ValidateUsername(u.Username); err != nil {
		return err
	}
	if !u.Role.IsValid() {
		return ErrInvalidRole
	}
	if !u.AuthSource.IsValid() {
		return ErrInvalidAuthSource
	}

	logger.Info("user operation", map[string]any{
		"operation":  op,
		"username":   u.Username,
		"role":       u.Role,
		"authSource": u.AuthSource,
	})

	// best-effort uniqueness; see claimUsername for the race window
	taken, err := d.LookupByUsername(ctx, u.Username)
	if err != nil {
		return err
	}
	if taken != nil {
		if !sameIdentity(taken, u) {
			return ErrConflict
		}
		// a retry after a create that stopped short of the external index
		if err := d.putExternalIndex(ctx, taken); err != nil {
			return err
		}
		logger.Info("user operation", map[string]any{
			"operation": op + "_repaired",
			"userId":    taken.ID,
			"username":  taken.Username,
		})
		*u = *taken
		return nil
	}
	if u.ExternalID != "" {
		linked, err := d.LookupByExternalID(ctx, u.AuthSource, u.ExternalID)
		if err != nil {
			return err
		}
		if linked != nil {
			return fmt.Errorf("%w: external identity already linked", ErrConflict)
		}
	}

	// profile first: an index must never be the only trace of a user
	if err := d.putProfile(ctx, u); err != nil {
		return err
	}

	if err := d.claimUsername(ctx, u); err != nil {
		return err
	}

	if u.ExternalID != "" {
		if err := d.putExternalIndex(ctx, u); err != nil {
			return err
		}
	}

	logger.Info("user operation", map[string]any{
		"operation": op + "_success",
		"userId":    u.ID,
		"username":  u.Username,
	})
	return nil
}

// claimUsername writes the username index. Backends with an atomic
// put-if-absent make a concurrent duplicate lose cleanly; elsewhere the last
// writer wins and the earlier profile is left without a username index.
func (d *Directory) claimUsername(ctx context.Context, u *User) error {
	key := usernameKey(u.Username)
	value := []byte(u.ID)

	claimer, ok := d.store.(kv.Claimer)
	if !ok {
		if err := d.store.Put(ctx, key, value, 0); err != nil {
			return fmt.Errorf("user: write username index: %w", err)
		}
		return nil
	}

	won, err := claimer.PutIfAbsent(ctx, key, value, 0)
	if err != nil {
		return fmt.Errorf("user: claim username index: %w", err)
	}
	if won {
		return nil
	}

	owner, err := d.LookupByUsername(ctx, u.Username)
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != u.ID {
		_ = d.store.Delete(ctx, profileKey(u.ID))
		logger.Warn("user operation", map[string]any{
			"operation": "create_user_conflict",
			"username":  u.Username,
		})
		return ErrConflict
	}

	// the index was dangling
	if err := d.store.Put(ctx, key, value, 0); err != nil {
		return fmt.Errorf("user: write username index: %w", err)
	}
	return nil
}

func sameIdentity(a, b *User) bool {
	return b.ExternalID != "" && a.ExternalID == b.ExternalID && a.AuthSource == b.AuthSource
}

func (d *Directory) putExternalIndex(ctx context.Context, u *User) error {
	if err := d.store.Put(ctx, externalKey(u.AuthSource, u.ExternalID), []byte(u.ID), 0); err != nil {
		return fmt.Errorf("user: write external index: %w", err)
	}
	return nil
}

func (d *Directory) putProfile(ctx context.Context, u *User) error {
	if err := kv.PutJSON(ctx, d.store, profileKey(u.ID), u, 0); err != nil {
		return fmt.Errorf("user: write profile: %w", err)
	}
	return nil
}

// LookupByID returns the user or nil when absent.
func (d *Directory) LookupByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	var u User
	found, err := kv.GetJSON(ctx, d.store, profileKey(id), &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}

// LookupByUsername resolves a username case-insensitively.
func (d *Directory) LookupByUsername(ctx context.Context, username string) (*User, error) {
	u, err := d.resolveIndex(ctx, usernameKey(username))
	if err != nil || u == nil {
		return nil, err
	}
	if normalizeUsername(u.Username) != normalizeUsername(username) {
		return nil, nil
	}
	return u, nil
}

// LookupByExternalID resolves a provider identity.
func (d *Directory) LookupByExternalID(ctx context.Context, source AuthSource, externalID string) (*User, error) {
	if externalID == "" {
		return nil, nil
	}
	u, err := d.resolveIndex(ctx, externalKey(source, externalID))
	if err != nil || u == nil {
		return nil, err
	}
	if u.AuthSource != source || u.ExternalID != externalID {
		return nil, nil
	}
	return u, nil
}

func (d *Directory) resolveIndex(ctx context.Context, key string) (*User, error) {
	id, found, err := kv.GetString(ctx, d.store, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	u, err := d.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		logger.Warn("user operation", map[string]any{
			"operation": "dangling_index",
			"key":       key,
			"userId":    id,
		})
	}
	return u, nil
}

// mutate runs a read-modify-write on one profile. It returns nil, nil when
// the user does not exist.
func (d *Directory) mutate(ctx context.Context, id, op string, fn func(u *User) error) (*User, error) {
	u, err := d.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		logger.Warn("user operation", map[string]any{
			"operation": op + "_not_found",
			"userId":    id,
		})
		return nil, nil
	}

	if err := fn(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = d.now().UTC()

	if err := d.putProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateRole changes a user's role.
func (d *Directory) UpdateRole(ctx context.Context, id string, role Role) (*User, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var oldRole Role
	u, err := d.mutate(ctx, id, "update_user_role", func(u *User) error {
		oldRole = u.Role
		u.Role = role
		return nil
	})
	if err != nil || u == nil {
		return u, err
	}

	logger.Info("user operation", map[string]any{
		"operation": "update_user_role_success",
		"userId":    id,
		"oldRole":   oldRole,
		"newRole":   role,
	})
	return u, nil
}

// SetActive deactivates or reactivates a user. Inactive users cannot start
// new sessions.
func (d *Directory) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	u, err := d.mutate(ctx, id, "set_user_active", func(u *User) error {
		u.IsActive = active
		return nil
	})
	if err != nil || u == nil {
		return u, err
	}

	logger.Info("user operation", map[string]any{
		"operation": "set_user_active_success",
		"userId":    id,
		"isActive":  active,
	})
	return u, nil
}

// LinkExternalIdentity records the provider identity of a pre-registered
// user on first login and refreshes the email. Linking from a provider other
// than the user's configured auth source is refused.
func (d *Directory) LinkExternalIdentity(
	ctx context.Context,
	id string,
	source AuthSource,
	externalID string,
	email string,
) (*User, error) {

	if externalID == "" {
		return nil, fmt.Errorf("user: external id is required")
	}

	u, err := d.mutate(ctx, id, "link_external_identity", func(u *User) error {
		if u.AuthSource != source {
			return ErrInvalidAuthSource
		}
		u.ExternalID = externalID
		u.Email = email
		return nil
	})
	if err != nil || u == nil {
		return u, err
	}

	if err := d.putExternalIndex(ctx, u); err != nil {
		return nil, err
	}

	logger.Info("user operation", map[string]any{
		"operation": "link_external_identity_success",
		"userId":    id,
		"username":  u.Username,
	})
	return u, nil
}

// ListAll scans every profile, newest first. It is O(users) and meant for
// administrative use only.
func (d *Directory) ListAll(ctx context.Context) ([]*User, error) {
	keys, err := d.store.List(ctx, profilePrefix)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(keys))
	for _, key := range keys {
		u, err := d.LookupByID(ctx, strings.TrimPrefix(key, profilePrefix))
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, u)
		}
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

// DeleteUser removes the profile and then its indexes. Sessions are not
// touched; SessionStore drops them when it finds the owner missing.
func (d *Directory) DeleteUser(ctx context.Context, id string) (bool, error) {
	u, err := d.LookupByID(ctx, id)
	if err != nil {
		return false, err
	}
	if u == nil {
		logger.Warn("user operation", map[string]any{
			"operation": "delete_user_not_found",
			"userId":    id,
		})
		return false, nil
	}

	if err := d.store.Delete(ctx, profileKey(id)); err != nil {
		return false, fmt.Errorf("user: delete profile: %w", err)
	}

	if err := d.deleteIndexIfOwned(ctx, usernameKey(u.Username), id); err != nil {
		return false, err
	}
	if u.ExternalID != "" {
		if err := d.deleteIndexIfOwned(ctx, externalKey(u.AuthSource, u.ExternalID), id); err != nil {
			return false, err
		}
	}

	logger.Info("user operation", map[string]any{
		"operation": "delete_user_success",
		"userId":    id,
		"username":  u.Username,
	})
	return true, nil
}

// deleteIndexIfOwned leaves an index alone if it was re-claimed by another
// user in the meantime.
func (d *Directory) deleteIndexIfOwned(ctx context.Context, key, id string) error {
	owner, found, err := kv.GetString(ctx, d.store, key)
	if err != nil {
		return err
	}
	if !found || owner != id {
		return nil
	}
	if err := d.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("user: delete index: %w", err)
	}
	return nil
}
