// Package session issues and validates bearer-token sessions.
//
// Only the SHA-256 of a token is persisted, as the session id. A session's
// id never changes; rotation rewrites its expiry in place. Expired sessions
// are detected lazily on validation, and each user record carries a mirror
// of its sessions that is pruned on the same path.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"identity-service/internal/kv"
	"identity-service/internal/logger"
	"identity-service/internal/user"
)

const (
	keyPrefix = "token:"

	DefaultTTL           = 30 * 24 * time.Hour
	DefaultRefreshWindow = 15 * 24 * time.Hour
)

// Session represents an authenticated user session.
type Session struct {
	ID        string    // hash of the bearer token
	UserID    string    // references user.User.ID
	ExpiresAt time.Time // absolute expiry
}

type record struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Directory is the part of user.Directory the session store depends on.
type Directory interface {
	LookupByID(ctx context.Context, id string) (*user.User, error)
	AddSession(ctx context.Context, userID string, ref user.SessionRef) ([]string, error)
	RemoveSession(ctx context.Context, userID, sessionID string) error
	PruneExpiredSessions(ctx context.Context, u *user.User) ([]string, error)
}

// Result is what ValidateToken reports for a live session.
type Result struct {
	Session *Session
	User    *user.User
	Rotated bool
}

// Options tunes a Store. Zero values pick defaults.
type Options struct {
	TTL           time.Duration
	RefreshWindow time.Duration
	Now           func() time.Time
}

// Store manages sessions in the Sessions key-value store.
type Store struct {
	kv            kv.Store
	users         Directory
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

// NewStore creates a session store.
func NewStore(sessions kv.Store, users Directory, opts Options) (*Store, error) {
	if sessions == nil || users == nil {
		return nil, kv.ErrMisconfigured
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshWindow <= 0 || opts.RefreshWindow > opts.TTL {
		opts.RefreshWindow = opts.TTL / 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		kv:            sessions,
		users:         users,
		ttl:           opts.TTL,
		refreshWindow: opts.RefreshWindow,
		now:           opts.Now,
	}, nil
}

func key(id string) string {
	return keyPrefix + id
}

func (s *Store) put(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}
	return kv.PutJSON(ctx, s.kv, key(sess.ID), record{
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
	}, ttl)
}

func (s *Store) get(ctx context.Context, id string) (*Session, error) {
	var rec record
	found, err := kv.GetJSON(ctx, s.kv, key(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Session{ID: id, UserID: rec.UserID, ExpiresAt: rec.ExpiresAt}, nil
}

// CreateSession persists a session for token and mirrors it on the user.
func (s *Store) CreateSession(ctx context.Context, token, userID string) (*Session, error) {
	if token == "" || userID == "" {
		return nil, fmt.Errorf("session: missing token or user_id")
	}

	sess := &Session{
		ID:        HashToken(token),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}

	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}

	evicted, err := s.users.AddSession(ctx, userID, user.SessionRef{
		ID:        sess.ID,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		// no owner to mirror onto: do not leave a live credential behind
		_ = s.kv.Delete(ctx, key(sess.ID))
		return nil, fmt.Errorf("session: mirror on user: %w", err)
	}

	s.deleteRecords(ctx, evicted)

	logger.Info("session created", map[string]any{
		"userId":    userID,
		"sessionId": sess.ID,
		"evicted":   len(evicted),
	})
	return sess, nil
}

// ValidateToken resolves a bearer token. It returns nil, nil when the token
// does not map to a live session with an existing owner. Storage errors are
// returned as-is and must be treated as unauthenticated.
func (s *Store) ValidateToken(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, nil
	}
	id := HashToken(token)

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		if err := s.kv.Delete(ctx, key(id)); err != nil {
			return nil, err
		}
		if err := s.users.RemoveSession(ctx, sess.UserID, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	u, err := s.users.LookupByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		logger.Warn("orphaned session removed", map[string]any{
			"sessionId": id,
			"userId":    sess.UserID,
		})
		if err := s.kv.Delete(ctx, key(id)); err != nil {
			return nil, err
		}
		return nil, nil
	}

	expired, err := s.users.PruneExpiredSessions(ctx, u)
	if err != nil {
		return nil, err
	}
	s.deleteRecords(ctx, expired)

	res := &Result{Session: sess, User: u}

	if !now.Before(sess.ExpiresAt.Add(-s.refreshWindow)) {
		sess.ExpiresAt = now.Add(s.ttl).UTC()
		if err := s.put(ctx, sess); err != nil {
			return nil, err
		}
		evicted, err := s.users.AddSession(ctx, u.ID, user.SessionRef{
			ID:        id,
			ExpiresAt: sess.ExpiresAt,
		})
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			return nil, err
		}
		// re-adding a lost entry can push the list over its bound
		s.deleteRecords(ctx, evicted)
		res.Rotated = true
	}

	return res, nil
}

// InvalidateSession deletes a session by id. Unknown ids are a no-op.
func (s *Store) InvalidateSession(ctx context.Context, id string) error {
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, key(id)); err != nil {
		return err
	}

	if sess != nil {
		if err := s.users.RemoveSession(ctx, sess.UserID, id); err != nil {
			return err
		}
		logger.Info("session invalidated", map[string]any{
			"userId":    sess.UserID,
			"sessionId": id,
		})
	}
	return nil
}

// InvalidateAllForUser scans every session and deletes the user's. It costs
// O(all sessions) and is only for administrative "log out everywhere".
func (s *Store) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	keys, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, k := range keys {
		id := strings.TrimPrefix(k, keyPrefix)
		sess, err := s.get(ctx, id)
		if err != nil {
			return removed, err
		}
		if sess == nil || sess.UserID != userID {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return removed, err
		}
		if err := s.users.RemoveSession(ctx, userID, id); err != nil {
			return removed, err
		}
		removed++
	}

	logger.Info("user sessions invalidated", map[string]any{
		"userId":  userID,
		"removed": removed,
	})
	return removed, nil
}

// deleteRecords is best-effort cleanup of sessions already dropped from a
// user's mirror.
func (s *Store) deleteRecords(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.kv.Delete(ctx, key(id)); err != nil {
			logger.Warn("failed to delete session record", map[string]any{
				"sessionId": id,
				"error":     err.Error(),
			})
		}
	}
}
