package user

import (
	"context"
	"sort"
	"time"

	"identity-service/internal/logger"
)

// AddSession upserts a session reference on the user, dropping expired
// references on the way. When the list is over the per-user bound, the
// references closest to expiry are evicted and their ids returned so the
// caller can delete the backing sessions.
func (d *Directory) AddSession(ctx context.Context, userID string, ref SessionRef) ([]string, error) {
	var evicted []string
	var pruned int

	u, err := d.mutate(ctx, userID, "add_session", func(u *User) error {
		now := d.now()

		live, expired := splitExpired(u.Sessions, now)
		pruned = len(expired)

		kept := live[:0]
		for _, s := range live {
			if s.ID != ref.ID {
				kept = append(kept, s)
			}
		}
		kept = append(kept, ref)

		if over := len(kept) - d.maxSessions; over > 0 {
			sort.SliceStable(kept, func(i, j int) bool {
				return kept[i].ExpiresAt.Before(kept[j].ExpiresAt)
			})
			for _, s := range kept[:over] {
				evicted = append(evicted, s.ID)
			}
			kept = kept[over:]
		}

		u.Sessions = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}

	if pruned > 0 || len(evicted) > 0 {
		logger.Info("user operation", map[string]any{
			"operation":              "add_session_cleaned",
			"userId":                 userID,
			"expiredSessionsCleaned": pruned,
			"sessionsEvicted":        len(evicted),
		})
	}
	return evicted, nil
}

// RemoveSession drops one reference. A missing user or reference is a no-op.
func (d *Directory) RemoveSession(ctx context.Context, userID, sessionID string) error {
	u, err := d.LookupByID(ctx, userID)
	if err != nil || u == nil {
		return err
	}

	kept := make([]SessionRef, 0, len(u.Sessions))
	for _, s := range u.Sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(u.Sessions) {
		return nil
	}

	u.Sessions = kept
	u.UpdatedAt = d.now().UTC()
	return d.putProfile(ctx, u)
}

// PruneExpiredSessions removes expired references from an already loaded
// user and returns their ids. It writes only when something was removed.
func (d *Directory) PruneExpiredSessions(ctx context.Context, u *User) ([]string, error) {
	if u == nil || len(u.Sessions) == 0 {
		return nil, nil
	}

	live, expired := splitExpired(u.Sessions, d.now())
	if len(expired) == 0 {
		return nil, nil
	}

	logger.Info("user operation", map[string]any{
		"operation":           "clean_expired_sessions",
		"userId":              u.ID,
		"expiredSessionCount": len(expired),
	})

	u.Sessions = live
	u.UpdatedAt = d.now().UTC()
	if err := d.putProfile(ctx, u); err != nil {
		return nil, err
	}
	return expired, nil
}

func splitExpired(refs []SessionRef, now time.Time) (live []SessionRef, expired []string) {
	live = make([]SessionRef, 0, len(refs))
	for _, s := range refs {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s.ID)
			continue
		}
		live = append(live, s)
	}
	return live, expired
}
