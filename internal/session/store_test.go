package session

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/kv"
	"identity-service/internal/logger"
	"identity-service/internal/user"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	now      time.Time
	users    *kv.MemoryStore
	sessions *kv.MemoryStore
	dir      *user.Directory
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.users = kv.NewMemoryStore()
	f.users.Now = clock
	f.sessions = kv.NewMemoryStore()
	f.sessions.Now = clock

	dir, err := user.NewDirectory(f.users, user.Options{MaxSessions: 4, Now: clock})
	require.NoError(t, err)
	f.dir = dir

	store, err := NewStore(f.sessions, dir, Options{
		TTL:           DefaultTTL,
		RefreshWindow: DefaultRefreshWindow,
		Now:           clock,
	})
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *fixture) user(t *testing.T, name string) *user.User {
	t.Helper()
	u, err := f.dir.CreateUser(context.Background(), user.AuthSourceGitHub, name+"-id", name+"@example.com", name, user.RoleReader)
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, u *user.User) (string, *Session) {
	t.Helper()
	token, err := GenerateToken()
	require.NoError(t, err)
	sess, err := f.store.CreateSession(context.Background(), token, u.ID)
	require.NoError(t, err)
	return token, sess
}

func (f *fixture) mirror(t *testing.T, userID string) []string {
	t.Helper()
	u, err := f.dir.LookupByID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	ids := make([]string, 0, len(u.Sessions))
	for _, s := range u.Sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestNewStore_RequiresBindings(t *testing.T) {
	_, err := NewStore(nil, nil, Options{})
	assert.ErrorIs(t, err, kv.ErrMisconfigured)
}

func TestCreateSession_StoresHashOnly(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	assert.Equal(t, HashToken(token), sess.ID)
	assert.Equal(t, f.now.Add(30*24*time.Hour), sess.ExpiresAt)

	keys, err := f.sessions.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"token:" + sess.ID}, keys)

	raw, err := f.sessions.Get(context.Background(), keys[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), token)

	assert.Equal(t, []string{sess.ID}, f.mirror(t, u.ID))
}

func TestCreateSession_UnknownUserLeavesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.CreateSession(context.Background(), "tok", "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestValidateToken_FreshSessionIsNotRotated(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, sess.ExpiresAt, res.Session.ExpiresAt)
	assert.False(t, res.Rotated)
}

func TestValidateToken_UnknownToken(t *testing.T) {
	f := newFixture(t)

	res, err := f.store.ValidateToken(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.store.ValidateToken(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestValidateToken_RotatesInSecondHalfOfLifetime(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	f.now = f.now.Add(16 * 24 * time.Hour)

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rotated)
	assert.Equal(t, sess.ID, res.Session.ID)
	assert.True(t, res.Session.ExpiresAt.After(sess.ExpiresAt))
	assert.Equal(t, f.now.Add(30*24*time.Hour), res.Session.ExpiresAt)

	// the next call sees the new expiry and does not rotate again
	again, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.False(t, again.Rotated)
	assert.Equal(t, res.Session.ExpiresAt, again.Session.ExpiresAt)

	// the mirror follows the rotation without duplicating the entry
	assert.Equal(t, []string{sess.ID}, f.mirror(t, u.ID))

	// the rotated record outlives the original expiry
	f.now = sess.ExpiresAt.Add(time.Hour)
	later, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.NotNil(t, later)
}

func TestValidateToken_ExpiredIsRejectedAndPurged(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	// write the record without TTL so the store's own expiry check is hit
	require.NoError(t, kv.PutJSON(context.Background(), f.sessions, key(sess.ID), record{
		UserID:    u.ID,
		ExpiresAt: sess.ExpiresAt,
	}, 0))

	f.now = sess.ExpiresAt

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, res)

	raw, err := f.sessions.Get(context.Background(), key(sess.ID))
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Empty(t, f.mirror(t, u.ID))

	res, err = f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestValidateToken_OrphanedSessionIsRemoved(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	ok, err := f.dir.DeleteUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, res)

	raw, err := f.sessions.Get(context.Background(), key(sess.ID))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestValidateToken_PrunesOtherExpiredMirrorEntries(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")

	// a stale mirror entry whose backing record still exists without TTL
	staleID := "stale"
	_, err := f.dir.AddSession(context.Background(), u.ID, user.SessionRef{ID: staleID, ExpiresAt: f.now.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, kv.PutJSON(context.Background(), f.sessions, key(staleID), record{UserID: u.ID, ExpiresAt: f.now.Add(time.Hour)}, 0))

	token, sess := f.login(t, u)
	f.now = f.now.Add(2 * time.Hour)

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{sess.ID}, f.mirror(t, u.ID))
	raw, err := f.sessions.Get(context.Background(), key(staleID))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestCreateSession_EvictedSessionsStopValidating(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")

	var tokens []string
	for i := 0; i < 5; i++ {
		token, _ := f.login(t, u)
		tokens = append(tokens, token)
		f.now = f.now.Add(time.Minute)
	}

	res, err := f.store.ValidateToken(context.Background(), tokens[0])
	require.NoError(t, err)
	assert.Nil(t, res, "oldest session evicted over the per-user bound")

	for _, token := range tokens[1:] {
		res, err := f.store.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.NotNil(t, res)
	}
	assert.Len(t, f.mirror(t, u.ID), 4)
}

func TestValidateToken_RotationAtBoundDeletesEvictedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")

	tokens := make([]string, 4)
	ids := make([]string, 4)
	for i := range tokens {
		var sess *Session
		tokens[i], sess = f.login(t, u)
		ids[i] = sess.ID
		f.now = f.now.Add(time.Hour)
	}

	// session 3 lost its mirror entry to a concurrent profile write
	require.NoError(t, f.dir.RemoveSession(ctx, u.ID, ids[3]))
	_, fifth := f.login(t, u)
	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[2], fifth.ID}, f.mirror(t, u.ID))

	f.now = f.now.Add(16 * 24 * time.Hour)
	res, err := f.store.ValidateToken(ctx, tokens[3])
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rotated)

	mirror := f.mirror(t, u.ID)
	assert.Len(t, mirror, 4)
	assert.Contains(t, mirror, ids[3])
	assert.NotContains(t, mirror, ids[0])

	raw, err := f.sessions.Get(ctx, key(ids[0]))
	require.NoError(t, err)
	assert.Nil(t, raw, "evicted session record must be deleted")

	gone, err := f.store.ValidateToken(ctx, tokens[0])
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestInvalidateSession(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "alice")
	token, sess := f.login(t, u)

	require.NoError(t, f.store.InvalidateSession(context.Background(), sess.ID))

	res, err := f.store.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, f.mirror(t, u.ID))

	require.NoError(t, f.store.InvalidateSession(context.Background(), sess.ID))
	require.NoError(t, f.store.InvalidateSession(context.Background(), "does-not-exist"))
}

func TestInvalidateAllForUser(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	a1, _ := f.login(t, alice)
	a2, _ := f.login(t, alice)
	b1, _ := f.login(t, bob)

	removed, err := f.store.InvalidateAllForUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, token := range []string{a1, a2} {
		res, err := f.store.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Nil(t, res)
	}

	res, err := f.store.ValidateToken(context.Background(), b1)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, f.mirror(t, alice.ID))
}

type failingStore struct {
	kv.Store
	err error
}

func (s failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, s.err
}

func TestValidateToken_StorageErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("store unavailable")

	store, err := NewStore(failingStore{Store: f.sessions, err: boom}, f.dir, Options{})
	require.NoError(t, err)

	res, err := store.ValidateToken(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}
