package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/storagetest"
)

func sqliteStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "oidc.db") + "?_pragma=busy_timeout(5000)"
	s, err := Open(Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestStore_SQLiteConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return sqliteStore(t)
	})
}

// Postgres runs only when OIDC_TEST_POSTGRES_DSN points at a scratch database.
func TestStore_PostgresConformance(t *testing.T) {
	dsn := os.Getenv("OIDC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OIDC_TEST_POSTGRES_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(Config{Driver: DriverPostgres, DSN: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_PurgeExpired(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "live", ClientID: "c", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}))
	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "stale", ClientID: "c", UserID: "u", CreatedAt: now, ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
		Token: "stale-token", ClientID: "c", CreatedAt: now, ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.SaveTransaction(ctx, &storage.Transaction{
		ID: "stale-txn", CreatedAt: now, ExpiresAt: now.Add(-time.Hour),
	}))

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.GetAuthorizationCode(ctx, "live")
	assert.NoError(t, err)
	_, err = s.GetAuthorizationCode(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func TestStore_SetClockSkewWidensPurgeWindow(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now()
	s.SetClockSkew(2 * time.Minute)

	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
		Token: "recent", ClientID: "c", CreatedAt: now, ExpiresAt: now.Add(-time.Minute),
	}))

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "rows inside the grace window survive a purge")

	_, err = s.GetAccessToken(ctx, "recent")
	assert.NoError(t, err)
}

func TestStore_ExpiryWithinGrace(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
		Token: "t", ClientID: "c", CreatedAt: now, ExpiresAt: now.Add(-2 * time.Second),
	}))
	_, err := s.GetAccessToken(ctx, "t")
	assert.NoError(t, err, "token inside the grace period is still valid")

	s.now = func() time.Time { return now.Add(10 * time.Second) }
	_, err = s.GetAccessToken(ctx, "t")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
}

func TestStore_UsernameRename(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	user := &storage.User{Username: "before", PasswordHash: "x"}
	require.NoError(t, s.SaveUser(ctx, user))
	user.Username = "after"
	require.NoError(t, s.SaveUser(ctx, user))

	_, err := s.GetUserByUsername(ctx, "before")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.NoError(t, s.SaveUser(ctx, &storage.User{Username: "before", PasswordHash: "y"}))
}

func TestStore_RunCleanupStops(t *testing.T) {
	s := sqliteStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.RunCleanup(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after cancel")
	}
}

func TestStringList(t *testing.T) {
	v, err := stringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var l stringList
	require.NoError(t, l.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, stringList{"a", "b"}, l)
	assert.Error(t, l.Scan(42))
}
