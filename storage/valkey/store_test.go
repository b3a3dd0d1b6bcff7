package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/storagetest"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if no server answers at VALKEY_TEST_ADDR (default
// localhost:6379). Each test gets a unique prefix.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oidctest:%s:", strings.ReplaceAll(t.Name(), "/", ":"))
	store, err := New(Config{Address: addr, KeyPrefix: prefix})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})
	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store prefix.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}
		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}
		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	if err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return testStore(t)
	})
}

func TestStore_UsernameRenameReleasesIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user := &storage.User{Username: "before", PasswordHash: "x"}
	require.NoError(t, s.SaveUser(ctx, user))

	user.Username = "after"
	require.NoError(t, s.SaveUser(ctx, user))

	_, err := s.GetUserByUsername(ctx, "before")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	other := &storage.User{Username: "before", PasswordHash: "y"}
	assert.NoError(t, s.SaveUser(ctx, other), "old username should be free again")
}

func TestStore_RecordsCarryTTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveTransaction(ctx, &storage.Transaction{
		ID:        "txn-ttl",
		ExpiresAt: now.Add(10 * time.Minute),
	}))

	ttl, err := s.client.Do(ctx, s.client.B().Pttl().Key(s.transactionKey("txn-ttl")).Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0), "transaction key must expire")
	assert.LessOrEqual(t, ttl, (10*time.Minute + 5*time.Second).Milliseconds())
}

func TestStore_ConsumeKeepsTTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	code := &storage.AuthorizationCode{Code: "ttl-code", ClientID: "c", UserID: "u", ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))
	_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)

	ttl, err := s.client.Do(ctx, s.client.B().Pttl().Key(s.codeKey(code.Code)).Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0), "consumed code keeps its TTL")
}

func TestTTLFor(t *testing.T) {
	now := time.Unix(1767225600, 0)
	s := &Store{now: func() time.Time { return now }, grace: 5 * time.Second}

	assert.Equal(t, time.Duration(0), s.ttlFor(now.Add(-time.Minute)))
	assert.Equal(t, time.Minute+5*time.Second, s.ttlFor(now.Add(time.Minute)))

	s.SetClockSkew(2 * time.Minute)
	assert.Equal(t, time.Minute, s.ttlFor(now.Add(-time.Minute)), "record inside the grace window keeps a TTL")
	assert.False(t, s.expired(now.Add(-time.Minute)))
}

func TestKeySchema(t *testing.T) {
	s := &Store{prefix: "p:"}

	keys := []string{
		s.userKey("1"), s.usernameKey("alice"), s.clientKey("1"), s.clientIDKey("web"),
		s.codeKey("c"), s.tokenKey("t"), s.transactionKey("x"),
	}
	seen := map[string]bool{}
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "p:"), k)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}
