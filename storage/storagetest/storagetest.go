// Package storagetest holds the behaviour every storage.Store implementation
// must satisfy. Backend test files call Run with a constructor.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/storage"
)

// Factory returns a fresh, empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Clients", func(t *testing.T) { testClients(t, newStore(t)) })
	t.Run("AuthorizationCodes", func(t *testing.T) { testCodes(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("AccessTokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

// unique keeps suites independent when a backend is shared between runs.
func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	user := &storage.User{
		Username:     unique("alice"),
		PasswordHash: "$2a$04$hash",
		FirstName:    "Alice",
		LastName:     "Liddell",
	}
	require.NoError(t, s.SaveUser(ctx, user))
	require.NotEmpty(t, user.ID, "SaveUser should assign an ID")

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)
	assert.Equal(t, "Alice", got.FirstName)

	byName, err := s.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = s.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByUsername(ctx, unique("nobody"))
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	dup := &storage.User{Username: user.Username, PasswordHash: "x"}
	err = s.SaveUser(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	user.LastName = "Pleasance"
	require.NoError(t, s.SaveUser(ctx, user))
	got, err = s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pleasance", got.LastName)
}

func testClients(t *testing.T, s storage.Store) {
	ctx := context.Background()

	client := &storage.Client{
		ClientID:         unique("web"),
		ClientSecretHash: "$2a$04$hash",
		Name:             "Web App",
		RedirectURIs:     []string{"https://app.example.com/cb", "http://localhost:3000/cb"},
	}
	require.NoError(t, s.SaveClient(ctx, client))
	require.NotEmpty(t, client.ID)

	got, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)

	got.RedirectURIs[0] = "https://mutated.example.com"
	again, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", again.RedirectURIs[0], "returned client must be a copy")

	byClientID, err := s.GetClientByClientID(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ID, byClientID.ID)

	_, err = s.GetClientByClientID(ctx, unique("unknown"))
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	_, err = s.GetClient(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	err = s.SaveClient(ctx, &storage.Client{ClientID: client.ClientID})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func newCode(expiresIn time.Duration) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        unique("code"),
		ClientID:    uuid.NewString(),
		UserID:      uuid.NewString(),
		RedirectURI: "https://app.example.com/cb",
		Nonce:       "n-0S6_WzA2Mj",
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}
}

func testCodes(t *testing.T, s storage.Store) {
	ctx := context.Background()

	code := newCode(10 * time.Minute)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.ClientID, got.ClientID)
	assert.Equal(t, code.UserID, got.UserID)
	assert.Equal(t, code.RedirectURI, got.RedirectURI)
	assert.Equal(t, code.Nonce, got.Nonce)
	assert.False(t, got.Used)

	consumed, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.True(t, consumed.Used)
	assert.Equal(t, code.UserID, consumed.UserID)

	replay, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
	if assert.NotNil(t, replay, "replay should return the stored code for auditing") {
		assert.Equal(t, code.ClientID, replay.ClientID)
	}

	_, err = s.ConsumeAuthorizationCode(ctx, unique("missing"))
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)

	expired := newCode(-time.Hour)
	require.NoError(t, s.SaveAuthorizationCode(ctx, expired))
	_, err = s.ConsumeAuthorizationCode(ctx, expired.Code)
	assert.True(t, storage.IsNotFound(err), "expired code: got %v", err)

	require.NoError(t, s.DeleteAuthorizationCode(ctx, code.Code))
	_, err = s.GetAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func testConcurrentConsume(t *testing.T, s storage.Store) {
	ctx := context.Background()

	code := newCode(10 * time.Minute)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reuses    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				reuses++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one consumer must win")
	assert.Equal(t, workers-1, reuses)
}

func testTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now()

	userToken := &storage.AccessToken{
		Token:     unique("tok"),
		UserID:    uuid.NewString(),
		ClientID:  uuid.NewString(),
		Scope:     "*",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.SaveAccessToken(ctx, userToken))

	got, err := s.GetAccessToken(ctx, userToken.Token)
	require.NoError(t, err)
	assert.Equal(t, userToken.UserID, got.UserID)
	assert.Equal(t, userToken.ClientID, got.ClientID)
	assert.False(t, got.IsClientToken())

	clientToken := &storage.AccessToken{
		Token:     unique("tok"),
		ClientID:  uuid.NewString(),
		Scope:     "*",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.SaveAccessToken(ctx, clientToken))
	got, err = s.GetAccessToken(ctx, clientToken.Token)
	require.NoError(t, err)
	assert.True(t, got.IsClientToken())

	_, err = s.GetAccessToken(ctx, unique("missing"))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	expired := &storage.AccessToken{
		Token:     unique("tok"),
		ClientID:  uuid.NewString(),
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveAccessToken(ctx, expired))
	_, err = s.GetAccessToken(ctx, expired.Token)
	assert.True(t, storage.IsNotFound(err), "expired token: got %v", err)
}

func testTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now()

	txn := &storage.Transaction{
		ID:           uuid.NewString(),
		ClientID:     uuid.NewString(),
		RedirectURI:  "https://app.example.com/cb",
		ResponseType: "code id_token",
		State:        "xyz",
		Nonce:        "n-0S6",
		UserID:       uuid.NewString(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	require.NoError(t, s.SaveTransaction(ctx, txn))

	got, err := s.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ClientID, got.ClientID)
	assert.Equal(t, txn.ResponseType, got.ResponseType)
	assert.Equal(t, txn.State, got.State)
	assert.Equal(t, txn.Nonce, got.Nonce)
	assert.Equal(t, txn.UserID, got.UserID)

	require.NoError(t, s.DeleteTransaction(ctx, txn.ID))
	_, err = s.GetTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, txn.ID), storage.ErrTransactionNotFound)

	expired := &storage.Transaction{
		ID:        uuid.NewString(),
		ClientID:  uuid.NewString(),
		UserID:    uuid.NewString(),
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-30 * time.Minute),
	}
	require.NoError(t, s.SaveTransaction(ctx, expired))
	_, err = s.GetTransaction(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
}
