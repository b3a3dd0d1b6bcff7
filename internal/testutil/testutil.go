package testutil

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// Credentials shared by fixtures.
const (
	TestUsername     = "alice"
	TestPassword     = "wonderland"
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestRedirectURI  = "https://app.example.com/callback"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// HashForTest hashes with the minimum bcrypt cost to keep tests fast.
func HashForTest(t testing.TB, secret string) string {
	t.Helper()
	hash, err := security.HashSecretWithCost(secret, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashSecretWithCost() error = %v", err)
	}
	return hash
}

// NewTestUser returns a user whose password is TestPassword.
func NewTestUser(t testing.TB) *storage.User {
	t.Helper()
	return &storage.User{
		Username:     TestUsername,
		PasswordHash: HashForTest(t, TestPassword),
		FirstName:    "Alice",
		LastName:     "Liddell",
		Email:        "alice@example.com",
	}
}

// NewTestClient returns a client whose secret is TestClientSecret and which
// registers TestRedirectURI.
func NewTestClient(t testing.TB) *storage.Client {
	t.Helper()
	return &storage.Client{
		ClientID:         TestClientID,
		ClientSecretHash: HashForTest(t, TestClientSecret),
		Name:             "Test Client",
		RedirectURIs:     []string{TestRedirectURI},
	}
}
