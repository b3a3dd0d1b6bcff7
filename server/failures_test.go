package server

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/memory"
	"github.com/giantswarm/oidc-core/storage/mock"
)

var errBackendDown = errors.New("backend unavailable")

// newFaultyServer returns a server whose store can be told to fail, seeded
// with the standard test user and client.
func newFaultyServer(t *testing.T) (*Server, *mock.Store, *storage.User) {
	t.Helper()

	mem := memory.New()
	t.Cleanup(mem.Stop)
	store := mock.New(mem)

	srv, err := New(store, sharedKeySet(t), &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	user := testutil.NewTestUser(t)
	if err := mem.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	if err := mem.SaveClient(ctx, testutil.NewTestClient(t)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return srv, store, user
}

func assertInfrastructureError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsRejection(err) {
		t.Errorf("backend failure reported as rejection: %v", err)
	}
	if !errors.Is(err, errBackendDown) {
		t.Errorf("error = %v, want it to wrap the backend failure", err)
	}
	if got := AsProtocolError(err).Code; got != ErrorCodeServerError {
		t.Errorf("protocol code = %q, want %q", got, ErrorCodeServerError)
	}
}

func TestStoreFailures_AreNotRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("password grant user lookup", func(t *testing.T) {
		srv, store, _ := newFaultyServer(t)
		store.FailOn("GetUserByUsername", errBackendDown)

		_, err := srv.Exchange(ctx, ExchangeRequest{
			GrantType: GrantTypePassword,
			Client:    basicClient(),
			Username:  testutil.TestUsername,
			Password:  testutil.TestPassword,
		})
		assertInfrastructureError(t, err)
	})

	t.Run("client lookup", func(t *testing.T) {
		srv, store, _ := newFaultyServer(t)
		store.FailOn("GetClientByClientID", errBackendDown)

		_, err := srv.Exchange(ctx, ExchangeRequest{
			GrantType: GrantTypeClientCredentials,
			Client:    basicClient(),
		})
		assertInfrastructureError(t, err)
	})

	t.Run("code consumption", func(t *testing.T) {
		srv, store, user := newFaultyServer(t)
		txn, err := srv.BeginAuthorization(ctx, codeRequest(), user)
		if err != nil {
			t.Fatalf("BeginAuthorization() error = %v", err)
		}
		resp, err := srv.DecideAuthorization(ctx, txn.ID, user, true)
		if err != nil {
			t.Fatalf("DecideAuthorization() error = %v", err)
		}

		store.FailOn("ConsumeAuthorizationCode", errBackendDown)
		_, err = srv.Exchange(ctx, ExchangeRequest{
			GrantType:   GrantTypeAuthorizationCode,
			Client:      basicClient(),
			Code:        resp.Code,
			RedirectURI: testutil.TestRedirectURI,
		})
		assertInfrastructureError(t, err)
	})

	t.Run("transaction save", func(t *testing.T) {
		srv, store, user := newFaultyServer(t)
		store.FailOn("SaveTransaction", errBackendDown)

		_, err := srv.BeginAuthorization(ctx, codeRequest(), user)
		assertInfrastructureError(t, err)
	})

	t.Run("transaction claim", func(t *testing.T) {
		srv, store, user := newFaultyServer(t)
		txn, err := srv.BeginAuthorization(ctx, codeRequest(), user)
		if err != nil {
			t.Fatalf("BeginAuthorization() error = %v", err)
		}

		store.FailOn("DeleteTransaction", errBackendDown)
		_, err = srv.DecideAuthorization(ctx, txn.ID, user, true)
		assertInfrastructureError(t, err)
		if store.Calls("SaveAuthorizationCode") != 0 {
			t.Error("no code may be issued when the transaction could not be claimed")
		}
	})

	t.Run("bearer lookup", func(t *testing.T) {
		srv, store, _ := newFaultyServer(t)
		store.FailOn("GetAccessToken", errBackendDown)

		_, err := srv.Authenticate(ctx, Credentials{Kind: CredentialBearer, Secret: "some-token"})
		assertInfrastructureError(t, err)
	})
}
