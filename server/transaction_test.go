package server

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/storage"
)

func codeRequest() AuthorizationRequest {
	return AuthorizationRequest{
		ClientID:     testutil.TestClientID,
		RedirectURI:  testutil.TestRedirectURI,
		ResponseType: "code",
		State:        "af0ifjsldkj",
		Scope:        "openid",
	}
}

func TestBeginAuthorization(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	txn, err := setup.srv.BeginAuthorization(ctx, codeRequest(), setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	if txn.ID == "" {
		t.Fatal("transaction ID is empty")
	}
	if txn.ClientID != setup.client.ID {
		t.Errorf("ClientID = %q, want store ID %q", txn.ClientID, setup.client.ID)
	}
	if txn.UserID != setup.user.ID {
		t.Errorf("UserID = %q, want %q", txn.UserID, setup.user.ID)
	}
	if got := txn.ExpiresAt.Sub(txn.CreatedAt); got != 10*time.Minute {
		t.Errorf("transaction TTL = %v, want 10m", got)
	}

	pending, err := setup.srv.PendingAuthorization(ctx, txn.ID, setup.user)
	if err != nil {
		t.Fatalf("PendingAuthorization() error = %v", err)
	}
	if pending.State != "af0ifjsldkj" || pending.RedirectURI != testutil.TestRedirectURI {
		t.Errorf("pending = %+v", pending)
	}
}

func TestBeginAuthorization_NormalizesResponseType(t *testing.T) {
	setup := newTestServerSetup(t, nil)

	req := codeRequest()
	req.ResponseType = "token id_token"
	txn, err := setup.srv.BeginAuthorization(context.Background(), req, setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	if txn.ResponseType != string(ResponseTypeIDTokenToken) {
		t.Errorf("ResponseType = %q, want %q", txn.ResponseType, ResponseTypeIDTokenToken)
	}
}

func TestBeginAuthorization_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*AuthorizationRequest)
		wantCode string
	}{
		{name: "missing client_id", mutate: func(r *AuthorizationRequest) { r.ClientID = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unknown client", mutate: func(r *AuthorizationRequest) { r.ClientID = "nope" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unregistered redirect", mutate: func(r *AuthorizationRequest) { r.RedirectURI = "https://evil.example.com/cb" }, wantCode: ErrorCodeInvalidRequest},
		{name: "unsupported response_type", mutate: func(r *AuthorizationRequest) { r.ResponseType = "device_code" }, wantCode: ErrorCodeUnsupportedResponseType},
		{name: "missing response_type", mutate: func(r *AuthorizationRequest) { r.ResponseType = "" }, wantCode: ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := newTestServerSetup(t, nil)
			req := codeRequest()
			tt.mutate(&req)

			_, err := setup.srv.BeginAuthorization(context.Background(), req, setup.user)
			if !IsRejection(err) {
				t.Fatalf("BeginAuthorization() error = %v, want rejection", err)
			}
			if code := AsProtocolError(err).Code; code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestBeginAuthorization_UnregisteredRedirectOptIn(t *testing.T) {
	setup := newTestServerSetup(t, &Config{AllowUnregisteredRedirectURI: true})
	ctx := context.Background()

	bare := &storage.Client{ClientID: "bare", ClientSecretHash: testutil.HashForTest(t, "s")}
	if err := setup.store.SaveClient(ctx, bare); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	req := codeRequest()
	req.ClientID = "bare"
	req.RedirectURI = "https://anywhere.example.com/cb"
	txn, err := setup.srv.BeginAuthorization(ctx, req, setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	if txn.RedirectURI != req.RedirectURI {
		t.Errorf("RedirectURI = %q, want %q", txn.RedirectURI, req.RedirectURI)
	}

	// Registered clients stay strict.
	req = codeRequest()
	req.RedirectURI = "https://anywhere.example.com/cb"
	if _, err := setup.srv.BeginAuthorization(ctx, req, setup.user); !IsRejection(err) {
		t.Errorf("registered client with foreign redirect: error = %v, want rejection", err)
	}
}

func TestPendingAuthorization_BoundToUser(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	txn, err := setup.srv.BeginAuthorization(ctx, codeRequest(), setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	mallory := &storage.User{ID: "mallory", Username: "mallory"}
	if _, err := setup.srv.PendingAuthorization(ctx, txn.ID, mallory); !IsRejection(err) {
		t.Errorf("PendingAuthorization(other user) error = %v, want rejection", err)
	}
	if _, err := setup.srv.DecideAuthorization(ctx, txn.ID, mallory, true); !IsRejection(err) {
		t.Errorf("DecideAuthorization(other user) error = %v, want rejection", err)
	}

	// The owner can still decide.
	if _, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, true); err != nil {
		t.Errorf("DecideAuthorization(owner) error = %v", err)
	}
}

func TestDecideAuthorization_Approve(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	txn, err := setup.srv.BeginAuthorization(ctx, codeRequest(), setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	resp, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, true)
	if err != nil {
		t.Fatalf("DecideAuthorization() error = %v", err)
	}
	if resp.Code == "" || resp.Error != "" {
		t.Fatalf("response = %+v", resp)
	}

	redirect, err := resp.RedirectURL()
	if err != nil {
		t.Fatalf("RedirectURL() error = %v", err)
	}
	u, _ := url.Parse(redirect)
	if u.Query().Get("code") != resp.Code || u.Query().Get("state") != "af0ifjsldkj" {
		t.Errorf("redirect = %s", redirect)
	}

	if _, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, true); !IsRejection(err) {
		t.Errorf("second decision error = %v, want rejection", err)
	}
}

func TestDecideAuthorization_Deny(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	req := codeRequest()
	req.ResponseType = "id_token token"
	txn, err := setup.srv.BeginAuthorization(ctx, req, setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	resp, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, false)
	if err != nil {
		t.Fatalf("DecideAuthorization() error = %v", err)
	}
	if resp.Error != ErrorCodeAccessDenied {
		t.Errorf("Error = %q, want %q", resp.Error, ErrorCodeAccessDenied)
	}
	if resp.AccessToken != "" || resp.Code != "" || resp.IDToken != "" {
		t.Errorf("denied decision issued artifacts: %+v", resp)
	}

	redirect, err := resp.RedirectURL()
	if err != nil {
		t.Fatalf("RedirectURL() error = %v", err)
	}
	u, _ := url.Parse(redirect)
	frag, _ := url.ParseQuery(u.Fragment)
	if frag.Get("error") != ErrorCodeAccessDenied || frag.Get("state") != "af0ifjsldkj" {
		t.Errorf("redirect = %s", redirect)
	}

	if _, err := setup.store.GetTransaction(ctx, txn.ID); !errors.Is(err, storage.ErrTransactionNotFound) {
		t.Errorf("transaction should be gone after denial, got %v", err)
	}
}

func TestDecideAuthorization_Expired(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	txn, err := setup.srv.BeginAuthorization(ctx, codeRequest(), setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	setup.clock.Advance(11 * time.Minute)
	if _, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, true); !IsRejection(err) {
		t.Errorf("DecideAuthorization(expired) error = %v, want rejection", err)
	}
}

func TestDecideAuthorization_ConcurrentSingleUse(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	txn, err := setup.srv.BeginAuthorization(ctx, codeRequest(), setup.user)
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := setup.srv.DecideAuthorization(ctx, txn.ID, setup.user, true); err == nil {
				wins.Add(1)
			} else if !IsRejection(err) {
				t.Errorf("DecideAuthorization() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d decisions succeeded, want exactly 1", wins.Load())
	}
}
