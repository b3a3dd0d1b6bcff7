package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/storage"
)

func mutations(s string) []string {
	out := []string{s + "x", s[:len(s)-1]}
	b := []byte(s)
	b[0] ^= 0x01
	out = append(out, string(b))
	b = []byte(s)
	b[len(b)-1] ^= 0x20
	out = append(out, string(b))
	return out
}

func TestVerifyClient(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	client, err := setup.srv.VerifyClient(ctx, testutil.TestClientID, testutil.TestClientSecret)
	if err != nil {
		t.Fatalf("VerifyClient() error = %v", err)
	}
	if client.ID != setup.client.ID {
		t.Errorf("VerifyClient() ID = %q, want %q", client.ID, setup.client.ID)
	}

	for _, id := range mutations(testutil.TestClientID) {
		_, err := setup.srv.VerifyClient(ctx, id, testutil.TestClientSecret)
		if !IsRejection(err) {
			t.Errorf("VerifyClient(%q, valid secret) error = %v, want rejection", id, err)
		}
	}
	for _, secret := range mutations(testutil.TestClientSecret) {
		_, err := setup.srv.VerifyClient(ctx, testutil.TestClientID, secret)
		if !IsRejection(err) {
			t.Errorf("VerifyClient(valid id, %q) error = %v, want rejection", secret, err)
		}
		if code := AsProtocolError(err).Code; code != ErrorCodeInvalidClient {
			t.Errorf("rejection code = %q, want %q", code, ErrorCodeInvalidClient)
		}
	}

	if _, err := setup.srv.VerifyClient(ctx, "", ""); !IsRejection(err) {
		t.Errorf("VerifyClient(empty) error = %v, want rejection", err)
	}
}

func TestVerifyUser(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	user, err := setup.srv.VerifyUser(ctx, testutil.TestUsername, testutil.TestPassword)
	if err != nil {
		t.Fatalf("VerifyUser() error = %v", err)
	}
	if user.ID != setup.user.ID {
		t.Errorf("VerifyUser() ID = %q, want %q", user.ID, setup.user.ID)
	}

	_, wrongPassword := setup.srv.VerifyUser(ctx, testutil.TestUsername, "wrong")
	_, unknownUser := setup.srv.VerifyUser(ctx, "bob", testutil.TestPassword)
	for name, err := range map[string]error{"wrong password": wrongPassword, "unknown user": unknownUser} {
		if !IsRejection(err) {
			t.Errorf("%s: error = %v, want rejection", name, err)
		}
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Errorf("rejections differ: %q vs %q", wrongPassword, unknownUser)
	}

	if !strings.Contains(setup.logs(), "auth_failure") {
		t.Error("expected auth_failure audit event in logs")
	}
}

func TestAuthenticate_Dispatch(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		creds      Credentials
		wantUser   bool
		wantClient bool
		wantReject bool
	}{
		{name: "user password", creds: Credentials{Kind: CredentialUserPassword, Identifier: testutil.TestUsername, Secret: testutil.TestPassword}, wantUser: true},
		{name: "client basic", creds: Credentials{Kind: CredentialClientBasic, Identifier: testutil.TestClientID, Secret: testutil.TestClientSecret}, wantClient: true},
		{name: "client password", creds: Credentials{Kind: CredentialClientPassword, Identifier: testutil.TestClientID, Secret: testutil.TestClientSecret}, wantClient: true},
		{name: "bearer unknown", creds: Credentials{Kind: CredentialBearer, Secret: "nope"}, wantReject: true},
		{name: "client basic wrong secret", creds: Credentials{Kind: CredentialClientBasic, Identifier: testutil.TestClientID, Secret: "x"}, wantReject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := setup.srv.Authenticate(ctx, tt.creds)
			if tt.wantReject {
				if !IsRejection(err) {
					t.Fatalf("Authenticate() error = %v, want rejection", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if (p.User != nil) != tt.wantUser || (p.Client != nil) != tt.wantClient {
				t.Errorf("Authenticate() principal = %+v", p)
			}
			if p.Scope != ScopeAll {
				t.Errorf("Scope = %q, want %q", p.Scope, ScopeAll)
			}
		})
	}

	_, err := setup.srv.Authenticate(ctx, Credentials{Kind: CredentialKind(99)})
	if err == nil || IsRejection(err) {
		t.Errorf("unknown kind error = %v, want non-rejection error", err)
	}
}

func TestVerifyBearer_UserAndClientTokens(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	userToken, err := setup.srv.IssueAccessToken(ctx, setup.client.ID, setup.user.ID)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	clientToken, err := setup.srv.IssueAccessToken(ctx, setup.client.ID, "")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	p, err := setup.srv.VerifyBearer(ctx, userToken)
	if err != nil {
		t.Fatalf("VerifyBearer(user token) error = %v", err)
	}
	if p.User == nil || p.User.ID != setup.user.ID || p.IsClient() {
		t.Errorf("user token resolved to %+v", p)
	}

	p, err = setup.srv.VerifyBearer(ctx, clientToken)
	if err != nil {
		t.Fatalf("VerifyBearer(client token) error = %v", err)
	}
	if !p.IsClient() || p.Client.ID != setup.client.ID || p.User != nil {
		t.Errorf("client token resolved to %+v", p)
	}
	if p.Scope != ScopeAll {
		t.Errorf("Scope = %q, want %q", p.Scope, ScopeAll)
	}
}

func TestVerifyBearer_Rejections(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	token, err := setup.srv.IssueAccessToken(ctx, setup.client.ID, setup.user.ID)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	for _, tok := range []string{"", "unknown-token", token[:len(token)-1]} {
		_, err := setup.srv.VerifyBearer(ctx, tok)
		if !IsRejection(err) {
			t.Errorf("VerifyBearer(%q) error = %v, want rejection", tok, err)
		}
		if code := AsProtocolError(err).Code; code != ErrorCodeInvalidToken {
			t.Errorf("code = %q, want %q", code, ErrorCodeInvalidToken)
		}
	}

	setup.clock.Advance(time.Duration(setup.srv.Config.AccessTokenTTL)*time.Second + time.Minute)
	if _, err := setup.srv.VerifyBearer(ctx, token); !IsRejection(err) {
		t.Errorf("VerifyBearer(expired) error = %v, want rejection", err)
	}
}

func TestVerifyBearer_ConfiguredClockSkew(t *testing.T) {
	ctx := context.Background()
	past := func(setup *testServerSetup) time.Duration {
		return time.Duration(setup.srv.Config.AccessTokenTTL)*time.Second + 30*time.Second
	}

	t.Run("token inside configured grace is accepted", func(t *testing.T) {
		setup := newTestServerSetup(t, &Config{ClockSkewGracePeriod: 120})
		token, err := setup.srv.IssueAccessToken(ctx, setup.client.ID, setup.user.ID)
		if err != nil {
			t.Fatalf("IssueAccessToken() error = %v", err)
		}
		setup.clock.Advance(past(setup))
		if _, err := setup.srv.VerifyBearer(ctx, token); err != nil {
			t.Errorf("VerifyBearer() error = %v, want token valid within 120s grace", err)
		}
	})

	t.Run("same delay is rejected with the default grace", func(t *testing.T) {
		setup := newTestServerSetup(t, nil)
		token, err := setup.srv.IssueAccessToken(ctx, setup.client.ID, setup.user.ID)
		if err != nil {
			t.Fatalf("IssueAccessToken() error = %v", err)
		}
		setup.clock.Advance(past(setup))
		if _, err := setup.srv.VerifyBearer(ctx, token); !IsRejection(err) {
			t.Errorf("VerifyBearer() error = %v, want rejection", err)
		}
	})
}

func TestVerifyBearer_DanglingReferenceIsError(t *testing.T) {
	setup := newTestServerSetup(t, nil)
	ctx := context.Background()

	orphan := &storage.AccessToken{
		Token:     "orphan-token",
		UserID:    "deleted-user",
		ClientID:  setup.client.ID,
		Scope:     ScopeAll,
		CreatedAt: setup.clock.Now(),
		ExpiresAt: setup.clock.Now().Add(time.Hour),
	}
	if err := setup.store.SaveAccessToken(ctx, orphan); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	_, err := setup.srv.VerifyBearer(ctx, orphan.Token)
	if err == nil {
		t.Fatal("VerifyBearer() expected error for dangling user")
	}
	if IsRejection(err) {
		t.Errorf("dangling reference must not be a rejection: %v", err)
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
}

func TestCredentialKindString(t *testing.T) {
	tests := map[CredentialKind]string{
		CredentialUserPassword:   "user_password",
		CredentialClientBasic:    "client_basic",
		CredentialClientPassword: "client_password",
		CredentialBearer:         "bearer",
		CredentialKind(0):        "credential_kind(0)",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
