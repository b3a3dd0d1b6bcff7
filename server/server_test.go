package server

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/keys"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/memory"
)

const testIssuer = "https://auth.example.com"

var (
	testKeyOnce sync.Once
	testKey     *keys.KeySet
	testKeyErr  error
)

// sharedKeySet generates one RSA key for the whole package.
func sharedKeySet(t testing.TB) *keys.KeySet {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = keys.Generate(2048)
	})
	if testKeyErr != nil {
		t.Fatalf("keys.Generate() error = %v", testKeyErr)
	}
	return testKey
}

// testServerSetup holds common test dependencies
type testServerSetup struct {
	store  *memory.Store
	srv    *Server
	logBuf *bytes.Buffer
	clock  *testutil.MockTime

	user   *storage.User
	client *storage.Client
}

func newTestServerSetup(t *testing.T, config *Config) *testServerSetup {
	t.Helper()

	setup := &testServerSetup{
		store:  memory.New(),
		logBuf: &bytes.Buffer{},
		clock:  testutil.NewMockTime(time.Now()),
	}
	t.Cleanup(setup.store.Stop)
	setup.store.SetClock(setup.clock.Now)

	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = testIssuer
	}

	logger := slog.New(slog.NewTextHandler(setup.logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv, err := New(setup.store, sharedKeySet(t), config, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.now = setup.clock.Now
	srv.SetAuditor(security.NewAuditor(logger, true))
	setup.srv = srv

	ctx := context.Background()
	setup.user = testutil.NewTestUser(t)
	if err := setup.store.SaveUser(ctx, setup.user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	setup.client = testutil.NewTestClient(t)
	if err := setup.store.SaveClient(ctx, setup.client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return setup
}

func (s *testServerSetup) logs() string {
	return s.logBuf.String()
}

func TestNew(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := New(store, sharedKeySet(t), &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Config.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", srv.Config.Issuer, testIssuer)
	}
	if srv.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if srv.KeySet() != sharedKeySet(t) {
		t.Error("KeySet() should return the key set passed to New")
	}
	if srv.Store() != store {
		t.Error("Store() should return the store passed to New")
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	tests := []struct {
		name    string
		store   storage.Store
		keySet  *keys.KeySet
		config  *Config
		wantErr string
	}{
		{name: "nil store", keySet: sharedKeySet(t), config: &Config{Issuer: testIssuer}, wantErr: "store is required"},
		{name: "nil key set", store: store, config: &Config{Issuer: testIssuer}, wantErr: "signing key set is required"},
		{name: "nil config", store: store, keySet: sharedKeySet(t), wantErr: "issuer is required"},
		{name: "insecure issuer", store: store, keySet: sharedKeySet(t), config: &Config{Issuer: "http://auth.example.com"}, wantErr: "HTTPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.store, tt.keySet, tt.config, nil)
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyTimeDefaults(t *testing.T) {
	tests := []struct {
		name              string
		input             *Config
		wantAuthCodeTTL   int64
		wantAccessTTL     int64
		wantTxnTTL        int64
		wantClockSkew     int64
		wantTrustedProxys int
	}{
		{
			name:              "all zeros should get defaults",
			input:             &Config{},
			wantAuthCodeTTL:   600,
			wantAccessTTL:     3600,
			wantTxnTTL:        600,
			wantClockSkew:     5,
			wantTrustedProxys: 1,
		},
		{
			name: "custom values should be preserved",
			input: &Config{
				AuthorizationCodeTTL: 300,
				AccessTokenTTL:       1800,
				TransactionTTL:       120,
				ClockSkewGracePeriod: 10,
				TrustedProxyCount:    2,
			},
			wantAuthCodeTTL:   300,
			wantAccessTTL:     1800,
			wantTxnTTL:        120,
			wantClockSkew:     10,
			wantTrustedProxys: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyTimeDefaults(tt.input)
			if tt.input.AuthorizationCodeTTL != tt.wantAuthCodeTTL {
				t.Errorf("AuthorizationCodeTTL = %d, want %d", tt.input.AuthorizationCodeTTL, tt.wantAuthCodeTTL)
			}
			if tt.input.AccessTokenTTL != tt.wantAccessTTL {
				t.Errorf("AccessTokenTTL = %d, want %d", tt.input.AccessTokenTTL, tt.wantAccessTTL)
			}
			if tt.input.TransactionTTL != tt.wantTxnTTL {
				t.Errorf("TransactionTTL = %d, want %d", tt.input.TransactionTTL, tt.wantTxnTTL)
			}
			if tt.input.ClockSkewGracePeriod != tt.wantClockSkew {
				t.Errorf("ClockSkewGracePeriod = %d, want %d", tt.input.ClockSkewGracePeriod, tt.wantClockSkew)
			}
			if tt.input.TrustedProxyCount != tt.wantTrustedProxys {
				t.Errorf("TrustedProxyCount = %d, want %d", tt.input.TrustedProxyCount, tt.wantTrustedProxys)
			}
		})
	}
}

func TestApplySecureDefaults_Entropy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := applySecureDefaults(&Config{AuthorizationCodeBytes: 8, AccessTokenBytes: 32}, logger)
	if cfg.AuthorizationCodeBytes != security.MinAuthorizationCodeBytes {
		t.Errorf("AuthorizationCodeBytes = %d, want %d", cfg.AuthorizationCodeBytes, security.MinAuthorizationCodeBytes)
	}
	if cfg.AccessTokenBytes != security.MinAccessTokenBytes {
		t.Errorf("AccessTokenBytes = %d, want %d", cfg.AccessTokenBytes, security.MinAccessTokenBytes)
	}
	if !strings.Contains(buf.String(), "below minimum") {
		t.Errorf("expected a warning about raised sizes, got logs: %s", buf.String())
	}

	cfg = applySecureDefaults(&Config{AuthorizationCodeBytes: 32}, logger)
	if cfg.AuthorizationCodeBytes != 32 {
		t.Errorf("AuthorizationCodeBytes = %d, want 32", cfg.AuthorizationCodeBytes)
	}
	if cfg.AccessTokenBytes != security.MinAccessTokenBytes {
		t.Errorf("AccessTokenBytes = %d, want %d", cfg.AccessTokenBytes, security.MinAccessTokenBytes)
	}
}

func TestApplySecureDefaults_ArtifactCeiling(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := applySecureDefaults(&Config{AuthorizationCodeBytes: 1024, AccessTokenBytes: 385}, logger)
	if cfg.AuthorizationCodeBytes != security.MaxArtifactBytes {
		t.Errorf("AuthorizationCodeBytes = %d, want %d", cfg.AuthorizationCodeBytes, security.MaxArtifactBytes)
	}
	if cfg.AccessTokenBytes != security.MaxArtifactBytes {
		t.Errorf("AccessTokenBytes = %d, want %d", cfg.AccessTokenBytes, security.MaxArtifactBytes)
	}
	if !strings.Contains(buf.String(), "above maximum") {
		t.Errorf("expected a warning about lowered sizes, got logs: %s", buf.String())
	}

	token, err := security.GenerateToken(cfg.AccessTokenBytes)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(token) > security.MaxArtifactLength {
		t.Errorf("token length = %d, want <= %d", len(token), security.MaxArtifactLength)
	}
}

func TestLogSecurityWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logSecurityWarnings(&Config{AllowUnregisteredRedirectURI: true, TrustProxy: true, AuthorizationCodeTTL: 3600}, logger)

	logs := buf.String()
	for _, want := range []string{"Unregistered redirect URIs are ALLOWED", "Trusting proxy headers", "AuthorizationCodeTTL exceeds"} {
		if !strings.Contains(logs, want) {
			t.Errorf("expected warning %q in logs: %s", want, logs)
		}
	}

	buf.Reset()
	logSecurityWarnings(&Config{AuthorizationCodeTTL: 600}, logger)
	if buf.Len() != 0 {
		t.Errorf("expected no warnings for secure config, got: %s", buf.String())
	}
}
