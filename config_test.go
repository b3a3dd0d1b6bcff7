package oauth

import "testing"

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(nil)

	if cfg.AuthorizePath != DefaultAuthorizePath || cfg.DecisionPath != DefaultDecisionPath ||
		cfg.TokenPath != DefaultTokenPath || cfg.JWKSPath != DefaultJWKSPath {
		t.Errorf("paths = %+v", cfg)
	}
	if cfg.MaxFormBytes != DefaultMaxFormBytes {
		t.Errorf("MaxFormBytes = %d, want %d", cfg.MaxFormBytes, DefaultMaxFormBytes)
	}

	custom := applyConfigDefaults(&Config{TokenPath: "/token", MaxFormBytes: 10})
	if custom.TokenPath != "/token" || custom.MaxFormBytes != 10 {
		t.Errorf("overrides lost: %+v", custom)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		issuer string
		want   string
	}{
		{"https://auth.example.com", "https://auth.example.com/oauth/token"},
		{"https://auth.example.com/", "https://auth.example.com/oauth/token"},
		{"https://example.com/tenant", "https://example.com/tenant/oauth/token"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.issuer, DefaultTokenPath); got != tt.want {
			t.Errorf("endpointURL(%q) = %q, want %q", tt.issuer, got, tt.want)
		}
	}
}
