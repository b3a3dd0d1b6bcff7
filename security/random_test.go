package security

import (
	"encoding/base64"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"authorization code", MinAuthorizationCodeBytes, false},
		{"access token", MinAccessTokenBytes, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := GenerateToken(tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			raw, err := base64.RawURLEncoding.DecodeString(tok)
			if err != nil {
				t.Fatalf("token is not base64url: %v", err)
			}
			if len(raw) != tt.n {
				t.Errorf("decoded length = %d, want %d", len(raw), tt.n)
			}
		})
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := GenerateToken(MinAuthorizationCodeBytes)
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d iterations", i)
		}
		seen[tok] = true
	}
}
