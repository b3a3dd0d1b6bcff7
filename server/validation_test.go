package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/giantswarm/oidc-core/storage/memory"
)

func newValidationServer(t *testing.T, config *Config) (*Server, *bytes.Buffer, error) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	buf := &bytes.Buffer{}
	srv, err := New(store, sharedKeySet(t), config, slog.New(slog.NewTextHandler(buf, nil)))
	return srv, buf, err
}

func TestValidateHTTPSEnforcement(t *testing.T) {
	tests := []struct {
		name         string
		issuer       string
		allowHTTP    bool
		wantErr      bool
		wantLogMatch string
	}{
		{name: "HTTPS production URL", issuer: "https://oauth.example.com"},
		{name: "HTTPS with port and path", issuer: "https://example.com:8443/oauth"},
		{name: "HTTP localhost warns", issuer: "http://localhost:8080", wantLogMatch: "DEVELOPMENT WARNING"},
		{name: "HTTP loopback IPv4", issuer: "http://127.0.0.1:8080", wantLogMatch: "DEVELOPMENT WARNING"},
		{name: "HTTP loopback IPv6", issuer: "http://[::1]:8080", wantLogMatch: "DEVELOPMENT WARNING"},
		{name: "HTTP localhost allowed silently", issuer: "http://localhost:8080", allowHTTP: true},
		{name: "HTTP production blocked", issuer: "http://oauth.example.com", wantErr: true},
		{name: "HTTP production allowed loudly", issuer: "http://oauth.example.com", allowHTTP: true, wantLogMatch: "CRITICAL SECURITY WARNING"},
		{name: "unknown scheme", issuer: "ftp://oauth.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, logs, err := newValidationServer(t, &Config{Issuer: tt.issuer, AllowInsecureHTTP: tt.allowHTTP})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantLogMatch != "" && !strings.Contains(logs.String(), tt.wantLogMatch) {
				t.Errorf("expected log containing %q, got: %s", tt.wantLogMatch, logs.String())
			}
		})
	}
}

func TestResolveRedirectURI(t *testing.T) {
	registered := []string{"https://app.example.com/cb", "https://app.example.com/cb2"}

	tests := []struct {
		name        string
		registered  []string
		requested   string
		allowUnreg  bool
		want        string
		wantErrPart string
	}{
		{name: "exact match", registered: registered, requested: "https://app.example.com/cb2", want: "https://app.example.com/cb2"},
		{name: "trailing slash is a different URI", registered: registered, requested: "https://app.example.com/cb/", wantErrPart: "not registered"},
		{name: "extra query is a different URI", registered: registered, requested: "https://app.example.com/cb?x=1", wantErrPart: "not registered"},
		{name: "case differs", registered: registered, requested: "https://APP.example.com/cb", wantErrPart: "not registered"},
		{name: "omitted with single registration", registered: registered[:1], want: "https://app.example.com/cb"},
		{name: "omitted with several registrations", registered: registered, wantErrPart: "required"},
		{name: "none registered and not allowed", requested: "https://evil.example.com/cb", wantErrPart: "no registered"},
		{name: "none registered and allowed", requested: "https://anywhere.example.com/cb", allowUnreg: true, want: "https://anywhere.example.com/cb"},
		{name: "allowed but javascript scheme", requested: "javascript:alert(1)", allowUnreg: true, wantErrPart: "not allowed"},
		{name: "allowed but relative", requested: "/cb", allowUnreg: true, wantErrPart: "absolute"},
		{name: "allowed but fragment", requested: "https://a.example.com/cb#x", allowUnreg: true, wantErrPart: "fragment"},
		{name: "allowed but empty", allowUnreg: true, wantErrPart: "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, err := newValidationServer(t, &Config{Issuer: testIssuer, AllowUnregisteredRedirectURI: tt.allowUnreg})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			got, err := srv.resolveRedirectURI(tt.registered, tt.requested)
			if tt.wantErrPart != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrPart) {
					t.Fatalf("resolveRedirectURI() error = %v, want it to contain %q", err, tt.wantErrPart)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRedirectURI() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveRedirectURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsLocalhostHostname(t *testing.T) {
	tests := map[string]bool{
		"localhost":       true,
		"127.0.0.1":       true,
		"127.1.2.3":       true,
		"::1":             true,
		"[::1]":           true,
		"0.0.0.0":         true,
		"example.com":     false,
		"10.0.0.1":        false,
		"localhost.evil":  false,
		"::ffff:10.0.0.1": false,
	}
	for host, want := range tests {
		if got := isLocalhostHostname(host); got != want {
			t.Errorf("isLocalhostHostname(%q) = %v, want %v", host, got, want)
		}
	}
}
