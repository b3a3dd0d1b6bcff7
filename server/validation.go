package server

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DangerousSchemes lists URI schemes that must never be used as a redirect target.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

const oauthSecurityBCPURL = "https://datatracker.ietf.org/doc/html/rfc9700#section-2.6"

// validateHTTPSEnforcement ensures the issuer uses HTTPS. HTTP is tolerated
// on localhost with a warning and elsewhere only with AllowInsecureHTTP.
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Credentials exposed on local network",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauthSecurityBCPURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme, hostname)
	}

	s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"learn_more", oauthSecurityBCPURL)
	return nil
}

// isLocalhostHostname reports whether hostname is a loopback name or address.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	clean := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// resolveRedirectURI returns the redirect URI to use for an authorization
// request. Registered URIs are compared by exact string match. An omitted
// redirect_uri is accepted only when the client has exactly one registered.
func (s *Server) resolveRedirectURI(registered []string, requested string) (string, error) {
	if len(registered) == 0 {
		if !s.Config.AllowUnregisteredRedirectURI {
			return "", fmt.Errorf("client has no registered redirect URIs")
		}
		if requested == "" {
			return "", fmt.Errorf("redirect_uri is required")
		}
		if err := validateRedirectURIShape(requested); err != nil {
			return "", err
		}
		return requested, nil
	}

	if requested == "" {
		if len(registered) == 1 {
			return registered[0], nil
		}
		return "", fmt.Errorf("redirect_uri is required when several are registered")
	}

	if !slices.Contains(registered, requested) {
		return "", fmt.Errorf("redirect URI not registered for client")
	}
	return requested, nil
}

// validateRedirectURIShape applies the structural checks used for
// unregistered redirect URIs: absolute, no fragment, no dangerous scheme.
func validateRedirectURIShape(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect_uri must be absolute")
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}
	if slices.Contains(DangerousSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("redirect_uri scheme %q is not allowed", u.Scheme)
	}
	if (u.Scheme == SchemeHTTP || u.Scheme == SchemeHTTPS) && u.Host == "" {
		return fmt.Errorf("redirect_uri must have a host")
	}
	return nil
}
