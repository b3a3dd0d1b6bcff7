package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the headers every authorization server response carries.
// HSTS is only sent when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(strings.ToLower(issuer), "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// RFC 6749 5.1: responses carrying tokens or credentials must not be cached.
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
