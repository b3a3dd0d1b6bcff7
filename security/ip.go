package security

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address recorded in audit events.
//
// Forwarding headers are honoured only with trustProxy. trustedHops is the
// number of proxies we operate; the client address is the entry just left of
// them in X-Forwarded-For. A value below 1 is treated as 1.
func GetClientIP(r *http.Request, trustProxy bool, trustedHops int) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For"), trustedHops); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedFor(header string, trustedHops int) string {
	if header == "" {
		return ""
	}
	if trustedHops < 1 {
		trustedHops = 1
	}

	hops := strings.Split(header, ",")
	idx := max(len(hops)-trustedHops-1, 0)

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

type clientIPContextKey struct{}

// WithClientIP stores the caller's address so the protocol core can attach it
// to audit events without seeing the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
