package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-core/security"
)

// IDTokenLifetime is the fixed validity of every ID token.
const IDTokenLifetime = 60 * time.Minute

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It becomes the
	// iss claim of every ID token.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// TransactionTTL is how long a user has to approve or deny a pending authorization
	TransactionTTL int64 // seconds, default: 600 (10 minutes)

	// AuthorizationCodeBytes is the number of random bytes in a code.
	// Values below 16 are raised to 16, values above 384 lowered to 384.
	AuthorizationCodeBytes int // default: 16

	// AccessTokenBytes is the number of random bytes in an access token.
	// Values below 256 are raised to 256, values above 384 lowered to 384.
	AccessTokenBytes int // default: 256

	// ClockSkewGracePeriod is the grace period for expiry checks (in seconds)
	ClockSkewGracePeriod int64 // seconds, default: 5

	// AllowUnregisteredRedirectURI lets clients without any registered
	// redirect URI use whatever redirect_uri they send.
	// WARNING: this turns the authorization endpoint into an open redirector
	// for those clients. Default: false
	AllowUnregisteredRedirectURI bool

	// AllowInsecureHTTP allows an http:// issuer outside localhost.
	// WARNING: only for development. Default: false
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// when the HTTP layer reports client IPs to the auditor.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) transactionTTL() time.Duration {
	return time.Duration(c.TransactionTTL) * time.Second
}

func (c *Config) clockSkew() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// applySecureDefaults fills zero values and clamps artifact sizes between
// their minimum entropy and the longest key a store accepts.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyEntropyDefaults(config, logger)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.TransactionTTL == 0 {
		config.TransactionTTL = 600 // 10 minutes
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = int64(security.DefaultClockSkewGracePeriod / time.Second)
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
}

func applyEntropyDefaults(config *Config, logger *slog.Logger) {
	if config.AuthorizationCodeBytes == 0 {
		config.AuthorizationCodeBytes = security.MinAuthorizationCodeBytes
	}
	if config.AuthorizationCodeBytes < security.MinAuthorizationCodeBytes {
		logger.Warn("⚠️  SECURITY WARNING: AuthorizationCodeBytes below minimum, raising it",
			"configured", config.AuthorizationCodeBytes,
			"minimum", security.MinAuthorizationCodeBytes)
		config.AuthorizationCodeBytes = security.MinAuthorizationCodeBytes
	}

	if config.AccessTokenBytes == 0 {
		config.AccessTokenBytes = security.MinAccessTokenBytes
	}
	if config.AccessTokenBytes < security.MinAccessTokenBytes {
		logger.Warn("⚠️  SECURITY WARNING: AccessTokenBytes below minimum, raising it",
			"configured", config.AccessTokenBytes,
			"minimum", security.MinAccessTokenBytes)
		config.AccessTokenBytes = security.MinAccessTokenBytes
	}

	config.AuthorizationCodeBytes = capArtifactBytes("AuthorizationCodeBytes", config.AuthorizationCodeBytes, logger)
	config.AccessTokenBytes = capArtifactBytes("AccessTokenBytes", config.AccessTokenBytes, logger)
}

func capArtifactBytes(field string, n int, logger *slog.Logger) int {
	if n <= security.MaxArtifactBytes {
		return n
	}
	logger.Warn(field+" above maximum, lowering it",
		"configured", n,
		"maximum", security.MaxArtifactBytes)
	return security.MaxArtifactBytes
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowUnregisteredRedirectURI {
		logger.Warn("⚠️  SECURITY WARNING: Unregistered redirect URIs are ALLOWED",
			"risk", "Open redirect and code or token leakage for clients without registered URIs",
			"recommendation", "Register redirect URIs for every client and set AllowUnregisteredRedirectURI=false",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-10.6")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing in audit logs if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AuthorizationCodeTTL > 600 {
		logger.Warn("⚠️  SECURITY WARNING: AuthorizationCodeTTL exceeds 10 minutes",
			"configured_seconds", config.AuthorizationCodeTTL,
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
	}
}
