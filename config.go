package oauth

import "github.com/giantswarm/oidc-core/internal/util"

// Default endpoint paths.
const (
	DefaultAuthorizePath = "/oauth/authorize"
	DefaultDecisionPath  = "/oauth/authorize/decision"
	DefaultTokenPath     = "/oauth/token"
	DefaultJWKSPath      = "/.well-known/jwks.json"
	DiscoveryPath        = "/.well-known/openid-configuration"

	// DefaultMaxFormBytes bounds token and decision request bodies.
	DefaultMaxFormBytes = 64 << 10
)

// Config holds the HTTP handler configuration
type Config struct {
	// LoginURL is where users without a session are sent from the
	// authorization endpoint. The original request URL is appended as
	// return_to. Empty answers 401 login_required instead.
	LoginURL string

	AuthorizePath string
	DecisionPath  string
	TokenPath     string
	JWKSPath      string

	// MaxFormBytes limits POST bodies. Default: 64 KiB
	MaxFormBytes int64
}

func applyConfigDefaults(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.AuthorizePath == "" {
		cfg.AuthorizePath = DefaultAuthorizePath
	}
	if cfg.DecisionPath == "" {
		cfg.DecisionPath = DefaultDecisionPath
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = DefaultTokenPath
	}
	if cfg.JWKSPath == "" {
		cfg.JWKSPath = DefaultJWKSPath
	}
	if cfg.MaxFormBytes <= 0 {
		cfg.MaxFormBytes = DefaultMaxFormBytes
	}
	return cfg
}

func endpointURL(issuer, path string) string {
	return util.NormalizeURL(issuer) + path
}
