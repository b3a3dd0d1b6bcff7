package server

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/keys"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// ScopeAll is the only scope this server grants.
const ScopeAll = "*"

// Server is the protocol core. It is safe for concurrent use; all shared
// state lives in the store.
type Server struct {
	store   storage.Store
	keySet  *keys.KeySet
	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	now func() time.Time
}

// New creates a new authorization server core. keySet is the process-wide
// signing key and must already be loaded.
func New(store storage.Store, keySet *keys.KeySet, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if keySet == nil {
		return nil, fmt.Errorf("signing key set is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:  store,
		keySet: keySet,
		Config: config,
		Logger: logger,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}

	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	// Expiry is checked by the store, so it needs the configured grace.
	if cs, ok := store.(storage.ClockSkewSetter); ok {
		cs.SetClockSkew(config.clockSkew())
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables metrics and tracing for the protocol core.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// KeySet returns the signing key set.
func (s *Server) KeySet() *keys.KeySet {
	return s.keySet
}

// Store returns the entity store.
func (s *Server) Store() storage.Store {
	return s.store
}
