// Command oidc-server runs the authorization server with its HTTP endpoints,
// a Prometheus metrics endpoint and a health check.
//
// Configuration is read from OIDC_* environment variables, optionally
// preceded by a .env file and a config file:
//
//	oidc-server -config /etc/oidc/config.yaml -env .env
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"

	oauth "github.com/giantswarm/oidc-core"
	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/config"
	"github.com/giantswarm/oidc-core/internal/seed"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/server"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "oidc-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", os.Getenv("OIDC_CONFIG_FILE"), "path to a YAML, JSON or TOML config file")
	envFile := flag.String("env", ".env", "path to a .env file, ignored when missing")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	inst, err := newInstrumentation(cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	keySet, err := loadKeys(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Loaded signing key", "kid", keySet.KeyID())

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := f.Apply(ctx, store, logger); err != nil {
			return err
		}
	}

	srv, err := server.New(store, keySet, &server.Config{
		Issuer:               cfg.Issuer,
		AuthorizationCodeTTL: seconds(cfg.AuthorizationCodeTTL),
		AccessTokenTTL:       seconds(cfg.AccessTokenTTL),
		TransactionTTL:       seconds(cfg.TransactionTTL),
		ClockSkewGracePeriod: seconds(cfg.ClockSkewGrace),
		AllowInsecureHTTP:    cfg.AllowInsecureHTTP,
		TrustProxy:           cfg.TrustProxy,
		TrustedProxyCount:    cfg.TrustedProxyCount,
	}, logger)
	if err != nil {
		return err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.AuditEnabled))

	login := &basicLogin{server: srv, realm: cfg.Issuer, logger: logger}
	handlerConfig := &oauth.Config{LoginURL: cfg.LoginURL}

	handler := oauth.NewHandler(srv, login, handlerConfig, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/userinfo", handler.RequireBearer(http.HandlerFunc(serveUserInfo)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	var root http.Handler = mux
	if cfg.LoginURL == "" {
		root = login.challenge(mux, oauth.DefaultAuthorizePath)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Addr, "issuer", cfg.Issuer, "store", cfg.Store, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newInstrumentation wires the OpenTelemetry meter provider to a Prometheus
// exporter registered on registry.
func newInstrumentation(cfg *config.Config, registry *prometheus.Registry) (*instrumentation.Instrumentation, error) {
	if !cfg.MetricsEnabled {
		return instrumentation.New(instrumentation.Config{ServiceVersion: version})
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return instrumentation.New(instrumentation.Config{
		ServiceName:    "oidc-server",
		ServiceVersion: version,
		Enabled:        true,
		MetricReader:   exporter,
	})
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func serveUserInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := oauth.PrincipalFromContext(r.Context())
	if !ok || principal.User == nil {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
		return
	}
	u := principal.User
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sub":         u.ID,
		"name":        u.DisplayName(),
		"given_name":  u.FirstName,
		"family_name": u.LastName,
		"email":       u.Email,
	})
}
