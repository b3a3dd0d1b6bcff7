package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/config"
	"github.com/giantswarm/oidc-core/keys"
	"github.com/giantswarm/oidc-core/storage"
	"github.com/giantswarm/oidc-core/storage/memory"
	"github.com/giantswarm/oidc-core/storage/mongo"
	"github.com/giantswarm/oidc-core/storage/sqlstore"
	"github.com/giantswarm/oidc-core/storage/valkey"
)

// openStore builds the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := memory.NewWithInterval(cfg.CleanupInterval)
		s.SetLogger(logger)
		s.SetInstrumentation(inst)
		logger.Warn("Using in-memory storage; all state is lost on restart")
		return s, s.Stop, nil

	case config.StoreValkey:
		vc := valkey.Config{
			Address:  cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			Logger:   logger,
		}
		if cfg.ValkeyTLS {
			vc.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s, err := valkey.New(vc)
		if err != nil {
			return nil, nil, err
		}
		s.SetInstrumentation(inst)
		return s, s.Close, nil

	case config.StoreSQLite, config.StorePostgres:
		s, err := sqlstore.Open(sqlstore.Config{
			Driver: cfg.Store,
			DSN:    cfg.DatabaseDSN,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		s.SetInstrumentation(inst)

		cleanupCtx, cancel := context.WithCancel(ctx)
		go s.RunCleanup(cleanupCtx, cfg.CleanupInterval)
		return s, func() {
			cancel()
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil

	case config.StoreMongo:
		s, err := mongo.New(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		s.SetInstrumentation(inst)
		return s, func() {
			if err := s.Close(context.Background()); err != nil {
				logger.Warn("Failed to disconnect from MongoDB", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// loadKeys loads the ID token signing key once at startup.
func loadKeys(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*keys.KeySet, error) {
	switch cfg.KeySource {
	case config.KeySourceFile:
		return keys.LoadOrGenerate(cfg.KeyFile, cfg.KeyBits, logger)
	case config.KeySourceGenerate:
		logger.Warn("Generating an ephemeral signing key; ID tokens become unverifiable after restart")
		return keys.Generate(cfg.KeyBits)
	case config.KeySourceAWS:
		client, err := keys.NewSecretsManagerClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return keys.LoadFromSecretsManager(ctx, client, cfg.KeySecretID)
	}
	return nil, fmt.Errorf("unknown key source %q", cfg.KeySource)
}
