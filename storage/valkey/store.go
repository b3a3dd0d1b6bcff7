package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oidc:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength bounds codes and tokens accepted as lookup keys.
	MaxTokenLength = security.MaxArtifactLength
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.Store.
type Store struct {
	client   valkeygo.Client
	prefix   string
	logger   *slog.Logger
	recorder *instrumentation.StorageRecorder
	now      func() time.Time
	grace    time.Duration
}

var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
		grace:  security.DefaultClockSkewGracePeriod,
	}, nil
}

// SetClockSkew sets how long past ExpiresAt a record stays valid. Keys
// written afterwards carry the new grace in their TTL.
func (s *Store) SetClockSkew(grace time.Duration) {
	s.grace = grace
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.recorder = instrumentation.NewStorageRecorder(inst, "valkey")
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.recorder.Start(ctx, operation)
}

// ============================================================
// Key schema
// ============================================================

func (s *Store) userKey(id string) string           { return s.prefix + "user:" + id }
func (s *Store) usernameKey(username string) string { return s.prefix + "user:name:" + username }
func (s *Store) clientKey(id string) string         { return s.prefix + "client:" + id }
func (s *Store) clientIDKey(clientID string) string { return s.prefix + "client:cid:" + clientID }
func (s *Store) codeKey(code string) string         { return s.prefix + "code:" + code }
func (s *Store) tokenKey(token string) string       { return s.prefix + "token:" + token }
func (s *Store) transactionKey(id string) string    { return s.prefix + "txn:" + id }

// ============================================================
// Lua scripts
// ============================================================

// luaSaveIndexed writes a record and its unique secondary index in one step.
//
// KEYS[1] = index key, KEYS[2] = record key
// ARGV[1] = record ID, ARGV[2] = record JSON
// ARGV[3] = index key prefix, ARGV[4] = JSON field holding the indexed value
//
// Returns "DUPLICATE" when the index already points at another record. A
// stale index entry left by a renamed record is removed.
const luaSaveIndexed = `
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
    return 'DUPLICATE'
end

local prev = redis.call('GET', KEYS[2])
if prev then
    local old = cjson.decode(prev)[ARGV[4]]
    if old and (ARGV[3] .. old) ~= KEYS[1] then
        redis.call('DEL', ARGV[3] .. old)
    end
end

redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[1])
return 'OK'
`

// luaConsumeCode atomically checks that an authorization code is unused and
// marks it used, keeping its TTL so replays are detected until it expires.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns the stored JSON on success, "NOT_FOUND", "EXPIRED" or
// "ALREADY_USED:<json>".
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)
local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')
return data
`

// ============================================================
// Helpers
// ============================================================

// ttlFor returns how long a record expiring at expiresAt should live,
// including the clock skew grace period. Zero means already expired.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Add(s.grace).Sub(s.now())
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func (s *Store) expired(expiresAt time.Time) bool {
	return security.IsExpiredAt(s.now(), expiresAt, s.grace)
}

// setWithTTL stores v under key. Records that have already expired are not
// written, which readers observe as not found.
func (s *Store) setWithTTL(ctx context.Context, key string, v any, expiresAt time.Time) error {
	ttl := s.ttlFor(expiresAt)
	if ttl <= 0 {
		s.logger.Debug("Skipping write of expired record")
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Px(ttl).Build()).Error()
}

// getJSON loads key into v. found is false when the key does not exist.
func (s *Store) getJSON(ctx context.Context, key string, v any) (found bool, err error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return true, nil
}

// saveIndexed runs luaSaveIndexed and maps DUPLICATE to storage.ErrDuplicate.
func (s *Store) saveIndexed(ctx context.Context, indexKey, recordKey, indexPrefix, field, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveIndexed).
			Numkeys(2).
			Key(indexKey, recordKey).
			Arg(id, string(data), indexPrefix, field).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to execute indexed save: %w", err)
	}
	if result == "DUPLICATE" {
		return storage.ErrDuplicate
	}
	return nil
}

func unixString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
