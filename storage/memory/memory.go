package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	users     map[string]*storage.User
	usernames map[string]string // username -> user ID

	clients   map[string]*storage.Client
	clientIDs map[string]string // public client_id -> client ID

	codes        map[string]*storage.AuthorizationCode
	tokens       map[string]*storage.AccessToken
	transactions map[string]*storage.Transaction

	recorder *instrumentation.StorageRecorder

	// Read by metric callbacks without taking mu.
	userCount  atomic.Int64
	codeCount  atomic.Int64
	tokenCount atomic.Int64
	txnCount   atomic.Int64

	now             func() time.Time
	grace           time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		users:           make(map[string]*storage.User),
		usernames:       make(map[string]string),
		clients:         make(map[string]*storage.Client),
		clientIDs:       make(map[string]string),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.AccessToken),
		transactions:    make(map[string]*storage.Transaction),
		now:             time.Now,
		grace:           security.DefaultClockSkewGracePeriod,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetClockSkew sets how long past ExpiresAt a record stays valid.
func (s *Store) SetClockSkew(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = grace
}

// SetInstrumentation enables storage spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.recorder = instrumentation.NewStorageRecorder(inst, "memory")
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(map[string]instrumentation.StorageSizeCallback{
		"users":        s.userCount.Load,
		"codes":        s.codeCount.Load,
		"tokens":       s.tokenCount.Load,
		"transactions": s.txnCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop stops the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	rec := s.recorder
	s.mu.RUnlock()
	return rec.Start(ctx, operation)
}

func (s *Store) expired(expiresAt time.Time) bool {
	return security.IsExpiredAt(s.now(), expiresAt, s.grace)
}

// ============================================================
// UserStore
// ============================================================

// SaveUser creates or replaces a user.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	_, done := s.start(ctx, "save_user")
	defer func() { done(err) }()

	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user: username is required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.usernames[user.Username]; ok && owner != user.ID {
		return fmt.Errorf("%w: username %q", storage.ErrDuplicate, user.Username)
	}
	if prev, ok := s.users[user.ID]; ok && prev.Username != user.Username {
		delete(s.usernames, prev.Username)
	}

	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	s.userCount.Store(int64(len(s.users)))
	return nil
}

// GetUser retrieves a user by store ID.
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	_, done := s.start(ctx, "get_user")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	_, done := s.start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	c := *s.users[id]
	return &c, nil
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient creates or replaces a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client: client_id is required")
	}
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.clientIDs[client.ClientID]; ok && owner != client.ID {
		return fmt.Errorf("%w: client_id %q", storage.ErrDuplicate, client.ClientID)
	}
	if prev, ok := s.clients[client.ID]; ok && prev.ClientID != client.ClientID {
		delete(s.clientIDs, prev.ClientID)
	}

	s.clients[client.ID] = copyClient(client)
	s.clientIDs[client.ClientID] = client.ID
	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by store ID.
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	_, done := s.start(ctx, "get_client")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return copyClient(c), nil
}

// GetClientByClientID retrieves a client by its public client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, done := s.start(ctx, "get_client_by_client_id")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientIDs[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return copyClient(s.clients[id]), nil
}

func copyClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	return &cp
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[c.Code] = &c
	s.codeCount.Store(int64(len(s.codes)))
	s.logger.Debug("Saved authorization code", "code_prefix", util.Prefix(code.Code))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if s.expired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	c := *authCode
	return &c, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks it used.
// The used code is kept until it expires so replays can be detected.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if s.expired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	if authCode.Used {
		c := *authCode
		return &c, storage.ErrAuthorizationCodeUsed
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used", "code_prefix", util.Prefix(code))

	c := *authCode
	return &c, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	_, done := s.start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	s.codeCount.Store(int64(len(s.codes)))
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken saves an issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, done := s.start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.tokens[t.Token] = &t
	s.tokenCount.Store(int64(len(s.tokens)))
	s.logger.Debug("Saved access token", "token_prefix", util.Prefix(token.Token))
	return nil
}

// GetAccessToken retrieves an access token
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	_, done := s.start(ctx, "get_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if s.expired(t.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}

	c := *t
	return &c, nil
}

// ============================================================
// TransactionStore
// ============================================================

// SaveTransaction saves a pending authorization transaction
func (s *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) (err error) {
	_, done := s.start(ctx, "save_transaction")
	defer func() { done(err) }()

	if txn == nil || txn.ID == "" {
		return fmt.Errorf("invalid transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *txn
	s.transactions[t.ID] = &t
	s.txnCount.Store(int64(len(s.transactions)))
	return nil
}

// GetTransaction retrieves a pending transaction. Expired transactions are evicted.
func (s *Store) GetTransaction(ctx context.Context, id string) (_ *storage.Transaction, err error) {
	_, done := s.start(ctx, "get_transaction")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	if s.expired(t.ExpiresAt) {
		delete(s.transactions, id)
		s.txnCount.Store(int64(len(s.transactions)))
		return nil, fmt.Errorf("%w: transaction expired", storage.ErrTransactionNotFound)
	}

	c := *t
	return &c, nil
}

// DeleteTransaction removes a transaction
func (s *Store) DeleteTransaction(ctx context.Context, id string) (err error) {
	_, done := s.start(ctx, "delete_transaction")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return storage.ErrTransactionNotFound
	}
	delete(s.transactions, id)
	s.txnCount.Store(int64(len(s.transactions)))
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.codes {
		if s.expired(authCode.ExpiresAt) {
			delete(s.codes, code)
			cleaned++
		}
	}
	for token, t := range s.tokens {
		if s.expired(t.ExpiresAt) {
			delete(s.tokens, token)
			cleaned++
		}
	}
	for id, t := range s.transactions {
		if s.expired(t.ExpiresAt) {
			delete(s.transactions, id)
			cleaned++
		}
	}

	s.codeCount.Store(int64(len(s.codes)))
	s.tokenCount.Store(int64(len(s.tokens)))
	s.txnCount.Store(int64(len(s.transactions)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}
