package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var dialectors = map[string]func(dsn string) gorm.Dialector{
	DriverSQLite:   sqlite.Open,
	DriverPostgres: postgres.Open,
}

// Config selects the database for Open.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// DSN is passed to the driver, e.g. "file:oidc.db?_pragma=busy_timeout(5000)"
	// or "host=db user=oidc dbname=oidc sslmode=require".
	DSN string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a GORM-backed implementation of storage.Store.
type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	recorder *instrumentation.StorageRecorder
	now      func() time.Time
	grace    time.Duration
}

var _ storage.Store = (*Store)(nil)

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	opener, ok := dialectors[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlstore: DSN is required")
	}

	db, err := gorm.Open(opener(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY and
		// keeps in-memory databases shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, cfg.Logger)
}

// New wraps an open GORM handle and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("sqlstore: migration failed: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now, grace: security.DefaultClockSkewGracePeriod}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetClockSkew sets how long past ExpiresAt a record stays valid. PurgeExpired
// keeps rows inside the same window.
func (s *Store) SetClockSkew(grace time.Duration) {
	s.grace = grace
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.recorder = instrumentation.NewStorageRecorder(inst, "sql")
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.recorder.Start(ctx, operation)
}

func (s *Store) expired(expiresAt time.Time) bool {
	return security.IsExpiredAt(s.now(), expiresAt, s.grace)
}

// ============================================================
// UserStore
// ============================================================

// SaveUser creates or replaces a user. Usernames are unique.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.start(ctx, "save_user")
	defer func() { done(err) }()

	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	err = s.saveUnique(ctx, &userRow{}, "username", user.Username, user.ID, fromUser(user))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by store ID.
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user")
	defer func() { done(err) }()

	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, storage.ErrUserNotFound, "user")
	}
	return row.toUser(), nil
}

// GetUserByUsername retrieves a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error; err != nil {
		return nil, notFound(err, storage.ErrUserNotFound, "user")
	}
	return row.toUser(), nil
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient creates or replaces a client. Public client IDs are unique.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}

	err = s.saveUnique(ctx, &clientRow{}, "client_id", client.ClientID, client.ID, fromClient(client))
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by store ID.
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client")
	defer func() { done(err) }()

	var row clientRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, storage.ErrClientNotFound, "client")
	}
	return row.toClient(), nil
}

// GetClientByClientID retrieves a client by its public client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client_by_client_id")
	defer func() { done(err) }()

	var row clientRow
	if err := s.db.WithContext(ctx).First(&row, "client_id = ?", clientID).Error; err != nil {
		return nil, notFound(err, storage.ErrClientNotFound, "client")
	}
	return row.toClient(), nil
}

// saveUnique upserts row by primary key after checking that no other row
// holds value in the unique column.
func (s *Store) saveUnique(ctx context.Context, model any, column, value, id string, row any) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conflicts int64
		if err := tx.Model(model).
			Where(column+" = ? AND id <> ?", value, id).
			Count(&conflicts).Error; err != nil {
			return err
		}
		if conflicts > 0 {
			return storage.ErrDuplicate
		}
		return tx.Save(row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s %q", storage.ErrDuplicate, column, value)
	}
	if errors.Is(err, storage.ErrDuplicate) {
		return fmt.Errorf("%w: %s %q", storage.ErrDuplicate, column, value)
	}
	return err
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode stores a freshly issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if err := s.db.WithContext(ctx).Create(fromCode(code)).Error; err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	s.logger.Debug("Saved authorization code", "code_prefix", util.Prefix(code.Code))
	return nil
}

// GetAuthorizationCode retrieves a code without modifying it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	var row codeRow
	if err := s.db.WithContext(ctx).First(&row, "code = ?", code).Error; err != nil {
		return nil, notFound(err, storage.ErrAuthorizationCodeNotFound, "authorization code")
	}
	if s.expired(row.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return row.toCode(), nil
}

// ConsumeAuthorizationCode marks a code used with a conditional UPDATE.
// The row count tells which concurrent caller flipped the flag.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	var row codeRow
	if err := s.db.WithContext(ctx).First(&row, "code = ?", code).Error; err != nil {
		return nil, notFound(err, storage.ErrAuthorizationCodeNotFound, "authorization code")
	}
	if s.expired(row.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	if row.Used {
		return row.toCode(), storage.ErrAuthorizationCodeUsed
	}

	res := s.db.WithContext(ctx).Model(&codeRow{}).
		Where("code = ? AND used = ?", code, false).
		Update("used", true)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		row.Used = true
		return row.toCode(), storage.ErrAuthorizationCodeUsed
	}

	row.Used = true
	s.logger.Debug("Marked authorization code as used", "code_prefix", util.Prefix(code))
	return row.toCode(), nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	return s.db.WithContext(ctx).Delete(&codeRow{}, "code = ?", code).Error
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken stores a freshly issued token.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if err := s.db.WithContext(ctx).Create(fromToken(token)).Error; err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves a token. Expired tokens yield ErrTokenExpired.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.start(ctx, "get_access_token")
	defer func() { done(err) }()

	var row tokenRow
	if err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error; err != nil {
		return nil, notFound(err, storage.ErrTokenNotFound, "access token")
	}
	if s.expired(row.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}
	return row.toToken(), nil
}

// ============================================================
// TransactionStore
// ============================================================

// SaveTransaction stores a pending transaction.
func (s *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) (err error) {
	ctx, done := s.start(ctx, "save_transaction")
	defer func() { done(err) }()

	if txn == nil || txn.ID == "" {
		return fmt.Errorf("invalid transaction")
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(fromTransaction(txn)).Error
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a pending transaction. Expired entries read as missing.
func (s *Store) GetTransaction(ctx context.Context, id string) (_ *storage.Transaction, err error) {
	ctx, done := s.start(ctx, "get_transaction")
	defer func() { done(err) }()

	var row transactionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, storage.ErrTransactionNotFound, "transaction")
	}
	if s.expired(row.ExpiresAt) {
		return nil, fmt.Errorf("%w: transaction expired", storage.ErrTransactionNotFound)
	}
	return row.toTransaction(), nil
}

// DeleteTransaction removes a transaction. Only the caller whose DELETE
// affected the row succeeds.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (err error) {
	ctx, done := s.start(ctx, "delete_transaction")
	defer func() { done(err) }()

	res := s.db.WithContext(ctx).Delete(&transactionRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrTransactionNotFound
	}
	return nil
}

// ============================================================
// Cleanup
// ============================================================

// PurgeExpired deletes codes, tokens and transactions past their expiry
// and the grace period. It returns the number of rows removed.
func (s *Store) PurgeExpired(ctx context.Context) (_ int64, err error) {
	ctx, done := s.start(ctx, "purge_expired")
	defer func() { done(err) }()

	cutoff := s.now().Add(-s.grace)
	var total int64
	for _, model := range []any{&codeRow{}, &tokenRow{}, &transactionRow{}} {
		res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(model)
		if res.Error != nil {
			return total, fmt.Errorf("failed to purge expired rows: %w", res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// RunCleanup calls PurgeExpired every interval until ctx is done.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn("Failed to purge expired rows", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("Purged expired rows", "count", n)
			}
		}
	}
}

// notFound maps gorm.ErrRecordNotFound to sentinel and wraps anything else.
func notFound(err, sentinel error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
