package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	collUsers        = "users"
	collClients      = "clients"
	collCodes        = "authorization_codes"
	collTokens       = "access_tokens"
	collTransactions = "transactions"

	// DefaultDatabase is used when Config.Database is empty.
	DefaultDatabase = "oidc"

	// ttlSlack is added on top of expires_at before MongoDB evicts a document.
	ttlSlack = 10 * time.Minute
)

// Config holds MongoDB connection settings.
type Config struct {
	// URI is a MongoDB connection string, e.g. "mongodb://localhost:27017".
	URI string

	// Database name (default "oidc").
	Database string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a MongoDB implementation of storage.Store.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	logger   *slog.Logger
	recorder *instrumentation.StorageRecorder
	now      func() time.Time
	grace    time.Duration
}

var _ storage.Store = (*Store)(nil)

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: URI is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo: failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: failed to ping: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: cfg.Logger,
		now:    time.Now,
		grace:  security.DefaultClockSkewGracePeriod,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	cfg.Logger.Info("Connected to MongoDB", "database", cfg.Database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := map[string]string{
		collUsers:   "username",
		collClients: "client_id",
	}
	for coll, field := range unique {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("mongo: failed to create index on %s.%s: %w", coll, field, err)
		}
	}

	for _, coll := range []string{collCodes, collTokens, collTransactions} {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttlSlack / time.Second)),
		})
		if err != nil {
			return fmt.Errorf("mongo: failed to create TTL index on %s: %w", coll, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SetClockSkew sets how long past ExpiresAt a record stays valid. The TTL
// index evicts documents ttlSlack after expiry, so a longer grace is cut
// short by eviction.
func (s *Store) SetClockSkew(grace time.Duration) {
	if grace > ttlSlack {
		s.logger.Warn("Clock skew grace period exceeds TTL index slack",
			"grace", grace, "ttl_slack", ttlSlack)
	}
	s.grace = grace
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.recorder = instrumentation.NewStorageRecorder(inst, "mongo")
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.recorder.Start(ctx, operation)
}

func (s *Store) expired(expiresAt time.Time) bool {
	return security.IsExpiredAt(s.now(), expiresAt, s.grace)
}

// ============================================================
// Users and clients
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
	if err := s.upsert(ctx, collUsers, user.ID, fromUser(user)); err != nil {
		return fmt.Errorf("failed to save user %q: %w", user.Username, err)
	}
	return nil
}

// GetUser retrieves a user by store ID.
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user")
	defer func() { done(err) }()

	var doc userDoc
	if err := s.findOne(ctx, collUsers, bson.M{"_id": id}, &doc, storage.ErrUserNotFound); err != nil {
		return nil, err
	}
	return doc.toUser(), nil
}

// GetUserByUsername retrieves a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	var doc userDoc
	if err := s.findOne(ctx, collUsers, bson.M{"username": username}, &doc, storage.ErrUserNotFound); err != nil {
		return nil, err
	}
	return doc.toUser(), nil
}

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
	if err := s.upsert(ctx, collClients, client.ID, fromClient(client)); err != nil {
		return fmt.Errorf("failed to save client %q: %w", client.ClientID, err)
	}
	return nil
}

// GetClient retrieves a client by store ID.
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client")
	defer func() { done(err) }()

	var doc clientDoc
	if err := s.findOne(ctx, collClients, bson.M{"_id": id}, &doc, storage.ErrClientNotFound); err != nil {
		return nil, err
	}
	return doc.toClient(), nil
}

// GetClientByClientID retrieves a client by its public client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client_by_client_id")
	defer func() { done(err) }()

	var doc clientDoc
	if err := s.findOne(ctx, collClients, bson.M{"client_id": clientID}, &doc, storage.ErrClientNotFound); err != nil {
		return nil, err
	}
	return doc.toClient(), nil
}

// ============================================================
// Codes
// ============================================================

// SaveAuthorizationCode stores a freshly issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if _, err := s.db.Collection(collCodes).InsertOne(ctx, fromCode(code)); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	s.logger.Debug("Saved authorization code", "code_prefix", util.Prefix(code.Code))
	return nil
}

// GetAuthorizationCode retrieves a code without modifying it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	var doc codeDoc
	if err := s.findOne(ctx, collCodes, bson.M{"_id": code}, &doc, storage.ErrAuthorizationCodeNotFound); err != nil {
		return nil, err
	}
	if s.expired(doc.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return doc.toCode(), nil
}

// ConsumeAuthorizationCode flips used from false to true in one
// FindOneAndUpdate. When nothing matched, a second read tells a missing,
// expired or replayed code apart.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	cutoff := s.now().Add(-s.grace)
	filter := bson.M{
		"_id":        code,
		"used":       false,
		"expires_at": bson.M{"$gte": cutoff},
	}
	update := bson.M{"$set": bson.M{"used": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc codeDoc
	err = s.db.Collection(collCodes).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		s.logger.Debug("Marked authorization code as used", "code_prefix", util.Prefix(code))
		return doc.toCode(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if err := s.findOne(ctx, collCodes, bson.M{"_id": code}, &doc, storage.ErrAuthorizationCodeNotFound); err != nil {
		return nil, err
	}
	if s.expired(doc.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return doc.toCode(), storage.ErrAuthorizationCodeUsed
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	if _, err := s.db.Collection(collCodes).DeleteOne(ctx, bson.M{"_id": code}); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// ============================================================
// Tokens
// ============================================================

// SaveAccessToken stores a freshly issued token.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if _, err := s.db.Collection(collTokens).InsertOne(ctx, fromToken(token)); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves a token. Expired tokens yield ErrTokenExpired.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.start(ctx, "get_access_token")
	defer func() { done(err) }()

	var doc tokenDoc
	if err := s.findOne(ctx, collTokens, bson.M{"_id": token}, &doc, storage.ErrTokenNotFound); err != nil {
		return nil, err
	}
	if s.expired(doc.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}
	return doc.toToken(), nil
}

// ============================================================
// Transactions
// ============================================================

// SaveTransaction stores a pending transaction.
func (s *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) (err error) {
	ctx, done := s.start(ctx, "save_transaction")
	defer func() { done(err) }()

	if txn == nil || txn.ID == "" {
		return fmt.Errorf("invalid transaction")
	}
	if err := s.upsert(ctx, collTransactions, txn.ID, fromTransaction(txn)); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a pending transaction. Expired entries read as missing.
func (s *Store) GetTransaction(ctx context.Context, id string) (_ *storage.Transaction, err error) {
	ctx, done := s.start(ctx, "get_transaction")
	defer func() { done(err) }()

	var doc transactionDoc
	if err := s.findOne(ctx, collTransactions, bson.M{"_id": id}, &doc, storage.ErrTransactionNotFound); err != nil {
		return nil, err
	}
	if s.expired(doc.ExpiresAt) {
		return nil, fmt.Errorf("%w: transaction expired", storage.ErrTransactionNotFound)
	}
	return doc.toTransaction(), nil
}

// DeleteTransaction removes a transaction. Only the caller that actually
// deleted the document succeeds.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (err error) {
	ctx, done := s.start(ctx, "delete_transaction")
	defer func() { done(err) }()

	res, err := s.db.Collection(collTransactions).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrTransactionNotFound
	}
	return nil
}

// ============================================================
// Helpers
// ============================================================

// upsert replaces the document with _id = id, creating it if needed.
// Unique index violations surface as storage.ErrDuplicate.
func (s *Store) upsert(ctx context.Context, coll, id string, doc any) error {
	_, err := s.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}

// findOne decodes the first match into out, mapping no match to notFound.
func (s *Store) findOne(ctx context.Context, coll string, filter bson.M, out any, notFound error) error {
	err := s.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", coll, err)
	}
	return nil
}
