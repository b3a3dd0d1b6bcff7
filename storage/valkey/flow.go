package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/storage"
)

// codeRecord is the stored form of an authorization code. Timestamps are Unix
// seconds so luaConsumeCode can compare them.
type codeRecord struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
	Nonce       string `json:"nonce,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Used        bool   `json:"used"`
}

func toCodeRecord(c *storage.AuthorizationCode) *codeRecord {
	return &codeRecord{
		Code:        c.Code,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		RedirectURI: c.RedirectURI,
		Nonce:       c.Nonce,
		CreatedAt:   c.CreatedAt.Unix(),
		ExpiresAt:   c.ExpiresAt.Unix(),
		Used:        c.Used,
	}
}

func (r *codeRecord) toAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        r.Code,
		ClientID:    r.ClientID,
		UserID:      r.UserID,
		RedirectURI: r.RedirectURI,
		Nonce:       r.Nonce,
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		ExpiresAt:   time.Unix(r.ExpiresAt, 0),
		Used:        r.Used,
	}
}

func parseCodeRecord(data string) (*storage.AuthorizationCode, error) {
	var r codeRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return r.toAuthorizationCode(), nil
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode stores a code until it expires.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" || len(code.Code) > MaxTokenLength {
		return fmt.Errorf("invalid authorization code")
	}

	rec := toCodeRecord(code)
	rec.CreatedAt = createdAtOrNow(code.CreatedAt, s.now).Unix()
	if err := s.setWithTTL(ctx, s.codeKey(code.Code), rec, code.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", util.Prefix(code.Code))
	return nil
}

// GetAuthorizationCode retrieves a code without modifying it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	if len(code) > MaxTokenLength {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.codeKey(code)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	authCode, err := parseCodeRecord(data)
	if err != nil {
		return nil, err
	}
	if s.expired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}
	return authCode, nil
}

// ConsumeAuthorizationCode atomically marks a code used via luaConsumeCode.
// Only one concurrent caller can succeed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	if len(code) > MaxTokenLength {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	// The grace period is applied by shifting "now" back.
	now := s.now().Add(-s.grace)
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(unixString(now)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		authCode, perr := parseCodeRecord(strings.TrimPrefix(result, "ALREADY_USED:"))
		if perr != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
		}
		return authCode, storage.ErrAuthorizationCodeUsed
	}

	authCode, err := parseCodeRecord(result)
	if err != nil {
		return nil, err
	}
	authCode.Used = true

	s.logger.Debug("Marked authorization code as used", "code_prefix", util.Prefix(code))
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// ============================================================
// TransactionStore
// ============================================================

// SaveTransaction stores a pending transaction. Valkey evicts it at expiry.
func (s *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) (err error) {
	ctx, done := s.start(ctx, "save_transaction")
	defer func() { done(err) }()

	if txn == nil || txn.ID == "" {
		return fmt.Errorf("invalid transaction")
	}
	if err := s.setWithTTL(ctx, s.transactionKey(txn.ID), txn, txn.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a pending transaction.
func (s *Store) GetTransaction(ctx context.Context, id string) (_ *storage.Transaction, err error) {
	ctx, done := s.start(ctx, "get_transaction")
	defer func() { done(err) }()

	var txn storage.Transaction
	found, err := s.getJSON(ctx, s.transactionKey(id), &txn)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if !found {
		return nil, storage.ErrTransactionNotFound
	}
	if s.expired(txn.ExpiresAt) {
		return nil, fmt.Errorf("%w: transaction expired", storage.ErrTransactionNotFound)
	}
	return &txn, nil
}

// DeleteTransaction removes a transaction. DEL reports how many keys it
// removed, so exactly one concurrent caller sees 1.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (err error) {
	ctx, done := s.start(ctx, "delete_transaction")
	defer func() { done(err) }()

	n, err := s.client.Do(ctx, s.client.B().Del().Key(s.transactionKey(id)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n == 0 {
		return storage.ErrTransactionNotFound
	}
	return nil
}
