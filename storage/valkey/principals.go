package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oidc-core/storage"
)

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

	err = s.saveIndexed(ctx,
		s.usernameKey(user.Username), s.userKey(user.ID),
		s.usernameKey(""), "username", user.ID, user)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("%w: username %q", storage.ErrDuplicate, user.Username)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Debug("Saved user", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by store ID.
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user")
	defer func() { done(err) }()

	var user storage.User
	found, err := s.getJSON(ctx, s.userKey(id), &user)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

// GetUserByUsername retrieves a user through the username index.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(username)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}
	return s.GetUser(ctx, id)
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

	err = s.saveIndexed(ctx,
		s.clientIDKey(client.ClientID), s.clientKey(client.ID),
		s.clientIDKey(""), "client_id", client.ID, client)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("%w: client_id %q", storage.ErrDuplicate, client.ClientID)
		}
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by store ID.
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client")
	defer func() { done(err) }()

	var client storage.Client
	found, err := s.getJSON(ctx, s.clientKey(id), &client)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if !found {
		return nil, storage.ErrClientNotFound
	}
	return &client, nil
}

// GetClientByClientID retrieves a client through the client_id index.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.start(ctx, "get_client_by_client_id")
	defer func() { done(err) }()

	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIDKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to resolve client_id: %w", err)
	}
	return s.GetClient(ctx, id)
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken stores a token until it expires.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" || len(token.Token) > MaxTokenLength {
		return fmt.Errorf("invalid access token")
	}
	if err := s.setWithTTL(ctx, s.tokenKey(token.Token), token, token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves a token. The key TTL evicts expired tokens; the
// explicit check covers the grace window.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.start(ctx, "get_access_token")
	defer func() { done(err) }()

	if len(token) > MaxTokenLength {
		return nil, storage.ErrTokenNotFound
	}

	var t storage.AccessToken
	found, err := s.getJSON(ctx, s.tokenKey(token), &t)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if !found {
		return nil, storage.ErrTokenNotFound
	}
	if s.expired(t.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}
	return &t, nil
}

// createdAtOrNow keeps records written without a timestamp consistent.
func createdAtOrNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}
