package storage

import (
	"context"
	"time"
)

// User is a resource owner able to authenticate with a username and password.
type User struct {
	// ID is the stable store identifier, used as the ID token subject.
	ID string `json:"id"`

	// Username is unique across all users.
	Username string `json:"username"`

	// PasswordHash is a bcrypt hash. The plaintext is never stored.
	PasswordHash string `json:"password_hash"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns "First Last" when either part is set.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// Client is a registered relying party. Clients are created out of band.
type Client struct {
	// ID is the internal store identifier. Codes and tokens reference it.
	ID string `json:"id"`

	// ClientID is the public identifier presented during authentication.
	ClientID string `json:"client_id"`

	// ClientSecretHash is a bcrypt hash of the client secret.
	ClientSecretHash string `json:"client_secret_hash"`

	// Name is shown on the consent screen.
	Name string `json:"name,omitempty"`

	// RedirectURIs lists the callback URIs the client may use.
	RedirectURIs []string `json:"redirect_uris"`

	CreatedAt time.Time `json:"created_at"`
}

// AuthorizationCode is a short-lived, single-use code bound to a client,
// a user and the redirect URI it was issued for.
type AuthorizationCode struct {
	Code string `json:"code"`

	// ClientID references Client.ID (the internal identifier).
	ClientID string `json:"client_id"`

	// UserID references User.ID.
	UserID string `json:"user_id"`

	RedirectURI string `json:"redirect_uri"`

	// Nonce from the authorization request, echoed in the ID token issued at exchange.
	Nonce string `json:"nonce,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Used is set atomically on the first exchange attempt.
	Used bool `json:"used"`
}

// AccessToken is an opaque bearer token.
type AccessToken struct {
	Token string `json:"token"`

	// UserID is empty for tokens issued via client_credentials.
	UserID string `json:"user_id,omitempty"`

	// ClientID references Client.ID.
	ClientID string `json:"client_id"`

	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsClientToken reports whether the token was issued to a client acting on its own behalf.
func (t *AccessToken) IsClientToken() bool {
	return t.UserID == ""
}

// Transaction is a pending authorization decision. It is created when an
// authenticated user reaches the authorization endpoint and is removed when
// the user decides or when it expires.
type Transaction struct {
	ID string `json:"id"`

	// ClientID references Client.ID.
	ClientID string `json:"client_id"`

	RedirectURI  string `json:"redirect_uri"`
	ResponseType string `json:"response_type"`
	State        string `json:"state,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// UserID is the user that opened the transaction. Only that user may decide it.
	UserID string `json:"user_id"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserStore persists resource owners.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// SaveUser creates or replaces a user. An empty ID is assigned by the store.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by store ID.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by its unique username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ClientStore persists registered clients.
type ClientStore interface {
	// SaveClient creates or replaces a client. An empty ID is assigned by the store.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by store ID.
	GetClient(ctx context.Context, id string) (*Client, error)

	// GetClientByClientID retrieves a client by its public client_id.
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
}

// CodeStore persists authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without modifying it.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unused and
	// unexpired and marks it as used. Exactly one concurrent caller succeeds.
	// On replay the stored code is returned together with ErrAuthorizationCodeUsed
	// so the caller can audit which client and user it belonged to.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists access tokens.
type TokenStore interface {
	// SaveAccessToken stores a freshly issued token.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token. Expired tokens yield ErrTokenExpired.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
}

// TransactionStore is the expiring table of pending authorization decisions.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, txn *Transaction) error

	// GetTransaction retrieves a pending transaction. Expired entries yield
	// ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// DeleteTransaction removes a transaction. It returns ErrTransactionNotFound
	// when the entry is already gone, so exactly one concurrent caller claims it.
	DeleteTransaction(ctx context.Context, id string) error
}

// Store combines every persistence interface the server needs.
type Store interface {
	UserStore
	ClientStore
	CodeStore
	TokenStore
	TransactionStore
}

// ClockSkewSetter is implemented by stores whose expiry checks tolerate a
// grace period past ExpiresAt. The server passes its configured period on.
type ClockSkewSetter interface {
	SetClockSkew(grace time.Duration)
}
