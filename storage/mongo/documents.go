package mongo

import (
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	FirstName    string    `bson:"first_name,omitempty"`
	LastName     string    `bson:"last_name,omitempty"`
	Email        string    `bson:"email,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

func fromUser(u *storage.User) *userDoc {
	return &userDoc{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt,
	}
}

func (d *userDoc) toUser() *storage.User {
	return &storage.User{
		ID:           d.ID,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		CreatedAt:    d.CreatedAt,
	}
}

type clientDoc struct {
	ID               string    `bson:"_id"`
	ClientID         string    `bson:"client_id"`
	ClientSecretHash string    `bson:"client_secret_hash"`
	Name             string    `bson:"name,omitempty"`
	RedirectURIs     []string  `bson:"redirect_uris"`
	CreatedAt        time.Time `bson:"created_at"`
}

func fromClient(c *storage.Client) *clientDoc {
	return &clientDoc{
		ID:               c.ID,
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		Name:             c.Name,
		RedirectURIs:     c.RedirectURIs,
		CreatedAt:        c.CreatedAt,
	}
}

func (d *clientDoc) toClient() *storage.Client {
	return &storage.Client{
		ID:               d.ID,
		ClientID:         d.ClientID,
		ClientSecretHash: d.ClientSecretHash,
		Name:             d.Name,
		RedirectURIs:     d.RedirectURIs,
		CreatedAt:        d.CreatedAt,
	}
}

type codeDoc struct {
	Code        string    `bson:"_id"`
	ClientID    string    `bson:"client_id"`
	UserID      string    `bson:"user_id"`
	RedirectURI string    `bson:"redirect_uri"`
	Nonce       string    `bson:"nonce,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
	Used        bool      `bson:"used"`
}

func fromCode(c *storage.AuthorizationCode) *codeDoc {
	return &codeDoc{
		Code:        c.Code,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		RedirectURI: c.RedirectURI,
		Nonce:       c.Nonce,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
		Used:        c.Used,
	}
}

func (d *codeDoc) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        d.Code,
		ClientID:    d.ClientID,
		UserID:      d.UserID,
		RedirectURI: d.RedirectURI,
		Nonce:       d.Nonce,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
		Used:        d.Used,
	}
}

type tokenDoc struct {
	Token     string    `bson:"_id"`
	UserID    string    `bson:"user_id,omitempty"`
	ClientID  string    `bson:"client_id"`
	Scope     string    `bson:"scope"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

func fromToken(t *storage.AccessToken) *tokenDoc {
	return &tokenDoc{
		Token:     t.Token,
		UserID:    t.UserID,
		ClientID:  t.ClientID,
		Scope:     t.Scope,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

func (d *tokenDoc) toToken() *storage.AccessToken {
	return &storage.AccessToken{
		Token:     d.Token,
		UserID:    d.UserID,
		ClientID:  d.ClientID,
		Scope:     d.Scope,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

type transactionDoc struct {
	ID           string    `bson:"_id"`
	ClientID     string    `bson:"client_id"`
	RedirectURI  string    `bson:"redirect_uri"`
	ResponseType string    `bson:"response_type"`
	State        string    `bson:"state,omitempty"`
	Nonce        string    `bson:"nonce,omitempty"`
	Scope        string    `bson:"scope,omitempty"`
	UserID       string    `bson:"user_id"`
	CreatedAt    time.Time `bson:"created_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

func fromTransaction(t *storage.Transaction) *transactionDoc {
	return &transactionDoc{
		ID:           t.ID,
		ClientID:     t.ClientID,
		RedirectURI:  t.RedirectURI,
		ResponseType: t.ResponseType,
		State:        t.State,
		Nonce:        t.Nonce,
		Scope:        t.Scope,
		UserID:       t.UserID,
		CreatedAt:    t.CreatedAt,
		ExpiresAt:    t.ExpiresAt,
	}
}

func (d *transactionDoc) toTransaction() *storage.Transaction {
	return &storage.Transaction{
		ID:           d.ID,
		ClientID:     d.ClientID,
		RedirectURI:  d.RedirectURI,
		ResponseType: d.ResponseType,
		State:        d.State,
		Nonce:        d.Nonce,
		Scope:        d.Scope,
		UserID:       d.UserID,
		CreatedAt:    d.CreatedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}
