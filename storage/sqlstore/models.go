package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

// stringList persists a []string as a JSON text column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("invalid type for string list")
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

type userRow struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	FirstName    string
	LastName     string
	Email        string
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func fromUser(u *storage.User) *userRow {
	return &userRow{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt,
	}
}

func (r *userRow) toUser() *storage.User {
	return &storage.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		CreatedAt:    r.CreatedAt,
	}
}

type clientRow struct {
	ID               string `gorm:"primaryKey"`
	ClientID         string `gorm:"uniqueIndex;not null"`
	ClientSecretHash string `gorm:"not null"`
	Name             string
	RedirectURIs     stringList `gorm:"type:text"`
	CreatedAt        time.Time
}

func (clientRow) TableName() string { return "clients" }

func fromClient(c *storage.Client) *clientRow {
	return &clientRow{
		ID:               c.ID,
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		Name:             c.Name,
		RedirectURIs:     stringList(c.RedirectURIs),
		CreatedAt:        c.CreatedAt,
	}
}

func (r *clientRow) toClient() *storage.Client {
	return &storage.Client{
		ID:               r.ID,
		ClientID:         r.ClientID,
		ClientSecretHash: r.ClientSecretHash,
		Name:             r.Name,
		RedirectURIs:     []string(r.RedirectURIs),
		CreatedAt:        r.CreatedAt,
	}
}

type codeRow struct {
	Code        string `gorm:"primaryKey"`
	ClientID    string `gorm:"index"`
	UserID      string `gorm:"index"`
	RedirectURI string
	Nonce       string
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
	Used        bool      `gorm:"not null;default:false"`
}

func (codeRow) TableName() string { return "authorization_codes" }

func fromCode(c *storage.AuthorizationCode) *codeRow {
	return &codeRow{
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

func (r *codeRow) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        r.Code,
		ClientID:    r.ClientID,
		UserID:      r.UserID,
		RedirectURI: r.RedirectURI,
		Nonce:       r.Nonce,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Used:        r.Used,
	}
}

type tokenRow struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	ClientID  string `gorm:"index"`
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (tokenRow) TableName() string { return "access_tokens" }

func fromToken(t *storage.AccessToken) *tokenRow {
	return &tokenRow{
		Token:     t.Token,
		UserID:    t.UserID,
		ClientID:  t.ClientID,
		Scope:     t.Scope,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

func (r *tokenRow) toToken() *storage.AccessToken {
	return &storage.AccessToken{
		Token:     r.Token,
		UserID:    r.UserID,
		ClientID:  r.ClientID,
		Scope:     r.Scope,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

type transactionRow struct {
	ID           string `gorm:"primaryKey"`
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Nonce        string
	Scope        string
	UserID       string `gorm:"index"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index"`
}

func (transactionRow) TableName() string { return "transactions" }

func fromTransaction(t *storage.Transaction) *transactionRow {
	return &transactionRow{
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

func (r *transactionRow) toTransaction() *storage.Transaction {
	return &storage.Transaction{
		ID:           r.ID,
		ClientID:     r.ClientID,
		RedirectURI:  r.RedirectURI,
		ResponseType: r.ResponseType,
		State:        r.State,
		Nonce:        r.Nonce,
		Scope:        r.Scope,
		UserID:       r.UserID,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

// allModels is what Open migrates.
var allModels = []any{
	&userRow{},
	&clientRow{},
	&codeRow{},
	&tokenRow{},
	&transactionRow{},
}
