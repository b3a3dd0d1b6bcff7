// Package seed registers users and clients from a YAML file at startup.
// Clients have no registration endpoint, so this is how they are created.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// File is the seed document.
//
//	users:
//	  - username: alice
//	    password: wonderland
//	    email: alice@example.com
//	clients:
//	  - client_id: web
//	    client_secret_hash: $2a$12$...
//	    redirect_uris: [https://app.example.com/callback]
type File struct {
	Users   []User   `yaml:"users"`
	Clients []Client `yaml:"clients"`
}

// User is a seeded resource owner. Exactly one of Password and PasswordHash is set.
type User struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	FirstName    string `yaml:"first_name"`
	LastName     string `yaml:"last_name"`
	Email        string `yaml:"email"`
}

// Client is a seeded relying party. Exactly one of ClientSecret and
// ClientSecretHash is set.
type Client struct {
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	ClientSecretHash string   `yaml:"client_secret_hash"`
	Name             string   `yaml:"name"`
	RedirectURIs     []string `yaml:"redirect_uris"`
}

// Load parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for i, u := range f.Users {
		if u.Username == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		if (u.Password == "") == (u.PasswordHash == "") {
			return fmt.Errorf("users[%d]: set exactly one of password and password_hash", i)
		}
	}
	for i, c := range f.Clients {
		if c.ClientID == "" {
			return fmt.Errorf("clients[%d]: client_id is required", i)
		}
		if (c.ClientSecret == "") == (c.ClientSecretHash == "") {
			return fmt.Errorf("clients[%d]: set exactly one of client_secret and client_secret_hash", i)
		}
	}
	return nil
}

// Apply creates or updates every seeded entry. Existing entries keep their
// store ID so issued codes and tokens stay valid.
func (f *File) Apply(ctx context.Context, store storage.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, u := range f.Users {
		user := &storage.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			Email:        u.Email,
		}
		if u.Password != "" {
			hash, err := security.HashSecret(u.Password)
			if err != nil {
				return fmt.Errorf("failed to hash password for %q: %w", u.Username, err)
			}
			user.PasswordHash = hash
		}

		existing, err := store.GetUserByUsername(ctx, u.Username)
		switch {
		case err == nil:
			user.ID = existing.ID
			user.CreatedAt = existing.CreatedAt
		case !errors.Is(err, storage.ErrUserNotFound):
			return fmt.Errorf("failed to look up user %q: %w", u.Username, err)
		}
		if err := store.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("failed to seed user %q: %w", u.Username, err)
		}
	}

	for _, c := range f.Clients {
		client := &storage.Client{
			ClientID:         c.ClientID,
			ClientSecretHash: c.ClientSecretHash,
			Name:             c.Name,
			RedirectURIs:     c.RedirectURIs,
		}
		if c.ClientSecret != "" {
			hash, err := security.HashSecret(c.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to hash secret for %q: %w", c.ClientID, err)
			}
			client.ClientSecretHash = hash
		}

		existing, err := store.GetClientByClientID(ctx, c.ClientID)
		switch {
		case err == nil:
			client.ID = existing.ID
			client.CreatedAt = existing.CreatedAt
		case !errors.Is(err, storage.ErrClientNotFound):
			return fmt.Errorf("failed to look up client %q: %w", c.ClientID, err)
		}
		if err := store.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("failed to seed client %q: %w", c.ClientID, err)
		}
	}

	logger.Info("Applied seed data", "users", len(f.Users), "clients", len(f.Clients))
	return nil
}
