package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	oauth "github.com/giantswarm/oidc-core"
	"github.com/giantswarm/oidc-core/server"
	"github.com/giantswarm/oidc-core/storage"
)

// basicLogin authenticates browser users with HTTP Basic credentials checked
// against the user store. It stands in for a session layer when no external
// login page is configured.
type basicLogin struct {
	server *server.Server
	realm  string
	logger *slog.Logger
}

var _ oauth.UserAuthenticator = (*basicLogin)(nil)

func (b *basicLogin) AuthenticatedUser(r *http.Request) (*storage.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, oauth.ErrNoSession
	}

	principal, err := b.server.Authenticate(r.Context(), server.Credentials{
		Kind:       server.CredentialUserPassword,
		Identifier: username,
		Secret:     password,
	})
	if err != nil {
		if server.IsRejection(err) {
			return nil, oauth.ErrNoSession
		}
		return nil, err
	}
	return principal.User, nil
}

// challenge asks the browser for credentials on paths under prefix when the
// request carries none, or carries credentials the store rejects.
func (b *basicLogin) challenge(next http.Handler, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			next.ServeHTTP(w, r)
			return
		}

		_, err := b.AuthenticatedUser(r)
		switch {
		case errors.Is(err, oauth.ErrNoSession):
			w.Header().Set("WWW-Authenticate", `Basic realm="`+b.realm+`", charset="UTF-8"`)
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		case err != nil:
			b.logger.Error("Login check failed", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}
