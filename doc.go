// Package oauth is the HTTP surface of an OAuth 2.0 / OpenID Connect
// authorization server.
//
// The protocol logic lives in the server package. This package adapts it to
// net/http:
//
//   - authorization endpoint: opens a consent transaction for the logged-in user
//   - decision endpoint: approves or denies it and redirects to the client
//   - token endpoint: authorization_code, password and client_credentials grants
//   - discovery and JWKS documents
//   - RequireBearer middleware for resource endpoints
//
// User sessions belong to the embedding application and are supplied through
// a UserAuthenticator:
//
//	srv, err := server.New(store, keySet, &server.Config{Issuer: "https://auth.example.com"}, logger)
//	if err != nil {
//		return err
//	}
//	h := oauth.NewHandler(srv, sessions, &oauth.Config{LoginURL: "/login"}, logger)
//
//	mux := http.NewServeMux()
//	h.RegisterRoutes(mux)
//	mux.Handle("/api/", h.RequireBearer(api))
package oauth
