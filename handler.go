package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/server"
	"github.com/giantswarm/oidc-core/storage"
)

const (
	tokenTypeBearer = "Bearer"

	decisionAllow  = "allow"
	decisionDeny   = "deny"
	decisionCancel = "cancel"
)

// ErrNoSession is returned by a UserAuthenticator when the request carries
// no logged-in user.
var ErrNoSession = errors.New("no authenticated user session")

// UserAuthenticator resolves the logged-in user of a browser request. Session
// management is owned by the embedding application.
type UserAuthenticator interface {
	AuthenticatedUser(r *http.Request) (*storage.User, error)
}

// UserAuthenticatorFunc adapts a function to UserAuthenticator.
type UserAuthenticatorFunc func(r *http.Request) (*storage.User, error)

// AuthenticatedUser calls f(r).
func (f UserAuthenticatorFunc) AuthenticatedUser(r *http.Request) (*storage.User, error) {
	return f(r)
}

// Handler is a thin HTTP adapter for the authorization server.
// It handles HTTP requests and delegates to server.Server for protocol logic.
type Handler struct {
	server *server.Server
	users  UserAuthenticator
	config *Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler. users may be nil when only the
// token endpoint and bearer protection are served.
func NewHandler(srv *server.Server, users UserAuthenticator, config *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		users:  users,
		config: applyConfigDefaults(config),
		logger: logger,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h
}

// RegisterRoutes mounts every endpoint on mux at the configured paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(h.config.AuthorizePath, security.RequestIDMiddleware(h.endpoint("authorization", h.ServeAuthorization)))
	mux.Handle(h.config.DecisionPath, security.RequestIDMiddleware(h.endpoint("decision", h.ServeDecision)))
	mux.Handle(h.config.TokenPath, security.RequestIDMiddleware(h.endpoint("token", h.ServeToken)))
	mux.Handle(h.config.JWKSPath, security.RequestIDMiddleware(h.endpoint("jwks", h.ServeJWKS)))
	mux.Handle(DiscoveryPath, security.RequestIDMiddleware(h.endpoint("discovery", h.ServeOpenIDConfiguration)))
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// endpoint wraps a handler with the per-request plumbing every endpoint
// shares: span, security headers, client IP in context and HTTP metrics.
func (h *Handler) endpoint(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ctx, span := h.tracer.Start(r.Context(), "oauth.http."+name)
		defer span.End()

		clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
		ctx = security.WithClientIP(ctx, clientIP)

		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, name, rec.status)
		h.recordHTTPMetrics(ctx, name, r.Method, rec.status, startTime)
	})
}

// ServeAuthorization handles the authorization endpoint. An authenticated
// user gets a consent prompt naming a fresh transaction. Malformed requests
// are answered directly and never redirected to the client.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := server.AuthorizationRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		State:        q.Get("state"),
		Nonce:        q.Get("nonce"),
		Scope:        q.Get("scope"),
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)

	txn, err := h.server.BeginAuthorization(r.Context(), req, user)
	if err != nil {
		h.writeServerError(w, r, "Authorization request failed", err)
		return
	}

	h.writePrompt(w, r, txn, http.StatusOK)
}

// ServeDecision handles the consent step. GET returns the pending prompt
// again; POST records the user's decision and redirects to the client.
func (h *Handler) ServeDecision(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		h.writeMethodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
		return
	}

	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		txn, err := h.server.PendingAuthorization(r.Context(), r.URL.Query().Get("transaction_id"), user)
		if err != nil {
			h.writeServerError(w, r, "Pending authorization lookup failed", err)
			return
		}
		h.writePrompt(w, r, txn, http.StatusOK)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "failed to parse request"))
		return
	}

	approved, decisionErr := parseDecision(r.PostForm)
	if decisionErr != nil {
		h.writeError(w, decisionErr)
		return
	}

	resp, err := h.server.DecideAuthorization(r.Context(), r.PostForm.Get("transaction_id"), user, approved)
	if err != nil {
		h.writeServerError(w, r, "Authorization decision failed", err)
		return
	}

	target, err := resp.RedirectURL()
	if err != nil {
		h.writeServerError(w, r, "Failed to build authorization redirect", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func parseDecision(form url.Values) (bool, *Error) {
	if form.Get(decisionCancel) != "" {
		return false, nil
	}
	switch form.Get("decision") {
	case decisionAllow:
		return true, nil
	case decisionDeny:
		return false, nil
	case "":
		return false, NewError(ErrorCodeInvalidRequest, "decision is required")
	default:
		return false, NewError(ErrorCodeInvalidRequest, "decision must be allow or deny")
	}
}

// ServeToken handles the token endpoint for the authorization_code, password
// and client_credentials grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "failed to parse request"))
		return
	}

	creds, oerr := clientCredentials(r)
	if oerr != nil {
		h.writeError(w, oerr)
		return
	}

	tok, err := h.server.Exchange(r.Context(), server.ExchangeRequest{
		GrantType:   r.PostForm.Get("grant_type"),
		Client:      creds,
		Code:        r.PostForm.Get("code"),
		RedirectURI: r.PostForm.Get("redirect_uri"),
		Username:    r.PostForm.Get("username"),
		Password:    r.PostForm.Get("password"),
		Scope:       r.PostForm.Get("scope"),
	})
	if err != nil {
		h.writeServerError(w, r, "Token request failed", err)
		return
	}

	resp := TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   tok.ExpiresIn,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientCredentials reads client authentication from HTTP Basic or from the
// form body. Presenting both is an error (RFC 6749 Section 2.3).
func clientCredentials(r *http.Request) (server.Credentials, *Error) {
	basicID, basicSecret, hasBasic := r.BasicAuth()
	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	if hasBasic {
		if formSecret != "" {
			return server.Credentials{}, NewError(ErrorCodeInvalidRequest, "multiple client authentication methods")
		}
		// RFC 6749 Section 2.3.1: both parts are form-urlencoded before
		// being placed in the header.
		id, err := url.QueryUnescape(basicID)
		if err != nil {
			return server.Credentials{}, NewError(ErrorCodeInvalidClient, "malformed client credentials")
		}
		secret, err := url.QueryUnescape(basicSecret)
		if err != nil {
			return server.Credentials{}, NewError(ErrorCodeInvalidClient, "malformed client credentials")
		}
		return server.Credentials{Kind: server.CredentialClientBasic, Identifier: id, Secret: secret}, nil
	}

	return server.Credentials{Kind: server.CredentialClientPassword, Identifier: formID, Secret: formSecret}, nil
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by RequireBearer.
func PrincipalFromContext(ctx context.Context) (*server.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*server.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *server.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// RequireBearer is middleware that admits requests carrying a valid access
// token and stores the resolved principal in the request context.
func (h *Handler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
		ctx := security.WithClientIP(r.Context(), clientIP)

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", h.bearerChallenge("", ""))
			h.writeError(w, &Error{Code: ErrorCodeInvalidRequest, Description: "bearer token required", Status: http.StatusUnauthorized})
			return
		}

		principal, err := h.server.Authenticate(ctx, server.Credentials{Kind: server.CredentialBearer, Secret: token})
		if err != nil {
			if !server.IsRejection(err) {
				h.logger.Error("Bearer verification failed", "ip", clientIP, "error", err)
				h.writeError(w, NewError(ErrorCodeServerError, "internal server error"))
				return
			}
			oerr := errorFromServer(err)
			h.logger.Warn("Rejected bearer token", "ip", clientIP, "reason", oerr.Description)
			w.Header().Set("WWW-Authenticate", h.bearerChallenge(ErrorCodeInvalidToken, oerr.Description))
			h.writeError(w, NewError(ErrorCodeInvalidToken, oerr.Description))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// bearerChallenge formats an RFC 6750 Section 3 challenge.
func (h *Handler) bearerChallenge(code, description string) string {
	challenge := fmt.Sprintf("%s realm=%q", tokenTypeBearer, h.server.Config.Issuer)
	if code != "" {
		challenge += fmt.Sprintf(", error=%q", code)
	}
	if description != "" {
		challenge += fmt.Sprintf(", error_description=%q", description)
	}
	return challenge
}

// ServeOpenIDConfiguration serves the OpenID Connect Discovery document.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, h.providerMetadata())
}

func (h *Handler) providerMetadata() ProviderMetadata {
	issuer := h.server.Config.Issuer

	responseTypes := make([]string, 0, len(server.SupportedResponseTypes))
	for _, rt := range server.SupportedResponseTypes {
		responseTypes = append(responseTypes, string(rt))
	}

	return ProviderMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             endpointURL(issuer, h.config.AuthorizePath),
		TokenEndpoint:                     endpointURL(issuer, h.config.TokenPath),
		JWKSURI:                           endpointURL(issuer, h.config.JWKSPath),
		ResponseTypesSupported:            responseTypes,
		ResponseModesSupported:            []string{"query", "fragment"},
		GrantTypesSupported:               append([]string(nil), server.SupportedGrantTypes...),
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		ScopesSupported:                   []string{server.ScopeAll},
		ClaimsSupported:                   []string{"iss", "sub", "aud", "exp", "iat", "nonce", "name", "given_name", "family_name", "email"},
	}
}

// ServeJWKS publishes the public half of the signing key.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	// Public keys may be cached, unlike every other response.
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Del("Pragma")
	writeJSON(w, http.StatusOK, h.server.KeySet().JWKS())
}

// requireUser resolves the session user. Without one the browser is sent to
// the login page, or gets 401 login_required when none is configured.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	var user *storage.User
	var err error
	if h.users != nil {
		user, err = h.users.AuthenticatedUser(r)
	} else {
		err = ErrNoSession
	}

	if err != nil && !errors.Is(err, ErrNoSession) {
		h.logger.Error("Session lookup failed", "error", err)
		h.writeError(w, NewError(ErrorCodeServerError, "internal server error"))
		return nil, false
	}
	if user != nil {
		return user, true
	}

	if h.config.LoginURL == "" {
		h.writeError(w, NewError(ErrorCodeLoginRequired, "user authentication required"))
		return nil, false
	}

	loginURL, perr := url.Parse(h.config.LoginURL)
	if perr != nil {
		h.logger.Error("Invalid login URL", "login_url", h.config.LoginURL, "error", perr)
		h.writeError(w, NewError(ErrorCodeServerError, "internal server error"))
		return nil, false
	}
	q := loginURL.Query()
	q.Set("return_to", r.URL.RequestURI())
	loginURL.RawQuery = q.Encode()

	http.Redirect(w, r, loginURL.String(), http.StatusFound)
	return nil, false
}

func (h *Handler) writePrompt(w http.ResponseWriter, r *http.Request, txn *storage.Transaction, status int) {
	client, err := h.server.Store().GetClient(r.Context(), txn.ClientID)
	if err != nil {
		h.writeServerError(w, r, "Transaction references a missing client", fmt.Errorf("%w: %w", server.ErrIntegrity, err))
		return
	}

	writeJSON(w, status, AuthorizationPrompt{
		TransactionID: txn.ID,
		Client:        ClientSummary{ID: client.ClientID, Name: client.Name},
		Scope:         server.ScopeAll,
		ResponseType:  txn.ResponseType,
		RedirectURI:   txn.RedirectURI,
		ExpiresAt:     txn.ExpiresAt,
	})
}

// writeServerError answers with the protocol error carried by err. Anything
// that is not a rejection is logged and hidden behind server_error.
func (h *Handler) writeServerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	span := trace.SpanFromContext(r.Context())
	oerr := errorFromServer(err)

	if server.IsRejection(err) {
		h.logger.Info(message, "error_code", oerr.Code, "reason", oerr.Description,
			"request_id", security.GetRequestID(r.Context()))
		instrumentation.SetSpanAttributes(span,
			attribute.Bool(instrumentation.AttrRejected, true),
			attribute.String(instrumentation.AttrError, oerr.Code))
	} else {
		h.logger.Error(message, "error", err, "request_id", security.GetRequestID(r.Context()))
		instrumentation.RecordError(span, err)
	}

	if oerr.Code == ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.server.Config.Issuer))
	}
	h.writeError(w, oerr)
}

func (h *Handler) writeError(w http.ResponseWriter, oerr *Error) {
	writeJSON(w, oerr.Status, ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	h.writeError(w, &Error{Code: ErrorCodeInvalidRequest, Description: "method not allowed", Status: http.StatusMethodNotAllowed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
