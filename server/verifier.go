package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// CredentialKind selects the verifier for a Credentials value.
type CredentialKind int

const (
	// CredentialUserPassword is a resource owner's username and password.
	CredentialUserPassword CredentialKind = iota + 1

	// CredentialClientBasic is a client_id and secret from HTTP Basic auth.
	CredentialClientBasic

	// CredentialClientPassword is a client_id and secret from form fields.
	CredentialClientPassword

	// CredentialBearer is a previously issued access token.
	CredentialBearer
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialUserPassword:
		return "user_password"
	case CredentialClientBasic:
		return "client_basic"
	case CredentialClientPassword:
		return "client_password"
	case CredentialBearer:
		return "bearer"
	default:
		return fmt.Sprintf("credential_kind(%d)", int(k))
	}
}

// IsClient reports whether the kind authenticates a client.
func (k CredentialKind) IsClient() bool {
	return k == CredentialClientBasic || k == CredentialClientPassword
}

// Credentials is what a caller presented. Identifier is the username or
// client_id and is empty for bearer tokens. Secret is the password, client
// secret or token.
type Credentials struct {
	Kind       CredentialKind
	Identifier string
	Secret     string
}

// Principal is a verified caller. Exactly one of User and Client is set.
type Principal struct {
	User   *storage.User
	Client *storage.Client
	Scope  string
}

// IsClient reports whether the principal is a client acting on its own behalf.
func (p *Principal) IsClient() bool {
	return p.User == nil && p.Client != nil
}

// Authenticate dispatches creds to the verifier selected by its kind.
func (s *Server) Authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	switch creds.Kind {
	case CredentialUserPassword:
		user, err := s.VerifyUser(ctx, creds.Identifier, creds.Secret)
		if err != nil {
			return nil, err
		}
		return &Principal{User: user, Scope: ScopeAll}, nil

	case CredentialClientBasic, CredentialClientPassword:
		client, err := s.verifyClient(ctx, creds.Kind, creds.Identifier, creds.Secret)
		if err != nil {
			return nil, err
		}
		return &Principal{Client: client, Scope: ScopeAll}, nil

	case CredentialBearer:
		return s.VerifyBearer(ctx, creds.Secret)

	default:
		return nil, fmt.Errorf("unknown credential kind %s", creds.Kind)
	}
}

// VerifyUser checks a username and password. Unknown users and wrong
// passwords are indistinguishable, including in timing.
func (s *Server) VerifyUser(ctx context.Context, username, password string) (_ *storage.User, err error) {
	ctx, span := s.tracer.Start(ctx, "server.VerifyUser")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrCredential, CredentialUserPassword.String()))

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !security.VerifySecret(hash, password) {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		s.rejectCredential(ctx, CredentialUserPassword, userID, "", "invalid_credentials")
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRejected, true))
		return nil, reject(ErrorCodeInvalidGrant, "invalid username or password")
	}

	instrumentation.SetSpanSuccess(span)
	return user, nil
}

// VerifyClient checks a client_id and secret delivered in the request body.
func (s *Server) VerifyClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	return s.verifyClient(ctx, CredentialClientPassword, clientID, clientSecret)
}

// verifyClient is shared by the Basic and body variants; kind only affects
// what is recorded.
func (s *Server) verifyClient(ctx context.Context, kind CredentialKind, clientID, clientSecret string) (*storage.Client, error) {
	ctx, span := s.tracer.Start(ctx, "server.VerifyClient")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrCredential, kind.String()),
		attribute.String(instrumentation.AttrClientID, clientID))

	var client *storage.Client
	if clientID != "" {
		var err error
		client, err = s.store.GetClientByClientID(ctx, clientID)
		if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("failed to look up client: %w", err)
		}
	}

	hash := ""
	if client != nil {
		hash = client.ClientSecretHash
	}
	if !security.VerifySecret(hash, clientSecret) {
		s.rejectCredential(ctx, kind, "", clientID, "invalid_client_credentials")
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRejected, true))
		return nil, reject(ErrorCodeInvalidClient, "client authentication failed")
	}

	instrumentation.SetSpanSuccess(span)
	return client, nil
}

// VerifyBearer resolves an access token to the user or client it was issued
// to. Unknown and expired tokens are rejections. A token whose user or client
// can no longer be loaded is an ErrIntegrity error.
func (s *Server) VerifyBearer(ctx context.Context, token string) (*Principal, error) {
	ctx, span := s.tracer.Start(ctx, "server.VerifyBearer")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrCredential, CredentialBearer.String()))

	if token == "" {
		s.rejectCredential(ctx, CredentialBearer, "", "", "missing_token")
		return nil, reject(ErrorCodeInvalidToken, "missing access token")
	}

	accessToken, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if storage.IsNotFound(err) {
			s.Logger.Debug("Bearer token rejected", "token_prefix", util.Prefix(token), "reason", err)
			s.rejectCredential(ctx, CredentialBearer, "", "", "unknown_or_expired_token")
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRejected, true))
			return nil, reject(ErrorCodeInvalidToken, "access token is invalid or expired")
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	if !accessToken.IsClientToken() {
		user, err := s.store.GetUser(ctx, accessToken.UserID)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("%w: access token references user %s: %w", ErrIntegrity, accessToken.UserID, err)
		}
		instrumentation.AddOAuthFlowAttributes(span, accessToken.ClientID, user.ID, ScopeAll)
		instrumentation.SetSpanSuccess(span)
		return &Principal{User: user, Scope: ScopeAll}, nil
	}

	client, err := s.store.GetClient(ctx, accessToken.ClientID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("%w: access token references client %s: %w", ErrIntegrity, accessToken.ClientID, err)
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", ScopeAll)
	instrumentation.SetSpanSuccess(span)
	return &Principal{Client: client, Scope: ScopeAll}, nil
}

func (s *Server) rejectCredential(ctx context.Context, kind CredentialKind, userID, clientID, reason string) {
	s.metrics.RecordCredentialRejected(ctx, kind.String())
	s.Auditor.LogAuthFailure(userID, clientID, security.ClientIPFromContext(ctx), kind.String(), reason)
}
