package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// Grant types accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
)

// SupportedGrantTypes lists the grant types in the order they are advertised.
var SupportedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypePassword,
	GrantTypeClientCredentials,
}

// ExchangeRequest is a parsed token endpoint request. Client must carry a
// client credential kind.
type ExchangeRequest struct {
	GrantType string
	Client    Credentials

	// authorization_code
	Code        string
	RedirectURI string

	// password
	Username string
	Password string

	Scope string
}

type exchangeHandler func(ctx context.Context, s *Server, client *storage.Client, req ExchangeRequest) (*oauth2.Token, error)

var exchangeHandlers = map[string]exchangeHandler{
	GrantTypeAuthorizationCode: exchangeAuthorizationCode,
	GrantTypePassword:          exchangePassword,
	GrantTypeClientCredentials: exchangeClientCredentials,
}

// Exchange authenticates the client and runs the handler for req.GrantType.
// The id_token of an authorization_code exchange is in the token's Extra.
func (s *Server) Exchange(ctx context.Context, req ExchangeRequest) (tok *oauth2.Token, err error) {
	ctx, span := s.tracer.Start(ctx, "server.Exchange")
	defer span.End()
	grantLabel := grantTypeLabel(req.GrantType)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantLabel))

	defer func() {
		result := "success"
		switch {
		case IsRejection(err):
			result = "rejected"
			instrumentation.SetSpanAttributes(span,
				attribute.Bool(instrumentation.AttrRejected, true),
				attribute.String(instrumentation.AttrError, AsProtocolError(err).Code))
		case err != nil:
			result = "error"
			instrumentation.RecordError(span, err)
		default:
			instrumentation.SetSpanSuccess(span)
		}
		s.metrics.RecordExchange(ctx, grantLabel, result)
	}()

	if req.GrantType == "" {
		return nil, reject(ErrorCodeInvalidRequest, "grant_type is required")
	}
	handler, ok := exchangeHandlers[req.GrantType]
	if !ok {
		return nil, reject(ErrorCodeUnsupportedGrantType, fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}

	if !req.Client.Kind.IsClient() {
		return nil, reject(ErrorCodeInvalidClient, "client authentication required")
	}
	principal, err := s.Authenticate(ctx, req.Client)
	if err != nil {
		return nil, err
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, principal.Client.ClientID))

	return handler(ctx, s, principal.Client, req)
}

// grantTypeLabel maps grant_type to a metric label. Anything outside
// exchangeHandlers shares one label so form input cannot mint new series.
func grantTypeLabel(grantType string) string {
	if _, ok := exchangeHandlers[grantType]; ok {
		return grantType
	}
	return "unsupported"
}

func exchangeAuthorizationCode(ctx context.Context, s *Server, client *storage.Client, req ExchangeRequest) (*oauth2.Token, error) {
	if req.Code == "" {
		return nil, reject(ErrorCodeInvalidRequest, "code is required")
	}

	authCode, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeUsed):
			userID := ""
			if authCode != nil {
				userID = authCode.UserID
			}
			s.Logger.Error("Authorization code reuse detected",
				"client_id", client.ClientID,
				"code_prefix", util.Prefix(req.Code))
			s.metrics.RecordCodeReuseDetected(ctx)
			instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.Bool(instrumentation.AttrCodeReuse, true))
			s.Auditor.LogCodeReuse(userID, client.ClientID, security.ClientIPFromContext(ctx))
			return nil, reject(ErrorCodeInvalidGrant, "invalid authorization code")

		case storage.IsNotFound(err):
			s.Logger.Debug("Authorization code validation failed",
				"reason", err.Error(),
				"client_id", client.ClientID,
				"code_prefix", util.Prefix(req.Code))
			s.Auditor.LogAuthFailure("", client.ClientID, security.ClientIPFromContext(ctx), GrantTypeAuthorizationCode, "invalid_authorization_code")
			return nil, reject(ErrorCodeInvalidGrant, "invalid authorization code")

		default:
			return nil, fmt.Errorf("failed to consume authorization code: %w", err)
		}
	}

	// The code is used from here on, whatever the outcome.
	if authCode.ClientID != client.ID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"client_id", client.ClientID,
			"code_prefix", util.Prefix(req.Code))
		s.Auditor.LogAuthFailure(authCode.UserID, client.ClientID, security.ClientIPFromContext(ctx), GrantTypeAuthorizationCode, "client_id_mismatch")
		return nil, reject(ErrorCodeInvalidGrant, "invalid authorization code")
	}
	// The code stores the resolved redirect URI, so redirect_uri is required
	// here even when the authorization request left it out.
	if authCode.RedirectURI != req.RedirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", client.ClientID,
			"code_prefix", util.Prefix(req.Code))
		s.Auditor.LogAuthFailure(authCode.UserID, client.ClientID, security.ClientIPFromContext(ctx), GrantTypeAuthorizationCode, "redirect_uri_mismatch")
		return nil, reject(ErrorCodeInvalidGrant, "invalid authorization code")
	}

	token, record, err := s.issueAccessToken(ctx, client.ID, authCode.UserID)
	if err != nil {
		return nil, err
	}
	idToken, err := s.issueIDToken(ctx, client, authCode.UserID, authCode.Nonce, token, "")
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(authCode.UserID, client.ClientID, security.ClientIPFromContext(ctx), GrantTypeAuthorizationCode)
	return s.tokenResponse(token, record).WithExtra(map[string]any{"id_token": idToken}), nil
}

func exchangePassword(ctx context.Context, s *Server, client *storage.Client, req ExchangeRequest) (*oauth2.Token, error) {
	if req.Username == "" || req.Password == "" {
		return nil, reject(ErrorCodeInvalidRequest, "username and password are required")
	}

	user, err := s.VerifyUser(ctx, req.Username, req.Password)
	if err != nil {
		if IsRejection(err) {
			return nil, reject(ErrorCodeInvalidGrant, "invalid resource owner credentials")
		}
		return nil, err
	}

	token, record, err := s.issueAccessToken(ctx, client.ID, user.ID)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(user.ID, client.ClientID, security.ClientIPFromContext(ctx), GrantTypePassword)
	return s.tokenResponse(token, record), nil
}

func exchangeClientCredentials(ctx context.Context, s *Server, client *storage.Client, _ ExchangeRequest) (*oauth2.Token, error) {
	token, record, err := s.issueAccessToken(ctx, client.ID, "")
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued("", client.ClientID, security.ClientIPFromContext(ctx), GrantTypeClientCredentials)
	return s.tokenResponse(token, record), nil
}

func (s *Server) tokenResponse(token string, record *storage.AccessToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      record.ExpiresAt,
		ExpiresIn:   security.RemainingSeconds(record.CreatedAt, record.ExpiresAt),
	}
}
