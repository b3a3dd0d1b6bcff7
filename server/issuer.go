package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// IDTokenClaims is the claim set of an ID token. Audience holds the
// client's public client_id and Subject the user's store ID.
type IDTokenClaims struct {
	Nonce      string `json:"nonce,omitempty"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email,omitempty"`

	// Set when an access token or code is issued in the same response.
	AccessTokenHash string `json:"at_hash,omitempty"`
	CodeHash        string `json:"c_hash,omitempty"`

	jwt.RegisteredClaims
}

// IssueAuthorizationCode mints a single-use code bound to the client's store
// ID, the user and the exact redirect URI.
func (s *Server) IssueAuthorizationCode(ctx context.Context, clientID, userID, redirectURI string) (string, error) {
	return s.issueAuthorizationCode(ctx, clientID, userID, redirectURI, "")
}

func (s *Server) issueAuthorizationCode(ctx context.Context, clientID, userID, redirectURI, nonce string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "server.IssueAuthorizationCode")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, clientID, userID, "")

	code, err := security.GenerateToken(s.Config.AuthorizationCodeBytes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := s.now()
	authCode := &storage.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Nonce:       nonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.Config.authorizationCodeTTL()),
	}
	if err := s.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", clientID,
		"code_prefix", util.Prefix(code))
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: security.ClientIPFromContext(ctx),
	})

	instrumentation.SetSpanSuccess(span)
	return code, nil
}

// IssueAccessToken mints an opaque bearer token. An empty userID marks a
// token issued to the client itself.
func (s *Server) IssueAccessToken(ctx context.Context, clientID, userID string) (string, error) {
	token, _, err := s.issueAccessToken(ctx, clientID, userID)
	return token, err
}

func (s *Server) issueAccessToken(ctx context.Context, clientID, userID string) (string, *storage.AccessToken, error) {
	ctx, span := s.tracer.Start(ctx, "server.IssueAccessToken")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, clientID, userID, ScopeAll)

	token, err := security.GenerateToken(s.Config.AccessTokenBytes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := s.now()
	accessToken := &storage.AccessToken{
		Token:     token,
		UserID:    userID,
		ClientID:  clientID,
		Scope:     ScopeAll,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Config.accessTokenTTL()),
	}
	if err := s.store.SaveAccessToken(ctx, accessToken); err != nil {
		instrumentation.RecordError(span, err)
		return "", nil, fmt.Errorf("failed to save access token: %w", err)
	}

	s.Logger.Debug("Issued access token",
		"client_id", clientID,
		"client_only", userID == "",
		"token_prefix", util.Prefix(token))

	instrumentation.SetSpanSuccess(span)
	return token, accessToken, nil
}

// IssueIDToken builds and signs an ID token for userID addressed to client.
// Every ID token is signed with the process-wide RS256 key and lives for
// IDTokenLifetime.
func (s *Server) IssueIDToken(ctx context.Context, client *storage.Client, userID, nonce string) (string, error) {
	return s.issueIDToken(ctx, client, userID, nonce, "", "")
}

// issueIDToken binds the token to an access token and code issued with it
// through at_hash and c_hash. Empty values leave the claim out.
func (s *Server) issueIDToken(ctx context.Context, client *storage.Client, userID, nonce, accessToken, code string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "server.IssueIDToken")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, userID, "")

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("%w: id token subject %s: %w", ErrIntegrity, userID, err)
	}

	now := s.now()
	claims := IDTokenClaims{
		Nonce:      nonce,
		Name:       user.DisplayName(),
		GivenName:  user.FirstName,
		FamilyName: user.LastName,
		Email:      user.Email,

		AccessTokenHash: leftHalfHash(accessToken),
		CodeHash:        leftHalfHash(code),

		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IDTokenLifetime)),
		},
	}

	signed, err := s.keySet.Sign(claims)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}

	s.metrics.RecordIDTokenSigned(ctx)
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventIDTokenIssued,
		UserID:    user.ID,
		ClientID:  client.ClientID,
		IPAddress: security.ClientIPFromContext(ctx),
		Details:   map[string]any{"kid": s.keySet.KeyID()},
	})
	instrumentation.SetSpanAttributes(span, attribute.String("oauth.id_token.kid", s.keySet.KeyID()))
	instrumentation.SetSpanSuccess(span)
	return signed, nil
}

// leftHalfHash is the base64url left half of the SHA-256 digest of v, the
// hash RS256 pairs with for at_hash and c_hash.
func leftHalfHash(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
