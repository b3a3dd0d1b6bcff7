package server

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// ResponseType is a canonical response_type value.
type ResponseType string

// The closed set of response types. Values are in canonical word order.
const (
	ResponseTypeCode             ResponseType = "code"
	ResponseTypeToken            ResponseType = "token"
	ResponseTypeIDToken          ResponseType = "id_token"
	ResponseTypeIDTokenToken     ResponseType = "id_token token"
	ResponseTypeCodeIDToken      ResponseType = "code id_token"
	ResponseTypeCodeToken        ResponseType = "code token"
	ResponseTypeCodeIDTokenToken ResponseType = "code id_token token"
)

// SupportedResponseTypes lists every response type in canonical form.
var SupportedResponseTypes = []ResponseType{
	ResponseTypeCode,
	ResponseTypeToken,
	ResponseTypeIDToken,
	ResponseTypeIDTokenToken,
	ResponseTypeCodeIDToken,
	ResponseTypeCodeToken,
	ResponseTypeCodeIDTokenToken,
}

// ParseResponseType parses a space separated response_type. Word order does
// not matter; unknown and repeated words are rejected.
func ParseResponseType(raw string) (ResponseType, error) {
	var code, token, idToken bool
	words := strings.Fields(raw)
	if len(words) == 0 {
		return "", reject(ErrorCodeInvalidRequest, "response_type is required")
	}

	for _, w := range words {
		var seen *bool
		switch w {
		case "code":
			seen = &code
		case "token":
			seen = &token
		case "id_token":
			seen = &idToken
		default:
			return "", reject(ErrorCodeUnsupportedResponseType, fmt.Sprintf("unsupported response_type %q", raw))
		}
		if *seen {
			return "", reject(ErrorCodeInvalidRequest, fmt.Sprintf("repeated value in response_type %q", raw))
		}
		*seen = true
	}

	switch {
	case code && idToken && token:
		return ResponseTypeCodeIDTokenToken, nil
	case code && idToken:
		return ResponseTypeCodeIDToken, nil
	case code && token:
		return ResponseTypeCodeToken, nil
	case idToken && token:
		return ResponseTypeIDTokenToken, nil
	case code:
		return ResponseTypeCode, nil
	case token:
		return ResponseTypeToken, nil
	default:
		return ResponseTypeIDToken, nil
	}
}

func (rt ResponseType) has(word string) bool {
	for _, w := range strings.Fields(string(rt)) {
		if w == word {
			return true
		}
	}
	return false
}

// UsesFragment reports whether responses are delivered in the URL fragment.
// Only the plain code flow uses the query string.
func (rt ResponseType) UsesFragment() bool {
	return rt != ResponseTypeCode
}

// AuthorizationResponse is the outcome of a decided transaction, delivered
// to the client by redirect.
type AuthorizationResponse struct {
	RedirectURI  string
	ResponseType ResponseType
	State        string

	Code        string
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	IDToken     string

	Error            string
	ErrorDescription string
}

// Values returns the response parameters.
func (r *AuthorizationResponse) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("code", r.Code)
	set("access_token", r.AccessToken)
	set("token_type", r.TokenType)
	if r.AccessToken != "" && r.ExpiresIn > 0 {
		v.Set("expires_in", strconv.FormatInt(r.ExpiresIn, 10))
	}
	set("id_token", r.IDToken)
	set("error", r.Error)
	set("error_description", r.ErrorDescription)
	set("state", r.State)
	return v
}

// RedirectURL builds the URL the user agent is sent to. Parameters go in the
// query for the code flow and in the fragment otherwise. Existing query
// parameters on the redirect URI are preserved.
func (r *AuthorizationResponse) RedirectURL() (string, error) {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	params := r.Values()
	if r.ResponseType.UsesFragment() {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode(), nil
	}

	q := u.Query()
	for k, vals := range params {
		for _, val := range vals {
			q.Add(k, val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type grantStep func(ctx context.Context, s *Server, g *grant) error

type grant struct {
	client *storage.Client
	user   *storage.User
	txn    *storage.Transaction
	resp   *AuthorizationResponse
}

func issueTokenStep(ctx context.Context, s *Server, g *grant) error {
	token, _, err := s.issueAccessToken(ctx, g.client.ID, g.user.ID)
	if err != nil {
		return err
	}
	g.resp.AccessToken = token
	g.resp.TokenType = "Bearer"
	g.resp.ExpiresIn = s.Config.AccessTokenTTL
	return nil
}

func issueCodeStep(ctx context.Context, s *Server, g *grant) error {
	code, err := s.issueAuthorizationCode(ctx, g.client.ID, g.user.ID, g.txn.RedirectURI, g.txn.Nonce)
	if err != nil {
		return err
	}
	g.resp.Code = code
	return nil
}

func issueIDTokenStep(ctx context.Context, s *Server, g *grant) error {
	idToken, err := s.issueIDToken(ctx, g.client, g.user.ID, g.txn.Nonce, g.resp.AccessToken, g.resp.Code)
	if err != nil {
		return err
	}
	g.resp.IDToken = idToken
	return nil
}

// grantHandlers maps each response type to its issuance sequence. An access
// token always precedes a code, and the ID token comes last.
var grantHandlers = map[ResponseType][]grantStep{
	ResponseTypeCode:             {issueCodeStep},
	ResponseTypeToken:            {issueTokenStep},
	ResponseTypeIDToken:          {issueIDTokenStep},
	ResponseTypeIDTokenToken:     {issueTokenStep, issueIDTokenStep},
	ResponseTypeCodeIDToken:      {issueCodeStep, issueIDTokenStep},
	ResponseTypeCodeToken:        {issueTokenStep, issueCodeStep},
	ResponseTypeCodeIDTokenToken: {issueTokenStep, issueCodeStep, issueIDTokenStep},
}

// Grant issues the artifacts for an approved transaction according to its
// response type.
func (s *Server) Grant(ctx context.Context, client *storage.Client, user *storage.User, txn *storage.Transaction) (*AuthorizationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.Grant")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, user.ID, ScopeAll)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, txn.ResponseType))

	rt, err := ParseResponseType(txn.ResponseType)
	if err != nil {
		return nil, err
	}
	steps, ok := grantHandlers[rt]
	if !ok {
		return nil, reject(ErrorCodeUnsupportedResponseType, fmt.Sprintf("unsupported response_type %q", rt))
	}

	g := &grant{
		client: client,
		user:   user,
		txn:    txn,
		resp: &AuthorizationResponse{
			RedirectURI:  txn.RedirectURI,
			ResponseType: rt,
			State:        txn.State,
		},
	}
	for _, step := range steps {
		if err := step(ctx, s, g); err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}
	}

	s.metrics.RecordGrantIssued(ctx, string(rt))
	if rt.has("token") {
		s.Auditor.LogTokenIssued(user.ID, client.ClientID, security.ClientIPFromContext(ctx), string(rt))
	}
	instrumentation.SetSpanSuccess(span)
	return g.resp, nil
}
