package oauth

import "time"

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is the token endpoint success body (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`

	// IDToken is present for the authorization_code grant.
	IDToken string `json:"id_token,omitempty"`
}

// ClientSummary is what the consent screen may show about a client.
type ClientSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AuthorizationPrompt is returned by the authorization endpoint for the
// consent UI. The UI posts TransactionID back to the decision endpoint.
type AuthorizationPrompt struct {
	TransactionID string        `json:"transaction_id"`
	Client        ClientSummary `json:"client"`
	Scope         string        `json:"scope"`
	ResponseType  string        `json:"response_type"`
	RedirectURI   string        `json:"redirect_uri"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// ProviderMetadata is the OpenID Connect Discovery 1.0 document.
type ProviderMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}
