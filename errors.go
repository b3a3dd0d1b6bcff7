package oauth

import (
	"fmt"
	"net/http"

	"github.com/giantswarm/oidc-core/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeServerError             = server.ErrorCodeServerError

	// ErrorCodeLoginRequired is the OpenID Connect error for a missing user session.
	ErrorCodeLoginRequired = "login_required"
)

// Error represents an OAuth 2.0 error response
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new OAuth error with the status that belongs to code.
func NewError(code, description string) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      statusForCode(code),
	}
}

func statusForCode(code string) int {
	switch code {
	case ErrorCodeInvalidClient, ErrorCodeInvalidToken, ErrorCodeLoginRequired:
		return http.StatusUnauthorized
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// errorFromServer maps a protocol core error to its HTTP form. Anything that
// is not a rejection becomes a generic server_error.
func errorFromServer(err error) *Error {
	pe := server.AsProtocolError(err)
	return NewError(pe.Code, pe.Description)
}
