package server

import (
	"errors"
	"fmt"
)

// OAuth error codes produced by the protocol core.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// ErrRejected marks an expected authentication or validation failure.
// Every ProtocolError unwraps to it.
var ErrRejected = errors.New("rejected")

// ErrIntegrity marks a stored record that references an entity which no
// longer exists, such as an access token whose user was deleted.
var ErrIntegrity = errors.New("data integrity violation")

// ProtocolError is a rejection carrying the OAuth error code to report.
// Description is safe to show to the client; it never says which check failed.
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap makes errors.Is(err, ErrRejected) true for every ProtocolError.
func (e *ProtocolError) Unwrap() error {
	return ErrRejected
}

func reject(code, description string) error {
	return &ProtocolError{Code: code, Description: description}
}

// IsRejection reports whether err is an expected rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// AsProtocolError extracts the ProtocolError from err. Non-rejections map to
// server_error.
func AsProtocolError(err error) *ProtocolError {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProtocolError{Code: ErrorCodeServerError, Description: "internal server error"}
}
