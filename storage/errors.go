package storage

import "errors"

// Sentinel errors returned by every store implementation. Callers compare with errors.Is.
// Not-found errors describe a missing principal or artifact and are never
// infrastructure failures.
var (
	ErrUserNotFound              = errors.New("user not found")
	ErrClientNotFound            = errors.New("client not found")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenExpired              = errors.New("token expired")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrDuplicate                 = errors.New("duplicate entry")
)

// IsNotFound reports whether err means the requested entity does not exist or
// is no longer valid.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTransactionNotFound)
}
