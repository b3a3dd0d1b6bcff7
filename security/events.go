package security

// Event type constants for security audit logging.
const (
	// EventAuthorizationStarted is logged when an authenticated user opens a transaction.
	EventAuthorizationStarted = "authorization_started"

	// EventAuthorizationApproved is logged when the user approves a transaction.
	EventAuthorizationApproved = "authorization_approved"

	// EventAuthorizationDenied is logged when the user denies a transaction.
	EventAuthorizationDenied = "authorization_denied"

	// EventAuthorizationCodeIssued is logged when a code is minted.
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is presented again.
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventTokenIssued is logged when an access token is minted.
	EventTokenIssued = "token_issued"

	// EventIDTokenIssued is logged when an ID token is signed.
	EventIDTokenIssued = "id_token_issued" //nolint:gosec // event name, not a credential

	// EventAuthFailure is logged when a user, client or bearer credential is rejected.
	EventAuthFailure = "auth_failure"

	// EventInvalidRedirect is logged when a redirect URI is not registered for the client.
	EventInvalidRedirect = "invalid_redirect"

	// EventTransactionUserMismatch is logged when a user tries to decide another user's transaction.
	EventTransactionUserMismatch = "transaction_user_mismatch"
)
