package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to a structured logger. User identifiers
// are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs an access token issued through a grant or exchange.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, flow string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"flow": flow,
		},
	})
}

// LogAuthFailure logs a rejected credential. kind names the verifier.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, kind, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"credential": kind,
			"reason":     reason,
		},
	})
}

// LogCodeReuse logs presentation of an already consumed authorization code.
func (a *Auditor) LogCodeReuse(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity": "high",
		},
	})
}

// LogDecision logs a user's approve or deny decision on a transaction.
func (a *Auditor) LogDecision(userID, clientID, responseType string, approved bool) {
	eventType := EventAuthorizationDenied
	if approved {
		eventType = EventAuthorizationApproved
	}
	a.LogEvent(Event{
		Type:     eventType,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"response_type": responseType,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
