package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// AuthorizationRequest holds the parameters of an authorization endpoint hit.
type AuthorizationRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Nonce        string
	Scope        string
}

// BeginAuthorization opens a pending transaction for an authenticated user.
// The client must exist and the redirect URI must match one it registered.
// Failures here are never redirected to the client.
func (s *Server) BeginAuthorization(ctx context.Context, req AuthorizationRequest, user *storage.User) (_ *storage.Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "server.BeginAuthorization")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		}
	}()

	if user == nil {
		return nil, fmt.Errorf("authorization requires an authenticated user")
	}
	if req.ClientID == "" {
		return nil, reject(ErrorCodeInvalidRequest, "client_id is required")
	}
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, user.ID, req.Scope)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	client, err := s.store.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, reject(ErrorCodeInvalidRequest, "unknown client")
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	redirectURI, err := s.resolveRedirectURI(client.RedirectURIs, req.RedirectURI)
	if err != nil {
		s.Logger.Warn("Rejected authorization request redirect URI",
			"client_id", client.ClientID,
			"redirect_uri", req.RedirectURI,
			"reason", err)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			UserID:    user.ID,
			ClientID:  client.ClientID,
			IPAddress: security.ClientIPFromContext(ctx),
			Details:   map[string]any{"reason": err.Error()},
		})
		return nil, reject(ErrorCodeInvalidRequest, "invalid redirect_uri")
	}
	if len(client.RedirectURIs) == 0 {
		s.Logger.Warn("⚠️  SECURITY WARNING: Accepted unregistered redirect URI",
			"client_id", client.ClientID,
			"redirect_uri", redirectURI)
	}

	rt, err := ParseResponseType(req.ResponseType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	txn := &storage.Transaction{
		ID:           uuid.NewString(),
		ClientID:     client.ID,
		RedirectURI:  redirectURI,
		ResponseType: string(rt),
		State:        req.State,
		Nonce:        req.Nonce,
		Scope:        req.Scope,
		UserID:       user.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.Config.transactionTTL()),
	}
	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	s.metrics.RecordAuthorizationStarted(ctx, client.ClientID)
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationStarted,
		UserID:    user.ID,
		ClientID:  client.ClientID,
		IPAddress: security.ClientIPFromContext(ctx),
		Details:   map[string]any{"response_type": string(rt)},
	})

	instrumentation.SetSpanSuccess(span)
	return txn, nil
}

// PendingAuthorization returns a transaction that user opened and has not
// decided yet.
func (s *Server) PendingAuthorization(ctx context.Context, id string, user *storage.User) (*storage.Transaction, error) {
	if user == nil {
		return nil, fmt.Errorf("authorization requires an authenticated user")
	}
	if id == "" {
		return nil, reject(ErrorCodeInvalidRequest, "transaction_id is required")
	}

	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			return nil, reject(ErrorCodeInvalidRequest, "unknown or expired transaction")
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	if txn.UserID != user.ID {
		s.Logger.Warn("Transaction presented by a different user", "transaction_id", id)
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventTransactionUserMismatch,
			UserID:    user.ID,
			IPAddress: security.ClientIPFromContext(ctx),
		})
		return nil, reject(ErrorCodeInvalidRequest, "unknown or expired transaction")
	}
	return txn, nil
}

// DecideAuthorization ends a pending transaction. The transaction is removed
// before anything is issued, so each one is decided at most once. Approval
// runs the grant for its response type; denial answers access_denied.
func (s *Server) DecideAuthorization(ctx context.Context, id string, user *storage.User, approved bool) (_ *AuthorizationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "server.DecideAuthorization")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		}
	}()

	txn, err := s.PendingAuthorization(ctx, id, user)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteTransaction(ctx, txn.ID); err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			return nil, reject(ErrorCodeInvalidRequest, "unknown or expired transaction")
		}
		return nil, fmt.Errorf("failed to delete transaction: %w", err)
	}

	client, err := s.store.GetClient(ctx, txn.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction references client %s: %w", ErrIntegrity, txn.ClientID, err)
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, user.ID, ScopeAll)
	s.Auditor.LogDecision(user.ID, client.ClientID, txn.ResponseType, approved)

	if !approved {
		instrumentation.SetSpanSuccess(span)
		return &AuthorizationResponse{
			RedirectURI:      txn.RedirectURI,
			ResponseType:     ResponseType(txn.ResponseType),
			State:            txn.State,
			Error:            ErrorCodeAccessDenied,
			ErrorDescription: "the resource owner denied the request",
		}, nil
	}

	resp, err := s.Grant(ctx, client, user, txn)
	if err != nil {
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}
