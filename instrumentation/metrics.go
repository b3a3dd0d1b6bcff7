package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const attrEntity = attribute.Key("entity")

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol Metrics
	AuthorizationStarted metric.Int64Counter
	GrantIssued          metric.Int64Counter
	ExchangeTotal        metric.Int64Counter
	IDTokenSigned        metric.Int64Counter

	// Security Metrics
	CredentialRejected metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageEntries           metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	var err error

	if m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	if m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	if m.AuthorizationStarted, err = serverMeter.Int64Counter(
		"oidc.authorization.started",
		metric.WithDescription("Number of authorization transactions opened"),
		metric.WithUnit("{transaction}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	if m.GrantIssued, err = serverMeter.Int64Counter(
		"oidc.grant.issued",
		metric.WithDescription("Number of approved authorization grants by response type"),
		metric.WithUnit("{grant}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create grant.issued counter: %w", err)
	}

	if m.ExchangeTotal, err = serverMeter.Int64Counter(
		"oidc.exchange.total",
		metric.WithDescription("Number of token endpoint exchanges by grant type and result"),
		metric.WithUnit("{exchange}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create exchange.total counter: %w", err)
	}

	if m.IDTokenSigned, err = serverMeter.Int64Counter(
		"oidc.id_token.signed",
		metric.WithDescription("Number of ID tokens signed"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create id_token.signed counter: %w", err)
	}

	if m.CredentialRejected, err = serverMeter.Int64Counter(
		"oidc.credential.rejected",
		metric.WithDescription("Number of rejected credentials by verifier"),
		metric.WithUnit("{credential}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create credential.rejected counter: %w", err)
	}

	if m.CodeReuseDetected, err = serverMeter.Int64Counter(
		"oidc.code.reuse_detected",
		metric.WithDescription("Number of replayed authorization codes"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	if m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oidc.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	if m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oidc.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	if m.StorageEntries, err = storageMeter.Int64ObservableGauge(
		"oidc.storage.entries",
		metric.WithDescription("Number of live entries per stored entity"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.entries gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records a newly opened transaction
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordGrantIssued records an approved grant
func (m *Metrics) RecordGrantIssued(ctx context.Context, responseType string) {
	if m == nil {
		return
	}
	m.GrantIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("response_type", responseType)))
}

// RecordExchange records a token endpoint exchange. result is "success", "rejected" or "error".
func (m *Metrics) RecordExchange(ctx context.Context, grantType, result string) {
	if m == nil {
		return
	}
	m.ExchangeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordIDTokenSigned records a signed ID token
func (m *Metrics) RecordIDTokenSigned(ctx context.Context) {
	if m == nil {
		return
	}
	m.IDTokenSigned.Add(ctx, 1)
}

// RecordCredentialRejected records a rejection by the named verifier
func (m *Metrics) RecordCredentialRejected(ctx context.Context, credential string) {
	if m == nil {
		return
	}
	m.CredentialRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("credential", credential)))
}

// RecordCodeReuseDetected records a replayed authorization code
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with its result and latency
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}
