// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When Config.Enabled is false the package hands out no-op providers and
// recording costs nothing. When enabled it builds SDK providers; attach a
// metric reader (for example the Prometheus exporter) through Config.MetricReader.
//
//	exporter, _ := prometheus.New()
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:      true,
//		ServiceName:  "oidc-server",
//		MetricReader: exporter,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
//   - oidc.http.requests.total{method, endpoint, status}
//   - oidc.http.request.duration{endpoint}
//   - oidc.authorization.started{client_id}
//   - oidc.grant.issued{response_type}
//   - oidc.exchange.total{grant_type, result}
//   - oidc.credential.rejected{credential}
//   - oidc.code.reuse_detected
//   - oidc.id_token.signed
//   - oidc.storage.operation.total{operation, result}
//   - oidc.storage.operation.duration{operation}
//   - oidc.storage.entries{entity}
//
// Never attach codes, tokens or secrets as attributes.
package instrumentation
