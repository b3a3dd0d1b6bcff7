package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstrumentation(t *testing.T) (*Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{
		Enabled:      true,
		ServiceName:  "test-service",
		MetricReader: reader,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

// sumCounter returns the total of an int64 sum across all data points
// matching attrs.
func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if matches(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func matches(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"disabled", Config{Enabled: false}},
		{"enabled without reader", Config{Enabled: true}},
		{"enabled with name and version", Config{Enabled: true, ServiceName: "svc", ServiceVersion: "1.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("server") == nil {
				t.Error("Meter() returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer() returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
		})
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestMetrics_Record(t *testing.T) {
	inst, reader := newTestInstrumentation(t)
	ctx := context.Background()
	m := inst.Metrics()

	m.RecordGrantIssued(ctx, "code")
	m.RecordGrantIssued(ctx, "code")
	m.RecordGrantIssued(ctx, "id_token token")
	m.RecordExchange(ctx, "password", "rejected")
	m.RecordCredentialRejected(ctx, "client_basic")
	m.RecordCodeReuseDetected(ctx)
	m.RecordIDTokenSigned(ctx)
	m.RecordHTTPRequest(ctx, "POST", "/oauth/token", 200, 1.5)

	if got := sumCounter(t, reader, "oidc.grant.issued", attribute.String("response_type", "code")); got != 2 {
		t.Errorf("grant.issued{code} = %d, want 2", got)
	}
	if got := sumCounter(t, reader, "oidc.exchange.total", attribute.String("result", "rejected")); got != 1 {
		t.Errorf("exchange.total{rejected} = %d, want 1", got)
	}
	if got := sumCounter(t, reader, "oidc.credential.rejected"); got != 1 {
		t.Errorf("credential.rejected = %d, want 1", got)
	}
	if got := sumCounter(t, reader, "oidc.code.reuse_detected"); got != 1 {
		t.Errorf("code.reuse_detected = %d, want 1", got)
	}
	if got := sumCounter(t, reader, "oidc.http.requests.total", attribute.Int("status", 200)); got != 1 {
		t.Errorf("http.requests.total = %d, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordGrantIssued(ctx, "code")
	m.RecordExchange(ctx, "password", "success")
	m.RecordStorageOperation(ctx, "get_user", "success", 1)
}

func TestStorageRecorder(t *testing.T) {
	inst, reader := newTestInstrumentation(t)
	rec := NewStorageRecorder(inst, "memory")

	_, done := rec.Start(context.Background(), "get_user")
	done(nil)
	_, done = rec.Start(context.Background(), "get_user")
	done(errors.New("boom"))

	if got := sumCounter(t, reader, "oidc.storage.operation.total", attribute.String("result", "success")); got != 1 {
		t.Errorf("storage success = %d, want 1", got)
	}
	if got := sumCounter(t, reader, "oidc.storage.operation.total", attribute.String("result", "error")); got != 1 {
		t.Errorf("storage error = %d, want 1", got)
	}
}

func TestStorageRecorder_Nil(t *testing.T) {
	rec := NewStorageRecorder(nil, "memory")
	if rec != nil {
		t.Fatal("NewStorageRecorder(nil) should return nil")
	}
	ctx, done := rec.Start(context.Background(), "noop")
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	done(nil)
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, reader := newTestInstrumentation(t)

	err := inst.RegisterStorageSizeCallbacks(map[string]StorageSizeCallback{
		"codes":  func() int64 { return 3 },
		"tokens": func() int64 { return 7 },
	})
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "oidc.storage.entries" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("storage.entries is %T, want Gauge[int64]", m.Data)
			}
			for _, dp := range gauge.DataPoints {
				v, _ := dp.Attributes.Value(attrEntity)
				got[v.AsString()] = dp.Value
			}
		}
	}

	if got["codes"] != 3 || got["tokens"] != 7 {
		t.Errorf("storage.entries = %v, want codes=3 tokens=7", got)
	}
}
