package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// StorageRecorder wraps store operations in a span and records their count
// and latency. A nil recorder is valid and records nothing.
type StorageRecorder struct {
	inst    *Instrumentation
	tracer  trace.Tracer
	backend string
}

// NewStorageRecorder returns a recorder for the named backend ("memory", "valkey", ...).
func NewStorageRecorder(inst *Instrumentation, backend string) *StorageRecorder {
	if inst == nil {
		return nil
	}
	return &StorageRecorder{
		inst:    inst,
		tracer:  inst.Tracer("storage"),
		backend: backend,
	}
}

// Start opens a span for operation. The returned func ends it and must be
// called with the operation's error result.
//
//	ctx, done := s.recorder.Start(ctx, "save_user")
//	defer func() { done(err) }()
func (r *StorageRecorder) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if r == nil {
		return ctx, func(error) {}
	}

	ctx, span := r.tracer.Start(ctx, "storage."+operation)
	AddStorageAttributes(span, operation, r.backend)
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		if err != nil {
			result = "error"
			RecordError(span, err)
		} else {
			SetSpanSuccess(span)
		}
		r.inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
	}
}
