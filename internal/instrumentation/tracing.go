package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the calsync module.
const TracerName = "github.com/hearthhq/calsync"

// Span attribute keys for sync operations.
const (
	// SpanAttrTenant is the tenant (family) ID attribute.
	SpanAttrTenant = "sync.tenant"

	// SpanAttrDirection is the sync direction attribute (push or pull).
	SpanAttrDirection = "sync.direction"

	// SpanAttrOperation is the operation type attribute.
	SpanAttrOperation = "sync.operation"

	// SpanAttrEventID is the internal event ID attribute.
	SpanAttrEventID = "sync.event_id"

	// SpanAttrExternalID is the remote correlation key attribute.
	SpanAttrExternalID = "sync.external_id"
)

// StartSpan starts a span on the module tracer with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span (when non-nil) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TenantAttr returns the tenant span attribute.
func TenantAttr(tenantID string) attribute.KeyValue {
	return attribute.String(SpanAttrTenant, tenantID)
}

// DirectionAttr returns the sync direction span attribute.
func DirectionAttr(direction string) attribute.KeyValue {
	return attribute.String(SpanAttrDirection, direction)
}

// OperationAttr returns the operation span attribute.
func OperationAttr(op string) attribute.KeyValue {
	return attribute.String(SpanAttrOperation, op)
}
