package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrDirection  = "direction"
	attrOperation  = "operation"
	attrStatus     = "status"
	attrChangeType = "change_type"
	attrTenant     = "tenant"
)

// Metrics records the sync engine's observability metrics. A nil *Metrics
// is a no-op recorder.
type Metrics struct {
	syncOperationsTotal   metric.Int64Counter
	syncOperationDuration metric.Float64Histogram
	pullPagesTotal        metric.Int64Counter
	conflictsTotal        metric.Int64Counter
	tombstonesSettled     metric.Int64Counter

	broadcastsTotal     metric.Int64Counter
	broadcastDeliveries metric.Int64Counter
	activeConnections   metric.Int64UpDownCounter

	tokenRefreshTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels (tenant IDs)
	// are included.
	detailedLabels bool
}

// NewMetrics creates a Metrics recorder on the given meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error

	m.syncOperationsTotal, err = meter.Int64Counter(
		"sync_operations_total",
		metric.WithDescription("Total number of push/pull reconcile operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_operations_total counter: %w", err)
	}

	m.syncOperationDuration, err = meter.Float64Histogram(
		"sync_operation_duration_seconds",
		metric.WithDescription("Reconcile operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_operation_duration_seconds histogram: %w", err)
	}

	m.pullPagesTotal, err = meter.Int64Counter(
		"sync_pull_pages_total",
		metric.WithDescription("Total number of pull pages processed"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_pull_pages_total counter: %w", err)
	}

	m.conflictsTotal, err = meter.Int64Counter(
		"sync_conflicts_total",
		metric.WithDescription("Total number of conflicts resolved by local intent"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_conflicts_total counter: %w", err)
	}

	m.tombstonesSettled, err = meter.Int64Counter(
		"sync_tombstones_settled_total",
		metric.WithDescription("Total number of tombstones whose remote delete was confirmed"),
		metric.WithUnit("{tombstone}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_tombstones_settled_total counter: %w", err)
	}

	m.broadcastsTotal, err = meter.Int64Counter(
		"broadcast_publishes_total",
		metric.WithDescription("Total number of change notifications published to rooms"),
		metric.WithUnit("{publish}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_publishes_total counter: %w", err)
	}

	m.broadcastDeliveries, err = meter.Int64Counter(
		"broadcast_deliveries_total",
		metric.WithDescription("Total number of per-connection deliveries"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_deliveries_total counter: %w", err)
	}

	m.activeConnections, err = meter.Int64UpDownCounter(
		"broadcast_active_connections",
		metric.WithDescription("Number of connections currently joined to rooms"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast_active_connections gauge: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"credential_refresh_total",
		metric.WithDescription("Total number of credential refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential_refresh_total counter: %w", err)
	}

	return m, nil
}

// RecordSyncOperation records one push or pull reconcile operation.
func (m *Metrics) RecordSyncOperation(ctx context.Context, direction, operation, status string, d time.Duration) {
	if m == nil || m.syncOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrDirection, direction),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.syncOperationsTotal.Add(ctx, 1, attrs)
	m.syncOperationDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPullPage records the outcome of one pull page.
func (m *Metrics) RecordPullPage(ctx context.Context, status string) {
	if m == nil || m.pullPagesTotal == nil {
		return
	}
	m.pullPagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordConflict records a conflict resolved by the local-intent rule.
func (m *Metrics) RecordConflict(ctx context.Context, tenantID string) {
	if m == nil || m.conflictsTotal == nil {
		return
	}
	if m.detailedLabels {
		m.conflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrTenant, tenantID)))
		return
	}
	m.conflictsTotal.Add(ctx, 1)
}

// RecordTombstoneSettled records a confirmed remote delete.
func (m *Metrics) RecordTombstoneSettled(ctx context.Context) {
	if m == nil || m.tombstonesSettled == nil {
		return
	}
	m.tombstonesSettled.Add(ctx, 1)
}

// RecordBroadcast records one publish and how many connections received it.
func (m *Metrics) RecordBroadcast(ctx context.Context, changeType string, delivered int) {
	if m == nil || m.broadcastsTotal == nil {
		return
	}
	m.broadcastsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrChangeType, changeType)))
	m.broadcastDeliveries.Add(ctx, int64(delivered))
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, 1)
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, -1)
}

// RecordTokenRefresh records one credential refresh attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, status string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}
