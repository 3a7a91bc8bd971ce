// Package metrics wires Prometheus/OpenTelemetry metrics for the
// orchestrator and download queue: resolution counts and durations,
// per-item outcomes, bytes downloaded, and retry totals.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters/histograms the orchestrator and download
// queue emit into.
type Metrics struct {
	ResolutionsTotal     metric.Int64Counter
	ResolutionDurationMS metric.Int64Histogram
	ConflictsTotal       metric.Int64Counter

	ItemsCompletedTotal metric.Int64Counter
	ItemsFailedTotal    metric.Int64Counter
	ItemsSkippedTotal   metric.Int64Counter
	BytesDownloadedTotal metric.Int64Counter
	RetriesTotal        metric.Int64Counter
}

func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("metrics: new prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/airgap")

	if m.ResolutionsTotal, err = meter.Int64Counter("resolutions_total", metric.WithDescription("Total number of resolve() calls, by ecosystem")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: resolutions_total: %w", err)
	}
	if m.ResolutionDurationMS, err = meter.Int64Histogram("resolution_duration_ms", metric.WithDescription("Resolution wall-clock duration in milliseconds")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: resolution_duration_ms: %w", err)
	}
	if m.ConflictsTotal, err = meter.Int64Counter("conflicts_total", metric.WithDescription("Total number of conflicts recorded, by type")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: conflicts_total: %w", err)
	}
	if m.ItemsCompletedTotal, err = meter.Int64Counter("download_items_completed_total", metric.WithDescription("Total completed download items")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: download_items_completed_total: %w", err)
	}
	if m.ItemsFailedTotal, err = meter.Int64Counter("download_items_failed_total", metric.WithDescription("Total failed download items")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: download_items_failed_total: %w", err)
	}
	if m.ItemsSkippedTotal, err = meter.Int64Counter("download_items_skipped_total", metric.WithDescription("Total skipped (cached or cancelled) download items")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: download_items_skipped_total: %w", err)
	}
	if m.BytesDownloadedTotal, err = meter.Int64Counter("download_bytes_total", metric.WithDescription("Total bytes downloaded")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: download_bytes_total: %w", err)
	}
	if m.RetriesTotal, err = meter.Int64Counter("download_retries_total", metric.WithDescription("Total download retry attempts")); err != nil {
		return Metrics{}, fmt.Errorf("metrics: download_retries_total: %w", err)
	}

	return m, nil
}

// ListenAndServe exposes the /metrics scrape endpoint.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) RecordResolution(ctx context.Context, ecosystem string, durationMS int64, conflicts int) {
	if m.ResolutionsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("ecosystem", ecosystem))
	m.ResolutionsTotal.Add(ctx, 1, attrs)
	m.ResolutionDurationMS.Record(ctx, durationMS, attrs)
	if conflicts > 0 && m.ConflictsTotal != nil {
		m.ConflictsTotal.Add(ctx, int64(conflicts), attrs)
	}
}

func (m Metrics) RecordItem(ctx context.Context, ecosystem, status string, bytes int64, retries int) {
	attrs := metric.WithAttributes(attribute.String("ecosystem", ecosystem))
	switch status {
	case "completed":
		if m.ItemsCompletedTotal != nil {
			m.ItemsCompletedTotal.Add(ctx, 1, attrs)
		}
		if m.BytesDownloadedTotal != nil {
			m.BytesDownloadedTotal.Add(ctx, bytes, attrs)
		}
	case "failed":
		if m.ItemsFailedTotal != nil {
			m.ItemsFailedTotal.Add(ctx, 1, attrs)
		}
	case "skipped":
		if m.ItemsSkippedTotal != nil {
			m.ItemsSkippedTotal.Add(ctx, 1, attrs)
		}
	}
	if retries > 0 && m.RetriesTotal != nil {
		m.RetriesTotal.Add(ctx, int64(retries), attrs)
	}
}
