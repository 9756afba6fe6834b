package jobs

import "context"

// MetricPublisher records job run summaries to the telemetry backend.
// Publishing is best-effort: jobs log and ignore publish failures so a
// metrics outage never fails a run.
type MetricPublisher interface {
	// PublishJobSummary emits one datum per value, dimensioned by job name.
	PublishJobSummary(ctx context.Context, job string, values map[string]float64) error
}

// NopMetricPublisher discards all metrics. Used when metrics are disabled
// and in tests.
type NopMetricPublisher struct{}

// PublishJobSummary implements MetricPublisher.
func (NopMetricPublisher) PublishJobSummary(context.Context, string, map[string]float64) error {
	return nil
}
