package usecase

import (
	"context"

	"github.com/example/face-auth/internal/repository"
)

// MetricsSummary represents aggregated facial verification insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AcceptedRequests int64   `json:"accepted_requests"`
	AcceptanceRate   float64 `json:"acceptance_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates facial verification outcomes from persisted events.
func (uc *FacialUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.events.AggregateMetrics(ctx, repository.MethodFacial)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		AcceptedRequests: aggregation.AcceptedCount,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.AcceptanceRate = float64(aggregation.AcceptedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
