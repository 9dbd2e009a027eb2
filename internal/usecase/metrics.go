package usecase

import "context"

// MetricsSummary represents aggregated check-in insights.
type MetricsSummary struct {
	TotalCheckIns     int64   `json:"total_check_ins"`
	MatchedCheckIns   int64   `json:"matched_check_ins"`
	MatchRate         float64 `json:"match_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates check-in metrics from persisted attendance logs.
func (uc *FaceUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalCheckIns:     aggregation.TotalCount,
		MatchedCheckIns:   aggregation.MatchedCount,
		AverageConfidence: aggregation.AverageConfidence,
		AverageLatencyMs:  aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
