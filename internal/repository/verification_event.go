package repository

import (
	"context"
	"time"
)

// VerificationEvent records the outcome of one authentication decision.
// It never carries the captured descriptor or the computed distance.
type VerificationEvent struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID    string    `gorm:"column:user_id;index;size:64"`
	Method    string    `gorm:"column:method;size:16"`
	Outcome   string    `gorm:"column:outcome;size:16"`
	Reason    string    `gorm:"column:reason;size:32"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationEvent) TableName() string {
	return "verification_events"
}

// MetricsAggregation is the raw aggregate used by the metrics summary.
type MetricsAggregation struct {
	TotalCount       int64
	AcceptedCount    int64
	AverageLatencyMs float64
}

// SaveEvent persists a verification event.
func (r *Repository) SaveEvent(ctx context.Context, event *VerificationEvent) error {
	return r.executeWithRetry(ctx, "repository.save_event", event.RequestID, func() error {
		return r.db.WithContext(ctx).Create(event).Error
	})
}

// AggregateMetrics summarises every stored event of the given method.
func (r *Repository) AggregateMetrics(ctx context.Context, method string) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationEvent{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS accepted_count,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`, OutcomeAccepted).
			Where("method = ?", method).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

const (
	MethodFacial   = "facial"
	MethodPassword = "password"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
