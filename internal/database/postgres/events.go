package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petvet/biometry/internal/database"
)

// EventRepository provides append-only PostgreSQL storage for
// recognition events.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// SaveEvent appends a recognition event and returns its ID.
func (r *EventRepository) SaveEvent(ctx context.Context, e *database.RecognitionEvent) (int64, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return 0, fmt.Errorf("marshal event details: %w", err)
	}

	query := `
		INSERT INTO recognition_events
			(predicted_subject_id, actual_subject_id, image_ref, confidence,
			 success, duration_seconds, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, occurred_at
	`

	err = r.pool.QueryRow(ctx, query,
		e.PredictedSubjectID,
		e.ActualSubjectID,
		e.ImageRef,
		e.Confidence,
		e.Success,
		e.DurationSeconds,
		details,
	).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return 0, fmt.Errorf("insert recognition event: %w", err)
	}
	return e.ID, nil
}

// ListEvents returns the most recent events, newest first.
func (r *EventRepository) ListEvents(ctx context.Context, limit int) ([]database.RecognitionEvent, error) {
	query := `
		SELECT id, occurred_at, predicted_subject_id, actual_subject_id,
		       image_ref, confidence, success, duration_seconds, details
		FROM recognition_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recognition events: %w", err)
	}
	defer rows.Close()

	var events []database.RecognitionEvent
	for rows.Next() {
		var e database.RecognitionEvent
		var details []byte
		if err := rows.Scan(
			&e.ID,
			&e.OccurredAt,
			&e.PredictedSubjectID,
			&e.ActualSubjectID,
			&e.ImageRef,
			&e.Confidence,
			&e.Success,
			&e.DurationSeconds,
			&details,
		); err != nil {
			return nil, fmt.Errorf("scan recognition event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recognition events: %w", err)
	}
	return events, nil
}

// Stats derives aggregate statistics from the stored events. Aggregates
// are computed on read so they can never drift from the source rows.
func (r *EventRepository) Stats(ctx context.Context) (*database.RecognitionStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(AVG(duration_seconds), 0)
		FROM recognition_events
	`

	var stats database.RecognitionStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalAttempts,
		&stats.Successful,
		&stats.MeanConfidence,
		&stats.MeanDurationSec,
	)
	if err != nil {
		return nil, fmt.Errorf("query recognition stats: %w", err)
	}

	stats.Failed = stats.TotalAttempts - stats.Successful
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalAttempts)
	}
	return &stats, nil
}
