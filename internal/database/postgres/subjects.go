package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/petvet/biometry/internal/database"
)

// SubjectRepository provides PostgreSQL-backed subject storage.
type SubjectRepository struct {
	pool *Pool
}

// NewSubjectRepository creates a new PostgreSQL subject repository.
func NewSubjectRepository(pool *Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

// CreateSubject registers a new subject and returns its ID.
func (r *SubjectRepository) CreateSubject(ctx context.Context, s *database.Subject) (int64, error) {
	query := `
		INSERT INTO subjects (name, species)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query, s.Name, s.Species).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert subject: %w", err)
	}
	return s.ID, nil
}

// GetSubject retrieves a subject by ID.
func (r *SubjectRepository) GetSubject(ctx context.Context, id int64) (*database.Subject, error) {
	query := `
		SELECT id, name, species, trained, confidence,
		       successful_matches, failed_matches, created_at, updated_at
		FROM subjects
		WHERE id = $1
	`

	var s database.Subject
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.Species,
		&s.Trained,
		&s.Confidence,
		&s.SuccessfulMatches,
		&s.FailedMatches,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return &s, nil
}

// ListSubjects returns all registered subjects.
func (r *SubjectRepository) ListSubjects(ctx context.Context) ([]database.Subject, error) {
	query := `
		SELECT id, name, species, trained, confidence,
		       successful_matches, failed_matches, created_at, updated_at
		FROM subjects
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []database.Subject
	for rows.Next() {
		var s database.Subject
		if err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Species,
			&s.Trained,
			&s.Confidence,
			&s.SuccessfulMatches,
			&s.FailedMatches,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

// MarkTrained flags the given subjects as covered by a trained model.
func (r *SubjectRepository) MarkTrained(ctx context.Context, subjectIDs []int64) error {
	if len(subjectIDs) == 0 {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE subjects SET trained = TRUE, updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(subjectIDs))
	if err != nil {
		return fmt.Errorf("mark subjects trained: %w", err)
	}
	return nil
}

// RecordMatchOutcome increments a subject's match counters and keeps an
// exponential moving average of match confidence as the aggregate estimate.
func (r *SubjectRepository) RecordMatchOutcome(ctx context.Context, subjectID int64, success bool, confidence float64) error {
	query := `
		UPDATE subjects SET
			successful_matches = successful_matches + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_matches = failed_matches + CASE WHEN $2 THEN 0 ELSE 1 END,
			confidence = CASE WHEN confidence = 0 THEN $3 ELSE confidence * 0.8 + $3 * 0.2 END,
			updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.pool.Exec(ctx, query, subjectID, success, confidence)
	if err != nil {
		return fmt.Errorf("record match outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrNotFound
	}
	return nil
}
