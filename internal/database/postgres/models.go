package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petvet/biometry/internal/database"
)

// ModelRepository provides PostgreSQL-backed classifier version storage.
type ModelRepository struct {
	pool *Pool
}

// NewModelRepository creates a new PostgreSQL model repository.
func NewModelRepository(pool *Pool) *ModelRepository {
	return &ModelRepository{pool: pool}
}

// CreateVersion persists a new classifier version (inactive).
func (r *ModelRepository) CreateVersion(ctx context.Context, v *database.ClassifierVersion) (int64, error) {
	hyperparams, err := json.Marshal(v.Hyperparams)
	if err != nil {
		return 0, fmt.Errorf("marshal hyperparams: %w", err)
	}
	metrics, err := json.Marshal(v.Metrics)
	if err != nil {
		return 0, fmt.Errorf("marshal metrics: %w", err)
	}

	query := `
		INSERT INTO classifier_versions
			(version, family, extractor, hyperparams, metrics,
			 subject_count, embedding_count, training_seconds, artifact_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err = r.pool.QueryRow(ctx, query,
		v.Version,
		v.Family,
		v.Extractor,
		hyperparams,
		metrics,
		v.SubjectCount,
		v.EmbeddingCount,
		v.TrainingSeconds,
		v.ArtifactName,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert classifier version: %w", err)
	}
	return v.ID, nil
}

// NextVersion returns max(version)+1, or 1 when no versions exist.
func (r *ModelRepository) NextVersion(ctx context.Context) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) + 1 FROM classifier_versions").Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query next version: %w", err)
	}
	return next, nil
}

// Activate atomically deactivates every version and activates the one with
// the given ID. The partial unique index on (active) WHERE active makes it
// impossible for two concurrent activations to both commit an active row,
// and the single transaction means no reader observes zero active versions
// mid-switch.
func (r *ModelRepository) Activate(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE classifier_versions SET active = FALSE WHERE active"); err != nil {
		return fmt.Errorf("deactivate versions: %w", err)
	}

	res, err := tx.ExecContext(ctx, "UPDATE classifier_versions SET active = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("activate version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}

const versionColumns = `
	id, version, family, extractor, hyperparams, metrics,
	subject_count, embedding_count, training_seconds, artifact_name, active, created_at
`

func scanVersion(scan func(dest ...any) error) (*database.ClassifierVersion, error) {
	var v database.ClassifierVersion
	var hyperparams, metrics []byte

	err := scan(
		&v.ID,
		&v.Version,
		&v.Family,
		&v.Extractor,
		&hyperparams,
		&metrics,
		&v.SubjectCount,
		&v.EmbeddingCount,
		&v.TrainingSeconds,
		&v.ArtifactName,
		&v.Active,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(hyperparams) > 0 {
		if err := json.Unmarshal(hyperparams, &v.Hyperparams); err != nil {
			return nil, fmt.Errorf("unmarshal hyperparams: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &v.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return &v, nil
}

// GetActive returns the active version, or ErrNoActiveModel.
func (r *ModelRepository) GetActive(ctx context.Context) (*database.ClassifierVersion, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+versionColumns+" FROM classifier_versions WHERE active")
	v, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNoActiveModel
	}
	if err != nil {
		return nil, fmt.Errorf("query active version: %w", err)
	}
	return v, nil
}

// ListVersions returns all versions, newest first.
func (r *ModelRepository) ListVersions(ctx context.Context) ([]database.ClassifierVersion, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+versionColumns+" FROM classifier_versions ORDER BY version DESC")
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []database.ClassifierVersion
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}
