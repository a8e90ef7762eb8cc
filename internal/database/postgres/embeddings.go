package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/petvet/biometry/internal/database"
)

// EmbeddingRepository provides PostgreSQL-backed embedding storage using
// pgvector for the vector column.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// SaveEmbeddings stores a batch of embeddings in one transaction and
// returns their IDs in input order.
func (r *EmbeddingRepository) SaveEmbeddings(ctx context.Context, embs []database.StoredEmbedding) ([]int64, error) {
	if len(embs) == 0 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO embeddings (subject_id, image_id, embedding, dim, extractor, crop_index, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	ids := make([]int64, 0, len(embs))
	for i := range embs {
		e := &embs[i]
		var id int64
		err := tx.QueryRowContext(ctx, query,
			e.SubjectID,
			e.ImageID,
			pgvector.NewVector(e.Embedding),
			e.Dim,
			e.Extractor,
			e.CropIndex,
			e.Confidence,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert embedding (crop %d): %w", e.CropIndex, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit embeddings: %w", err)
	}
	return ids, nil
}

// ListEmbeddings returns all embeddings for the given extractor identity.
func (r *EmbeddingRepository) ListEmbeddings(ctx context.Context, extractor string) ([]database.StoredEmbedding, error) {
	query := `
		SELECT id, subject_id, image_id, embedding, dim, extractor,
		       crop_index, confidence, used_in_training, created_at, updated_at
		FROM embeddings
		WHERE extractor = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, extractor)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var embs []database.StoredEmbedding
	for rows.Next() {
		var e database.StoredEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(
			&e.ID,
			&e.SubjectID,
			&e.ImageID,
			&vec,
			&e.Dim,
			&e.Extractor,
			&e.CropIndex,
			&e.Confidence,
			&e.UsedInTraining,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		embs = append(embs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embs, nil
}

// ListEmbeddingsBySubject groups all embeddings of an extractor by subject ID.
func (r *EmbeddingRepository) ListEmbeddingsBySubject(ctx context.Context, extractor string) (map[int64][]database.StoredEmbedding, error) {
	embs, err := r.ListEmbeddings(ctx, extractor)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]database.StoredEmbedding)
	for _, e := range embs {
		grouped[e.SubjectID] = append(grouped[e.SubjectID], e)
	}
	return grouped, nil
}

// CountEmbeddings returns the total number of embeddings for an extractor.
func (r *EmbeddingRepository) CountEmbeddings(ctx context.Context, extractor string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings WHERE extractor = $1", extractor).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// CountEmbeddingsByImage returns how many embeddings exist for an image.
func (r *EmbeddingRepository) CountEmbeddingsByImage(ctx context.Context, imageID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings WHERE image_id = $1", imageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings by image: %w", err)
	}
	return count, nil
}

// DeleteEmbeddingsByImage removes all embeddings of one image.
func (r *EmbeddingRepository) DeleteEmbeddingsByImage(ctx context.Context, imageID int64) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM embeddings WHERE image_id = $1", imageID)
	if err != nil {
		return fmt.Errorf("delete embeddings by image: %w", err)
	}
	return nil
}

// MarkUsedInTraining flags all embeddings of an extractor as consumed by
// a training run.
func (r *EmbeddingRepository) MarkUsedInTraining(ctx context.Context, extractor string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE embeddings SET used_in_training = TRUE, updated_at = NOW()
		WHERE extractor = $1 AND NOT used_in_training
	`, extractor)
	if err != nil {
		return fmt.Errorf("mark embeddings used: %w", err)
	}
	return nil
}
