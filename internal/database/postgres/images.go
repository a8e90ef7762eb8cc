package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petvet/biometry/internal/database"
)

// ImageRepository provides PostgreSQL-backed source image storage.
type ImageRepository struct {
	pool *Pool
}

// NewImageRepository creates a new PostgreSQL image repository.
func NewImageRepository(pool *Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// CreateImage persists a new source image row and returns its ID.
func (r *ImageRepository) CreateImage(ctx context.Context, img *database.SourceImage) (int64, error) {
	query := `
		INSERT INTO source_images (subject_id, storage_ref, biometric)
		VALUES ($1, $2, $3)
		RETURNING id, uploaded_at
	`

	err := r.pool.QueryRow(ctx, query, img.SubjectID, img.StorageRef, img.Biometric).
		Scan(&img.ID, &img.UploadedAt)
	if err != nil {
		return 0, fmt.Errorf("insert source image: %w", err)
	}
	return img.ID, nil
}

// GetImage retrieves an image by ID.
func (r *ImageRepository) GetImage(ctx context.Context, id int64) (*database.SourceImage, error) {
	query := `
		SELECT id, subject_id, storage_ref, biometric, processed, quality, uploaded_at
		FROM source_images
		WHERE id = $1
	`

	var img database.SourceImage
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&img.ID,
		&img.SubjectID,
		&img.StorageRef,
		&img.Biometric,
		&img.Processed,
		&img.Quality,
		&img.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source image: %w", err)
	}
	return &img, nil
}

// ListPendingImages returns biometric images not yet processed.
func (r *ImageRepository) ListPendingImages(ctx context.Context, limit int) ([]database.SourceImage, error) {
	query := `
		SELECT id, subject_id, storage_ref, biometric, processed, quality, uploaded_at
		FROM source_images
		WHERE biometric AND NOT processed
		ORDER BY uploaded_at
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending images: %w", err)
	}
	defer rows.Close()

	var images []database.SourceImage
	for rows.Next() {
		var img database.SourceImage
		if err := rows.Scan(
			&img.ID,
			&img.SubjectID,
			&img.StorageRef,
			&img.Biometric,
			&img.Processed,
			&img.Quality,
			&img.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source images: %w", err)
	}
	return images, nil
}

// MarkProcessed flags an image as processed with its quality score.
func (r *ImageRepository) MarkProcessed(ctx context.Context, imageID int64, quality float64) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE source_images SET processed = TRUE, quality = $2
		WHERE id = $1
	`, imageID, quality)
	if err != nil {
		return fmt.Errorf("mark image processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// DeleteImage removes an image; its embeddings cascade via FK.
func (r *ImageRepository) DeleteImage(ctx context.Context, id int64) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM source_images WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete source image: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrNotFound
	}
	return nil
}
