package postgres

import (
	"github.com/petvet/biometry/internal/database"
)

// Store bundles all PostgreSQL repositories behind database.Store.
type Store struct {
	*SubjectRepository
	*ImageRepository
	*EmbeddingRepository
	*ModelRepository
	*EventRepository
}

var _ database.Store = (*Store)(nil)

// NewStore creates the full repository bundle on one connection pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		SubjectRepository:   NewSubjectRepository(pool),
		ImageRepository:     NewImageRepository(pool),
		EmbeddingRepository: NewEmbeddingRepository(pool),
		ModelRepository:     NewModelRepository(pool),
		EventRepository:     NewEventRepository(pool),
	}
}
