package postgres

import (
	"context"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type generationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGenerationRepository(db *gorm.DB) *generationRepository {
	return &generationRepository{db: db, now: time.Now}
}

// Create inserts the generation. ID and CreatedAt are always assigned here,
// whatever the caller put in them.
func (r *generationRepository) Create(ctx context.Context, generation *domain.Generation) error {
	generation.ID = uuid.New()
	generation.CreatedAt = r.now().UTC()
	return r.db.WithContext(ctx).Create(generation).Error
}

func (r *generationRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.Generation, error) {
	generations := []*domain.Generation{}
	if limit <= 0 {
		return generations, nil
	}
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&generations).Error
	if err != nil {
		return nil, err
	}
	return generations, nil
}
