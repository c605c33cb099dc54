package repository

import (
	"context"
	"errors"

	"github.com/dom/genstudio/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type GenerationRepository interface {
	// Create persists a generation, assigning ID and CreatedAt.
	Create(ctx context.Context, generation *domain.Generation) error
	// ListByOwner returns the owner's generations, newest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.Generation, error)
}

type Repositories struct {
	User       UserRepository
	Generation GenerationRepository
}
