package service

import (
	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/repository"
)

type Services struct {
	Auth       *AuthService
	Generation *GenerationService
}

// NewServices wires the services. cache and events may be nil.
func NewServices(repos *repository.Repositories, cfg *config.Config, cache HistoryCache, events EventPublisher) *Services {
	return &Services{
		Auth:       NewAuthService(repos.User, cfg),
		Generation: NewGenerationService(repos.Generation, NewSimulator(cfg), cache, events),
	}
}
