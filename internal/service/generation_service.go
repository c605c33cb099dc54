package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHistoryLimit = 5
	MaxHistoryLimit     = 50
)

// EventPublisher is notified after a generation has been persisted.
type EventPublisher interface {
	GenerationCreated(ownerID uuid.UUID, generation *domain.Generation)
}

type nopPublisher struct{}

func (nopPublisher) GenerationCreated(uuid.UUID, *domain.Generation) {}

type GenerationService struct {
	repo      repository.GenerationRepository
	simulator Simulator
	cache     HistoryCache
	events    EventPublisher
	group     singleflight.Group
	sleep     func(time.Duration)
	now       func() time.Time
}

func NewGenerationService(repo repository.GenerationRepository, simulator Simulator, cache HistoryCache, events EventPublisher) *GenerationService {
	if cache == nil {
		cache = NopHistoryCache{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &GenerationService{
		repo:      repo,
		simulator: simulator,
		cache:     cache,
		events:    events,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Origin is the scheme and host the request arrived on; image URLs are built
// against it.
type Origin struct {
	Scheme string
	Host   string
}

type CreateGenerationInput struct {
	OwnerID uuid.UUID
	Prompt  string
	Style   string
	Asset   *domain.UploadedAsset
	Origin  Origin
}

// ValidateGenerationInput checks the fields that must be present before any
// work is done.
func ValidateGenerationInput(prompt, style string) error {
	if strings.TrimSpace(prompt) == "" {
		return domain.NewError(domain.KindValidation, "service.ValidateGenerationInput", domain.MsgPromptRequired)
	}
	if strings.TrimSpace(style) == "" {
		return domain.NewError(domain.KindValidation, "service.ValidateGenerationInput", domain.MsgStyleRequired)
	}
	return nil
}

// Create simulates model latency, then either fails with an overload error
// or persists a generation owned by input.OwnerID. The delay runs to
// completion even if ctx is cancelled, and a successful attempt is persisted
// regardless of whether the caller is still waiting.
func (s *GenerationService) Create(ctx context.Context, input CreateGenerationInput) (*domain.Generation, error) {
	if err := ValidateGenerationInput(input.Prompt, input.Style); err != nil {
		return nil, err
	}

	s.sleep(s.simulator.Delay())

	if s.simulator.Overloaded() {
		return nil, domain.NewError(domain.KindOverload, "service.Create", domain.MsgModelOverloaded)
	}

	generation := &domain.Generation{
		OwnerID:  input.OwnerID,
		Prompt:   strings.TrimSpace(input.Prompt),
		Style:    strings.TrimSpace(input.Style),
		ImageURL: s.imageURL(input.Origin, input.Asset),
		Status:   domain.GenerationStatusSucceeded,
	}
	if err := generation.SetAsset(input.Asset); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "service.Create", "encode asset", err)
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.repo.Create(persistCtx, generation); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "service.Create", "persist generation", err)
	}

	if err := s.cache.Invalidate(persistCtx, input.OwnerID); err != nil {
		log.Printf("WARN [service.Create] failed to invalidate history cache for %s: %v", input.OwnerID, err)
	}
	s.events.GenerationCreated(input.OwnerID, generation)

	return generation, nil
}

// imageURL points at the stored upload when there is one and otherwise at a
// timestamped placeholder.
func (s *GenerationService) imageURL(origin Origin, asset *domain.UploadedAsset) string {
	if asset != nil {
		scheme := origin.Scheme
		if scheme == "" {
			scheme = "http"
		}
		return fmt.Sprintf("%s://%s/uploads/%s", scheme, origin.Host, asset.StoredName)
	}
	return fmt.Sprintf("https://%s/placeholder/%d.png", origin.Host, s.now().UnixMilli())
}

// GetGenerations returns up to limit of the owner's generations, newest first.
// limit is clamped with ClampLimit.
func (s *GenerationService) GetGenerations(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.Generation, error) {
	limit = ClampLimit(limit)

	cached, version, ok, err := s.cache.Get(ctx, ownerID, limit)
	if err != nil {
		log.Printf("WARN [service.GetGenerations] history cache read failed for %s: %v", ownerID, err)
	} else if ok {
		return cached, nil
	}

	// The load is shared by every caller on the same key, so it must not
	// inherit any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%s:%d:%d", ownerID, version, limit)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		generations, err := s.repo.ListByOwner(loadCtx, ownerID, limit)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(loadCtx, ownerID, version, limit, generations); err != nil {
			log.Printf("WARN [service.GetGenerations] history cache write failed for %s: %v", ownerID, err)
		}
		return generations, nil
	})

	select {
	case <-ctx.Done():
		return nil, domain.WrapError(domain.KindCancelled, "service.GetGenerations", "request cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, domain.WrapError(domain.KindInternal, "service.GetGenerations", "list generations", res.Err)
		}
		return res.Val.([]*domain.Generation), nil
	}
}

// ClampLimit maps non-positive values to the default and caps at the maximum.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// ParseLimit reads a raw query value. Absent or unparseable input yields the
// default.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultHistoryLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Accept decimal input such as "7.9" by truncating it.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != f || f < 1 {
			return DefaultHistoryLimit
		}
		if f > MaxHistoryLimit {
			return MaxHistoryLimit
		}
		n = int(f)
	}
	return ClampLimit(n)
}
