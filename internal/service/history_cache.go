package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
)

// HistoryCache holds recent-history pages per owner. Implementations must be
// safe to call concurrently. A miss is reported as ok=false with a nil error.
//
// Get also returns the owner's current version; Set must be given the version
// observed before the page was loaded so a page read before an Invalidate is
// never stored under the newer version.
type HistoryCache interface {
	Get(ctx context.Context, ownerID uuid.UUID, limit int) (page []*domain.Generation, version int64, ok bool, err error)
	Set(ctx context.Context, ownerID uuid.UUID, version int64, limit int, generations []*domain.Generation) error
	Invalidate(ctx context.Context, ownerID uuid.UUID) error
}

// NopHistoryCache never hits.
type NopHistoryCache struct{}

func (NopHistoryCache) Get(context.Context, uuid.UUID, int) ([]*domain.Generation, int64, bool, error) {
	return nil, 0, false, nil
}

func (NopHistoryCache) Set(context.Context, uuid.UUID, int64, int, []*domain.Generation) error {
	return nil
}

func (NopHistoryCache) Invalidate(context.Context, uuid.UUID) error {
	return nil
}

// RedisHistoryCache stores pages under a per-owner version number. Bumping the
// version orphans every page for that owner at once; orphans age out by TTL.
type RedisHistoryCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisHistoryCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisHistoryCache {
	if prefix == "" {
		prefix = "history"
	}
	return &RedisHistoryCache{client: client, prefix: prefix, ttl: ttl}
}

// cachedGeneration keeps the fields the public JSON shape hides.
type cachedGeneration struct {
	ID        uuid.UUID               `json:"id"`
	OwnerID   uuid.UUID               `json:"ownerId"`
	Prompt    string                  `json:"prompt"`
	Style     string                  `json:"style"`
	ImageURL  string                  `json:"imageUrl"`
	Status    domain.GenerationStatus `json:"status"`
	Asset     json.RawMessage         `json:"asset,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

func (c *RedisHistoryCache) Get(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.Generation, int64, bool, error) {
	version, err := c.version(ctx, ownerID)
	if err != nil {
		return nil, 0, false, err
	}
	raw, err := c.client.Get(ctx, c.pageKey(ownerID, version, limit)).Bytes()
	if err == redis.Nil {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, err
	}

	var cached []cachedGeneration
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, version, false, fmt.Errorf("decode history page: %w", err)
	}
	generations := make([]*domain.Generation, 0, len(cached))
	for _, cg := range cached {
		generations = append(generations, &domain.Generation{
			ID:        cg.ID,
			OwnerID:   cg.OwnerID,
			Prompt:    cg.Prompt,
			Style:     cg.Style,
			ImageURL:  cg.ImageURL,
			Status:    cg.Status,
			Asset:     datatypes.JSON(cg.Asset),
			CreatedAt: cg.CreatedAt,
		})
	}
	return generations, version, true, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, ownerID uuid.UUID, version int64, limit int, generations []*domain.Generation) error {
	if c.ttl <= 0 {
		return nil
	}

	cached := make([]cachedGeneration, 0, len(generations))
	for _, g := range generations {
		cached = append(cached, cachedGeneration{
			ID:        g.ID,
			OwnerID:   g.OwnerID,
			Prompt:    g.Prompt,
			Style:     g.Style,
			ImageURL:  g.ImageURL,
			Status:    g.Status,
			Asset:     json.RawMessage(g.Asset),
			CreatedAt: g.CreatedAt,
		})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode history page: %w", err)
	}
	return c.client.Set(ctx, c.pageKey(ownerID, version, limit), raw, c.ttl).Err()
}

func (c *RedisHistoryCache) Invalidate(ctx context.Context, ownerID uuid.UUID) error {
	return c.client.Incr(ctx, c.versionKey(ownerID)).Err()
}

func (c *RedisHistoryCache) version(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(ownerID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (c *RedisHistoryCache) versionKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("%s:version:%s", c.prefix, ownerID)
}

func (c *RedisHistoryCache) pageKey(ownerID uuid.UUID, version int64, limit int) string {
	return fmt.Sprintf("%s:page:%s:%d:%d", c.prefix, ownerID, version, limit)
}
