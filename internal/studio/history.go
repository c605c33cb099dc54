package studio

import (
	"context"
	"sync"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/domain"
)

// DefaultHistoryLimit matches the server's default page size.
const DefaultHistoryLimit = 5

// History is the client's view of the caller's recent generations. A failed
// load keeps the previous items.
type History struct {
	api    API
	tokens TokenSource

	mu     sync.Mutex
	items  []client.Generation
	limit  int
	loaded bool
}

func NewHistory(api API, tokens TokenSource) *History {
	return &History{api: api, tokens: tokens, limit: DefaultHistoryLimit}
}

// Load fetches up to limit records for the current session. A non-positive
// limit means the default.
func (h *History) Load(ctx context.Context, limit int) ([]client.Generation, error) {
	const op = "studio.History.Load"

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	token, ok := h.tokens.Token()
	if !ok {
		return h.Items(), domain.NewError(domain.KindAuth, op, domain.MsgUnauthorized)
	}

	items, err := h.api.ListGenerations(ctx, token, limit)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuth {
			h.tokens.Invalidate()
		}
		return h.Items(), err
	}

	h.mu.Lock()
	h.items = items
	h.limit = limit
	h.loaded = true
	h.mu.Unlock()

	return h.Items(), nil
}

// Refresh reloads with the most recently used limit.
func (h *History) Refresh(ctx context.Context) ([]client.Generation, error) {
	h.mu.Lock()
	limit := h.limit
	h.mu.Unlock()
	return h.Load(ctx, limit)
}

// Items returns a copy of the last successfully loaded list.
func (h *History) Items() []client.Generation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]client.Generation(nil), h.items...)
}

func (h *History) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}
