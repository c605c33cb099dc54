package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/repository/postgres"
	"github.com/dom/genstudio/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationRepository_Create(t *testing.T) {
	testDB := testutil.NewSQLiteDB(t)
	repo := postgres.NewGenerationRepository(testDB.DB)
	ctx := context.Background()

	owner, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	clientID := uuid.New()
	clientTime := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

	gen := &domain.Generation{
		ID:        clientID,
		OwnerID:   owner.ID,
		Prompt:    "sunset",
		Style:     "realistic",
		ImageURL:  "https://localhost/placeholder/1.png",
		Status:    domain.GenerationStatusSucceeded,
		CreatedAt: clientTime,
	}
	asset := &domain.UploadedAsset{OriginalName: "a.png", MimeType: "image/png", SizeBytes: 3, StoredName: "1-a.png"}
	require.NoError(t, gen.SetAsset(asset))

	require.NoError(t, repo.Create(ctx, gen))

	assert.NotEqual(t, clientID, gen.ID, "id is assigned by the store")
	assert.True(t, gen.CreatedAt.After(clientTime), "creation time is assigned by the store")

	items, err := repo.ListByOwner(ctx, owner.ID, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, gen.ID, items[0].ID)
	assert.Equal(t, asset, items[0].UploadedAsset())
}

func TestGenerationRepository_ListByOwner(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewGenerationRepository(testDB.DB)
	ctx := context.Background()

	alice, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	bob, _ := testutil.NewUserBuilder().Build(t, testDB.DB)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		testutil.NewGenerationBuilder().
			WithOwner(alice).
			WithPrompt(fmt.Sprintf("alice %d", i)).
			WithCreatedAt(base.Add(time.Duration(i) * time.Second)).
			Build(t, testDB.DB)
	}
	testutil.NewGenerationBuilder().WithOwner(bob).WithPrompt("bob").Build(t, testDB.DB)

	tests := []struct {
		name       string
		owner      uuid.UUID
		limit      int
		wantCount  int
		wantFirst  string
		wantAbsent string
	}{
		{name: "limit respected", owner: alice.ID, limit: 3, wantCount: 3, wantFirst: "alice 7"},
		{name: "limit larger than rows", owner: alice.ID, limit: 50, wantCount: 8, wantFirst: "alice 7", wantAbsent: "bob"},
		{name: "other owner", owner: bob.ID, limit: 50, wantCount: 1, wantFirst: "bob"},
		{name: "unknown owner", owner: uuid.New(), limit: 5, wantCount: 0},
		{name: "non-positive limit", owner: alice.ID, limit: 0, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := repo.ListByOwner(ctx, tt.owner, tt.limit)
			require.NoError(t, err)
			require.Len(t, items, tt.wantCount)
			if tt.wantCount == 0 {
				assert.NotNil(t, items)
				return
			}
			assert.Equal(t, tt.wantFirst, items[0].Prompt)
			for i := range items {
				assert.Equal(t, tt.owner, items[i].OwnerID)
				assert.NotEqual(t, tt.wantAbsent, items[i].Prompt)
				if i > 0 {
					assert.True(t, items[i-1].CreatedAt.After(items[i].CreatedAt))
				}
			}
		})
	}
}
