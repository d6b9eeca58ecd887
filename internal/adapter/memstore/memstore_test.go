package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aistudio/internal/domain"
)

func TestGenerationStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewGenerationStore(func() time.Time { return clock })

	job := &domain.GenerationJob{TenantID: "a.myshopify.com", Tool: domain.ToolUpscale, SourceImageRef: "https://cdn/a.png"}
	require.NoError(t, store.Create(ctx, job))
	assert.Equal(t, int64(1), job.ID)
	assert.Equal(t, domain.JobStateProcessing, job.State)

	require.NoError(t, store.AttachProviderJob(ctx, job.ID, "p1"))
	found, err := store.FindByProviderJob(ctx, "p1", domain.ToolUpscale)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	_, err = store.FindByProviderJob(ctx, "p1", domain.ToolEnhance)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := store.Complete(ctx, job.ID, "/storage/ai-studio/r.png", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Fail(ctx, job.ID, "late", 5)
	require.NoError(t, err)
	assert.False(t, ok, "terminal rows must not transition again")

	got, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, got.State)
	assert.Equal(t, "/storage/ai-studio/r.png", got.ResultImageRef)
	assert.Equal(t, 4.0, got.ProcessingSeconds)
}

func TestGenerationStoreListAndLink(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewGenerationStore(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		job := &domain.GenerationJob{TenantID: "a", Tool: domain.ToolEnhance}
		require.NoError(t, store.Create(ctx, job))
		_, err := store.Complete(ctx, job.ID, "r", 1)
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}
	require.NoError(t, store.Create(ctx, &domain.GenerationJob{TenantID: "a", Tool: domain.ToolEnhance}))
	require.NoError(t, store.Create(ctx, &domain.GenerationJob{TenantID: "b", Tool: domain.ToolEnhance, State: domain.JobStateCompleted}))

	list, err := store.ListCompleted(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)

	require.NoError(t, store.LinkCatalogEntry(ctx, "a", 1, "product-1"))
	assert.ErrorIs(t, store.LinkCatalogEntry(ctx, "b", 1, "product-1"), domain.ErrNotFound)
	got, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "product-1", got.LinkedCatalogEntryID)
}

func TestGenerationStoreProviderJobConflict(t *testing.T) {
	ctx := context.Background()
	store := NewGenerationStore(nil)
	require.NoError(t, store.Create(ctx, &domain.GenerationJob{Tool: domain.ToolBackgroundRemoval, ProviderJobID: "x"}))
	assert.ErrorIs(t, store.Create(ctx, &domain.GenerationJob{Tool: domain.ToolBackgroundRemoval, ProviderJobID: "x"}), domain.ErrConflict)
	_, err := store.GetByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCounterStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	counters := NewCounterStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = counters.Increment(ctx, domain.CounterTotalRequests)
		}()
	}
	wg.Wait()
	v, err := counters.Get(ctx, domain.CounterTotalRequests)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
}
