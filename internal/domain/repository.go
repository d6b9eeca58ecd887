package domain

import (
	"context"
	"time"
)

// GenerationRepository persists generation jobs. Transitions out of
// processing are conditional: Complete and Fail report false when the row was
// already terminal.
type GenerationRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	AttachProviderJob(ctx context.Context, id int64, providerJobID string) error
	GetByID(ctx context.Context, id int64) (*GenerationJob, error)
	FindByProviderJob(ctx context.Context, providerJobID string, tool ToolKind) (*GenerationJob, error)
	Complete(ctx context.Context, id int64, resultRef string, processingSeconds float64) (bool, error)
	Fail(ctx context.Context, id int64, detail string, processingSeconds float64) (bool, error)
	ListCompleted(ctx context.Context, tenantID string, limit int) ([]GenerationJob, error)
	LinkCatalogEntry(ctx context.Context, tenantID string, id int64, entryID string) error
}

// CounterRepository increments approximate usage counters.
type CounterRepository interface {
	Increment(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error)
}

// ResultCache is a TTL key/value store. Get returns nil, nil on a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
