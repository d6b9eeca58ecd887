// Package memstore keeps generation records and counters in process memory.
// It backs STORE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"aistudio/internal/domain"
)

// GenerationStore implements domain.GenerationRepository.
type GenerationStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.GenerationJob
	now    func() time.Time
}

// NewGenerationStore returns an empty store. A nil now uses time.Now.
func NewGenerationStore(now func() time.Time) *GenerationStore {
	if now == nil {
		now = time.Now
	}
	return &GenerationStore{jobs: make(map[int64]*domain.GenerationJob), now: now}
}

func (s *GenerationStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ProviderJobID != "" && s.findLocked(job.ProviderJobID, job.Tool) != nil {
		return domain.ErrConflict
	}
	s.nextID++
	job.ID = s.nextID
	if job.State == "" {
		job.State = domain.JobStateProcessing
	}
	ts := s.now()
	job.CreatedAt, job.UpdatedAt = ts, ts
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *GenerationStore) AttachProviderJob(ctx context.Context, id int64, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if other := s.findLocked(providerJobID, job.Tool); other != nil && other.ID != id {
		return domain.ErrConflict
	}
	job.ProviderJobID = providerJobID
	job.UpdatedAt = s.now()
	return nil
}

func (s *GenerationStore) GetByID(ctx context.Context, id int64) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *GenerationStore) FindByProviderJob(ctx context.Context, providerJobID string, tool domain.ToolKind) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(providerJobID, tool)
	if job == nil {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *GenerationStore) Complete(ctx context.Context, id int64, resultRef string, processingSeconds float64) (bool, error) {
	return s.transition(id, func(job *domain.GenerationJob) {
		job.State = domain.JobStateCompleted
		job.ResultImageRef = resultRef
		job.ErrorDetail = ""
		job.ProcessingSeconds = processingSeconds
	})
}

func (s *GenerationStore) Fail(ctx context.Context, id int64, detail string, processingSeconds float64) (bool, error) {
	return s.transition(id, func(job *domain.GenerationJob) {
		job.State = domain.JobStateFailed
		job.ErrorDetail = detail
		job.ProcessingSeconds = processingSeconds
	})
}

func (s *GenerationStore) ListCompleted(ctx context.Context, tenantID string, limit int) ([]domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GenerationJob
	for _, job := range s.jobs {
		if job.TenantID == tenantID && job.State == domain.JobStateCompleted {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *GenerationStore) LinkCatalogEntry(ctx context.Context, tenantID string, id int64, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return domain.ErrNotFound
	}
	job.LinkedCatalogEntryID = entryID
	job.UpdatedAt = s.now()
	return nil
}

func (s *GenerationStore) transition(id int64, apply func(*domain.GenerationJob)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.State != domain.JobStateProcessing {
		return false, nil
	}
	apply(job)
	job.UpdatedAt = s.now()
	return true, nil
}

func (s *GenerationStore) findLocked(providerJobID string, tool domain.ToolKind) *domain.GenerationJob {
	var found *domain.GenerationJob
	for _, job := range s.jobs {
		if job.ProviderJobID == providerJobID && job.Tool == tool {
			if found == nil || job.ID > found.ID {
				found = job
			}
		}
	}
	return found
}

// CounterStore implements domain.CounterRepository.
type CounterStore struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewCounterStore() *CounterStore {
	return &CounterStore{values: make(map[string]int64)}
}

func (c *CounterStore) Increment(ctx context.Context, key string) error {
	c.mu.Lock()
	c.values[key]++
	c.mu.Unlock()
	return nil
}

func (c *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

var (
	_ domain.GenerationRepository = (*GenerationStore)(nil)
	_ domain.CounterRepository    = (*CounterStore)(nil)
)
