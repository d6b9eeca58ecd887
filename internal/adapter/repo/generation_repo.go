package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Create inserts job and fills in its ID and timestamps.
func (r *GenerationRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job.State == "" {
		job.State = domain.JobStateProcessing
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		job.TenantID,
		string(job.Tool),
		job.ProviderJobID,
		job.SourceImageRef,
		job.ResultImageRef,
		string(job.State),
		job.ErrorDetail,
		job.ProcessingSeconds,
	)
	if err := row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: provider job %s", domain.ErrConflict, job.ProviderJobID)
		}
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// AttachProviderJob records the provider-side job id after submission.
func (r *GenerationRepositoryPG) AttachProviderJob(ctx context.Context, id int64, providerJobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QAttachProviderJob, id, providerJobID)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: provider job %s", domain.ErrConflict, providerJobID)
		}
		return fmt.Errorf("attach provider job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.GenerationJob, error) {
	return scanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByID, id))
}

// FindByProviderJob returns the newest generation for the provider job and tool.
func (r *GenerationRepositoryPG) FindByProviderJob(ctx context.Context, providerJobID string, tool domain.ToolKind) (*domain.GenerationJob, error) {
	return scanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByProviderJob, providerJobID, string(tool)))
}

// Complete transitions a processing generation to completed. It reports false
// when the row was no longer processing.
func (r *GenerationRepositoryPG) Complete(ctx context.Context, id int64, resultRef string, processingSeconds float64) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteGeneration, id, resultRef, processingSeconds)
	if err != nil {
		return false, fmt.Errorf("complete generation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail transitions a processing generation to failed.
func (r *GenerationRepositoryPG) Fail(ctx context.Context, id int64, detail string, processingSeconds float64) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailGeneration, id, detail, processingSeconds)
	if err != nil {
		return false, fmt.Errorf("fail generation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListCompleted returns the tenant's completed generations, newest first.
func (r *GenerationRepositoryPG) ListCompleted(ctx context.Context, tenantID string, limit int) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListCompletedGenerations, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return jobs, nil
}

// LinkCatalogEntry associates a generation with a product catalog entry.
func (r *GenerationRepositoryPG) LinkCatalogEntry(ctx context.Context, tenantID string, id int64, entryID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QLinkGenerationCatalogEntry, tenantID, id, entryID)
	if err != nil {
		return fmt.Errorf("link generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanGeneration(row pgx.Row) (*domain.GenerationJob, error) {
	var (
		job   domain.GenerationJob
		tool  string
		state string
	)
	if err := row.Scan(
		&job.ID,
		&job.TenantID,
		&tool,
		&job.ProviderJobID,
		&job.SourceImageRef,
		&job.ResultImageRef,
		&state,
		&job.ErrorDetail,
		&job.LinkedCatalogEntryID,
		&job.ProcessingSeconds,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	job.Tool = domain.ToolKind(tool)
	job.State = domain.JobState(state)
	return &job, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
