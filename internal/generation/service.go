// Package generation runs the two-call lifecycle shared by every AI image
// tool: StartGeneration submits work and records it, CheckStatus reconciles
// the record with the provider until it reaches a terminal state.
//
// Records only move forward (processing to completed or failed) and a
// completed record always carries a rehosted result URL. Polls against a
// terminal record are answered from the record without contacting the
// provider, and concurrent polls for one provider job share a single
// provider round trip.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"aistudio/internal/bgremoval"
	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/providers/replicate"
	"aistudio/internal/storage"
)

const (
	// RecentLimit caps RecentGenerations.
	RecentLimit = 50

	defaultMemoTTL = time.Hour
	// sharedPollTimeout bounds one reconcile shared by concurrent pollers.
	sharedPollTimeout = 2 * time.Minute
)

// Status is the caller-facing job status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Payload carries the tool-specific request fields.
type Payload struct {
	ImageURL    string
	Scale       int
	FaceEnhance bool
	MaskBase64  string
	Version     string
	Prompt      string
}

// StartResult is returned by StartGeneration. JobID is empty for providers
// that finished synchronously.
type StartResult struct {
	Status       Status
	JobID        string
	ResultURL    string
	GenerationID int64
}

// StatusResult is returned by CheckStatus. GenerationID is nil when no record
// backs the provider job.
type StatusResult struct {
	Status       Status
	JobID        string
	ResultURL    string
	GenerationID *int64
	Message      string
}

// SourceInliner turns a self-hosted storage key into a data URI.
type SourceInliner interface {
	DataURI(ctx context.Context, key string) (string, error)
}

// Options wires the service collaborators. Repo, Counters and at least one
// tool backend are required.
type Options struct {
	Repo       domain.GenerationRepository
	Counters   domain.CounterRepository
	Cache      domain.ResultCache
	Store      bgremoval.ResultStore
	Replicate  PredictionClient
	Background bgremoval.Driver

	Locator *storage.Locator
	Inliner SourceInliner

	RetryDelays     []time.Duration
	Sleep           replicate.Sleeper
	MemoTTL         time.Duration
	StrictOwnership bool

	Logger *infra.Logger
	Now    func() time.Time
}

// Service is the job orchestrator.
type Service struct {
	repo     domain.GenerationRepository
	counters domain.CounterRepository
	cache    domain.ResultCache
	locator  *storage.Locator
	inliner  SourceInliner
	tools    map[domain.ToolKind]toolHandler
	strict   bool
	memoTTL  time.Duration
	logger   *infra.Logger
	now      func() time.Time
	polls    singleflight.Group
}

// New builds a Service and its tool registry.
func New(opts Options) (*Service, error) {
	if opts.Repo == nil {
		return nil, errors.New("generation: repository is required")
	}
	if opts.Counters == nil {
		return nil, errors.New("generation: counter repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	memoTTL := opts.MemoTTL
	if memoTTL <= 0 {
		memoTTL = defaultMemoTTL
	}

	s := &Service{
		repo:     opts.Repo,
		counters: opts.Counters,
		cache:    opts.Cache,
		locator:  opts.Locator,
		inliner:  opts.Inliner,
		tools:    make(map[domain.ToolKind]toolHandler),
		strict:   opts.StrictOwnership,
		memoTTL:  memoTTL,
		logger:   logger,
		now:      now,
	}

	if opts.Background != nil {
		s.tools[domain.ToolBackgroundRemoval] = &driverTool{driver: opts.Background}
	}
	if opts.Replicate != nil {
		if opts.Store == nil {
			return nil, errors.New("generation: result store is required for prediction tools")
		}
		resolver := replicate.NewOutputResolver(opts.Replicate, nil, opts.RetryDelays, opts.Sleep)
		register := func(kind domain.ToolKind, check func(Payload) error, create createFunc) {
			s.tools[kind] = &predictionTool{
				kind:     kind,
				prefix:   kind.CounterPrefix(),
				client:   opts.Replicate,
				store:    opts.Store,
				resolver: resolver,
				logger:   logger,
				check:    check,
				create:   create,
			}
		}
		register(domain.ToolUpscale, nil, createUpscale)
		register(domain.ToolMagicEraser, requireMask, createErase)
		register(domain.ToolEnhance, nil, createEnhance)
		register(domain.ToolLighting, requirePrompt, createRelight)
	}
	return s, nil
}

func (s *Service) handler(tool domain.ToolKind) (toolHandler, error) {
	h, ok := s.tools[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTool, tool)
	}
	return h, nil
}

// StartGeneration validates the payload, records a processing job and
// submits it. Input and configuration errors are returned before any record
// exists. Provider errors fail the record and are returned to the caller.
func (s *Service) StartGeneration(ctx context.Context, tool domain.ToolKind, p Payload, tenantID string) (*StartResult, error) {
	h, err := s.handler(tool)
	if err != nil {
		return nil, err
	}
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	tenantID = strings.TrimSpace(tenantID)
	if p.ImageURL == "" {
		return nil, domain.InvalidInput(tool, "Missing image_url.")
	}
	if tenantID == "" {
		return nil, domain.InvalidInput(tool, "Missing shop domain.")
	}
	if !h.configured() {
		return nil, domain.NotConfigured(tool)
	}
	if err := h.validate(p); err != nil {
		return nil, err
	}
	sub, err := s.prepare(ctx, tool, p)
	if err != nil {
		return nil, err
	}

	s.increment(ctx, domain.CounterTotalRequests)
	job := &domain.GenerationJob{
		TenantID:       tenantID,
		Tool:           tool,
		SourceImageRef: p.ImageURL,
		State:          domain.JobStateProcessing,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	log := s.logger.With().Str("tool", string(tool)).Str("tenant", tenantID).Int64("generation_id", job.ID).Logger()

	out, err := h.submit(ctx, sub)
	if err != nil {
		s.fail(ctx, job, failureDetail(err))
		log.Warn().Err(err).Msg("generation: submit failed")
		return nil, err
	}
	if out.jobID != "" {
		if err := s.repo.AttachProviderJob(ctx, job.ID, out.jobID); err != nil {
			s.fail(ctx, job, "Could not record provider job.")
			return nil, fmt.Errorf("attach provider job: %w", err)
		}
	}
	log.Info().Str("job_id", out.jobID).Str("state", string(out.state)).Msg("generation: submitted")

	result := &StartResult{Status: StatusProcessing, JobID: out.jobID, GenerationID: job.ID}
	switch out.state {
	case domain.JobStateCompleted:
		if _, err := s.complete(ctx, job, out.resultURL); err != nil {
			return nil, err
		}
		result.Status = StatusCompleted
		result.ResultURL = s.normalize(ctx, out.resultURL)
	case domain.JobStateFailed:
		s.fail(ctx, job, out.detail)
		return nil, domain.NewError(domain.ErrUpstreamRejected, tool, out.detail)
	}
	return result, nil
}

// CheckStatus reconciles a provider job without tenant scoping. A missing
// record is answered from provider data alone.
func (s *Service) CheckStatus(ctx context.Context, providerJobID string, tool domain.ToolKind) (*StatusResult, error) {
	return s.check(ctx, "", providerJobID, tool)
}

// CheckStatusFor is CheckStatus scoped to tenantID. Records owned by another
// tenant read as not found. With strict ownership a missing record is also
// not found, so unknown ids never reach the provider.
func (s *Service) CheckStatusFor(ctx context.Context, tenantID, providerJobID string, tool domain.ToolKind) (*StatusResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.InvalidInput(tool, "Missing shop domain.")
	}
	return s.check(ctx, tenantID, providerJobID, tool)
}

func (s *Service) check(ctx context.Context, tenantID, providerJobID string, tool domain.ToolKind) (*StatusResult, error) {
	h, err := s.handler(tool)
	if err != nil {
		return nil, err
	}
	providerJobID = strings.TrimSpace(providerJobID)
	if providerJobID == "" {
		return nil, domain.InvalidInput(tool, "Missing job id.")
	}
	if !h.configured() {
		return nil, domain.NotConfigured(tool)
	}

	job, err := s.repo.FindByProviderJob(ctx, providerJobID, tool)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		job = nil
	case err != nil:
		return nil, fmt.Errorf("find generation: %w", err)
	}
	if tenantID != "" {
		if job != nil && job.TenantID != tenantID {
			return nil, domain.NewError(domain.ErrNotFound, tool, "")
		}
		if job == nil && s.strict {
			return nil, domain.NewError(domain.ErrNotFound, tool, "")
		}
	}

	if job != nil && job.State.Terminal() {
		return s.fromRecord(ctx, job), nil
	}
	if job == nil {
		if url, ok := s.memo(ctx, tool, providerJobID); ok {
			return &StatusResult{Status: StatusCompleted, JobID: providerJobID, ResultURL: s.normalize(ctx, url)}, nil
		}
	}

	key := string(tool) + ":" + providerJobID
	v, err, shared := s.polls.Do(key, func() (any, error) {
		// Detached from the first caller so its disconnect does not abort
		// the other pollers. Context values such as the base URL survive.
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedPollTimeout)
		defer cancel()
		return s.reconcile(pollCtx, h, tool, providerJobID, job)
	})
	if shared {
		s.logger.Debug().Str("tool", string(tool)).Str("job_id", providerJobID).Msg("generation: shared poll result")
	}
	if err != nil {
		return nil, err
	}
	return v.(*StatusResult), nil
}

// reconcile polls the provider once and persists the outcome. Broken
// results (no URL, rehost failure) become an error status; transport and
// rejection errors fail the record and are returned. A cancelled poll
// leaves the record processing.
func (s *Service) reconcile(ctx context.Context, h toolHandler, tool domain.ToolKind, providerJobID string, job *domain.GenerationJob) (*StatusResult, error) {
	done := func(ctx context.Context) *outcome {
		if job == nil {
			return nil
		}
		current, err := s.repo.GetByID(ctx, job.ID)
		if err != nil || !current.State.Terminal() {
			return nil
		}
		return &outcome{state: current.State, jobID: providerJobID, resultURL: current.ResultImageRef, detail: current.ErrorDetail}
	}

	out, err := h.poll(ctx, providerJobID, done)
	if err != nil && interrupted(ctx, err) {
		s.logger.Debug().Err(err).Str("tool", string(tool)).Str("job_id", providerJobID).Msg("generation: poll interrupted, job left processing")
		return nil, err
	}
	if err != nil {
		if job != nil {
			s.fail(ctx, job, failureDetail(err))
		}
		s.logger.Warn().Err(err).Str("tool", string(tool)).Str("job_id", providerJobID).Msg("generation: poll failed")
		if errors.Is(err, domain.ErrNoResult) || errors.Is(err, domain.ErrResultNotSaved) {
			return s.errorStatus(providerJobID, job, domain.UserMessage(err)), nil
		}
		return nil, err
	}

	switch out.state {
	case domain.JobStateCompleted:
		if job == nil {
			s.remember(ctx, tool, providerJobID, out.resultURL)
			return &StatusResult{Status: StatusCompleted, JobID: providerJobID, ResultURL: s.normalize(ctx, out.resultURL)}, nil
		}
		current, err := s.complete(ctx, job, out.resultURL)
		if err != nil {
			return nil, err
		}
		return s.fromRecord(ctx, current), nil
	case domain.JobStateFailed:
		detail := out.detail
		if detail == "" {
			detail = "Job failed."
		}
		if job != nil {
			s.fail(ctx, job, detail)
		}
		return s.errorStatus(providerJobID, job, detail), nil
	default:
		res := &StatusResult{Status: StatusProcessing, JobID: providerJobID}
		if job != nil {
			id := job.ID
			res.GenerationID = &id
		}
		return res, nil
	}
}

// complete transitions job and returns the persisted row. When another
// writer finished first the stored row wins.
func (s *Service) complete(ctx context.Context, job *domain.GenerationJob, resultURL string) (*domain.GenerationJob, error) {
	ok, err := s.repo.Complete(ctx, job.ID, resultURL, job.Elapsed(s.now()))
	if err != nil {
		return nil, fmt.Errorf("complete generation: %w", err)
	}
	if ok {
		s.increment(ctx, domain.SuccessCounter(job.Tool))
	}
	current, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("reload generation: %w", err)
	}
	return current, nil
}

func (s *Service) fail(ctx context.Context, job *domain.GenerationJob, detail string) {
	ok, err := s.repo.Fail(ctx, job.ID, detail, job.Elapsed(s.now()))
	if err != nil {
		s.logger.Error().Err(err).Int64("generation_id", job.ID).Msg("generation: could not record failure")
		return
	}
	if ok {
		s.increment(ctx, domain.FailureCounter(job.Tool))
	}
}

func (s *Service) fromRecord(ctx context.Context, job *domain.GenerationJob) *StatusResult {
	id := job.ID
	res := &StatusResult{JobID: job.ProviderJobID, GenerationID: &id}
	switch job.State {
	case domain.JobStateCompleted:
		res.Status = StatusCompleted
		res.ResultURL = s.normalize(ctx, job.ResultImageRef)
	case domain.JobStateFailed:
		res.Status = StatusError
		res.Message = job.ErrorDetail
		if res.Message == "" {
			res.Message = "Job failed."
		}
	default:
		res.Status = StatusProcessing
	}
	return res
}

func (s *Service) errorStatus(providerJobID string, job *domain.GenerationJob, message string) *StatusResult {
	res := &StatusResult{Status: StatusError, JobID: providerJobID, Message: message}
	if job != nil {
		id := job.ID
		res.GenerationID = &id
	}
	return res
}

// RecentGenerations lists the tenant's latest completed generations with
// image references rooted at the current host.
func (s *Service) RecentGenerations(ctx context.Context, tenantID string, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 || limit > RecentLimit {
		limit = RecentLimit
	}
	jobs, err := s.repo.ListCompleted(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, job := range jobs {
		if job.ResultImageRef == "" {
			continue
		}
		job.ResultImageRef = s.normalize(ctx, job.ResultImageRef)
		job.SourceImageRef = s.normalizeSource(ctx, job.SourceImageRef)
		out = append(out, job)
	}
	return out, nil
}

// LinkCatalogEntry records the product a generation was attached to.
// Shopify product gids are reduced to their numeric id.
func (s *Service) LinkCatalogEntry(ctx context.Context, tenantID string, generationID int64, entryID string) error {
	id, ok := NormalizeProductID(entryID)
	if !ok {
		return domain.InvalidInput("", "Invalid product id.")
	}
	if err := s.repo.LinkCatalogEntry(ctx, tenantID, generationID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewError(domain.ErrNotFound, "", "")
		}
		return err
	}
	return nil
}

// NormalizeProductID accepts "123" or "gid://shopify/Product/123".
func NormalizeProductID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		if !strings.HasPrefix(raw, "gid://shopify/Product/") {
			return "", false
		}
		raw = raw[i+1:]
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

func (s *Service) increment(ctx context.Context, key string) {
	if err := s.counters.Increment(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("counter", key).Msg("generation: counter increment failed")
	}
}

// normalize maps a stored result reference onto the request host.
func (s *Service) normalize(ctx context.Context, ref string) string {
	if s.locator == nil || ref == "" {
		return ref
	}
	return s.locator.NormalizeStored(ctx, ref)
}

// normalizeSource is normalize for caller-supplied references, which may
// live on any host.
func (s *Service) normalizeSource(ctx context.Context, ref string) string {
	if s.locator == nil || ref == "" {
		return ref
	}
	return s.locator.Normalize(ctx, ref)
}

type memoEntry struct {
	ResultURL string `json:"result_url"`
}

func memoKey(tool domain.ToolKind, providerJobID string) string {
	return "generation_result_" + string(tool) + "_" + providerJobID
}

func (s *Service) memo(ctx context.Context, tool domain.ToolKind, providerJobID string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	raw, err := s.cache.Get(ctx, memoKey(tool, providerJobID))
	if err != nil || raw == nil {
		return "", false
	}
	var entry memoEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.ResultURL == "" {
		return "", false
	}
	return entry.ResultURL, true
}

func (s *Service) remember(ctx context.Context, tool domain.ToolKind, providerJobID, url string) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(memoEntry{ResultURL: url})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, memoKey(tool, providerJobID), raw, s.memoTTL); err != nil {
		s.logger.Warn().Err(err).Str("job_id", providerJobID).Msg("generation: memo write failed")
	}
}

// failureDetail is the text stored on a failed record and later shown to
// the merchant. Only provider rejections keep their own wording.
// interrupted reports whether a poll ended because its context was
// cancelled rather than because the provider failed.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func failureDetail(err error) string {
	var tagged *domain.Error
	if errors.As(err, &tagged) && tagged.Detail != "" && errors.Is(err, domain.ErrUpstreamRejected) {
		return tagged.Detail
	}
	return domain.UserMessage(err)
}
