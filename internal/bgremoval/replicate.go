package bgremoval

import (
	"context"
	"encoding/json"
	"time"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/providers/replicate"
)

const defaultCacheTTL = time.Hour

type predictionClient interface {
	HasCredentials() bool
	Token() string
	RemoveBackground(ctx context.Context, image string) (*replicate.Prediction, error)
	Get(ctx context.Context, id string) (*replicate.Prediction, error)
	LogUsage(p *replicate.Prediction)
}

type cachedResult struct {
	ResultURL string `json:"result_url"`
}

// ReplicateDriver submits an async segmentation prediction and resolves it
// on poll. Resolved results are cached so repeated polls skip the download.
type ReplicateDriver struct {
	client   predictionClient
	store    ResultStore
	cache    domain.ResultCache
	ttl      time.Duration
	resolver *replicate.OutputResolver
	logger   *infra.Logger
}

// NewReplicateDriver wires the polling driver.
func NewReplicateDriver(client predictionClient, store ResultStore, cache domain.ResultCache, ttl time.Duration, resolver *replicate.OutputResolver, logger *infra.Logger) *ReplicateDriver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ReplicateDriver{client: client, store: store, cache: cache, ttl: ttl, resolver: resolver, logger: orDiscard(logger)}
}

func (d *ReplicateDriver) Name() string { return DriverReplicate }

func (d *ReplicateDriver) Configured() bool {
	return d.client != nil && d.client.HasCredentials()
}

// ProcessImage submits the job and returns its id. A prediction that is
// already terminal in the create response is resolved immediately.
func (d *ReplicateDriver) ProcessImage(ctx context.Context, source string) (*Result, error) {
	if !d.Configured() {
		return nil, domain.NotConfigured(domain.ToolBackgroundRemoval)
	}
	p, err := d.client.RemoveBackground(ctx, source)
	if err != nil {
		return nil, domain.WithTool(err, domain.ToolBackgroundRemoval)
	}
	d.logger.Info().Str("driver", DriverReplicate).Str("job_id", p.ID).Msg("bgremoval: prediction created")
	if p.State == replicate.StateRunning {
		return &Result{State: domain.JobStateProcessing, JobID: p.ID}, nil
	}
	return d.settle(ctx, p)
}

// CheckJobStatus polls the prediction and rehosts the result once.
func (d *ReplicateDriver) CheckJobStatus(ctx context.Context, jobID string) (*Result, error) {
	if !d.Configured() {
		return nil, domain.NotConfigured(domain.ToolBackgroundRemoval)
	}
	if cached, ok := d.cached(ctx, jobID); ok {
		d.logger.Debug().Str("driver", DriverReplicate).Str("job_id", jobID).Msg("bgremoval: returning cached result")
		return &Result{State: domain.JobStateCompleted, JobID: jobID, ResultURL: cached}, nil
	}
	p, err := d.client.Get(ctx, jobID)
	if err != nil {
		return nil, domain.WithTool(err, domain.ToolBackgroundRemoval)
	}
	if p.ID == "" {
		p.ID = jobID
	}
	return d.settle(ctx, p)
}

func (d *ReplicateDriver) settle(ctx context.Context, p *replicate.Prediction) (*Result, error) {
	switch p.State {
	case replicate.StateRunning:
		return &Result{State: domain.JobStateProcessing, JobID: p.ID}, nil
	case replicate.StateFailed:
		return &Result{State: domain.JobStateFailed, JobID: p.ID, Detail: p.FailureDetail()}, nil
	}

	d.client.LogUsage(p)
	url, latest, err := d.resolver.Resolve(ctx, p)
	if err != nil {
		return nil, domain.WithTool(err, domain.ToolBackgroundRemoval)
	}
	var stored string
	switch {
	case url != "":
		stored, err = d.store.Materialize(ctx, url, d.client.Token(), "remove_bg")
	case latest.StreamURL != "":
		stored, err = d.store.MaterializeStream(ctx, latest.StreamURL, d.client.Token(), "remove_bg")
		if err != nil {
			d.logger.Warn().Str("job_id", p.ID).Str("response_sample", latest.Sample()).Msg("bgremoval: succeeded but no url in response")
			return nil, domain.NewError(domain.ErrNoResult, domain.ToolBackgroundRemoval, "")
		}
	default:
		d.logger.Warn().Str("job_id", p.ID).Str("response_sample", latest.Sample()).Msg("bgremoval: succeeded but no url in response")
		return nil, domain.NewError(domain.ErrNoResult, domain.ToolBackgroundRemoval, "")
	}
	if err != nil {
		return nil, domain.NewError(domain.ErrResultNotSaved, domain.ToolBackgroundRemoval, err.Error())
	}
	d.remember(ctx, p.ID, stored)
	return &Result{State: domain.JobStateCompleted, JobID: p.ID, ResultURL: stored}, nil
}

func (d *ReplicateDriver) cacheKey(jobID string) string {
	return "bg_remover_replicate_job_" + jobID
}

func (d *ReplicateDriver) cached(ctx context.Context, jobID string) (string, bool) {
	if d.cache == nil {
		return "", false
	}
	raw, err := d.cache.Get(ctx, d.cacheKey(jobID))
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Msg("bgremoval: cache read failed")
		return "", false
	}
	if raw == nil {
		return "", false
	}
	var entry cachedResult
	if err := json.Unmarshal(raw, &entry); err != nil || entry.ResultURL == "" {
		return "", false
	}
	return entry.ResultURL, true
}

func (d *ReplicateDriver) remember(ctx context.Context, jobID, url string) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedResult{ResultURL: url})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, d.cacheKey(jobID), raw, d.ttl); err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Msg("bgremoval: cache write failed")
	}
}

var _ Driver = (*ReplicateDriver)(nil)
