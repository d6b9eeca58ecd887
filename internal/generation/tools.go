package generation

import (
	"context"

	"aistudio/internal/bgremoval"
	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/providers/replicate"
)

// PredictionClient is the slice of the Replicate client the prediction tools use.
type PredictionClient interface {
	HasCredentials() bool
	Token() string
	Get(ctx context.Context, id string) (*replicate.Prediction, error)
	LogUsage(p *replicate.Prediction)
	Upscale(ctx context.Context, image string, params replicate.UpscaleParams) (*replicate.Prediction, error)
	Erase(ctx context.Context, image, mask string) (*replicate.Prediction, error)
	Enhance(ctx context.Context, image string, params replicate.EnhanceParams) (*replicate.Prediction, error)
	Relight(ctx context.Context, image, prompt string) (*replicate.Prediction, error)
}

// submission is a payload already converted into provider inputs.
type submission struct {
	Image   string
	Mask    string
	Payload Payload
}

// outcome is the normalized provider answer the service persists.
type outcome struct {
	state     domain.JobState
	jobID     string
	resultURL string
	detail    string
}

// supersede returns the persisted outcome when another caller already
// finished the job, letting a handler skip its download.
type supersede func(ctx context.Context) *outcome

type toolHandler interface {
	configured() bool
	validate(p Payload) error
	submit(ctx context.Context, sub submission) (*outcome, error)
	poll(ctx context.Context, jobID string, done supersede) (*outcome, error)
}

type createFunc func(ctx context.Context, client PredictionClient, sub submission) (*replicate.Prediction, error)

// predictionTool drives any Replicate model through create, poll and rehost.
type predictionTool struct {
	kind     domain.ToolKind
	prefix   string
	client   PredictionClient
	store    bgremoval.ResultStore
	resolver *replicate.OutputResolver
	logger   *infra.Logger
	check    func(Payload) error
	create   createFunc
}

func (t *predictionTool) configured() bool {
	return t.client != nil && t.client.HasCredentials()
}

func (t *predictionTool) validate(p Payload) error {
	if t.check == nil {
		return nil
	}
	return t.check(p)
}

func (t *predictionTool) submit(ctx context.Context, sub submission) (*outcome, error) {
	p, err := t.create(ctx, t.client, sub)
	if err != nil {
		return nil, domain.WithTool(err, t.kind)
	}
	t.logger.Info().Str("tool", string(t.kind)).Str("job_id", p.ID).Str("status", string(p.State)).Msg("generation: prediction created")

	switch p.State {
	case replicate.StateRunning:
		return &outcome{state: domain.JobStateProcessing, jobID: p.ID}, nil
	case replicate.StateFailed:
		return &outcome{state: domain.JobStateFailed, jobID: p.ID, detail: p.FailureDetail()}, nil
	}

	// Finished inside the create call. Without a URL yet, leave the job
	// processing so the next poll runs the full resolution.
	t.client.LogUsage(p)
	if url := t.resolver.URL(p); url != "" {
		stored, err := t.store.Materialize(ctx, url, t.client.Token(), t.prefix)
		if err != nil {
			return nil, domain.NewError(domain.ErrResultNotSaved, t.kind, err.Error())
		}
		return &outcome{state: domain.JobStateCompleted, jobID: p.ID, resultURL: stored}, nil
	}
	if p.StreamURL != "" {
		if stored, err := t.store.MaterializeStream(ctx, p.StreamURL, t.client.Token(), t.prefix); err == nil {
			return &outcome{state: domain.JobStateCompleted, jobID: p.ID, resultURL: stored}, nil
		}
	}
	t.logger.Warn().Str("tool", string(t.kind)).Str("job_id", p.ID).Str("response_sample", p.Sample()).Msg("generation: sync success without url")
	return &outcome{state: domain.JobStateProcessing, jobID: p.ID}, nil
}

func (t *predictionTool) poll(ctx context.Context, jobID string, done supersede) (*outcome, error) {
	p, err := t.client.Get(ctx, jobID)
	if err != nil {
		return nil, domain.WithTool(err, t.kind)
	}
	t.logger.Debug().Str("tool", string(t.kind)).Str("job_id", jobID).Str("status", string(p.State)).Msg("generation: poll")

	switch p.State {
	case replicate.StateRunning:
		return &outcome{state: domain.JobStateProcessing, jobID: jobID}, nil
	case replicate.StateFailed:
		return &outcome{state: domain.JobStateFailed, jobID: jobID, detail: p.FailureDetail()}, nil
	}

	t.client.LogUsage(p)
	url, latest, err := t.resolver.Resolve(ctx, p)
	if err != nil {
		return nil, domain.WithTool(err, t.kind)
	}
	if prior := done(ctx); prior != nil {
		return prior, nil
	}

	if url != "" {
		stored, err := t.store.Materialize(ctx, url, t.client.Token(), t.prefix)
		if err != nil {
			t.logger.Warn().Err(err).Str("tool", string(t.kind)).Str("job_id", jobID).Str("url", url).Msg("generation: rehost failed")
			return nil, domain.NewError(domain.ErrResultNotSaved, t.kind, err.Error())
		}
		return &outcome{state: domain.JobStateCompleted, jobID: jobID, resultURL: stored}, nil
	}
	if latest.StreamURL != "" {
		stored, err := t.store.MaterializeStream(ctx, latest.StreamURL, t.client.Token(), t.prefix)
		if err == nil {
			t.logger.Info().Str("tool", string(t.kind)).Str("job_id", jobID).Msg("generation: completed via stream url")
			return &outcome{state: domain.JobStateCompleted, jobID: jobID, resultURL: stored}, nil
		}
	}
	t.logger.Warn().Str("tool", string(t.kind)).Str("job_id", jobID).Str("response_sample", latest.Sample()).Msg("generation: succeeded but no url in response")
	return nil, domain.NewError(domain.ErrNoResult, t.kind, "")
}

// driverTool adapts a background-removal driver.
type driverTool struct {
	driver bgremoval.Driver
}

func (t *driverTool) configured() bool {
	return t.driver != nil && t.driver.Configured()
}

func (t *driverTool) validate(Payload) error { return nil }

func (t *driverTool) submit(ctx context.Context, sub submission) (*outcome, error) {
	res, err := t.driver.ProcessImage(ctx, sub.Image)
	if err != nil {
		return nil, domain.WithTool(err, domain.ToolBackgroundRemoval)
	}
	return fromDriver(res), nil
}

func (t *driverTool) poll(ctx context.Context, jobID string, _ supersede) (*outcome, error) {
	res, err := t.driver.CheckJobStatus(ctx, jobID)
	if err != nil {
		return nil, domain.WithTool(err, domain.ToolBackgroundRemoval)
	}
	out := fromDriver(res)
	if out.jobID == "" {
		out.jobID = jobID
	}
	if out.state == domain.JobStateCompleted && out.resultURL == "" {
		return nil, domain.NewError(domain.ErrNoResult, domain.ToolBackgroundRemoval, "")
	}
	return out, nil
}

func fromDriver(res *bgremoval.Result) *outcome {
	return &outcome{state: res.State, jobID: res.JobID, resultURL: res.ResultURL, detail: res.Detail}
}

func createUpscale(ctx context.Context, c PredictionClient, sub submission) (*replicate.Prediction, error) {
	return c.Upscale(ctx, sub.Image, replicate.UpscaleParams{Scale: sub.Payload.Scale, FaceEnhance: sub.Payload.FaceEnhance})
}

func createErase(ctx context.Context, c PredictionClient, sub submission) (*replicate.Prediction, error) {
	return c.Erase(ctx, sub.Image, sub.Mask)
}

func createEnhance(ctx context.Context, c PredictionClient, sub submission) (*replicate.Prediction, error) {
	return c.Enhance(ctx, sub.Image, replicate.EnhanceParams{Version: sub.Payload.Version, Scale: sub.Payload.Scale})
}

func createRelight(ctx context.Context, c PredictionClient, sub submission) (*replicate.Prediction, error) {
	return c.Relight(ctx, sub.Image, sub.Payload.Prompt)
}
