package bgremoval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aistudio/internal/domain"
	"aistudio/internal/imaging"
	"aistudio/internal/infra"
)

const (
	sourceFetchTimeout = 30 * time.Second
	maxSourceBytes     = 30 << 20
)

type segmenter interface {
	HasCredentials() bool
	Segment(ctx context.Context, image []byte) ([]byte, error)
}

// PhotoroomDriver finishes in a single call and never issues a job id.
type PhotoroomDriver struct {
	client     segmenter
	store      ResultStore
	httpClient *http.Client
	logger     *infra.Logger
}

// NewPhotoroomDriver wires a synchronous driver.
func NewPhotoroomDriver(client segmenter, store ResultStore, httpClient *http.Client, logger *infra.Logger) *PhotoroomDriver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &PhotoroomDriver{client: client, store: store, httpClient: httpClient, logger: orDiscard(logger)}
}

func (d *PhotoroomDriver) Name() string { return DriverPhotoroom }

func (d *PhotoroomDriver) Configured() bool {
	return d.client != nil && d.client.HasCredentials()
}

// ProcessImage loads the source, segments it and stores the cut-out.
func (d *PhotoroomDriver) ProcessImage(ctx context.Context, source string) (*Result, error) {
	if !d.Configured() {
		return nil, domain.NotConfigured(domain.ToolBackgroundRemoval)
	}
	image, err := d.loadSource(ctx, source)
	if err != nil {
		d.logger.Warn().Err(err).Str("driver", DriverPhotoroom).Msg("bgremoval: source fetch failed")
		return nil, domain.InvalidInput(domain.ToolBackgroundRemoval, "Could not fetch image from URL.")
	}
	d.logger.Debug().Str("driver", DriverPhotoroom).Int("size_bytes", len(image)).Msg("bgremoval: fetched source image")

	cutout, err := d.client.Segment(ctx, image)
	if err != nil {
		return nil, err
	}
	url, err := d.store.Store(ctx, cutout, "remove_bg_photoroom")
	if err != nil {
		return nil, domain.NewError(domain.ErrResultNotSaved, domain.ToolBackgroundRemoval, err.Error())
	}
	d.logger.Info().Str("driver", DriverPhotoroom).Str("result_url", url).Msg("bgremoval: stored result")
	return &Result{State: domain.JobStateCompleted, ResultURL: url}, nil
}

// CheckJobStatus always reports completion; there is no remote job to poll.
func (d *PhotoroomDriver) CheckJobStatus(ctx context.Context, jobID string) (*Result, error) {
	d.logger.Debug().Str("driver", DriverPhotoroom).Str("job_id", jobID).Msg("bgremoval: status check is a no-op")
	return &Result{State: domain.JobStateCompleted, JobID: jobID}, nil
}

func (d *PhotoroomDriver) loadSource(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "data:") {
		return imaging.DecodeBase64Image(source)
	}
	ctx, cancel := context.WithTimeout(ctx, sourceFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("source body is empty")
	}
	return data, nil
}

var _ Driver = (*PhotoroomDriver)(nil)
