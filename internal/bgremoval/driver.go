// Package bgremoval provides the swappable background-removal strategies.
package bgremoval

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/providers/photoroom"
	"aistudio/internal/providers/replicate"
)

// Driver names accepted by New.
const (
	DriverReplicate = "replicate"
	DriverPhotoroom = "photoroom"
)

// Result is the driver-level outcome. JobID is empty for drivers that finish
// synchronously; ResultURL is set only when State is completed.
type Result struct {
	State     domain.JobState
	JobID     string
	ResultURL string
	Detail    string
}

// Driver removes the background of a source image.
type Driver interface {
	Name() string
	Configured() bool
	ProcessImage(ctx context.Context, source string) (*Result, error)
	CheckJobStatus(ctx context.Context, jobID string) (*Result, error)
}

// ResultStore rehosts driver output.
type ResultStore interface {
	Store(ctx context.Context, data []byte, prefix string) (string, error)
	Materialize(ctx context.Context, remoteURL, token, prefix string) (string, error)
	MaterializeStream(ctx context.Context, streamURL, token, prefix string) (string, error)
}

// Deps bundles everything the concrete drivers may need.
type Deps struct {
	Replicate   *replicate.Client
	Photoroom   *photoroom.Client
	Store       ResultStore
	Cache       domain.ResultCache
	CacheTTL    time.Duration
	RetryDelays []time.Duration
	Sleep       replicate.Sleeper
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// New selects a driver by configured name. Unknown names fall back to the
// polling driver.
func New(name string, deps Deps) Driver {
	logger := orDiscard(deps.Logger)
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case DriverPhotoroom:
		logger.Info().Str("driver", DriverPhotoroom).Msg("bgremoval: driver selected")
		return NewPhotoroomDriver(deps.Photoroom, deps.Store, deps.HTTPClient, logger)
	case DriverReplicate, "":
	default:
		logger.Warn().Str("configured", name).Str("driver", DriverReplicate).Msg("bgremoval: unknown driver, falling back")
	}
	logger.Info().Str("driver", DriverReplicate).Msg("bgremoval: driver selected")
	return NewReplicateDriver(deps.Replicate, deps.Store, deps.Cache, deps.CacheTTL,
		replicate.NewOutputResolver(deps.Replicate, nil, deps.RetryDelays, deps.Sleep), logger)
}

func orDiscard(logger *infra.Logger) *infra.Logger {
	if logger != nil {
		return logger
	}
	discard := zerolog.New(io.Discard)
	return &discard
}
