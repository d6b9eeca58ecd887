package replicate

import (
	"context"
	"time"

	"aistudio/internal/extract"
)

// DefaultRetryDelays is the backoff used while a succeeded prediction has not
// yet exposed its output. Providers populate the field with a short lag.
var DefaultRetryDelays = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PredictionGetter fetches a prediction snapshot.
type PredictionGetter interface {
	Get(ctx context.Context, id string) (*Prediction, error)
}

// OutputResolver finds the result URL of a succeeded prediction, re-polling a
// bounded number of times when the output is not populated yet. Retries run
// sequentially; each supersedes the previous snapshot.
type OutputResolver struct {
	getter    PredictionGetter
	extractor *extract.Extractor
	delays    []time.Duration
	sleep     Sleeper
}

// NewOutputResolver builds a resolver. A nil delays slice selects
// DefaultRetryDelays; an empty non-nil slice disables retries. A nil sleep
// selects ContextSleep.
func NewOutputResolver(getter PredictionGetter, extractor *extract.Extractor, delays []time.Duration, sleep Sleeper) *OutputResolver {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	if sleep == nil {
		sleep = ContextSleep
	}
	if extractor == nil {
		extractor = extract.New(extract.Options{})
	}
	return &OutputResolver{getter: getter, extractor: extractor, delays: delays, sleep: sleep}
}

// Resolve returns the result URL (empty when none appeared) together with the
// latest snapshot, whose StreamURL callers may fall back to.
func (r *OutputResolver) Resolve(ctx context.Context, p *Prediction) (string, *Prediction, error) {
	url := r.urlOf(p)
	for i := 0; url == "" && i < len(r.delays); i++ {
		if err := r.sleep(ctx, r.delays[i]); err != nil {
			return "", p, err
		}
		next, err := r.getter.Get(ctx, p.ID)
		if err != nil {
			return "", p, err
		}
		p = next
		url = r.urlOf(p)
	}
	return url, p, nil
}

// URL extracts a result URL from a single snapshot without re-polling.
func (r *OutputResolver) URL(p *Prediction) string {
	return r.urlOf(p)
}

func (r *OutputResolver) urlOf(p *Prediction) string {
	if p == nil {
		return ""
	}
	if u, ok := r.extractor.Extract(p.Output); ok {
		return u
	}
	if u, ok := r.extractor.Search(p.Response); ok {
		return u
	}
	return ""
}
