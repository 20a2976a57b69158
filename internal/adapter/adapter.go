// Package adapter implements one source adapter per protocol kind: paginated
// geospatial feature services, tabular open-data query APIs, and one-shot
// flat-file downloads.
package adapter

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/jtheoc80/permit-leads/internal/fetcher"
	"github.com/jtheoc80/permit-leads/internal/model"
)

// Adapter streams raw records for one source. FetchSince is restartable:
// calling it again with the same since value yields the same window, which
// is what makes failed runs self-healing.
type Adapter interface {
	// Source returns the source name the adapter serves.
	Source() string

	// FetchSince returns a lazy, finite stream of raw records newer than
	// since. limit caps the page size; 0 uses the configured default.
	// The error channel carries at most one error and both channels are
	// closed when the stream ends.
	FetchSince(ctx context.Context, since time.Time, limit int) (<-chan model.RawRecord, <-chan error)
}

// Deps bundles the shared collaborators adapters are built from.
type Deps struct {
	HTTP    *fetcher.HTTPFetcher
	FTP     *fetcher.FTPFetcher
	Clock   clockwork.Clock
	Token   string // app token for tabular-query sources
	TempDir string // working dir for flat-file downloads
	Timeout time.Duration
}

// New builds the adapter for a source descriptor and registers its rate
// limit and retry budget with the HTTP fetcher.
func New(cfg model.SourceConfig, deps Deps) (Adapter, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Timeout == 0 {
		deps.Timeout = 30 * time.Second
	}
	if deps.HTTP != nil {
		if cfg.MinInterval > 0 {
			deps.HTTP.SetSourceInterval(cfg.Name, cfg.MinInterval.Std())
		}
		deps.HTTP.SetSourceRetries(cfg.Name, cfg.MaxRetries)
	}

	switch cfg.Kind {
	case model.KindFeatureService:
		return &FeatureServiceAdapter{cfg: cfg, deps: deps}, nil
	case model.KindTabularQuery:
		return &TabularQueryAdapter{cfg: cfg, deps: deps}, nil
	case model.KindFlatFile:
		return &FlatFileAdapter{cfg: cfg, deps: deps}, nil
	default:
		return nil, eris.Errorf("adapter: unknown source kind %q for %s", cfg.Kind, cfg.Name)
	}
}
