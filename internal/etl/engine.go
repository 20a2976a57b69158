// Package etl runs the incremental sync loop: window, fetch, normalize,
// upsert, lead trigger, watermark commit.
package etl

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jtheoc80/permit-leads/internal/adapter"
	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/normalize"
	"github.com/jtheoc80/permit-leads/internal/resilience"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// LeadProcessor turns upserted permits into leads and scores.
type LeadProcessor interface {
	// MaybeCreateLead creates a lead for the permit unless one already
	// exists for its canonical id. Returns the lead and whether it was
	// created by this call.
	MaybeCreateLead(ctx context.Context, p *model.Permit) (*model.Lead, bool, error)

	// ScoreLead computes and persists a new versioned score for the lead.
	ScoreLead(ctx context.Context, lead *model.Lead, p *model.Permit) error
}

// Alerter receives fatal per-source failures that need operator attention.
type Alerter interface {
	SourceFailure(ctx context.Context, source string, fatal bool, err error)
}

// AdapterFactory builds the adapter for one source descriptor.
type AdapterFactory func(cfg model.SourceConfig) (adapter.Adapter, error)

// Engine drives ingestion for a set of sources.
type Engine struct {
	store    store.Store
	leads    LeadProcessor
	alerter  Alerter
	adapters AdapterFactory
	clock    clockwork.Clock

	// MaxConcurrent caps how many sources sync in parallel.
	MaxConcurrent int
}

// New builds an Engine. alerter may be nil.
func New(st store.Store, leads LeadProcessor, alerter Alerter, adapters AdapterFactory, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:         st,
		leads:         leads,
		alerter:       alerter,
		adapters:      adapters,
		clock:         clock,
		MaxConcurrent: 4,
	}
}

// RunOptions tunes one engine invocation.
type RunOptions struct {
	// Limit caps the page size passed to adapters; 0 uses source defaults.
	Limit int
	// DryRun fetches and normalizes but skips all writes.
	DryRun bool
}

// Result is the outcome of one source's sync.
type Result struct {
	Source  string           `json:"source"`
	Summary store.RunSummary `json:"summary"`
	Skipped bool             `json:"skipped,omitempty"`
	Err     error            `json:"-"`
}

// Run syncs every source, in parallel up to MaxConcurrent. A source failing
// never stops the others; the first error is returned after all sources
// finish so exit codes stay honest.
func (e *Engine) Run(ctx context.Context, sources []model.SourceConfig, opts RunOptions) ([]Result, error) {
	results := make([]Result, len(sources))

	// A plain group, not WithContext: one source failing must not cancel
	// its siblings mid-stream or block their watermark commits. The
	// caller's ctx is the only cancellation source.
	var g errgroup.Group
	g.SetLimit(e.MaxConcurrent)

	for i, src := range sources {
		g.Go(func() error {
			res := e.runSource(ctx, src, opts)
			results[i] = res
			return res.Err
		})
	}

	err := g.Wait()
	return results, err
}

// runSource executes the full sync pipeline for one source. Fatal errors
// bypass the watermark commit so the next run retries the same window.
func (e *Engine) runSource(ctx context.Context, cfg model.SourceConfig, opts RunOptions) Result {
	log := zap.L().With(zap.String("source", cfg.Name))
	res := Result{Source: cfg.Name}

	locked, err := e.store.LockSource(ctx, cfg.Name)
	if err != nil {
		res.Err = eris.Wrapf(err, "etl: lock %s", cfg.Name)
		return res
	}
	if !locked {
		log.Warn("source locked by another run, skipping")
		res.Skipped = true
		return res
	}
	defer func() {
		if err := e.store.UnlockSource(context.WithoutCancel(ctx), cfg.Name); err != nil {
			log.Warn("failed to release source lock", zap.Error(err))
		}
	}()

	runStart := e.clock.Now().UTC()

	since, err := FetchWindow(ctx, e.store, cfg, runStart)
	if err != nil {
		res.Err = err
		return res
	}

	var runID int64
	if !opts.DryRun {
		runID, err = e.store.StartRun(ctx, cfg.Name, runStart)
		if err != nil {
			res.Err = err
			return res
		}
	}

	log.Info("starting sync", zap.Time("since", since))

	summary, err := e.syncSource(ctx, cfg, since, opts)
	res.Summary = *summary

	if err != nil {
		fatal := resilience.IsAuth(err)
		log.Error("sync failed", zap.Error(err), zap.Bool("auth", fatal))
		if e.alerter != nil {
			e.alerter.SourceFailure(ctx, cfg.Name, fatal, err)
		}
		if !opts.DryRun {
			if ferr := e.store.FailRun(context.WithoutCancel(ctx), runID, summary, err.Error()); ferr != nil {
				log.Warn("failed to record failed run", zap.Error(ferr))
			}
		}
		res.Err = err
		return res
	}

	if !opts.DryRun {
		// The watermark is the run start, not the newest record seen, so
		// records that arrived while the run was in flight are caught by
		// the next window.
		if err := e.store.CommitRun(ctx, cfg.Name, runStart); err != nil {
			res.Err = err
			return res
		}
		if err := e.store.CompleteRun(ctx, runID, summary); err != nil {
			res.Err = err
			return res
		}
	}

	log.Info("sync complete",
		zap.Int64("fetched", summary.Fetched),
		zap.Int64("quarantined", summary.Quarantined),
		zap.Int64("inserted", summary.Inserted),
		zap.Int64("updated", summary.Updated),
		zap.Int64("leads_created", summary.LeadsCreated),
	)
	return res
}

func (e *Engine) syncSource(ctx context.Context, cfg model.SourceConfig, since time.Time, opts RunOptions) (*store.RunSummary, error) {
	summary := &store.RunSummary{}
	log := zap.L().With(zap.String("source", cfg.Name))

	a, err := e.adapters(cfg)
	if err != nil {
		return summary, err
	}

	recCh, errCh := a.FetchSince(ctx, since, opts.Limit)

	for rec := range recCh {
		summary.Fetched++

		permit, err := normalize.Normalize(rec, cfg)
		if err != nil {
			if !normalize.IsQuarantine(err) {
				return summary, eris.Wrapf(err, "etl: normalize record from %s", cfg.Name)
			}
			summary.Quarantined++
			log.Debug("record quarantined", zap.String("reason", err.Error()))
			if !opts.DryRun {
				if qerr := e.store.Quarantine(ctx, rec, err.Error()); qerr != nil {
					return summary, qerr
				}
			}
			continue
		}

		// Flat files have no server-side filter and re-deliver the whole
		// document; rows older than the window are dropped, not quarantined.
		if cfg.Kind == model.KindFlatFile {
			if d := permit.EffectiveDate(); d != nil && d.Before(since) {
				continue
			}
		}

		if opts.DryRun {
			continue
		}

		result, err := e.store.UpsertPermit(ctx, permit)
		if err != nil {
			return summary, err
		}
		permit.ID = result.ID
		summary.Upserted++
		switch result.Action {
		case model.ActionInserted:
			summary.Inserted++
		case model.ActionUpdated:
			if !result.Unchanged {
				summary.Updated++
			}
		}

		if e.leads == nil {
			continue
		}
		lead, created, err := e.leads.MaybeCreateLead(ctx, permit)
		if err != nil {
			return summary, err
		}
		if created {
			summary.LeadsCreated++
		}
		// Rescore on creation and on material permit change; a same-hash
		// re-delivery changes nothing worth rescoring.
		if lead != nil && (created || !result.Unchanged) {
			if err := e.leads.ScoreLead(ctx, lead, permit); err != nil {
				return summary, err
			}
			summary.LeadsScored++
		}
	}

	if err := <-errCh; err != nil {
		return summary, err
	}
	return summary, nil
}
