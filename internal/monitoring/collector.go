// Package monitoring surfaces ingest health: run outcomes, quarantine depth,
// and operator alerting.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jtheoc80/permit-leads/internal/store"
)

// MetricsSnapshot holds a point-in-time view of ingest health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Record counters aggregated across the window's runs.
	RecordsFetched     int64 `json:"records_fetched"`
	RecordsQuarantined int64 `json:"records_quarantined"`
	RecordsUpserted    int64 `json:"records_upserted"`
	LeadsCreated       int64 `json:"leads_created"`

	// QuarantineDepth is the quarantine table count within the window.
	QuarantineDepth int64 `json:"quarantine_depth"`

	// FailedSources lists sources whose most recent run failed.
	FailedSources []string `json:"failed_sources,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run log and quarantine tables.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of ingest metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Newest first; the first run seen per source is its latest.
	latestFailed := make(map[string]bool)
	for _, r := range runs {
		if _, seen := latestFailed[r.Source]; !seen {
			latestFailed[r.Source] = r.Status == "failed"
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case "complete":
			snap.RunsComplete++
		case "failed":
			snap.RunsFailed++
		case "running":
			snap.RunsRunning++
		}
		if r.Summary != nil {
			snap.RecordsFetched += r.Summary.Fetched
			snap.RecordsQuarantined += r.Summary.Quarantined
			snap.RecordsUpserted += r.Summary.Upserted
			snap.LeadsCreated += r.Summary.LeadsCreated
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	for source, failed := range latestFailed {
		if failed {
			snap.FailedSources = append(snap.FailedSources, source)
		}
	}
	sort.Strings(snap.FailedSources)

	depth, err := c.store.QuarantineCount(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: quarantine count")
	}
	snap.QuarantineDepth = depth

	return snap, nil
}
