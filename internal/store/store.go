// Package store persists permits, leads, scores, and per-source ETL state.
package store

import (
	"context"
	"time"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// UpsertResult reports what an idempotent permit upsert did.
type UpsertResult struct {
	ID     int64              `json:"id"`
	Action model.UpsertAction `json:"action"`
	// Unchanged is true when the incoming record hash matched the stored
	// row, so only timestamps were touched.
	Unchanged bool `json:"unchanged"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Source       string `json:"source,omitempty"`
	MinScore     int    `json:"min_score,omitempty"`
	// SortBy is one of "score", "value", "recency". Default "score".
	SortBy string `json:"sort_by,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunSummary aggregates per-run counters for observability, recorded
// whether or not the run commits.
type RunSummary struct {
	Fetched      int64 `json:"fetched"`
	Quarantined  int64 `json:"quarantined"`
	Upserted     int64 `json:"upserted"`
	Inserted     int64 `json:"inserted"`
	Updated      int64 `json:"updated"`
	LeadsCreated int64 `json:"leads_created"`
	LeadsScored  int64 `json:"leads_scored"`
}

// IngestRun is one row in the ingest run log.
type IngestRun struct {
	ID          int64       `json:"id"`
	Source      string      `json:"source"`
	Status      string      `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline. It is
// the only shared mutable resource; every engine component goes through it.
type Store interface {
	// Permits
	UpsertPermit(ctx context.Context, p *model.Permit) (*UpsertResult, error)
	GetPermit(ctx context.Context, source, sourceRecordID string) (*model.Permit, error)

	// Leads
	GetLeadByPermitID(ctx context.Context, externalPermitID string) (*model.Lead, error)
	CreateLead(ctx context.Context, lead *model.Lead) (bool, error)
	SetLeadScore(ctx context.Context, leadID string, score int, label string) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Lead scores (append-only, versioned)
	InsertLeadScore(ctx context.Context, s *model.LeadScore) error
	NextScoreVersion(ctx context.Context, leadID string) (int, error)

	// ETL state
	LastRun(ctx context.Context, source string) (*time.Time, error)
	CommitRun(ctx context.Context, source string, runTime time.Time) error

	// Run log
	StartRun(ctx context.Context, source string, startedAt time.Time) (int64, error)
	CompleteRun(ctx context.Context, runID int64, summary *RunSummary) error
	FailRun(ctx context.Context, runID int64, summary *RunSummary, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]IngestRun, error)

	// Quarantine audit trail
	Quarantine(ctx context.Context, rec model.RawRecord, reason string) error
	QuarantineCount(ctx context.Context, since time.Time) (int64, error)

	// Per-source run serialization. LockSource returns false when another
	// writer holds the lock; UnlockSource releases it.
	LockSource(ctx context.Context, source string) (bool, error)
	UnlockSource(ctx context.Context, source string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
