package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jtheoc80/permit-leads/internal/db"
	"github.com/jtheoc80/permit-leads/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool exposes the underlying pool for bulk operations.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const upsertPermitSQL = `
INSERT INTO permits (
	source, source_record_id, canonical_permit_id, issued_at, applied_at,
	address, jurisdiction, status, description, work_type, trade_tags,
	valuation, latitude, longitude, applicant_name, owner_name,
	contractor_name, year_built, raw_payload, record_hash
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (source, source_record_id) DO UPDATE SET
	canonical_permit_id = EXCLUDED.canonical_permit_id,
	issued_at = EXCLUDED.issued_at,
	applied_at = EXCLUDED.applied_at,
	address = EXCLUDED.address,
	jurisdiction = EXCLUDED.jurisdiction,
	status = EXCLUDED.status,
	description = EXCLUDED.description,
	work_type = EXCLUDED.work_type,
	trade_tags = EXCLUDED.trade_tags,
	valuation = EXCLUDED.valuation,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	applicant_name = EXCLUDED.applicant_name,
	owner_name = EXCLUDED.owner_name,
	contractor_name = EXCLUDED.contractor_name,
	year_built = EXCLUDED.year_built,
	raw_payload = EXCLUDED.raw_payload,
	record_hash = EXCLUDED.record_hash,
	updated_at = now()
WHERE permits.record_hash IS DISTINCT FROM EXCLUDED.record_hash
RETURNING id, (xmax = 0) AS inserted`

// UpsertPermit inserts or updates a permit keyed on (source, source_record_id).
// When the stored record_hash matches the incoming one, the full update is
// skipped and only updated_at is touched, so repeated ingestion of an
// unchanged row converges without churn.
func (s *PostgresStore) UpsertPermit(ctx context.Context, p *model.Permit) (*UpsertResult, error) {
	tagsJSON, err := json.Marshal(p.TradeTags)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal trade tags")
	}
	payloadJSON, err := json.Marshal(p.RawPayload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal raw payload")
	}

	var id int64
	var inserted bool
	err = s.pool.QueryRow(ctx, upsertPermitSQL,
		p.Source, p.SourceRecordID, p.CanonicalPermitID, p.IssuedAt, p.AppliedAt,
		p.Address, p.Jurisdiction, p.Status, p.Description, p.WorkType, tagsJSON,
		p.Valuation, p.Latitude, p.Longitude, p.ApplicantName, p.OwnerName,
		p.ContractorName, p.YearBuilt, payloadJSON, p.RecordHash,
	).Scan(&id, &inserted)

	if err == nil {
		action := model.ActionUpdated
		if inserted {
			action = model.ActionInserted
		}
		return &UpsertResult{ID: id, Action: action}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: upsert permit %s/%s", p.Source, p.SourceRecordID)
	}

	// Conflict with identical hash: the conditional update matched no row.
	// Touch updated_at so the sync is still visible in the row.
	err = s.pool.QueryRow(ctx,
		`UPDATE permits SET updated_at = now()
		 WHERE source = $1 AND source_record_id = $2
		 RETURNING id`,
		p.Source, p.SourceRecordID,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: touch permit %s/%s", p.Source, p.SourceRecordID)
	}

	return &UpsertResult{ID: id, Action: model.ActionUpdated, Unchanged: true}, nil
}

const selectPermitSQL = `
SELECT id, source, source_record_id, canonical_permit_id, issued_at, applied_at,
	address, jurisdiction, status, description, work_type, trade_tags,
	valuation, latitude, longitude, applicant_name, owner_name,
	contractor_name, year_built, raw_payload, record_hash, created_at, updated_at
FROM permits WHERE source = $1 AND source_record_id = $2`

// GetPermit returns a permit by natural key, or nil when absent.
func (s *PostgresStore) GetPermit(ctx context.Context, source, sourceRecordID string) (*model.Permit, error) {
	var p model.Permit
	var tagsJSON, payloadJSON []byte
	err := s.pool.QueryRow(ctx, selectPermitSQL, source, sourceRecordID).Scan(
		&p.ID, &p.Source, &p.SourceRecordID, &p.CanonicalPermitID, &p.IssuedAt, &p.AppliedAt,
		&p.Address, &p.Jurisdiction, &p.Status, &p.Description, &p.WorkType, &tagsJSON,
		&p.Valuation, &p.Latitude, &p.Longitude, &p.ApplicantName, &p.OwnerName,
		&p.ContractorName, &p.YearBuilt, &payloadJSON, &p.RecordHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get permit %s/%s", source, sourceRecordID)
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &p.TradeTags)
	}
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &p.RawPayload)
	}
	return &p, nil
}

const selectLeadSQL = `
SELECT id, external_permit_id, name, lead_type, service, trade, value, status,
	jurisdiction, source, address, metadata, lead_score, score_label,
	issued_at, created_at, updated_at
FROM leads`

// GetLeadByPermitID returns the lead for a canonical permit id, or nil.
func (s *PostgresStore) GetLeadByPermitID(ctx context.Context, externalPermitID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, selectLeadSQL+` WHERE external_permit_id = $1`, externalPermitID)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead for permit %s", externalPermitID)
	}
	return lead, nil
}

// CreateLead inserts a lead unless one already exists for the same
// external_permit_id. Returns false when the duplicate guard fired.
func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	metaJSON, err := json.Marshal(lead.Metadata)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal lead metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (
			id, external_permit_id, name, lead_type, service, trade, value,
			status, jurisdiction, source, address, metadata, lead_score,
			score_label, issued_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (external_permit_id) DO NOTHING`,
		lead.ID, lead.ExternalPermitID, lead.Name, lead.LeadType, lead.Service,
		lead.Trade, lead.Value, lead.Status, lead.Jurisdiction, lead.Source,
		lead.Address, metaJSON, lead.LeadScore, lead.ScoreLabel, lead.IssuedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: create lead for permit %s", lead.ExternalPermitID)
	}
	return tag.RowsAffected() == 1, nil
}

// SetLeadScore updates the denormalized score columns on the lead row.
func (s *PostgresStore) SetLeadScore(ctx context.Context, leadID string, score int, label string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET lead_score = $1, score_label = $2, updated_at = now() WHERE id = $3`,
		score, label, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set score for lead %s", leadID)
	}
	return nil
}

// ListLeads returns leads matching the filter, sorted for the read surface.
func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := selectLeadSQL + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Jurisdiction != "" {
		query += ` AND jurisdiction = ` + arg(filter.Jurisdiction)
	}
	if filter.Source != "" {
		query += ` AND source = ` + arg(filter.Source)
	}
	if filter.MinScore > 0 {
		query += ` AND lead_score >= ` + arg(filter.MinScore)
	}

	switch filter.SortBy {
	case "value":
		query += ` ORDER BY value DESC NULLS LAST`
	case "recency":
		query += ` ORDER BY issued_at DESC NULLS LAST`
	default:
		query += ` ORDER BY lead_score DESC`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

// InsertLeadScore appends one versioned scoring pass.
func (s *PostgresStore) InsertLeadScore(ctx context.Context, sc *model.LeadScore) error {
	reasonsJSON, err := json.Marshal(sc.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score reasons")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_scores (lead_id, version, score, label, reasons, config_hash)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		sc.LeadID, sc.Version, sc.Score, sc.Label, reasonsJSON, sc.ConfigHash,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert score v%d for lead %s", sc.Version, sc.LeadID)
	}
	return nil
}

// NextScoreVersion returns one past the highest stored version for a lead.
func (s *PostgresStore) NextScoreVersion(ctx context.Context, leadID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM lead_scores WHERE lead_id = $1`,
		leadID,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: next score version for lead %s", leadID)
	}
	return next, nil
}

// LastRun returns the watermark for a source, nil if it has never committed.
func (s *PostgresStore) LastRun(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_run FROM etl_state WHERE source = $1`, source,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last run for %s", source)
	}
	return &t, nil
}

// CommitRun advances the watermark for a source. Called only after a batch
// completes without fatal error.
func (s *PostgresStore) CommitRun(ctx context.Context, source string, runTime time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO etl_state (source, last_run) VALUES ($1, $2)
		 ON CONFLICT (source) DO UPDATE SET last_run = EXCLUDED.last_run, updated_at = now()`,
		source, runTime,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: commit run for %s", source)
	}
	return nil
}

// StartRun records the beginning of an ingest run and returns its ID.
func (s *PostgresStore) StartRun(ctx context.Context, source string, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES ($1, 'running', $2) RETURNING id`,
		source, startedAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

// CompleteRun marks an ingest run as successfully completed.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID int64, summary *RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = 'complete', completed_at = now(), summary = $1 WHERE id = $2`,
		summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %d", runID)
	}
	return nil
}

// FailRun marks an ingest run as failed, keeping whatever counters the run
// accumulated before the fatal error.
func (s *PostgresStore) FailRun(ctx context.Context, runID int64, summary *RunSummary, errMsg string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = 'failed', completed_at = now(), summary = $1, error = $2 WHERE id = $3`,
		summaryJSON, runID, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %d", runID)
	}
	return nil
}

// ListRuns returns recent ingest runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, summary, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var r IngestRun
		var summaryJSON []byte
		var errStr *string
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(summaryJSON) > 0 {
			var sum RunSummary
			if json.Unmarshal(summaryJSON, &sum) == nil {
				r.Summary = &sum
			}
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Quarantine stores a rejected record for audit.
func (s *PostgresStore) Quarantine(ctx context.Context, rec model.RawRecord, reason string) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quarantined record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quarantine (source, reason, record) VALUES ($1, $2, $3)`,
		rec.Source, reason, fieldsJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: quarantine record from %s", rec.Source)
	}
	return nil
}

// QuarantineCount returns the number of records quarantined since a time.
func (s *PostgresStore) QuarantineCount(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quarantine WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: quarantine count")
	}
	return n, nil
}

// LockSource takes the per-source advisory lock that serializes concurrent
// runs for the same source.
func (s *PostgresStore) LockSource(ctx context.Context, source string) (bool, error) {
	var got bool
	err := s.pool.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtext($1))`, source,
	).Scan(&got)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: lock source %s", source)
	}
	return got, nil
}

// UnlockSource releases the per-source advisory lock.
func (s *PostgresStore) UnlockSource(ctx context.Context, source string) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, source); err != nil {
		return eris.Wrapf(err, "postgres: unlock source %s", source)
	}
	return nil
}

// scanLead reads one lead row; the caller maps pgx.ErrNoRows.
func scanLead(row pgx.Row) (*model.Lead, error) {
	var lead model.Lead
	var metaJSON []byte
	err := row.Scan(
		&lead.ID, &lead.ExternalPermitID, &lead.Name, &lead.LeadType, &lead.Service,
		&lead.Trade, &lead.Value, &lead.Status, &lead.Jurisdiction, &lead.Source,
		&lead.Address, &metaJSON, &lead.LeadScore, &lead.ScoreLabel,
		&lead.IssuedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &lead.Metadata)
	}
	return &lead, nil
}

var permitColumns = []string{
	"source", "source_record_id", "canonical_permit_id", "issued_at", "applied_at",
	"address", "jurisdiction", "status", "description", "work_type", "trade_tags",
	"valuation", "latitude", "longitude", "applicant_name", "owner_name",
	"contractor_name", "year_built", "raw_payload", "record_hash",
}

// BulkUpsertPermits loads a batch of permits in one round trip via a temp
// table and COPY. Used by the backfill path where whole flat-file documents
// arrive at once; rows conflicting on (source, source_record_id) are
// overwritten without per-row hash comparison.
func (s *PostgresStore) BulkUpsertPermits(ctx context.Context, permits []*model.Permit) (int64, error) {
	rows := make([][]any, 0, len(permits))
	for _, p := range permits {
		tagsJSON, err := json.Marshal(p.TradeTags)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal trade tags")
		}
		payloadJSON, err := json.Marshal(p.RawPayload)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal raw payload")
		}
		rows = append(rows, []any{
			p.Source, p.SourceRecordID, p.CanonicalPermitID, p.IssuedAt, p.AppliedAt,
			p.Address, p.Jurisdiction, p.Status, p.Description, p.WorkType, tagsJSON,
			p.Valuation, p.Latitude, p.Longitude, p.ApplicantName, p.OwnerName,
			p.ContractorName, p.YearBuilt, payloadJSON, p.RecordHash,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "permits",
		Columns:      permitColumns,
		ConflictKeys: []string{"source", "source_record_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk upsert permits")
	}
	return n, nil
}
