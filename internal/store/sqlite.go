package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// runs and development; source locks are in-process only.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]bool
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, locks: make(map[string]bool)}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS permits (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	source              TEXT NOT NULL,
	source_record_id    TEXT NOT NULL,
	canonical_permit_id TEXT NOT NULL,
	issued_at           DATETIME,
	applied_at          DATETIME,
	address             TEXT NOT NULL DEFAULT '',
	jurisdiction        TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	work_type           TEXT NOT NULL DEFAULT 'general',
	trade_tags          TEXT NOT NULL DEFAULT '[]',
	valuation           REAL,
	latitude            REAL,
	longitude           REAL,
	applicant_name      TEXT NOT NULL DEFAULT '',
	owner_name          TEXT NOT NULL DEFAULT '',
	contractor_name     TEXT NOT NULL DEFAULT '',
	year_built          INTEGER NOT NULL DEFAULT 0,
	raw_payload         TEXT NOT NULL DEFAULT '{}',
	record_hash         TEXT NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source, source_record_id)
);

CREATE INDEX IF NOT EXISTS idx_permits_canonical ON permits(canonical_permit_id);
CREATE INDEX IF NOT EXISTS idx_permits_issued ON permits(issued_at);

CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	external_permit_id TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	lead_type          TEXT NOT NULL DEFAULT 'unknown',
	service            TEXT NOT NULL DEFAULT '',
	trade              TEXT NOT NULL DEFAULT '',
	value              REAL,
	status             TEXT NOT NULL DEFAULT 'new',
	jurisdiction       TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}',
	lead_score         INTEGER NOT NULL DEFAULT 0,
	score_label        TEXT NOT NULL DEFAULT '',
	issued_at          DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score);
CREATE INDEX IF NOT EXISTS idx_leads_jurisdiction ON leads(jurisdiction);

CREATE TABLE IF NOT EXISTS lead_scores (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	version     INTEGER NOT NULL,
	score       INTEGER NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	reasons     TEXT NOT NULL DEFAULT '[]',
	config_hash TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (lead_id, version)
);

CREATE TABLE IF NOT EXISTS etl_state (
	source     TEXT PRIMARY KEY,
	last_run   DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	summary      TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS quarantine (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	record     TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPermit checks the stored hash inside a transaction before writing.
// SQLite has a single writer, so the read-then-write is race-free.
func (s *SQLiteStore) UpsertPermit(ctx context.Context, p *model.Permit) (*UpsertResult, error) {
	tagsJSON, err := json.Marshal(p.TradeTags)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal trade tags")
	}
	payloadJSON, err := json.Marshal(p.RawPayload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal raw payload")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	var id int64
	var existingHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, record_hash FROM permits WHERE source = ? AND source_record_id = ?`,
		p.Source, p.SourceRecordID,
	).Scan(&id, &existingHash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO permits (
				source, source_record_id, canonical_permit_id, issued_at, applied_at,
				address, jurisdiction, status, description, work_type, trade_tags,
				valuation, latitude, longitude, applicant_name, owner_name,
				contractor_name, year_built, raw_payload, record_hash, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.Source, p.SourceRecordID, p.CanonicalPermitID, p.IssuedAt, p.AppliedAt,
			p.Address, p.Jurisdiction, p.Status, p.Description, p.WorkType, string(tagsJSON),
			p.Valuation, p.Latitude, p.Longitude, p.ApplicantName, p.OwnerName,
			p.ContractorName, p.YearBuilt, string(payloadJSON), p.RecordHash, now, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert permit %s/%s", p.Source, p.SourceRecordID)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: last insert id")
		}
		if err := tx.Commit(); err != nil {
			return nil, eris.Wrap(err, "sqlite: commit upsert")
		}
		return &UpsertResult{ID: id, Action: model.ActionInserted}, nil

	case err != nil:
		return nil, eris.Wrapf(err, "sqlite: lookup permit %s/%s", p.Source, p.SourceRecordID)
	}

	if existingHash == p.RecordHash {
		if _, err := tx.ExecContext(ctx,
			`UPDATE permits SET updated_at = ? WHERE id = ?`, now, id,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: touch permit %d", id)
		}
		if err := tx.Commit(); err != nil {
			return nil, eris.Wrap(err, "sqlite: commit upsert")
		}
		return &UpsertResult{ID: id, Action: model.ActionUpdated, Unchanged: true}, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE permits SET
			canonical_permit_id = ?, issued_at = ?, applied_at = ?, address = ?,
			jurisdiction = ?, status = ?, description = ?, work_type = ?,
			trade_tags = ?, valuation = ?, latitude = ?, longitude = ?,
			applicant_name = ?, owner_name = ?, contractor_name = ?,
			year_built = ?, raw_payload = ?, record_hash = ?, updated_at = ?
		WHERE id = ?`,
		p.CanonicalPermitID, p.IssuedAt, p.AppliedAt, p.Address,
		p.Jurisdiction, p.Status, p.Description, p.WorkType,
		string(tagsJSON), p.Valuation, p.Latitude, p.Longitude,
		p.ApplicantName, p.OwnerName, p.ContractorName,
		p.YearBuilt, string(payloadJSON), p.RecordHash, now,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update permit %d", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert")
	}
	return &UpsertResult{ID: id, Action: model.ActionUpdated}, nil
}

func (s *SQLiteStore) GetPermit(ctx context.Context, source, sourceRecordID string) (*model.Permit, error) {
	var p model.Permit
	var issuedAt, appliedAt sql.NullTime
	var valuation, latitude, longitude sql.NullFloat64
	var tagsJSON, payloadJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, source_record_id, canonical_permit_id, issued_at, applied_at,
			address, jurisdiction, status, description, work_type, trade_tags,
			valuation, latitude, longitude, applicant_name, owner_name,
			contractor_name, year_built, raw_payload, record_hash, created_at, updated_at
		FROM permits WHERE source = ? AND source_record_id = ?`,
		source, sourceRecordID,
	).Scan(
		&p.ID, &p.Source, &p.SourceRecordID, &p.CanonicalPermitID, &issuedAt, &appliedAt,
		&p.Address, &p.Jurisdiction, &p.Status, &p.Description, &p.WorkType, &tagsJSON,
		&valuation, &latitude, &longitude, &p.ApplicantName, &p.OwnerName,
		&p.ContractorName, &p.YearBuilt, &payloadJSON, &p.RecordHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get permit %s/%s", source, sourceRecordID)
	}

	if issuedAt.Valid {
		t := issuedAt.Time
		p.IssuedAt = &t
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		p.AppliedAt = &t
	}
	if valuation.Valid {
		v := valuation.Float64
		p.Valuation = &v
	}
	if latitude.Valid {
		v := latitude.Float64
		p.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		p.Longitude = &v
	}
	_ = json.Unmarshal([]byte(tagsJSON), &p.TradeTags)
	_ = json.Unmarshal([]byte(payloadJSON), &p.RawPayload)
	return &p, nil
}

const sqliteLeadColumns = `id, external_permit_id, name, lead_type, service, trade, value, status,
	jurisdiction, source, address, metadata, lead_score, score_label,
	issued_at, created_at, updated_at`

func (s *SQLiteStore) GetLeadByPermitID(ctx context.Context, externalPermitID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE external_permit_id = ?`,
		externalPermitID,
	)
	lead, err := scanSQLiteLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead for permit %s", externalPermitID)
	}
	return lead, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	metaJSON, err := json.Marshal(lead.Metadata)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal lead metadata")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (
			id, external_permit_id, name, lead_type, service, trade, value,
			status, jurisdiction, source, address, metadata, lead_score,
			score_label, issued_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (external_permit_id) DO NOTHING`,
		lead.ID, lead.ExternalPermitID, lead.Name, lead.LeadType, lead.Service,
		lead.Trade, lead.Value, lead.Status, lead.Jurisdiction, lead.Source,
		lead.Address, string(metaJSON), lead.LeadScore, lead.ScoreLabel,
		lead.IssuedAt, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: create lead for permit %s", lead.ExternalPermitID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetLeadScore(ctx context.Context, leadID string, score int, label string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET lead_score = ?, score_label = ?, updated_at = ? WHERE id = ?`,
		score, label, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set score for lead %s", leadID)
	}
	return nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.Jurisdiction != "" {
		query += ` AND jurisdiction = ?`
		args = append(args, filter.Jurisdiction)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.MinScore > 0 {
		query += ` AND lead_score >= ?`
		args = append(args, filter.MinScore)
	}

	switch filter.SortBy {
	case "value":
		query += ` ORDER BY value DESC`
	case "recency":
		query += ` ORDER BY issued_at DESC`
	default:
		query += ` ORDER BY lead_score DESC`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + strconv.Itoa(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

func (s *SQLiteStore) InsertLeadScore(ctx context.Context, sc *model.LeadScore) error {
	reasonsJSON, err := json.Marshal(sc.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score reasons")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_scores (lead_id, version, score, label, reasons, config_hash, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		sc.LeadID, sc.Version, sc.Score, sc.Label, string(reasonsJSON), sc.ConfigHash, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert score v%d for lead %s", sc.Version, sc.LeadID)
	}
	return nil
}

func (s *SQLiteStore) NextScoreVersion(ctx context.Context, leadID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM lead_scores WHERE lead_id = ?`, leadID,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: next score version for lead %s", leadID)
	}
	return next, nil
}

func (s *SQLiteStore) LastRun(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM etl_state WHERE source = ?`, source,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last run for %s", source)
	}
	return &t, nil
}

func (s *SQLiteStore) CommitRun(ctx context.Context, source string, runTime time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO etl_state (source, last_run, created_at, updated_at) VALUES (?,?,?,?)
		 ON CONFLICT (source) DO UPDATE SET last_run = excluded.last_run, updated_at = excluded.updated_at`,
		source, runTime, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: commit run for %s", source)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, source string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (source, status, started_at) VALUES (?, 'running', ?)`,
		source, startedAt,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID int64, summary *RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = 'complete', completed_at = ?, summary = ? WHERE id = ?`,
		time.Now().UTC(), string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %d", runID)
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, summary *RunSummary, errMsg string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = 'failed', completed_at = ?, summary = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), string(summaryJSON), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %d", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, summary, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var r IngestRun
		var completedAt sql.NullTime
		var summaryJSON, errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &completedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if summaryJSON.Valid && summaryJSON.String != "" {
			var sum RunSummary
			if json.Unmarshal([]byte(summaryJSON.String), &sum) == nil {
				r.Summary = &sum
			}
		}
		if errStr.Valid {
			r.Error = errStr.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Quarantine(ctx context.Context, rec model.RawRecord, reason string) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quarantined record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quarantine (source, reason, record, created_at) VALUES (?,?,?,?)`,
		rec.Source, reason, string(fieldsJSON), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: quarantine record from %s", rec.Source)
	}
	return nil
}

func (s *SQLiteStore) QuarantineCount(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM quarantine WHERE created_at >= ?`, since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: quarantine count")
	}
	return n, nil
}

// LockSource is in-process only. A single binary is the expected deployment
// shape for the SQLite backend.
func (s *SQLiteStore) LockSource(_ context.Context, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[source] {
		return false, nil
	}
	s.locks[source] = true
	return true, nil
}

func (s *SQLiteStore) UnlockSource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, source)
	return nil
}

// rowScanner lets scanSQLiteLead work over both QueryRow and Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLead(row rowScanner) (*model.Lead, error) {
	var lead model.Lead
	var value sql.NullFloat64
	var issuedAt sql.NullTime
	var metaJSON string
	err := row.Scan(
		&lead.ID, &lead.ExternalPermitID, &lead.Name, &lead.LeadType, &lead.Service,
		&lead.Trade, &value, &lead.Status, &lead.Jurisdiction, &lead.Source,
		&lead.Address, &metaJSON, &lead.LeadScore, &lead.ScoreLabel,
		&issuedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if value.Valid {
		v := value.Float64
		lead.Value = &v
	}
	if issuedAt.Valid {
		t := issuedAt.Time
		lead.IssuedAt = &t
	}
	_ = json.Unmarshal([]byte(metaJSON), &lead.Metadata)
	return &lead, nil
}
