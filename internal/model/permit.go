// Package model defines the canonical entities shared across the ingestion pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UpsertAction describes what a permit upsert did.
type UpsertAction string

const (
	ActionInserted UpsertAction = "inserted"
	ActionUpdated  UpsertAction = "updated"
)

// RawRecord is a single untyped record as returned by a source, tagged with
// provenance. It exists only for the duration of one fetch-normalize cycle.
type RawRecord struct {
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Fields    map[string]any `json:"fields"`
}

// Str returns the trimmed string form of a raw field value. Numeric values
// are rendered without a trailing ".000000" so identifier fields survive
// JSON number decoding.
func (r RawRecord) Str(key string) string {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// Permit is the canonical permit entity produced by the normalizer and
// persisted by the upsert engine. (source, source_record_id) is globally
// unique; canonical_permit_id is unique within a source only.
type Permit struct {
	ID                int64          `json:"id"`
	Source            string         `json:"source"`
	SourceRecordID    string         `json:"source_record_id"`
	CanonicalPermitID string         `json:"canonical_permit_id"`
	IssuedAt          *time.Time     `json:"issued_at,omitempty"`
	AppliedAt         *time.Time     `json:"applied_at,omitempty"`
	Address           string         `json:"address,omitempty"`
	Jurisdiction      string         `json:"jurisdiction,omitempty"`
	Status            string         `json:"status,omitempty"`
	Description       string         `json:"description,omitempty"`
	WorkType          string         `json:"work_type,omitempty"`
	TradeTags         []string       `json:"trade_tags,omitempty"`
	Valuation         *float64       `json:"valuation,omitempty"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	ApplicantName     string         `json:"applicant_name,omitempty"`
	OwnerName         string         `json:"owner_name,omitempty"`
	ContractorName    string         `json:"contractor_name,omitempty"`
	YearBuilt         int            `json:"year_built,omitempty"`
	RawPayload        map[string]any `json:"raw_payload,omitempty"`
	RecordHash        string         `json:"record_hash"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// EffectiveDate returns issued_at when present, else applied_at.
func (p *Permit) EffectiveDate() *time.Time {
	if p.IssuedAt != nil {
		return p.IssuedAt
	}
	return p.AppliedAt
}
