package normalize

import (
	"strconv"
	"strings"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// Canonical field keys used in per-source alias tables.
const (
	FieldPermitID     = "permit_id"
	FieldPermitNumber = "permit_number"
	FieldRecordID     = "record_id"
	FieldIssuedAt     = "issued_at"
	FieldAppliedAt    = "applied_at"
	FieldAddress      = "address"
	FieldStatus       = "status"
	FieldDescription  = "description"
	FieldCategory     = "category"
	FieldValuation    = "valuation"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldApplicant    = "applicant_name"
	FieldOwner        = "owner_name"
	FieldContractor   = "contractor_name"
	FieldYearBuilt    = "year_built"
)

// Resolve walks a canonical field's alias list in priority order and returns
// the first non-empty raw value, plus the alias that supplied it.
func Resolve(raw model.RawRecord, cfg model.SourceConfig, field string) (string, string) {
	for _, alias := range cfg.Aliases[field] {
		if v := raw.Str(alias); v != "" {
			return v, alias
		}
	}
	return "", ""
}

// resolveAny returns the first non-empty raw value for the field, preserving
// the original typed value for timestamp parsing.
func resolveAny(raw model.RawRecord, cfg model.SourceConfig, field string) any {
	for _, alias := range cfg.Aliases[field] {
		if v, ok := raw.Fields[alias]; ok && v != nil {
			if raw.Str(alias) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

// Normalize converts one raw record into a canonical permit. Records missing
// a source-local identifier or both permit dates, carrying coordinates
// outside the source's bounding box, or declaring a negative valuation are
// rejected with a QuarantineError; the batch continues past them.
func Normalize(raw model.RawRecord, cfg model.SourceConfig) (*model.Permit, error) {
	recordID, _ := Resolve(raw, cfg, FieldRecordID)
	if recordID == "" {
		// Fall back to the permit number; many sources use it as both.
		recordID, _ = Resolve(raw, cfg, FieldPermitNumber)
	}
	if recordID == "" {
		return nil, &QuarantineError{Source: cfg.Name, Field: FieldRecordID, Reason: "no source record id"}
	}

	issuedAt := ParseTimestamp(resolveAny(raw, cfg, FieldIssuedAt))
	appliedAt := ParseTimestamp(resolveAny(raw, cfg, FieldAppliedAt))
	if issuedAt == nil && appliedAt == nil {
		return nil, &QuarantineError{Source: cfg.Name, Field: FieldIssuedAt, Reason: "no issued or applied date"}
	}

	p := &model.Permit{
		Source:         cfg.Name,
		SourceRecordID: recordID,
		Jurisdiction:   cfg.Jurisdiction,
		IssuedAt:       issuedAt,
		AppliedAt:      appliedAt,
		RawPayload:     raw.Fields,
	}

	p.Address, _ = Resolve(raw, cfg, FieldAddress)
	p.Status, _ = Resolve(raw, cfg, FieldStatus)
	p.Description, _ = Resolve(raw, cfg, FieldDescription)
	p.ApplicantName, _ = Resolve(raw, cfg, FieldApplicant)
	p.OwnerName, _ = Resolve(raw, cfg, FieldOwner)
	p.ContractorName, _ = Resolve(raw, cfg, FieldContractor)

	category, _ := Resolve(raw, cfg, FieldCategory)
	p.WorkType, p.TradeTags = DeriveTrade(p.Description, category)

	if v, _ := Resolve(raw, cfg, FieldValuation); v != "" {
		val, err := parseMoney(v)
		if err == nil {
			if val < 0 {
				return nil, &QuarantineError{Source: cfg.Name, Field: FieldValuation, Reason: "negative valuation"}
			}
			p.Valuation = &val
		}
	}

	if y, _ := Resolve(raw, cfg, FieldYearBuilt); y != "" {
		if yr, err := strconv.Atoi(y); err == nil && yr > 1600 {
			p.YearBuilt = yr
		}
	}

	latStr, _ := Resolve(raw, cfg, FieldLatitude)
	lonStr, _ := Resolve(raw, cfg, FieldLongitude)
	if latStr != "" && lonStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lon, lonErr := strconv.ParseFloat(lonStr, 64)
		if latErr == nil && lonErr == nil {
			if !InBounds(lat, lon, cfg.Bounds) {
				return nil, &QuarantineError{Source: cfg.Name, Field: FieldLatitude, Reason: "coordinates outside jurisdiction bounds"}
			}
			p.Latitude = &lat
			p.Longitude = &lon
		}
	}

	p.CanonicalPermitID = ResolveCanonicalID(raw, cfg, p)
	p.RecordHash = RecordHash(p)

	return p, nil
}

// ResolveCanonicalID picks the single identifier representing the permit
// across the source's redundant id fields. Precedence: explicit permit id,
// then permit/application number, then the source record id. The record id
// is never empty here because Normalize quarantines records without one.
func ResolveCanonicalID(raw model.RawRecord, cfg model.SourceConfig, p *model.Permit) string {
	if id, _ := Resolve(raw, cfg, FieldPermitID); id != "" {
		return id
	}
	if num, _ := Resolve(raw, cfg, FieldPermitNumber); num != "" {
		return num
	}
	return p.SourceRecordID
}

// parseMoney strips currency punctuation before parsing.
func parseMoney(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}
