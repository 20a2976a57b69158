package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
)

func testSource() model.SourceConfig {
	return model.SourceConfig{
		Name:         "austin-issued-permits",
		Kind:         model.KindTabularQuery,
		Jurisdiction: "austin-tx",
		Aliases: map[string][]string{
			FieldRecordID:     {"permit_number"},
			FieldPermitNumber: {"permit_number"},
			FieldPermitID:     {"permit_num"},
			FieldIssuedAt:     {"issue_date", "issued_date"},
			FieldAppliedAt:    {"applieddate"},
			FieldAddress:      {"original_address1"},
			FieldStatus:       {"status_current"},
			FieldDescription:  {"description"},
			FieldCategory:     {"permit_class"},
			FieldValuation:    {"total_job_valuation"},
			FieldLatitude:     {"latitude"},
			FieldLongitude:    {"longitude"},
			FieldOwner:        {"owner_full_name"},
			FieldContractor:   {"contractor_company_name"},
			FieldYearBuilt:    {"year_built"},
		},
		Bounds: &model.BoundingBox{MinLat: 30.0, MinLon: -98.1, MaxLat: 30.6, MaxLon: -97.4},
	}
}

func rawRecord(fields map[string]any) model.RawRecord {
	return model.RawRecord{
		Source:    "austin-issued-permits",
		FetchedAt: time.Now().UTC(),
		Fields:    fields,
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	p, err := Normalize(rawRecord(map[string]any{
		"permit_number":           "2026-001234",
		"permit_num":              "BP-2026-001234",
		"issue_date":              "2026-08-01T12:00:00",
		"original_address1":       "1100 Congress Ave",
		"status_current":          "Issued",
		"description":             "Reroof single family residence",
		"total_job_valuation":     "$45,000.00",
		"latitude":                "30.27",
		"longitude":               "-97.74",
		"owner_full_name":         "JANE DOE",
		"contractor_company_name": "ACME ROOFING",
		"year_built":              "1985",
	}), testSource())
	require.NoError(t, err)

	assert.Equal(t, "2026-001234", p.SourceRecordID)
	assert.Equal(t, "BP-2026-001234", p.CanonicalPermitID)
	assert.Equal(t, "austin-tx", p.Jurisdiction)
	require.NotNil(t, p.IssuedAt)
	assert.Equal(t, 2026, p.IssuedAt.Year())
	assert.Equal(t, "roofing", p.WorkType)
	assert.Contains(t, p.TradeTags, "roofing")
	require.NotNil(t, p.Valuation)
	assert.Equal(t, 45000.0, *p.Valuation)
	require.NotNil(t, p.Latitude)
	assert.Equal(t, 1985, p.YearBuilt)
	assert.NotEmpty(t, p.RecordHash)
}

func TestNormalize_AliasPriorityOrder(t *testing.T) {
	cfg := testSource()
	p, err := Normalize(rawRecord(map[string]any{
		"permit_number": "X-1",
		"issue_date":    "",
		"issued_date":   "2026-07-15",
	}), cfg)
	require.NoError(t, err)
	require.NotNil(t, p.IssuedAt, "empty first alias must fall through to the next")
	assert.Equal(t, time.July, p.IssuedAt.Month())
}

func TestNormalize_QuarantineMissingRecordID(t *testing.T) {
	_, err := Normalize(rawRecord(map[string]any{
		"issue_date": "2026-08-01",
	}), testSource())
	require.Error(t, err)
	assert.True(t, IsQuarantine(err))
}

func TestNormalize_QuarantineMissingDates(t *testing.T) {
	_, err := Normalize(rawRecord(map[string]any{
		"permit_number": "X-1",
	}), testSource())
	require.Error(t, err)
	assert.True(t, IsQuarantine(err))
}

func TestNormalize_QuarantineNegativeValuation(t *testing.T) {
	_, err := Normalize(rawRecord(map[string]any{
		"permit_number":       "X-1",
		"issue_date":          "2026-08-01",
		"total_job_valuation": "-100",
	}), testSource())
	require.Error(t, err)
	assert.True(t, IsQuarantine(err))
}

func TestNormalize_QuarantineOutOfBounds(t *testing.T) {
	_, err := Normalize(rawRecord(map[string]any{
		"permit_number": "X-1",
		"issue_date":    "2026-08-01",
		"latitude":      "29.0", // Houston, not Austin
		"longitude":     "-95.4",
	}), testSource())
	require.Error(t, err)
	assert.True(t, IsQuarantine(err))
}

func TestNormalize_AppliedDateOnlyIsEnough(t *testing.T) {
	p, err := Normalize(rawRecord(map[string]any{
		"permit_number": "X-1",
		"applieddate":   "2026-06-01",
	}), testSource())
	require.NoError(t, err)
	assert.Nil(t, p.IssuedAt)
	require.NotNil(t, p.AppliedAt)
	require.NotNil(t, p.EffectiveDate())
}

func TestResolveCanonicalID_Precedence(t *testing.T) {
	cfg := testSource()

	// Explicit permit id wins.
	p, err := Normalize(rawRecord(map[string]any{
		"permit_number": "NUM-1",
		"permit_num":    "ID-1",
		"issue_date":    "2026-08-01",
	}), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ID-1", p.CanonicalPermitID)

	// Then permit number.
	p, err = Normalize(rawRecord(map[string]any{
		"permit_number": "NUM-1",
		"issue_date":    "2026-08-01",
	}), cfg)
	require.NoError(t, err)
	assert.Equal(t, "NUM-1", p.CanonicalPermitID)

	// With neither id field the source record id carries the permit. This
	// needs a record_id alias distinct from permit_number, like the ArcGIS
	// sources have.
	cfg.Aliases[FieldRecordID] = []string{"objectid"}
	p, err = Normalize(rawRecord(map[string]any{
		"objectid":   "98765",
		"issue_date": "2026-08-01",
	}), cfg)
	require.NoError(t, err)
	assert.Equal(t, "98765", p.CanonicalPermitID)
}

func TestRecordHash_StableAndSensitive(t *testing.T) {
	cfg := testSource()
	fields := map[string]any{
		"permit_number": "X-1",
		"issue_date":    "2026-08-01",
		"description":   "new roof",
	}

	p1, err := Normalize(rawRecord(fields), cfg)
	require.NoError(t, err)
	p2, err := Normalize(rawRecord(fields), cfg)
	require.NoError(t, err)
	assert.Equal(t, p1.RecordHash, p2.RecordHash, "identical input must hash identically across fetches")

	fields["description"] = "new roof and gutters"
	p3, err := Normalize(rawRecord(fields), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, p1.RecordHash, p3.RecordHash)
}

func TestParseMoney(t *testing.T) {
	for in, want := range map[string]float64{
		"$45,000.00": 45000,
		"12000":      12000,
		" $5,250 ":   5250,
	} {
		got, err := parseMoney(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
