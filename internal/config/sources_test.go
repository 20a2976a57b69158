package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
)

func writeSources(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func testDefaults() IngestConfig {
	return IngestConfig{
		DefaultPageSize:     1000,
		MaxRetries:          3,
		DefaultLookbackDays: 7,
		DefaultOverlapSecs:  60,
	}
}

const validSources = `
sources:
  - name: austin-issued-permits
    kind: tabular-query
    url: https://data.austintexas.gov/resource/3syk-w9eu.json
    jurisdiction: austin-tx
    date_field: issue_date
    min_interval: 250ms
    lookback: 336h
    aliases:
      record_id: [permit_number]
      issued_at: [issue_date]
  - name: harris-county-permits
    kind: feature-service
    url: https://gis.example.org/arcgis/rest/services/Permits/FeatureServer/0
    date_field: ISSUEDDATE
    page_size: 500
    aliases:
      record_id: [OBJECTID]
      issued_at: [ISSUEDDATE]
`

func TestLoadSources_ParsesDurationsAndDefaults(t *testing.T) {
	path := writeSources(t, validSources)

	sources, err := LoadSources(path, testDefaults())
	require.NoError(t, err)
	require.Len(t, sources, 2)

	austin := sources[0]
	assert.Equal(t, 250*time.Millisecond, austin.MinInterval.Std())
	assert.Equal(t, 336*time.Hour, austin.Lookback.Std())
	assert.Equal(t, 1000, austin.PageSize, "unset page size takes the engine default")
	assert.Equal(t, model.AuthNone, austin.AuthMode)

	harris := sources[1]
	assert.Equal(t, 500, harris.PageSize, "explicit page size survives")
	assert.Equal(t, 7*24*time.Hour, harris.Lookback.Std())
	assert.Equal(t, time.Minute, harris.OverlapBuffer.Std())
}

func TestLoadSources_DuplicateName(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: dup
    kind: tabular-query
    url: https://example.org/a.json
    date_field: issued
    aliases: {record_id: [id]}
  - name: dup
    kind: tabular-query
    url: https://example.org/b.json
    date_field: issued
    aliases: {record_id: [id]}
`)
	_, err := LoadSources(path, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate source name")
}

func TestLoadSources_MissingDateField(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: broken
    kind: feature-service
    url: https://example.org
    aliases: {record_id: [id]}
`)
	_, err := LoadSources(path, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date_field is required")
}

func TestLoadSources_FlatFileNeedsFormat(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: weekly
    kind: flat-file
    url: https://example.org/report.xlsx
    aliases: {record_id: [permit number]}
`)
	_, err := LoadSources(path, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be csv or xlsx")
}

func TestLoadSources_DegenerateBounds(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: bad-box
    kind: tabular-query
    url: https://example.org/a.json
    date_field: issued
    aliases: {record_id: [id]}
    bounds: {min_lat: 31.0, min_lon: -97.0, max_lat: 30.0, max_lon: -96.0}
`)
	_, err := LoadSources(path, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate bounding box")
}

func TestLoadSources_EmptyFile(t *testing.T) {
	path := writeSources(t, "sources: []\n")
	_, err := LoadSources(path, testDefaults())
	require.Error(t, err)
}

func TestSourceToken(t *testing.T) {
	t.Setenv("TEST_PERMIT_TOKEN", "tok-123")

	s := model.SourceConfig{AuthMode: model.AuthAppToken, TokenEnv: "TEST_PERMIT_TOKEN"}
	assert.Equal(t, "tok-123", SourceToken(s))

	s.AuthMode = model.AuthNone
	assert.Empty(t, SourceToken(s))
}
