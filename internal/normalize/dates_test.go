package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp_EpochMillis(t *testing.T) {
	// Feature services emit epoch milliseconds.
	got := ParseTimestamp(float64(1767225600000))
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
}

func TestParseTimestamp_EpochSeconds(t *testing.T) {
	got := ParseTimestamp(int64(1767225600))
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
}

func TestParseTimestamp_JSONNumber(t *testing.T) {
	got := ParseTimestamp(json.Number("1767225600000"))
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
}

func TestParseTimestamp_Layouts(t *testing.T) {
	for _, in := range []string{
		"2026-08-01T12:00:00Z",
		"2026-08-01T12:00:00.000",
		"2026-08-01T12:00:00",
		"2026-08-01 12:00:00",
		"2026-08-01",
		"08/01/2026",
		"8/1/2026",
	} {
		got := ParseTimestamp(in)
		require.NotNil(t, got, in)
		assert.Equal(t, time.August, got.Month(), in)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	assert.Nil(t, ParseTimestamp(nil))
	assert.Nil(t, ParseTimestamp(""))
	assert.Nil(t, ParseTimestamp("not a date"))
	assert.Nil(t, ParseTimestamp(int64(0)))
	assert.Nil(t, ParseTimestamp(time.Time{}))
}
