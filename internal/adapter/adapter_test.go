package adapter

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/fetcher"
	"github.com/jtheoc80/permit-leads/internal/model"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:    5 * time.Second,
			MaxRetries: 1,
		}),
		Clock:   clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)),
		TempDir: t.TempDir(),
		Timeout: 5 * time.Second,
	}
}

// drain collects the full stream and the terminal error.
func drain(recCh <-chan model.RawRecord, errCh <-chan error) ([]model.RawRecord, error) {
	var recs []model.RawRecord
	for rec := range recCh {
		recs = append(recs, rec)
	}
	return recs, <-errCh
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(model.SourceConfig{Name: "x", Kind: "carrier-pigeon"}, testDeps(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source kind")
}

func TestNew_SelectsAdapterByKind(t *testing.T) {
	deps := testDeps(t)

	a, err := New(model.SourceConfig{Name: "fs", Kind: model.KindFeatureService, MinInterval: model.Duration(time.Millisecond)}, deps)
	require.NoError(t, err)
	assert.IsType(t, &FeatureServiceAdapter{}, a)

	a, err = New(model.SourceConfig{Name: "tq", Kind: model.KindTabularQuery}, deps)
	require.NoError(t, err)
	assert.IsType(t, &TabularQueryAdapter{}, a)

	a, err = New(model.SourceConfig{Name: "ff", Kind: model.KindFlatFile}, deps)
	require.NoError(t, err)
	assert.IsType(t, &FlatFileAdapter{}, a)
}
