package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
)

func TestFlatFile_StreamsCSVRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "City of Houston Weekly Permit Report\n"+
			"Permit Number,Issue Date,Description\n"+
			"H-1,2026-08-25,Reroof\n"+
			"H-2,2026-08-26,Water heater replacement\n")
	}))
	defer srv.Close()

	cfg := model.SourceConfig{
		Name:        "houston-weekly-permits",
		Kind:        model.KindFlatFile,
		URL:         srv.URL,
		Format:      model.FormatCSV,
		SkipRows:    1,
		MinInterval: model.Duration(time.Millisecond),
	}
	a, err := New(cfg, testDeps(t))
	require.NoError(t, err)

	// since is ignored for flat files; the whole document streams.
	recs, err := drain(a.FetchSince(context.Background(), time.Now(), 0))
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, "H-1", recs[0].Str("permit number"))
	assert.Equal(t, "Reroof", recs[0].Str("description"))
	assert.Equal(t, "Water heater replacement", recs[1].Str("description"))
}

func TestFlatFile_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := model.SourceConfig{
		Name:        "houston-weekly-permits",
		Kind:        model.KindFlatFile,
		URL:         srv.URL,
		Format:      model.FormatCSV,
		MinInterval: model.Duration(time.Millisecond),
	}
	a, err := New(cfg, testDeps(t))
	require.NoError(t, err)

	recs, err := drain(a.FetchSince(context.Background(), time.Now(), 0))
	assert.Empty(t, recs)
	require.Error(t, err)
}
