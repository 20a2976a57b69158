package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
)

func featureSource(url string, pageSize int) model.SourceConfig {
	return model.SourceConfig{
		Name:        "harris-county-permits",
		Kind:        model.KindFeatureService,
		URL:         url,
		DateField:   "ISSUEDDATE",
		PageSize:    pageSize,
		MinInterval: model.Duration(time.Millisecond),
	}
}

func TestFeatureService_PagesWithResultOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "false", q.Get("returnGeometry"))
		assert.Equal(t, "json", q.Get("f"))
		assert.Contains(t, q.Get("where"), "ISSUEDDATE > TIMESTAMP")

		offset, _ := strconv.Atoi(q.Get("resultOffset"))
		switch offset {
		case 0:
			// Server truncated the page; exceededTransferLimit forces
			// another request even though the page came back short.
			fmt.Fprint(w, `{"features":[{"attributes":{"OBJECTID":1}},{"attributes":{"OBJECTID":2}}],"exceededTransferLimit":true}`)
		case 2:
			fmt.Fprint(w, `{"features":[{"attributes":{"OBJECTID":3}}]}`)
		default:
			t.Errorf("unexpected resultOffset %d", offset)
		}
	}))
	defer srv.Close()

	a, err := New(featureSource(srv.URL, 5), testDeps(t))
	require.NoError(t, err)

	recs, err := drain(a.FetchSince(context.Background(), time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), 0))
	require.NoError(t, err)

	require.Len(t, recs, 3)
	assert.Equal(t, "1", recs[0].Str("OBJECTID"))
	assert.Equal(t, "3", recs[2].Str("OBJECTID"))
}

func TestFeatureService_InBandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// ArcGIS reports failures inside a 200 body.
		fmt.Fprint(w, `{"error":{"code":499,"message":"Token Required"}}`)
	}))
	defer srv.Close()

	a, err := New(featureSource(srv.URL, 5), testDeps(t))
	require.NoError(t, err)

	recs, err := drain(a.FetchSince(context.Background(), time.Now(), 0))
	assert.Empty(t, recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token Required")
}
