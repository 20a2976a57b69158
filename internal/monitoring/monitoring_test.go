package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/resilience"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// monStore fakes the run log and quarantine reads the collector needs.
type monStore struct {
	store.Store
	runs            []store.IngestRun
	quarantineDepth int64
}

func (s *monStore) ListRuns(context.Context, int) ([]store.IngestRun, error) {
	return s.runs, nil
}

func (s *monStore) QuarantineCount(context.Context, time.Time) (int64, error) {
	return s.quarantineDepth, nil
}

func run(source, status string, age time.Duration, summary *store.RunSummary) store.IngestRun {
	return store.IngestRun{
		Source:    source,
		Status:    status,
		StartedAt: time.Now().UTC().Add(-age),
		Summary:   summary,
	}
}

func TestCollect_AggregatesWindow(t *testing.T) {
	st := &monStore{
		// Newest first, matching the store's ORDER BY started_at DESC.
		runs: []store.IngestRun{
			run("austin", "complete", time.Hour, &store.RunSummary{Fetched: 100, Quarantined: 2, Upserted: 98, LeadsCreated: 10}),
			run("harris", "failed", 2*time.Hour, &store.RunSummary{Fetched: 5}),
			run("harris", "complete", 3*time.Hour, &store.RunSummary{Fetched: 50, Upserted: 50}),
			run("houston", "running", 4*time.Hour, nil),
			run("austin", "failed", 48*time.Hour, nil), // outside window
		},
		quarantineDepth: 7,
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)

	assert.Equal(t, int64(155), snap.RecordsFetched)
	assert.Equal(t, int64(2), snap.RecordsQuarantined)
	assert.Equal(t, int64(148), snap.RecordsUpserted)
	assert.Equal(t, int64(10), snap.LeadsCreated)
	assert.Equal(t, int64(7), snap.QuarantineDepth)

	// harris's latest run failed; austin's latest completed.
	assert.Equal(t, []string{"harris"}, snap.FailedSources)
}

func TestEvaluate_Thresholds(t *testing.T) {
	a := NewAlerter(config.AlertConfig{
		FailureRateThreshold: 0.5,
		QuarantineThreshold:  100,
	})

	// Too few finished runs for a rate alert, quarantine under threshold.
	alerts := a.Evaluate(&MetricsSnapshot{RunsComplete: 1, RunsFailed: 1, RunFailRate: 0.5, QuarantineDepth: 50})
	assert.Empty(t, alerts)

	alerts = a.Evaluate(&MetricsSnapshot{
		RunsComplete:    1,
		RunsFailed:      3,
		RunFailRate:     0.75,
		QuarantineDepth: 500,
		LookbackHours:   24,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, AlertQuarantineDepth, alerts[1].Type)
}

func TestSourceFailure_AuthEscalatesToCritical(t *testing.T) {
	var received atomic.Pointer[Alert]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received.Store(&alert)
	}))
	defer srv.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: srv.URL})
	err := resilience.NewAuthError("austin", 403, assert.AnError)
	a.SourceFailure(context.Background(), "austin", resilience.IsAuth(err), err)

	alert := received.Load()
	require.NotNil(t, alert)
	assert.Equal(t, AlertAuthFailure, alert.Type)
	assert.Equal(t, "critical", alert.Severity)
	assert.Contains(t, alert.Message, "AUTH FAILURE for source austin")
}

func TestSendAlerts_CountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.AlertConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertSourceFailure}})
	assert.Zero(t, sent)

	// No webhook configured is a quiet no-op.
	quiet := NewAlerter(config.AlertConfig{})
	assert.Zero(t, quiet.SendAlerts(context.Background(), []Alert{{Type: AlertSourceFailure}}))
}
