package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertAuthFailure     AlertType = "auth_failure"
	AlertSourceFailure   AlertType = "source_failure"
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertQuarantineDepth AlertType = "quarantine_depth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates metrics snapshots against configured thresholds and
// delivers alerts via webhook. It also receives per-source fatal failures
// straight from the ingest engine.
type Alerter struct {
	cfg    config.AlertConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given alert config.
func NewAlerter(cfg config.AlertConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SourceFailure reports a fatal per-source ingest failure. Auth failures are
// loud: they mean an expired or revoked credential and silently produce
// stale data until an operator rotates it.
func (a *Alerter) SourceFailure(ctx context.Context, source string, auth bool, err error) {
	alert := Alert{
		Type:     AlertSourceFailure,
		Severity: "high",
		Message:  fmt.Sprintf("Sync failed for source %s: %v", source, err),
		Details: map[string]any{
			"source": source,
		},
		Timestamp: time.Now().UTC(),
	}
	if auth {
		alert.Type = AlertAuthFailure
		alert.Severity = "critical"
		alert.Message = fmt.Sprintf("AUTH FAILURE for source %s: credential expired or revoked: %v", source, err)
		zap.L().Error("source authentication failure",
			zap.String("source", source),
			zap.Error(err),
		)
	}
	a.SendAlerts(ctx, []Alert{alert})
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 3 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingest failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate":   snap.RunFailRate,
				"threshold":      a.cfg.FailureRateThreshold,
				"failed":         snap.RunsFailed,
				"finished":       finished,
				"failed_sources": snap.FailedSources,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QuarantineThreshold > 0 && snap.QuarantineDepth > a.cfg.QuarantineThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQuarantineDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d records quarantined in last %dh exceeds threshold %d; a source likely changed its schema",
				snap.QuarantineDepth, snap.LookbackHours, a.cfg.QuarantineThreshold,
			),
			Details: map[string]any{
				"quarantine_depth": snap.QuarantineDepth,
				"threshold":        a.cfg.QuarantineThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
