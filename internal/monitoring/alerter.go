package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRefusalRate        AlertType = "refusal_rate"
	AlertProviderExhaustion AlertType = "provider_exhaustion"
	AlertQuotaNearCap       AlertType = "quota_near_cap"
	AlertDLQBacklog         AlertType = "dlq_backlog"
	AlertCircuitOpen        AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	enough := snap.RequestsTotal > 0 && snap.RequestsTotal >= a.cfg.MinRequests

	// Refusal rate.
	if enough && a.cfg.RefusalRateThreshold > 0 && snap.RefusalRate > a.cfg.RefusalRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRefusalRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Refusal rate %.1f%% exceeds threshold %.1f%% (%d refused / %d requests in last %dh)",
				snap.RefusalRate*100, a.cfg.RefusalRateThreshold*100,
				snap.Refusals, snap.RequestsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"refusal_rate":    snap.RefusalRate,
				"threshold":       a.cfg.RefusalRateThreshold,
				"refusals":        snap.Refusals,
				"requests":        snap.RequestsTotal,
				"fallback_failed": snap.FallbackFailed,
			},
			Timestamp: now,
		})
	}

	// Every provider exhausted.
	if enough && snap.Degraded > 0 && snap.DegradedRate > a.cfg.ExhaustedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProviderExhaustion,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d requests in last %dh got the degraded answer (%.1f%%)",
				snap.Degraded, snap.RequestsTotal, snap.LookbackHours, snap.DegradedRate*100,
			),
			Details: map[string]any{
				"degraded":      snap.Degraded,
				"degraded_rate": snap.DegradedRate,
				"threshold":     a.cfg.ExhaustedRateThreshold,
			},
			Timestamp: now,
		})
	}

	// Providers close to their daily cap.
	if a.cfg.QuotaWarnRatio > 0 {
		for _, p := range snap.Providers {
			if p.Limit <= 0 || p.UsageRatio() < a.cfg.QuotaWarnRatio {
				continue
			}
			severity := "low"
			if p.Remaining == 0 {
				severity = "medium"
			}
			alerts = append(alerts, Alert{
				Type:     AlertQuotaNearCap,
				Severity: severity,
				Message: fmt.Sprintf(
					"Provider %s used %d of %d daily calls; resets at %s",
					p.ProviderID, p.Used, p.Limit, p.NextReset.Format(time.RFC3339),
				),
				Details: map[string]any{
					"provider":   p.ProviderID,
					"used":       p.Used,
					"limit":      p.Limit,
					"next_reset": p.NextReset,
				},
				Timestamp: now,
			})
		}
	}

	// Curation dead letters.
	if a.cfg.DLQThreshold > 0 && snap.DLQDepth >= a.cfg.DLQThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d curation item(s) in the dead-letter queue (threshold %d)",
				snap.DLQDepth, a.cfg.DLQThreshold,
			),
			Details: map[string]any{
				"dlq_depth": snap.DLQDepth,
				"threshold": a.cfg.DLQThreshold,
			},
			Timestamp: now,
		})
	}

	if open := snap.OpenCircuits(); len(open) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message:  "Circuit breaker not closed for: " + strings.Join(open, ", "),
			Details: map[string]any{
				"providers": open,
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
