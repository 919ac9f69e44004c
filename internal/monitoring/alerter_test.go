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

	"github.com/sells-group/genroute/internal/config"
)

func defaultMonitoring() config.MonitoringConfig {
	return config.MonitoringConfig{
		MinRequests:            20,
		RefusalRateThreshold:   0.3,
		ExhaustedRateThreshold: 0.1,
		QuotaWarnRatio:         0.9,
		DLQThreshold:           10,
	}
}

func alertTypes(alerts []Alert) map[AlertType]bool {
	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	return types
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	snap := &MetricsSnapshot{
		RequestsTotal: 100,
		Refusals:      10,
		RefusalRate:   0.1,
		Degraded:      2,
		DegradedRate:  0.02,
		DLQDepth:      3,
		Providers: []ProviderHealth{
			{ProviderID: "groq", Used: 50, Limit: 100, Remaining: 50},
			{ProviderID: "local", Used: 5000, Limit: 0, Remaining: -1},
		},
		Circuits:      map[string]string{"groq": "closed"},
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RefusalRate(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	snap := &MetricsSnapshot{
		RequestsTotal: 40,
		Refusals:      16,
		RefusalRate:   0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRefusalRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "16 refused / 40 requests")
}

func TestAlerter_Evaluate_MinimumRequestsRequired(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	// Below the 20-request minimum for rate alerts.
	snap := &MetricsSnapshot{
		RequestsTotal: 5,
		Refusals:      5,
		RefusalRate:   1,
		Degraded:      5,
		DegradedRate:  1,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ProviderExhaustion(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	snap := &MetricsSnapshot{
		RequestsTotal: 50,
		Degraded:      10,
		DegradedRate:  0.2,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProviderExhaustion, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "10 of 50 requests")
}

func TestAlerter_Evaluate_QuotaNearCap(t *testing.T) {
	a := NewAlerter(defaultMonitoring())
	reset := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)

	snap := &MetricsSnapshot{
		Providers: []ProviderHealth{
			{ProviderID: "groq", Used: 95, Limit: 100, Remaining: 5, NextReset: reset},
			{ProviderID: "openrouter", Used: 200, Limit: 200, Remaining: 0, NextReset: reset},
			{ProviderID: "perplexity", Used: 10, Limit: 100, Remaining: 90, NextReset: reset},
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertQuotaNearCap, alerts[0].Type)
	assert.Equal(t, "low", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "groq used 95 of 100")
	assert.Contains(t, alerts[0].Message, "2026-10-20T06:00:00Z")
	assert.Equal(t, "medium", alerts[1].Severity)
	assert.Equal(t, "openrouter", alerts[1].Details["provider"])
}

func TestAlerter_Evaluate_QuotaWarnDisabled(t *testing.T) {
	cfg := defaultMonitoring()
	cfg.QuotaWarnRatio = 0
	a := NewAlerter(cfg)

	snap := &MetricsSnapshot{
		Providers: []ProviderHealth{{ProviderID: "groq", Used: 100, Limit: 100}},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_DLQBacklog(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{DLQDepth: 12})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQBacklog, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "12 curation item(s)")
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{
		Circuits: map[string]string{"groq": "open", "anthropic": "closed", "openrouter": "half-open"},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Equal(t, "Circuit breaker not closed for: groq, openrouter", alerts[0].Message)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	snap := &MetricsSnapshot{
		RequestsTotal: 30,
		Refusals:      15,
		RefusalRate:   0.5,
		Degraded:      6,
		DegradedRate:  0.2,
		DLQDepth:      10,
		Providers:     []ProviderHealth{{ProviderID: "groq", Used: 100, Limit: 100}},
		Circuits:      map[string]string{"groq": "open"},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 5)

	types := alertTypes(alerts)
	assert.True(t, types[AlertRefusalRate])
	assert.True(t, types[AlertProviderExhaustion])
	assert.True(t, types[AlertQuotaNearCap])
	assert.True(t, types[AlertDLQBacklog])
	assert.True(t, types[AlertCircuitOpen])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRefusalRate, Severity: "medium", Message: "test alert 1"},
		{Type: AlertCircuitOpen, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRefusalRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQBacklog, Message: "test"}})
	assert.Equal(t, 0, sent)
}
