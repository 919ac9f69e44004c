package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
	"github.com/sells-group/genroute/internal/store"
)

// mockStore implements RequestSource for testing.
type mockStore struct {
	logs     []model.RequestLog
	dlqCount int
	listErr  error
	dlqErr   error
}

func (m *mockStore) ListRequests(_ context.Context, filter store.RequestFilter) ([]model.RequestLog, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.RequestLog
	for _, l := range m.logs {
		if !filter.Since.IsZero() && l.CreatedAt.Before(filter.Since) {
			continue
		}
		filtered = append(filtered, l)
	}
	return filtered, nil
}

func (m *mockStore) CountDLQ(_ context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

type fakeQuotas []model.QuotaState

func (f fakeQuotas) Snapshot() []model.QuotaState { return f }

type fakeCircuits map[string]resilience.CircuitState

func (f fakeCircuits) States() map[string]resilience.CircuitState { return f }

func logAt(at time.Time, r *model.FallbackResult) model.RequestLog {
	return model.RequestLog{ID: r.RequestID, Query: "q", Result: r, CreatedAt: at}
}

func TestCollector_EmptyStore(t *testing.T) {
	st := &mockStore{}
	c := NewCollector(st, nil, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RequestsTotal)
	assert.Equal(t, 0.0, snap.RefusalRate)
	assert.Equal(t, 0.0, snap.DegradedRate)
	assert.Empty(t, snap.Providers)
	assert.Nil(t, snap.Circuits)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RequestMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		logs: []model.RequestLog{
			logAt(now.Add(-1*time.Hour), &model.FallbackResult{RequestID: "1", Path: model.PathDirect, TokensUsed: 100}),
			logAt(now.Add(-2*time.Hour), &model.FallbackResult{
				RequestID: "2", Path: model.PathEscalated, RefusalDetected: true, DocumentsQueued: 3, TokensUsed: 300,
				Attempts: []model.Attempt{
					{ProviderID: "groq", Outcome: model.OutcomeFailed},
					{ProviderID: "openrouter", Outcome: model.OutcomeSucceeded},
				},
			}),
			logAt(now.Add(-3*time.Hour), &model.FallbackResult{RequestID: "3", Path: model.PathFallback, RefusalDetected: true}),
			logAt(now.Add(-4*time.Hour), &model.FallbackResult{
				RequestID: "4", Path: model.PathDirect, RefusalDetected: true, FallbackFailed: true, TokensUsed: 200,
			}),
			logAt(now.Add(-5*time.Hour), &model.FallbackResult{
				RequestID: "5", Path: model.PathDirect, Degraded: true,
				Attempts: []model.Attempt{
					{ProviderID: "groq", Outcome: model.OutcomeFailed},
					{ProviderID: "openrouter", Outcome: model.OutcomeSkippedNoQuota},
				},
			}),
			// Outside lookback window.
			logAt(now.Add(-48*time.Hour), &model.FallbackResult{RequestID: "6", Path: model.PathDirect, Degraded: true}),
			// Missing result is ignored.
			{ID: "7", CreatedAt: now},
		},
		dlqCount: 2,
	}

	c := NewCollector(st, nil, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RequestsTotal)
	assert.Equal(t, 3, snap.PathDirect)
	assert.Equal(t, 1, snap.PathFallback)
	assert.Equal(t, 1, snap.PathEscalated)
	assert.Equal(t, 3, snap.Refusals)
	assert.InDelta(t, 0.6, snap.RefusalRate, 0.001)
	assert.Equal(t, 1, snap.FallbackFailed)
	assert.Equal(t, 1, snap.Degraded)
	assert.InDelta(t, 0.2, snap.DegradedRate, 0.001)
	assert.Equal(t, 3, snap.DocsQueued)
	assert.Equal(t, 120, snap.AvgTokens) // 600/5
	assert.Equal(t, map[string]int{"groq": 2}, snap.Failures)
	assert.Equal(t, 2, snap.DLQDepth)
}

func TestCollector_QuotasAndCircuits(t *testing.T) {
	reset := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	quotas := fakeQuotas{
		{ProviderID: "groq", Used: 95, Limit: 100, LastReset: reset},
		{ProviderID: "local", Used: 40, Limit: 0, LastReset: reset},
	}
	circuits := fakeCircuits{
		"groq":       resilience.CircuitClosed,
		"openrouter": resilience.CircuitOpen,
		"perplexity": resilience.CircuitHalfOpen,
	}

	c := NewCollector(&mockStore{}, quotas, circuits)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	require.Len(t, snap.Providers, 2)
	groq := snap.Providers[0]
	assert.Equal(t, 5, groq.Remaining)
	assert.Equal(t, reset.Add(24*time.Hour), groq.NextReset)
	assert.InDelta(t, 0.95, groq.UsageRatio(), 0.001)

	local := snap.Providers[1]
	assert.Equal(t, -1, local.Remaining)
	assert.Equal(t, 0.0, local.UsageRatio())

	assert.Equal(t, "open", snap.Circuits["openrouter"])
	assert.Equal(t, []string{"openrouter", "perplexity"}, snap.OpenCircuits())
}

func TestCollector_RealBreakers(t *testing.T) {
	b := resilience.NewBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	b.Get("groq").Record(errors.New("boom"))
	b.Get("anthropic").Record(nil)

	c := NewCollector(&mockStore{}, nil, b)
	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"groq"}, snap.OpenCircuits())
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockStore{listErr: errors.New("db down")}, nil, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list requests")
}

func TestCollector_DLQError(t *testing.T) {
	c := NewCollector(&mockStore{dlqErr: errors.New("db down")}, nil, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count dlq")
}
