package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
	"github.com/sells-group/genroute/internal/store"
)

// MetricsSnapshot holds a point-in-time view of gateway health.
type MetricsSnapshot struct {
	// Request metrics (within lookback window).
	RequestsTotal  int     `json:"requests_total"`
	PathDirect     int     `json:"path_direct"`
	PathFallback   int     `json:"path_fallback"`
	PathEscalated  int     `json:"path_escalated"`
	Refusals       int     `json:"refusals"`
	RefusalRate    float64 `json:"refusal_rate"`
	FallbackFailed int     `json:"fallback_failed"`
	Degraded       int     `json:"degraded"`
	DegradedRate   float64 `json:"degraded_rate"`
	DocsQueued     int     `json:"docs_queued"`
	AvgTokens      int     `json:"avg_tokens"`

	// Curation dead-letter depth.
	DLQDepth int `json:"dlq_depth"`

	Providers []ProviderHealth  `json:"providers"`
	Circuits  map[string]string `json:"circuits,omitempty"`
	Failures  map[string]int    `json:"failures,omitempty"` // failed attempts per provider

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ProviderHealth is the quota position of one provider.
type ProviderHealth struct {
	ProviderID string    `json:"provider_id"`
	Used       int       `json:"used"`
	Limit      int       `json:"limit"` // <= 0 means uncapped
	Remaining  int       `json:"remaining"`
	NextReset  time.Time `json:"next_reset"`
}

// UsageRatio is used/limit, or 0 for uncapped providers.
func (p ProviderHealth) UsageRatio() float64 {
	if p.Limit <= 0 {
		return 0
	}
	return float64(p.Used) / float64(p.Limit)
}

// RequestSource abstracts the store methods needed by the collector.
type RequestSource interface {
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]model.RequestLog, error)
	CountDLQ(ctx context.Context) (int, error)
}

// QuotaSource reports current quota state, e.g. *quota.Ledger.
type QuotaSource interface {
	Snapshot() []model.QuotaState
}

// CircuitSource reports breaker states, e.g. *resilience.Breakers.
type CircuitSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers metrics from the request log, quota ledger and breakers.
type Collector struct {
	store    RequestSource
	quotas   QuotaSource
	circuits CircuitSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. quotas and circuits may be nil.
func NewCollector(st RequestSource, quotas QuotaSource, circuits CircuitSource) *Collector {
	return &Collector{
		store:    st,
		quotas:   quotas,
		circuits: circuits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of gateway metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	logs, err := c.store.ListRequests(ctx, store.RequestFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list requests")
	}

	var totalTokens int
	for _, l := range logs {
		r := l.Result
		if r == nil {
			continue
		}
		snap.RequestsTotal++
		switch r.Path {
		case model.PathDirect:
			snap.PathDirect++
		case model.PathFallback:
			snap.PathFallback++
		case model.PathEscalated:
			snap.PathEscalated++
		}
		if r.RefusalDetected {
			snap.Refusals++
		}
		if r.FallbackFailed {
			snap.FallbackFailed++
		}
		if r.Degraded {
			snap.Degraded++
		}
		snap.DocsQueued += r.DocumentsQueued
		totalTokens += r.TokensUsed
		for _, a := range r.Attempts {
			if a.Outcome != model.OutcomeFailed {
				continue
			}
			if snap.Failures == nil {
				snap.Failures = make(map[string]int)
			}
			snap.Failures[a.ProviderID]++
		}
	}

	if snap.RequestsTotal > 0 {
		snap.RefusalRate = float64(snap.Refusals) / float64(snap.RequestsTotal)
		snap.DegradedRate = float64(snap.Degraded) / float64(snap.RequestsTotal)
		snap.AvgTokens = totalTokens / snap.RequestsTotal
	}

	// DLQ depth.
	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	if c.quotas != nil {
		for _, q := range c.quotas.Snapshot() {
			snap.Providers = append(snap.Providers, ProviderHealth{
				ProviderID: q.ProviderID,
				Used:       q.Used,
				Limit:      q.Limit,
				Remaining:  q.Remaining(),
				NextReset:  q.NextReset(),
			})
		}
	}

	if c.circuits != nil {
		states := c.circuits.States()
		if len(states) > 0 {
			snap.Circuits = make(map[string]string, len(states))
			for id, s := range states {
				snap.Circuits[id] = s.String()
			}
		}
	}

	return snap, nil
}

// OpenCircuits returns the ids of providers whose breaker is not closed, sorted.
func (s *MetricsSnapshot) OpenCircuits() []string {
	var out []string
	for id, state := range s.Circuits {
		if state != resilience.CircuitClosed.String() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
