package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/cascade"
	"github.com/sells-group/genroute/internal/config"
	"github.com/sells-group/genroute/internal/curation"
	"github.com/sells-group/genroute/internal/fallback"
	"github.com/sells-group/genroute/internal/provider"
	"github.com/sells-group/genroute/internal/quota"
	"github.com/sells-group/genroute/internal/refusal"
	"github.com/sells-group/genroute/internal/resilience"
	"github.com/sells-group/genroute/internal/search"
	"github.com/sells-group/genroute/internal/store"
	"github.com/sells-group/genroute/pkg/jina"
	"github.com/sells-group/genroute/pkg/notion"
)

// gateway bundles the long-lived components shared by serve and the
// one-shot commands.
type gateway struct {
	Store        store.Store
	Ledger       *quota.Ledger
	Breakers     *resilience.Breakers
	Engine       *cascade.Engine
	Orchestrator *fallback.Orchestrator
}

// Close releases the store.
func (g *gateway) Close() {
	if g.Store != nil {
		g.Store.Close() //nolint:errcheck
	}
}

// initGateway wires store, quota ledger, cascade, classifier, search and
// curation from cfg.
func initGateway(ctx context.Context) (*gateway, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	clients, err := provider.Build(cfg.Providers, provider.Options{
		Retry: resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	ledger := quota.New(st, provider.Descriptors(clients))
	ledger.Restore(ctx)

	breakers := resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))
	engine := cascade.New(clients, ledger,
		cascade.WithBreakers(breakers),
		cascade.WithTimeout(time.Duration(cfg.Cascade.TimeoutSecs)*time.Second),
	)

	classifier, err := buildClassifier(cfg.Refusal)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	opts := []fallback.Option{}
	if cfg.Fallback.LogRequests {
		opts = append(opts, fallback.WithRequestLogger(st))
	}
	orch := fallback.New(engine, classifier, buildSearcher(cfg), buildHandoff(cfg, st), fallbackConfig(cfg), opts...)

	zap.L().Info("gateway ready",
		zap.Int("providers", len(clients)),
		zap.String("store", cfg.Store.Driver),
		zap.String("curation", cfg.Curation.Target),
	)

	return &gateway{
		Store:        st,
		Ledger:       ledger,
		Breakers:     breakers,
		Engine:       engine,
		Orchestrator: orch,
	}, nil
}

func buildClassifier(rc config.RefusalConfig) (*refusal.Classifier, error) {
	var patterns []refusal.Pattern
	if rc.PatternsFile != "" {
		p, err := refusal.LoadPatterns(rc.PatternsFile)
		if err != nil {
			return nil, err
		}
		patterns = p
	}
	return refusal.New(patterns, refusal.WithThresholds(rc.Threshold, rc.HighThreshold))
}

func newJinaClient(c *config.Config) jina.Client {
	return jina.NewClient(c.Jina.Key,
		jina.WithBaseURL(c.Jina.BaseURL),
		jina.WithSearchBaseURL(c.Jina.SearchBaseURL),
	)
}

// buildSearcher returns the Jina-backed searcher, optionally wrapped with
// page enrichment.
func buildSearcher(c *config.Config) search.Searcher {
	client := newJinaClient(c)
	opts := []search.JinaOption{
		search.WithTimeout(time.Duration(c.Search.TimeoutSecs) * time.Second),
		search.WithSnippetChars(c.Search.SnippetChars),
	}
	if c.Search.Site != "" {
		opts = append(opts, search.WithSite(c.Search.Site))
	}
	if !c.Search.Enrich {
		return search.NewJinaSearcher(client, opts...)
	}

	opts = append(opts, search.WithoutContent())
	ec := search.DefaultEnrichConfig()
	if c.Search.EnrichPages > 0 {
		ec.MaxPages = c.Search.EnrichPages
	}
	return search.NewEnricher(search.NewJinaSearcher(client, opts...), client, ec)
}

// buildHandoff selects the curation target. Rejected items go to the
// dead-letter table when enabled.
func buildHandoff(c *config.Config, st store.Store) curation.Handoff {
	var h curation.Handoff
	switch c.Curation.Target {
	case config.CurationNotion:
		h = curation.NewNotionHandoff(newNotionClient(c), c.Notion.CurationDB)
	case config.CurationWebhook:
		h = curation.NewWebhookHandoff(c.Curation.WebhookURL, &http.Client{Timeout: 10 * time.Second})
	default:
		return curation.Nop{}
	}
	if c.Curation.DeadLetters && st != nil {
		return curation.WithDeadLetters(h, st)
	}
	return h
}

func newNotionClient(c *config.Config) notion.Client {
	return notion.NewClient(c.Notion.Token, notion.WithRateLimit(c.Notion.RateLimit))
}

// fallbackConfig maps the fallback and search sections onto the orchestrator.
func fallbackConfig(c *config.Config) fallback.Config {
	return fallback.Config{
		MaxResults:            c.Search.MaxResults,
		CurateTop:             c.Fallback.CurateTop,
		EscalationTemperature: c.Fallback.EscalationTemperature,
		SearchTimeout:         time.Duration(c.Search.TimeoutSecs) * time.Second,
		CurationTags:          c.Fallback.CurationTags,
		DegradedAnswer:        c.Fallback.DegradedAnswer,
		NoInfoAnswer:          c.Fallback.NoInfoAnswer,
		SummaryIntro:          c.Fallback.SummaryIntro,
		GroundingPrompt:       c.Fallback.GroundingPrompt,
		VisionPrompt:          c.Fallback.VisionPrompt,
		VisionMaxTokens:       c.Fallback.VisionMaxTokens,
	}
}
