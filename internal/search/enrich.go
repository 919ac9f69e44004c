package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/genroute/internal/resilience"
	"github.com/sells-group/genroute/pkg/jina"
)

// EnrichConfig controls page fetching for short snippets.
type EnrichConfig struct {
	MaxPages    int           // top results considered for fetching
	Concurrency int           // parallel Reader calls
	MinSnippet  int           // snippets shorter than this are replaced
	MaxChars    int           // cap on the replacement snippet
	ReadTimeout time.Duration // per-page Reader timeout
	Breaker     resilience.CircuitBreakerConfig
}

// DefaultEnrichConfig returns the enrichment defaults.
func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		MaxPages:    3,
		Concurrency: 3,
		MinSnippet:  120,
		MaxChars:    1200,
		ReadTimeout: 8 * time.Second,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
		},
	}
}

// Enricher decorates a Searcher, fetching page bodies through Jina Reader
// for top results whose snippet is too short to ground an answer.
type Enricher struct {
	next    Searcher
	reader  jina.Client
	cfg     EnrichConfig
	breaker *resilience.CircuitBreaker
}

// NewEnricher wraps next. Zero config fields take their defaults.
func NewEnricher(next Searcher, reader jina.Client, cfg EnrichConfig) *Enricher {
	def := DefaultEnrichConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MinSnippet <= 0 {
		cfg.MinSnippet = def.MinSnippet
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = def.Breaker
	}
	return &Enricher{
		next:    next,
		reader:  reader,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("jina_reader", cfg.Breaker),
	}
}

// Search runs the wrapped search, then enriches its results. Reader
// failures leave the original snippet in place.
func (e *Enricher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	results, err := e.next.Search(ctx, query, limit)
	if err != nil || len(results) == 0 {
		return results, err
	}
	return e.enrich(ctx, results), nil
}

func (e *Enricher) enrich(ctx context.Context, results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i := range out {
		if i >= e.cfg.MaxPages {
			break
		}
		if len([]rune(out[i].Snippet)) >= e.cfg.MinSnippet {
			continue
		}
		url := out[i].URL
		g.Go(func() error {
			body, ok := e.read(gctx, url)
			if !ok {
				return nil
			}
			// Each goroutine owns out[i].
			out[i].Snippet = body
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) read(ctx context.Context, url string) (string, bool) {
	log := zap.L().With(zap.String("url", url))
	if err := e.breaker.Allow(); err != nil {
		log.Debug("search: reader circuit open, keeping snippet")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	resp, err := e.reader.Read(ctx, url, jina.WithReadTimeout(e.cfg.ReadTimeout))
	if err != nil {
		e.breaker.Record(err)
		log.Warn("search: page read failed", zap.Error(err))
		return "", false
	}
	e.breaker.Record(nil)

	if !usableContent(resp) {
		log.Debug("search: page content unusable")
		return "", false
	}
	return Truncate(StripMarkdown(resp.Data.Content), e.cfg.MaxChars), true
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// usableContent reports whether a Reader response holds real page text
// rather than an error or bot-challenge page.
func usableContent(resp *jina.ReadResponse) bool {
	if resp == nil {
		return false
	}
	if resp.Code != 0 && resp.Code != 200 {
		return false
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return false
		}
	}
	return true
}
