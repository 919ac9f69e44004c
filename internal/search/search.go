// Package search finds web pages that ground an escalated generation.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/pkg/jina"
)

// ErrSearchFailed means the search backend could not be queried.
var ErrSearchFailed = eris.New("search: adapter failed")

// DefaultTimeout bounds one search call.
const DefaultTimeout = 10 * time.Second

// DefaultSnippetChars caps the length of a result snippet.
const DefaultSnippetChars = 500

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Searcher issues web searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// JinaSearcher searches through Jina AI Search.
type JinaSearcher struct {
	client       jina.Client
	timeout      time.Duration
	snippetChars int
	site         string
	noContent    bool
}

// JinaOption configures a JinaSearcher.
type JinaOption func(*JinaSearcher)

// WithTimeout bounds each search call.
func WithTimeout(d time.Duration) JinaOption {
	return func(s *JinaSearcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSite restricts results to one domain.
func WithSite(domain string) JinaOption {
	return func(s *JinaSearcher) { s.site = domain }
}

// WithSnippetChars caps snippet length.
func WithSnippetChars(n int) JinaOption {
	return func(s *JinaSearcher) {
		if n > 0 {
			s.snippetChars = n
		}
	}
}

// WithoutContent asks Jina for titles and descriptions only.
func WithoutContent() JinaOption {
	return func(s *JinaSearcher) { s.noContent = true }
}

// NewJinaSearcher creates a JinaSearcher.
func NewJinaSearcher(client jina.Client, opts ...JinaOption) *JinaSearcher {
	s := &JinaSearcher{
		client:       client,
		timeout:      DefaultTimeout,
		snippetChars: DefaultSnippetChars,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search returns at most limit results in backend order. Results without a
// URL are dropped. A blank query returns no results.
func (s *JinaSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var opts []jina.SearchOption
	if s.site != "" {
		opts = append(opts, jina.WithSiteFilter(s.site))
	}
	if s.noContent {
		opts = append(opts, jina.WithNoContent())
	}

	start := time.Now()
	resp, err := s.client.Search(ctx, query, opts...)
	if err != nil {
		return nil, eris.Wrapf(ErrSearchFailed, "jina: %v", err)
	}

	results := make([]Result, 0, limit)
	for _, r := range resp.Data {
		if len(results) == limit {
			break
		}
		url := strings.TrimSpace(r.URL)
		if url == "" {
			continue
		}
		snippet := r.Description
		if strings.TrimSpace(snippet) == "" {
			snippet = r.Content
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(r.Title),
			Snippet: Truncate(StripMarkdown(snippet), s.snippetChars),
			URL:     url,
		})
	}

	zap.L().Debug("search: jina results",
		zap.Int("returned", len(resp.Data)),
		zap.Int("kept", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}
