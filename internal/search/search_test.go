package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/genroute/internal/resilience"
	"github.com/sells-group/genroute/pkg/jina"
)

// fakeJina is a scripted jina.Client.
type fakeJina struct {
	mu        sync.Mutex
	search    *jina.SearchResponse
	searchErr error
	pages     map[string]*jina.ReadResponse
	readErr   map[string]error
	reads     []string
	queries   []string
}

func (f *fakeJina) Search(_ context.Context, q string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.search, nil
}

func (f *fakeJina) Read(_ context.Context, url string, _ ...jina.ReadOption) (*jina.ReadResponse, error) {
	f.mu.Lock()
	f.reads = append(f.reads, url)
	f.mu.Unlock()
	if err := f.readErr[url]; err != nil {
		return nil, err
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return &jina.ReadResponse{Code: 200}, nil
}

func TestJinaSearcher_Search(t *testing.T) {
	fj := &fakeJina{search: &jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Lisbon", URL: "https://en.wikipedia.org/wiki/Lisbon", Description: "**Lisbon** is the [capital](https://x) of Portugal."},
		{Title: "No URL", URL: "  ", Description: "dropped"},
		{Title: "Tram 28", URL: "https://example.org/tram", Content: "# Tram 28\n\nA historic line."},
		{Title: "Third", URL: "https://example.org/3", Description: "over limit"},
	}}}
	s := NewJinaSearcher(fj)

	got, err := s.Search(context.Background(), "  capital of portugal ", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Result{Title: "Lisbon", URL: "https://en.wikipedia.org/wiki/Lisbon", Snippet: "Lisbon is the capital of Portugal."}, got[0])
	assert.Equal(t, "Tram 28 A historic line.", got[1].Snippet)
	assert.Equal(t, []string{"capital of portugal"}, fj.queries)
}

func TestJinaSearcher_BlankQuery(t *testing.T) {
	fj := &fakeJina{}
	got, err := NewJinaSearcher(fj).Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, fj.queries)
}

func TestJinaSearcher_Error(t *testing.T) {
	fj := &fakeJina{searchErr: errors.New("connection refused")}
	_, err := NewJinaSearcher(fj).Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestJinaSearcher_SnippetTruncated(t *testing.T) {
	fj := &fakeJina{search: &jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Long", URL: "https://example.org", Description: strings.Repeat("word ", 100)},
	}}}
	got, err := NewJinaSearcher(fj, WithSnippetChars(40)).Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.LessOrEqual(t, len([]rune(got[0].Snippet)), 43)
	assert.True(t, strings.HasSuffix(got[0].Snippet, "..."))
}

type staticSearcher struct {
	results []Result
	err     error
}

func (s staticSearcher) Search(context.Context, string, int) ([]Result, error) {
	return s.results, s.err
}

func TestEnricher_ReplacesShortSnippets(t *testing.T) {
	page := "# Lisbon\n\n" + strings.Repeat("Lisbon is the capital and largest city of Portugal. ", 5)
	fj := &fakeJina{
		pages: map[string]*jina.ReadResponse{
			"https://a": {Code: 200, Data: jina.ReadData{Content: page}},
		},
		readErr: map[string]error{"https://b": errors.New("timeout")},
	}
	long := strings.Repeat("x", 200)
	next := staticSearcher{results: []Result{
		{Title: "A", URL: "https://a", Snippet: "short"},
		{Title: "B", URL: "https://b", Snippet: "short too"},
		{Title: "C", URL: "https://c", Snippet: long},
		{Title: "D", URL: "https://d", Snippet: "beyond max pages"},
	}}

	e := NewEnricher(next, fj, EnrichConfig{MaxPages: 3, MinSnippet: 100, ReadTimeout: time.Second})
	got, err := e.Search(context.Background(), "q", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, strings.HasPrefix(got[0].Snippet, "Lisbon Lisbon is the capital"))
	assert.Equal(t, "short too", got[1].Snippet, "read failure keeps snippet")
	assert.Equal(t, long, got[2].Snippet)
	assert.Equal(t, "beyond max pages", got[3].Snippet)
	assert.ElementsMatch(t, []string{"https://a", "https://b"}, fj.reads)
	assert.Equal(t, "short", next.results[0].Snippet, "input is not mutated")
}

func TestEnricher_PassesThroughErrors(t *testing.T) {
	fj := &fakeJina{}
	e := NewEnricher(staticSearcher{err: ErrSearchFailed}, fj, EnrichConfig{})
	_, err := e.Search(context.Background(), "q", 3)
	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.Empty(t, fj.reads)
}

func TestEnricher_BreakerStopsReads(t *testing.T) {
	fj := &fakeJina{readErr: map[string]error{
		"https://a": errors.New("down"),
		"https://b": errors.New("down"),
		"https://c": errors.New("down"),
	}}
	next := staticSearcher{results: []Result{
		{URL: "https://a"}, {URL: "https://b"}, {URL: "https://c"},
	}}
	e := NewEnricher(next, fj, EnrichConfig{MaxPages: 3, Concurrency: 1})
	e.breaker = newTestBreaker(1)

	_, err := e.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, fj.reads, 1)
}

func newTestBreaker(threshold int) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker("test_reader", resilience.CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Hour,
	})
}

func TestUsableContent(t *testing.T) {
	assert.False(t, usableContent(nil))
	assert.False(t, usableContent(&jina.ReadResponse{Code: 451, Data: jina.ReadData{Content: strings.Repeat("a", 200)}}))
	assert.False(t, usableContent(&jina.ReadResponse{Data: jina.ReadData{Content: "tiny"}}))
	assert.False(t, usableContent(&jina.ReadResponse{Data: jina.ReadData{Content: "Just a moment... " + strings.Repeat("a", 100)}}))
	assert.True(t, usableContent(&jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: strings.Repeat("a", 200)}}))
}

func TestStripMarkdown(t *testing.T) {
	in := "# Title\n\n> quoted **bold** and _x_ `code`\n\n- item [link](https://x) ![img](https://i)\n\n```go\nfmt.Println()\n```\n<b>tag</b>"
	assert.Equal(t, "Title quoted bold and _x_ code item link tag", StripMarkdown(in))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hello world...", Truncate("hello world again", 13))
	assert.Equal(t, "hello wo...", Truncate("hello world again", 8))
	assert.Equal(t, "ãããã...", Truncate("ããããããããã", 4))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
