// Package fallback runs the top-level generation flow: a direct cascade,
// refusal detection, and at most one web-search escalation.
package fallback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/cascade"
	"github.com/sells-group/genroute/internal/curation"
	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/provider"
	"github.com/sells-group/genroute/internal/refusal"
	"github.com/sells-group/genroute/internal/search"
)

// ErrSearchNotConfigured is reported as the fallback error when escalation
// is requested without a search backend.
var ErrSearchNotConfigured = eris.Wrap(search.ErrSearchFailed, "fallback: no search backend configured")

// Generator runs one cascade. *cascade.Engine implements it.
type Generator interface {
	Generate(ctx context.Context, req provider.Request, modality model.Modality) (*provider.Response, []model.Attempt, error)
}

// Classifier scores responses. *refusal.Classifier implements it.
type Classifier interface {
	Classify(text string) refusal.Verdict
	IsHighConfidence(v refusal.Verdict) bool
}

// RequestLogger persists results. store.Store implements it.
type RequestLogger interface {
	LogRequest(ctx context.Context, entry model.RequestLog) error
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	gen        Generator
	classifier Classifier
	searcher   search.Searcher
	handoff    curation.Handoff
	logger     RequestLogger
	cfg        Config
	newID      func() string
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRequestLogger persists every result. Write failures are logged only.
func WithRequestLogger(l RequestLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDGenerator replaces the request id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator. A nil searcher disables escalation and a nil
// handoff rejects every curation item.
func New(gen Generator, classifier Classifier, searcher search.Searcher, handoff curation.Handoff, cfg Config, opts ...Option) *Orchestrator {
	if handoff == nil {
		handoff = curation.Nop{}
	}
	o := &Orchestrator{
		gen:        gen,
		classifier: classifier,
		searcher:   searcher,
		handoff:    handoff,
		cfg:        cfg.withDefaults(),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateWithFallback answers req. The only error returned is
// cascade.ErrNoProviders; every other failure yields a degraded result.
func (o *Orchestrator) GenerateWithFallback(ctx context.Context, req model.GenerationRequest, unrestricted bool) (*model.FallbackResult, error) {
	res := &model.FallbackResult{
		RequestID: o.newID(),
		Path:      model.PathDirect,
	}
	log := zap.L().With(zap.String("request_id", res.RequestID), zap.Bool("unrestricted", unrestricted))

	// Direct
	resp, attempts, err := o.gen.Generate(ctx, o.directRequest(req), model.ModalityText)
	res.Attempts = attempts
	if err != nil {
		if errors.Is(err, cascade.ErrNoProviders) {
			return nil, err
		}
		log.Warn("fallback: direct generation exhausted", zap.Error(err))
		res.Answer = o.cfg.DegradedAnswer
		res.Degraded = true
		return o.finish(ctx, req, unrestricted, res), nil
	}
	res.Answer = resp.Text
	res.SourceProvider = resp.ProviderID
	res.TokensUsed = resp.TokensUsed

	verdict := o.classifier.Classify(resp.Text)
	if !verdict.IsRefusal {
		return o.finish(ctx, req, unrestricted, res), nil
	}

	// Refused
	conf := verdict.Confidence
	res.RefusalDetected = true
	res.RefusalConfidence = &conf
	log = log.With(zap.String("provider", resp.ProviderID), zap.Float64("confidence", conf))
	if !unrestricted {
		log.Info("fallback: refusal surfaced verbatim", zap.Strings("patterns", verdict.MatchedPatterns))
		return o.finish(ctx, req, unrestricted, res), nil
	}

	// Escalating
	query := req.LastUserMessage()
	res.WebSearchPerformed = true
	results, err := o.search(ctx, query)
	if err != nil {
		log.Warn("fallback: search failed", zap.Error(err))
		markFailed(res, err)
		return o.finish(ctx, req, unrestricted, res), nil
	}
	if len(results) == 0 {
		log.Info("fallback: search returned nothing")
		res.Path = model.PathFallback
		res.Answer = o.cfg.NoInfoAnswer
		res.SourceProvider = "web_search"
		return o.finish(ctx, req, unrestricted, res), nil
	}

	res.Sources = sourceLinks(results)
	res.DocumentsQueued = o.queue(ctx, res.RequestID, results)

	escReq := o.escalationRequest(req, query, results)
	resp2, attempts2, err := o.gen.Generate(ctx, escReq, model.ModalityText)
	res.Attempts = append(res.Attempts, attempts2...)
	if err != nil {
		log.Warn("fallback: escalated generation failed", zap.Error(err))
		markFailed(res, err)
		return o.finish(ctx, req, unrestricted, res), nil
	}
	res.TokensUsed += resp2.TokensUsed
	res.Path = model.PathEscalated

	v2 := o.classifier.Classify(resp2.Text)
	if !o.classifier.IsHighConfidence(v2) {
		res.Answer = resp2.Text
		res.SourceProvider = resp2.ProviderID
		log.Info("fallback: escalation resolved", zap.String("escalated_provider", resp2.ProviderID))
		return o.finish(ctx, req, unrestricted, res), nil
	}

	// Still refused: answer from the snippets without another provider call.
	log.Info("fallback: escalation refused, returning search summary",
		zap.Float64("escalated_confidence", v2.Confidence))
	res.Answer = summarize(o.cfg.SummaryIntro, results)
	res.SourceProvider = "web_search"
	return o.finish(ctx, req, unrestricted, res), nil
}

func (o *Orchestrator) search(ctx context.Context, query string) ([]search.Result, error) {
	if o.searcher == nil {
		return nil, ErrSearchNotConfigured
	}
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	results, err := o.searcher.Search(sctx, query, o.cfg.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(results) > o.cfg.MaxResults {
		results = results[:o.cfg.MaxResults]
	}
	return results, nil
}

// markFailed keeps the direct answer and records why escalation stopped.
func markFailed(res *model.FallbackResult, err error) {
	res.Path = model.PathDirect
	res.FallbackFailed = true
	res.FallbackError = err.Error()
}

func (o *Orchestrator) directRequest(req model.GenerationRequest) provider.Request {
	return provider.Request{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// escalationRequest grounds the conversation in the search results and
// lowers the temperature.
func (o *Orchestrator) escalationRequest(req model.GenerationRequest, query string, results []search.Result) provider.Request {
	msgs := make([]model.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, model.Message{Role: "system", Content: o.cfg.GroundingPrompt})

	last := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = i
			break
		}
	}
	grounded := groundedQuestion(query, results)
	for i, m := range req.Messages {
		if i == last {
			m.Content = grounded
		}
		msgs = append(msgs, m)
	}
	if last < 0 {
		msgs = append(msgs, model.Message{Role: "user", Content: grounded})
	}

	return provider.Request{
		Messages:    msgs,
		Temperature: min(req.Temperature, o.cfg.EscalationTemperature),
		MaxTokens:   req.MaxTokens,
	}
}

func sourceLinks(results []search.Result) []model.SourceLink {
	out := make([]model.SourceLink, len(results))
	for i, r := range results {
		out[i] = model.SourceLink{Title: r.Title, URL: r.URL}
	}
	return out
}

// finish logs the outcome and persists it when a logger is configured.
func (o *Orchestrator) finish(ctx context.Context, req model.GenerationRequest, unrestricted bool, res *model.FallbackResult) *model.FallbackResult {
	zap.L().Info("fallback: request complete",
		zap.String("request_id", res.RequestID),
		zap.String("path", string(res.Path)),
		zap.Bool("refusal", res.RefusalDetected),
		zap.Bool("fallback_failed", res.FallbackFailed),
		zap.Int("documents_queued", res.DocumentsQueued),
		zap.Int("attempts", len(res.Attempts)),
	)
	if o.logger == nil {
		return res
	}
	entry := model.RequestLog{
		ID:           res.RequestID,
		Query:        strings.TrimSpace(req.LastUserMessage()),
		Unrestricted: unrestricted,
		Result:       res,
		CreatedAt:    o.now().UTC(),
	}
	if err := o.logger.LogRequest(ctx, entry); err != nil {
		zap.L().Warn("fallback: request log write failed", zap.String("request_id", res.RequestID), zap.Error(err))
	}
	return res
}
