// Package cascade tries providers in rank order until one answers.
package cascade

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/provider"
	"github.com/sells-group/genroute/internal/resilience"
)

var (
	// ErrAllProvidersExhausted means every provider was skipped or failed.
	ErrAllProvidersExhausted = eris.New("cascade: all providers exhausted")
	// ErrNoProviders means no provider is configured for the modality.
	ErrNoProviders = eris.New("cascade: no providers configured")
	// ErrQuotaExhausted is recorded on attempts skipped for lack of quota.
	ErrQuotaExhausted = eris.New("cascade: daily quota exhausted")
)

// DefaultTimeout bounds a single provider call when its descriptor sets none.
const DefaultTimeout = 15 * time.Second

// Ledger is the quota view the engine needs. A call is reserved before it
// is made and committed only on success.
type Ledger interface {
	Reserve(ctx context.Context, id string) bool
	Commit(ctx context.Context, id string)
	Release(ctx context.Context, id string)
}

// Engine holds the ranked providers per modality. It is safe for concurrent
// use; attempts within one Generate call are strictly sequential.
type Engine struct {
	byModality map[model.Modality][]provider.Client
	ledger     Ledger
	breakers   *resilience.Breakers
	timeout    time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBreakers enables per-provider circuit breaking.
func WithBreakers(b *resilience.Breakers) Option {
	return func(e *Engine) { e.breakers = b }
}

// WithTimeout sets the default per-provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an engine. Providers are ordered by ascending Rank; ties keep
// the order given.
func New(clients []provider.Client, ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		byModality: make(map[model.Modality][]provider.Client),
		ledger:     ledger,
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
	for _, c := range clients {
		m := c.Descriptor().Modality
		e.byModality[m] = append(e.byModality[m], c)
	}
	for m := range e.byModality {
		list := e.byModality[m]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Descriptor().Rank < list[j].Descriptor().Rank
		})
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Providers returns the descriptors for modality in attempt order.
func (e *Engine) Providers(modality model.Modality) []model.ProviderDescriptor {
	return provider.Descriptors(e.byModality[modality])
}

// Generate tries each provider for modality in rank order and returns the
// first success. The attempt record is returned in every case.
func (e *Engine) Generate(ctx context.Context, req provider.Request, modality model.Modality) (*provider.Response, []model.Attempt, error) {
	clients := e.byModality[modality]
	if len(clients) == 0 {
		return nil, nil, eris.Wrapf(ErrNoProviders, "modality %s", modality)
	}

	attempts := make([]model.Attempt, 0, len(clients))
	for _, c := range clients {
		desc := c.Descriptor()
		log := zap.L().With(zap.String("provider", desc.ID), zap.String("modality", string(modality)))

		if !desc.Credentialed() {
			log.Debug("cascade: skipping provider without credential")
			attempts = append(attempts, model.Attempt{
				ProviderID: desc.ID,
				Outcome:    model.OutcomeSkippedNoCredential,
				Error:      provider.ErrUnavailable.Error(),
			})
			continue
		}
		if !e.ledger.Reserve(ctx, desc.ID) {
			log.Debug("cascade: skipping provider without quota")
			attempts = append(attempts, model.Attempt{
				ProviderID: desc.ID,
				Outcome:    model.OutcomeSkippedNoQuota,
				Error:      ErrQuotaExhausted.Error(),
			})
			continue
		}

		start := e.now()
		resp, err := e.call(ctx, c, desc, req)
		elapsed := e.now().Sub(start)

		if err != nil {
			e.ledger.Release(ctx, desc.ID)
			if errors.Is(err, provider.ErrUnavailable) {
				attempts = append(attempts, model.Attempt{
					ProviderID: desc.ID,
					Outcome:    model.OutcomeSkippedNoCredential,
					Error:      err.Error(),
				})
				continue
			}
			log.Warn("cascade: provider failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			attempts = append(attempts, model.Attempt{
				ProviderID: desc.ID,
				Outcome:    model.OutcomeFailed,
				Error:      err.Error(),
				DurationMs: elapsed.Milliseconds(),
			})
			if ctx.Err() != nil {
				// The caller is gone; later providers would fail the same way.
				break
			}
			continue
		}

		e.ledger.Commit(ctx, desc.ID)
		attempts = append(attempts, model.Attempt{
			ProviderID: desc.ID,
			Outcome:    model.OutcomeSucceeded,
			DurationMs: elapsed.Milliseconds(),
		})
		log.Info("cascade: provider succeeded",
			zap.Duration("elapsed", elapsed),
			zap.Int("tokens", resp.TokensUsed),
			zap.Int("attempt", len(attempts)),
		)
		return resp, attempts, nil
	}

	return nil, attempts, eris.Wrapf(ErrAllProvidersExhausted, "modality %s: %d providers tried", modality, len(attempts))
}

// call runs one provider under its timeout and circuit breaker.
func (e *Engine) call(ctx context.Context, c provider.Client, desc model.ProviderDescriptor, req provider.Request) (*provider.Response, error) {
	var cb *resilience.CircuitBreaker
	if e.breakers != nil {
		cb = e.breakers.Get(desc.ID)
		if err := cb.Allow(); err != nil {
			return nil, eris.Wrapf(err, "provider %s", desc.ID)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, desc.Timeout(e.timeout))
	defer cancel()

	resp, err := c.Generate(callCtx, req)
	if err == nil && resp == nil {
		err = eris.Wrapf(provider.ErrCallFailed, "provider %s: nil response", desc.ID)
	}
	if cb != nil && !errors.Is(err, provider.ErrUnavailable) {
		cb.Record(err)
	}
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, eris.Wrapf(err, "provider %s: timed out after %s", desc.ID, desc.Timeout(e.timeout))
		}
		return nil, err
	}
	return resp, nil
}
