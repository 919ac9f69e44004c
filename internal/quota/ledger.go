// Package quota tracks per-provider daily call budgets.
//
// The window is sliding: a provider's counter resets once 24 hours of
// wall-clock time have passed since its last reset, not at midnight. Resets
// are applied lazily whenever a provider is touched, so no scheduler runs.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/store"
)

// ErrPersistenceFailed marks a durable write that did not land. It is logged,
// never returned: the in-memory counter is authoritative for the process.
var ErrPersistenceFailed = eris.New("quota: persistence failed")

// Ledger holds the quota state of every provider. The zero value is not
// usable; construct with New.
type Ledger struct {
	store  store.QuotaStore
	limits map[string]int
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	state    model.QuotaState
	reserved int // calls in flight, not yet committed or released
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger for the given providers. st may be nil, in which case
// state lives in memory only.
func New(st store.QuotaStore, providers []model.ProviderDescriptor, opts ...Option) *Ledger {
	l := &Ledger{
		store:   st,
		limits:  make(map[string]int, len(providers)),
		now:     time.Now,
		entries: make(map[string]*entry, len(providers)),
	}
	for _, p := range providers {
		l.limits[p.ID] = p.DailyLimit
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Restore loads persisted counters. A store failure leaves every provider at
// zero usage and is only logged.
func (l *Ledger) Restore(ctx context.Context) {
	if l.store == nil {
		return
	}
	states, err := l.store.LoadQuotas(ctx)
	if err != nil {
		zap.L().Warn("quota: store unavailable, starting from zero state", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range states {
		if s.Used < 0 {
			s.Used = 0
		}
		// Configured limits win over whatever was persisted.
		if limit, ok := l.limits[s.ProviderID]; ok {
			s.Limit = limit
		}
		l.entries[s.ProviderID] = &entry{state: s}
	}
	zap.L().Info("quota: restored ledger", zap.Int("providers", len(states)))
}

// Load returns the stored state for id without applying a due reset.
func (l *Ledger) Load(id string) (model.QuotaState, bool) {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return model.QuotaState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// HasQuota reports whether id may be called now. Uncapped providers always
// have quota.
func (l *Ledger) HasQuota(ctx context.Context, id string) bool {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resetIfDueLocked(ctx, e)
	return e.availableLocked()
}

// Reserve claims one call against id if the budget allows it. Every true
// return must be followed by exactly one Commit or Release. Reservations
// count against the limit, so concurrent callers cannot overrun it.
func (l *Ledger) Reserve(ctx context.Context, id string) bool {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resetIfDueLocked(ctx, e)
	if !e.availableLocked() {
		return false
	}
	e.reserved++
	return true
}

// Commit turns a reservation into a recorded call and persists it.
func (l *Ledger) Commit(ctx context.Context, id string) {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reserved > 0 {
		e.reserved--
	}
	l.resetIfDueLocked(ctx, e)
	e.state.Used++
	l.persistLocked(ctx, e)
}

// Release returns an unused reservation.
func (l *Ledger) Release(_ context.Context, id string) {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reserved > 0 {
		e.reserved--
	}
}

// Consume records one successful call against id. It does not enforce the
// limit; callers check HasQuota first.
func (l *Ledger) Consume(ctx context.Context, id string) {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resetIfDueLocked(ctx, e)
	e.state.Used++
	l.persistLocked(ctx, e)
}

// ResetIfDue zeroes id's counter if the window has elapsed and reports
// whether it did.
func (l *Ledger) ResetIfDue(ctx context.Context, id string) bool {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return l.resetIfDueLocked(ctx, e)
}

// Reset unconditionally zeroes id's counter and starts a new window.
func (l *Ledger) Reset(ctx context.Context, id string) {
	e := l.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Used = 0
	e.state.LastReset = l.now()
	l.persistLocked(ctx, e)
	zap.L().Info("quota: manual reset", zap.String("provider", id))
}

// Sweep applies every due reset and returns the ids that were reset.
func (l *Ledger) Sweep(ctx context.Context) []string {
	var reset []string
	for _, id := range l.ids() {
		if l.ResetIfDue(ctx, id) {
			reset = append(reset, id)
		}
	}
	return reset
}

// Snapshot returns the state of every known provider, sorted by id, with due
// resets reflected but not persisted.
func (l *Ledger) Snapshot() []model.QuotaState {
	now := l.now()
	ids := l.ids()
	out := make([]model.QuotaState, 0, len(ids))
	for _, id := range ids {
		e := l.get(id)
		e.mu.Lock()
		s := e.state
		e.mu.Unlock()
		if s.ResetDue(now) {
			s.Used = 0
			s.LastReset = now
		}
		out = append(out, s)
	}
	return out
}

// ids returns configured and restored provider ids, sorted.
func (l *Ledger) ids() []string {
	l.mu.RLock()
	seen := make(map[string]struct{}, len(l.entries)+len(l.limits))
	for id := range l.entries {
		seen[id] = struct{}{}
	}
	for id := range l.limits {
		seen[id] = struct{}{}
	}
	l.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) get(id string) *entry {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[id]; ok {
		return e
	}
	e = &entry{state: model.QuotaState{
		ProviderID: id,
		Limit:      l.limits[id],
		LastReset:  l.now(),
	}}
	l.entries[id] = e
	return e
}

// availableLocked must be called with e.mu held.
func (e *entry) availableLocked() bool {
	if e.state.Limit <= 0 {
		return true
	}
	return e.state.Used+e.reserved < e.state.Limit
}

// resetIfDueLocked must be called with e.mu held.
func (l *Ledger) resetIfDueLocked(ctx context.Context, e *entry) bool {
	now := l.now()
	if !e.state.ResetDue(now) {
		return false
	}
	e.state.Used = 0
	e.state.LastReset = now
	l.persistLocked(ctx, e)
	zap.L().Debug("quota: window reset", zap.String("provider", e.state.ProviderID))
	return true
}

// persistLocked writes e under its lock so writes for one provider land in
// order.
func (l *Ledger) persistLocked(ctx context.Context, e *entry) {
	if l.store == nil {
		return
	}
	if err := l.store.UpsertQuota(ctx, e.state); err != nil {
		zap.L().Warn("quota: persist failed, keeping in-memory state",
			zap.String("provider", e.state.ProviderID),
			zap.Int("used", e.state.Used),
			zap.Error(eris.Wrap(ErrPersistenceFailed, err.Error())),
		)
	}
}
