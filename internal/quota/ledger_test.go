package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/genroute/internal/model"
)

// mockQuotaStore implements store.QuotaStore for testing.
type mockQuotaStore struct {
	mock.Mock
}

func (m *mockQuotaStore) LoadQuotas(ctx context.Context) ([]model.QuotaState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QuotaState), args.Error(1)
}

func (m *mockQuotaStore) UpsertQuota(ctx context.Context, q model.QuotaState) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func providers(limits map[string]int) []model.ProviderDescriptor {
	var out []model.ProviderDescriptor
	for id, limit := range limits {
		out = append(out, model.ProviderDescriptor{ID: id, DailyLimit: limit})
	}
	return out
}

func TestLedger_ConsumeUntilExhausted(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"groq": 2}), WithClock(clock.Now))
	ctx := context.Background()

	assert.True(t, l.HasQuota(ctx, "groq"))
	l.Consume(ctx, "groq")
	assert.True(t, l.HasQuota(ctx, "groq"))
	l.Consume(ctx, "groq")
	assert.False(t, l.HasQuota(ctx, "groq"))

	s, ok := l.Load("groq")
	require.True(t, ok)
	assert.Equal(t, 2, s.Used)
	assert.Equal(t, 0, s.Remaining())
}

func TestLedger_UncappedAlwaysHasQuota(t *testing.T) {
	l := New(nil, providers(map[string]int{"self-hosted": 0}))
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		l.Consume(ctx, "self-hosted")
	}
	assert.True(t, l.HasQuota(ctx, "self-hosted"))
}

func TestLedger_Monotonic(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"groq": 100}), WithClock(clock.Now))
	ctx := context.Background()

	prev := 0
	for i := 0; i < 10; i++ {
		l.Consume(ctx, "groq")
		clock.Advance(time.Hour)
		s, _ := l.Load("groq")
		assert.Greater(t, s.Used, prev)
		prev = s.Used
	}
}

func TestLedger_ResetExactlyAtWindow(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"groq": 1}), WithClock(clock.Now))
	ctx := context.Background()

	l.Consume(ctx, "groq")
	assert.False(t, l.HasQuota(ctx, "groq"))

	clock.Advance(model.QuotaWindow - time.Second)
	assert.False(t, l.ResetIfDue(ctx, "groq"))
	assert.False(t, l.HasQuota(ctx, "groq"))

	clock.Advance(time.Second)
	assert.True(t, l.ResetIfDue(ctx, "groq"))
	assert.True(t, l.HasQuota(ctx, "groq"))

	s, _ := l.Load("groq")
	assert.Equal(t, 0, s.Used)
	assert.True(t, clock.Now().Equal(s.LastReset))
}

func TestLedger_ResetIdempotent(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"groq": 5}), WithClock(clock.Now))
	ctx := context.Background()

	l.Consume(ctx, "groq")
	clock.Advance(25 * time.Hour)

	assert.True(t, l.ResetIfDue(ctx, "groq"))
	first, _ := l.Load("groq")
	assert.False(t, l.ResetIfDue(ctx, "groq"))
	second, _ := l.Load("groq")
	assert.Equal(t, first, second)
}

func TestLedger_RestoreFromStore(t *testing.T) {
	clock := newClock()
	st := &mockQuotaStore{}
	st.On("LoadQuotas", mock.Anything).Return([]model.QuotaState{
		{ProviderID: "groq", Used: 9, Limit: 5, LastReset: clock.Now().Add(-time.Hour)},
	}, nil)

	l := New(st, providers(map[string]int{"groq": 10}), WithClock(clock.Now))
	l.Restore(context.Background())

	s, ok := l.Load("groq")
	require.True(t, ok)
	assert.Equal(t, 9, s.Used)
	assert.Equal(t, 10, s.Limit, "configured limit overrides persisted one")
	assert.True(t, l.HasQuota(context.Background(), "groq"))
	st.AssertExpectations(t)
}

func TestLedger_RestoreStoreUnavailable(t *testing.T) {
	st := &mockQuotaStore{}
	st.On("LoadQuotas", mock.Anything).Return(nil, errors.New("database is locked"))

	l := New(st, providers(map[string]int{"groq": 10}))
	assert.NotPanics(t, func() { l.Restore(context.Background()) })

	_, ok := l.Load("groq")
	assert.False(t, ok)

	st.On("UpsertQuota", mock.Anything, mock.Anything).Return(nil)
	assert.True(t, l.HasQuota(context.Background(), "groq"))
	l.Consume(context.Background(), "groq")
	s, _ := l.Load("groq")
	assert.Equal(t, 1, s.Used)
}

func TestLedger_PersistenceFailureKeepsIncrement(t *testing.T) {
	st := &mockQuotaStore{}
	st.On("UpsertQuota", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	l := New(st, providers(map[string]int{"groq": 10}))
	ctx := context.Background()
	l.Consume(ctx, "groq")
	l.Consume(ctx, "groq")

	s, _ := l.Load("groq")
	assert.Equal(t, 2, s.Used)
	st.AssertNumberOfCalls(t, "UpsertQuota", 2)
}

func TestLedger_ConsumePersistsUpsert(t *testing.T) {
	clock := newClock()
	st := &mockQuotaStore{}
	st.On("UpsertQuota", mock.Anything, model.QuotaState{
		ProviderID: "groq", Used: 1, Limit: 3, LastReset: clock.Now(),
	}).Return(nil).Once()

	l := New(st, providers(map[string]int{"groq": 3}), WithClock(clock.Now))
	l.Consume(context.Background(), "groq")
	st.AssertExpectations(t)
}

func TestLedger_ConcurrentConsumeCountsExactly(t *testing.T) {
	l := New(nil, providers(map[string]int{"groq": 0, "cerebras": 0}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.Consume(ctx, "groq") }()
		go func() { defer wg.Done(); l.Consume(ctx, "cerebras") }()
	}
	wg.Wait()

	g, _ := l.Load("groq")
	c, _ := l.Load("cerebras")
	assert.Equal(t, 200, g.Used)
	assert.Equal(t, 200, c.Used)
}

func TestLedger_ReserveHoldsCap(t *testing.T) {
	l := New(nil, providers(map[string]int{"groq": 3, "local": 0}))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(ctx, "groq") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
	assert.False(t, l.HasQuota(ctx, "groq"), "reservations count against the limit")

	l.Release(ctx, "groq")
	assert.True(t, l.HasQuota(ctx, "groq"))
	l.Commit(ctx, "groq")
	l.Commit(ctx, "groq")
	s, _ := l.Load("groq")
	assert.Equal(t, 2, s.Used)
	require.True(t, l.Reserve(ctx, "groq"))
	l.Commit(ctx, "groq")
	assert.False(t, l.Reserve(ctx, "groq"))

	for i := 0; i < 10; i++ {
		assert.True(t, l.Reserve(ctx, "local"))
	}
}

func TestLedger_CommitPersists(t *testing.T) {
	st := new(mockQuotaStore)
	st.On("UpsertQuota", mock.Anything, mock.MatchedBy(func(q model.QuotaState) bool {
		return q.ProviderID == "groq" && q.Used == 1
	})).Return(nil).Once()
	l := New(st, providers(map[string]int{"groq": 5}))
	ctx := context.Background()

	require.True(t, l.Reserve(ctx, "groq"))
	l.Commit(ctx, "groq")

	require.True(t, l.Reserve(ctx, "groq"))
	l.Release(ctx, "groq")

	st.AssertExpectations(t)
	s, _ := l.Load("groq")
	assert.Equal(t, 1, s.Used)
}

func TestLedger_ManualResetAndSweep(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"groq": 2, "cerebras": 2}), WithClock(clock.Now))
	ctx := context.Background()

	l.Consume(ctx, "groq")
	l.Consume(ctx, "cerebras")
	l.Reset(ctx, "groq")
	g, _ := l.Load("groq")
	assert.Equal(t, 0, g.Used)

	clock.Advance(model.QuotaWindow)
	// groq was reset at the original clock time, same as cerebras' window start.
	reset := l.Sweep(ctx)
	assert.ElementsMatch(t, []string{"groq", "cerebras"}, reset)
	assert.Empty(t, l.Sweep(ctx))
}

func TestLedger_SnapshotReflectsDueReset(t *testing.T) {
	clock := newClock()
	l := New(nil, providers(map[string]int{"b": 3, "a": 3}), WithClock(clock.Now))
	ctx := context.Background()
	l.Consume(ctx, "a")

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ProviderID)
	assert.Equal(t, 1, snap[0].Used)

	clock.Advance(model.QuotaWindow + time.Minute)
	snap = l.Snapshot()
	assert.Equal(t, 0, snap[0].Used)
	stored, _ := l.Load("a")
	assert.Equal(t, 1, stored.Used, "snapshot does not mutate state")
}
