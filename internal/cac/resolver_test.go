package cac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/fetcher"
	"obyra-pricing/internal/storage"
)

type stubCACFetcher struct {
	calls atomic.Int32
	value decimal.Decimal
	err   error
	delay time.Duration
}

// failFirstCACFetcher makes only the first FetchCAC call fail.
type failFirstCACFetcher struct {
	stubCACFetcher
}

func (s *failFirstCACFetcher) FetchCAC(ctx context.Context, year, month int) (fetcher.CACQuote, error) {
	if s.calls.Add(1) == 1 {
		return fetcher.CACQuote{}, errors.New("provider down")
	}
	return fetcher.CACQuote{Value: s.value}, nil
}

func (s *stubCACFetcher) Name() string { return "camarco" }

func (s *stubCACFetcher) FetchCAC(ctx context.Context, year, month int) (fetcher.CACQuote, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return fetcher.CACQuote{}, ctx.Err()
		}
	}
	if s.err != nil {
		return fetcher.CACQuote{}, s.err
	}
	return fetcher.CACQuote{Value: s.value, SourceURL: "https://cac.test/index"}, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	kinds []alerting.Kind
}

func (n *countingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, note.Kind)
	return nil
}

var (
	testNow        = time.Date(2025, 3, 18, 9, 30, 0, 0, time.UTC)
	testBasePeriod = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestResolver(t *testing.T, store storage.CACStore, f fetcher.CACFetcher, notifier alerting.Notifier) *Resolver {
	t.Helper()
	r, err := NewResolver(store, Options{
		BaseValue:  decimal.NewFromInt(10000),
		BasePeriod: testBasePeriod,
		Fetcher:    f,
		Notifier:   notifier,
		Now:        func() time.Time { return testNow },
	}, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestGetContextDefaultsToNeutralMultiplier(t *testing.T) {
	notifier := &countingNotifier{}
	r := newTestResolver(t, storage.NewMemoryStore(), nil, notifier)

	got, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, got.Multiplier.Equal(decimal.NewFromInt(1)), "multiplier %s", got.Multiplier)
	assert.True(t, got.IsFallback())
	assert.Equal(t, "2025-03", got.PeriodKey())
	assert.Equal(t, []alerting.Kind{alerting.KindCACFallback}, notifier.kinds)
}

func TestGetContextProviderFailureFallsBack(t *testing.T) {
	store := storage.NewMemoryStore()
	f := &stubCACFetcher{err: errors.New("timeout")}
	r := newTestResolver(t, store, f, nil)

	got, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, got.Multiplier.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, store.CACCount(), "fallback must not be persisted")
}

func TestGetContextNonPositiveProviderValueFallsBack(t *testing.T) {
	f := &stubCACFetcher{value: decimal.Zero}
	r := newTestResolver(t, storage.NewMemoryStore(), f, nil)

	got, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, got.Multiplier.Equal(decimal.NewFromInt(1)))
}

func TestGetContextFetchesPersistsAndCaches(t *testing.T) {
	store := storage.NewMemoryStore()
	f := &stubCACFetcher{value: decimal.RequireFromString("12345.67")}
	r := newTestResolver(t, store, f, nil)

	first, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	second, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, store.CACCount())
	assert.Equal(t, "camarco", first.Provider)
	assert.True(t, first.Multiplier.Equal(decimal.RequireFromString("1.2346")), "multiplier %s", first.Multiplier)
	assert.Equal(t, first, second)
}

func TestGetContextPrefersManualRow(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_, err := store.InsertCACIndex(ctx, storage.CACIndex{Year: 2025, Month: 2, Value: decimal.NewFromInt(11000), Provider: "camarco", FetchedAt: testNow})
	require.NoError(t, err)
	_, err = store.InsertCACIndex(ctx, storage.CACIndex{Year: 2025, Month: 2, Value: decimal.NewFromInt(15000), Provider: storage.ManualProvider, FetchedAt: testNow.Add(-time.Hour)})
	require.NoError(t, err)

	f := &stubCACFetcher{value: decimal.NewFromInt(99999)}
	r := newTestResolver(t, store, f, nil)

	target := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	got, err := r.GetContext(ctx, &target)
	require.NoError(t, err)

	assert.Equal(t, int32(0), f.calls.Load())
	assert.Equal(t, storage.ManualProvider, got.Provider)
	assert.True(t, got.Multiplier.Equal(decimal.RequireFromString("1.5")))
}

func TestSetManualInvalidatesCache(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(t, store, nil, nil)
	ctx := context.Background()

	before, err := r.GetContext(ctx, nil)
	require.NoError(t, err)
	require.True(t, before.IsFallback())

	_, err = r.SetManual(ctx, 2025, 3, decimal.NewFromInt(20000))
	require.NoError(t, err)

	after, err := r.GetContext(ctx, nil)
	require.NoError(t, err)
	assert.True(t, after.Multiplier.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, storage.ManualProvider, after.Provider)
}

func TestSetManualValidates(t *testing.T) {
	r := newTestResolver(t, storage.NewMemoryStore(), nil, nil)

	_, err := r.SetManual(context.Background(), 2025, 13, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = r.SetManual(context.Background(), 2025, 3, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGetContextConcurrentMissesShareOneFetch(t *testing.T) {
	f := &stubCACFetcher{value: decimal.NewFromInt(12000), delay: 50 * time.Millisecond}
	r := newTestResolver(t, storage.NewMemoryStore(), f, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.GetContext(context.Background(), nil)
			assert.NoError(t, err)
			assert.True(t, got.Multiplier.Equal(decimal.RequireFromString("1.2")))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestNewResolverRejectsNonPositiveBase(t *testing.T) {
	_, err := NewResolver(nil, Options{BaseValue: decimal.Zero}, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGetContextCancelledCallerDoesNotPoisonCache(t *testing.T) {
	f := &stubCACFetcher{value: decimal.NewFromInt(15000), delay: 20 * time.Millisecond}
	r := newTestResolver(t, storage.NewMemoryStore(), f, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.GetContext(cancelled, nil); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	got, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "camarco", got.Provider)
	assert.True(t, got.Multiplier.Equal(decimal.RequireFromString("1.5")), "multiplier %s", got.Multiplier)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGetContextFallbackExpiresSooner(t *testing.T) {
	f := &failFirstCACFetcher{stubCACFetcher{value: decimal.NewFromInt(12000)}}
	r, err := NewResolver(storage.NewMemoryStore(), Options{
		BaseValue:   decimal.NewFromInt(10000),
		BasePeriod:  testBasePeriod,
		Fetcher:     f,
		FallbackTTL: 30 * time.Millisecond,
		Now:         func() time.Time { return testNow },
	}, zerolog.Nop())
	require.NoError(t, err)

	first, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, first.IsFallback())

	cached, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, cached.IsFallback())
	assert.Equal(t, int32(1), f.calls.Load())

	time.Sleep(80 * time.Millisecond)

	recovered, err := r.GetContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "camarco", recovered.Provider)
	assert.True(t, recovered.Multiplier.Equal(decimal.RequireFromString("1.2")))
	assert.Equal(t, int32(2), f.calls.Load())
}
