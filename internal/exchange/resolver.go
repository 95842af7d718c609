// Package exchange resolves the ARS/USD rate used to price budgets.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/fetcher"
	"obyra-pricing/internal/storage"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultFreshness    = time.Hour

	fallbackNote = "fallback"
)

// EnsureOptions selects the currency pair and the freshness policy for one resolution.
type EnsureOptions struct {
	Provider      string
	BaseCurrency  string
	QuoteCurrency string
	Fetcher       fetcher.ExchangeRateFetcher
	Freshness     time.Duration
	FallbackRate  *decimal.Decimal
}

// Resolver returns a usable exchange-rate snapshot, refreshing it when stale.
type Resolver struct {
	store        storage.SnapshotStore
	notifier     alerting.Notifier
	logger       zerolog.Logger
	now          func() time.Time
	fetchTimeout time.Duration
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithFetchTimeout bounds every provider call.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.fetchTimeout = timeout
		}
	}
}

// WithNotifier reports degraded resolutions to operators.
func WithNotifier(notifier alerting.Notifier) Option {
	return func(r *Resolver) {
		r.notifier = notifier
	}
}

// NewResolver wires the snapshot store into a resolver.
func NewResolver(store storage.SnapshotStore, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:        store,
		logger:       logger.With().Str("component", "exchange").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureRate returns the latest snapshot when it is fresh, otherwise fetches and stores a new one.
// A failed fetch degrades to the stale snapshot, then to the fallback rate.
func (r *Resolver) EnsureRate(ctx context.Context, opts EnsureOptions) (storage.ExchangeRateSnapshot, error) {
	if r.store == nil {
		return storage.ExchangeRateSnapshot{}, fmt.Errorf("exchange: snapshot store not configured")
	}
	if opts.Freshness <= 0 {
		opts.Freshness = defaultFreshness
	}

	now := r.now()
	latest, err := r.store.LatestSnapshot(ctx, opts.Provider, opts.BaseCurrency, opts.QuoteCurrency)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		r.logger.Warn().Err(err).Str("provider", opts.Provider).Msg("load latest snapshot failed")
	}

	if hasPrior && latest.Age(now) <= opts.Freshness {
		return latest, nil
	}

	quote, fetchErr := r.fetch(ctx, opts.Fetcher)
	if fetchErr == nil {
		snapshot := storage.ExchangeRateSnapshot{
			Provider:      opts.Provider,
			BaseCurrency:  opts.BaseCurrency,
			QuoteCurrency: opts.QuoteCurrency,
			Rate:          quote.Rate,
			FetchedAt:     now,
			AsOfDate:      asOfDate(quote.AsOf, now),
			SourceURL:     optionalString(quote.SourceURL),
			Notes:         optionalString(quote.Source),
		}
		saved, err := r.store.InsertSnapshot(ctx, snapshot)
		if err != nil {
			r.logger.Error().Err(err).Str("provider", opts.Provider).Msg("persist snapshot failed, serving unsaved quote")
			saved = snapshot
		}
		r.logger.Info().Str("provider", opts.Provider).
			Str("source", quote.Source).
			Str("rate", quote.Rate.String()).
			Msg("exchange rate refreshed")
		return saved, nil
	}

	if hasPrior {
		age := latest.Age(now)
		r.logger.Warn().Err(fetchErr).
			Str("provider", opts.Provider).
			Dur("age", age).
			Msg("exchange rate refresh failed, serving stale snapshot")
		r.notify(ctx, alerting.Notification{
			Kind:       alerting.KindRateStale,
			OccurredAt: now,
			Provider:   opts.Provider,
			Value:      latest.Rate,
			Age:        age,
			Detail:     fetchErr.Error(),
		})
		return latest, nil
	}

	if opts.FallbackRate == nil || !opts.FallbackRate.IsPositive() {
		r.logger.Error().Err(fetchErr).Str("provider", opts.Provider).Msg("no exchange rate available")
		return storage.ExchangeRateSnapshot{}, fmt.Errorf("%w: %s/%s: %v", apperrors.ErrConfiguration, opts.BaseCurrency, opts.QuoteCurrency, fetchErr)
	}

	notes := fallbackNote
	fallback := storage.ExchangeRateSnapshot{
		Provider:      opts.Provider,
		BaseCurrency:  opts.BaseCurrency,
		QuoteCurrency: opts.QuoteCurrency,
		Rate:          *opts.FallbackRate,
		FetchedAt:     now,
		AsOfDate:      asOfDate(time.Time{}, now),
		Notes:         &notes,
	}
	saved, err := r.store.InsertSnapshot(ctx, fallback)
	if err != nil {
		r.logger.Error().Err(err).Str("provider", opts.Provider).Msg("persist fallback snapshot failed")
		saved = fallback
	}
	r.logger.Warn().Err(fetchErr).
		Str("provider", opts.Provider).
		Str("rate", saved.Rate.String()).
		Msg("exchange rate unavailable, using configured fallback")
	r.notify(ctx, alerting.Notification{
		Kind:       alerting.KindRateFallback,
		OccurredAt: now,
		Provider:   opts.Provider,
		Value:      saved.Rate,
		Detail:     fetchErr.Error(),
	})
	return saved, nil
}

func (r *Resolver) fetch(ctx context.Context, f fetcher.ExchangeRateFetcher) (fetcher.Quote, error) {
	if f == nil {
		return fetcher.Quote{}, errors.New("no exchange rate fetcher configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	quote, err := f.FetchRate(fetchCtx)
	if err != nil {
		return fetcher.Quote{}, err
	}
	if !quote.Rate.IsPositive() {
		return fetcher.Quote{}, fmt.Errorf("%w: %s returned %s", apperrors.ErrInvalidExchangeRate, f.Name(), quote.Rate)
	}
	if quote.Source == "" {
		quote.Source = f.Name()
	}
	return quote, nil
}

func (r *Resolver) notify(ctx context.Context, note alerting.Notification) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, note); err != nil {
		r.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("degraded data notification failed")
	}
}

func asOfDate(asOf, now time.Time) time.Time {
	if asOf.IsZero() {
		asOf = now
	}
	y, m, d := asOf.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
