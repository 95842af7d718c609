// Package cac resolves the construction-cost (CAC) index multiplier applied to reference prices.
package cac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/cache"
	"obyra-pricing/internal/fetcher"
	"obyra-pricing/internal/storage"
)

const (
	// DefaultCacheTTL keeps a resolved period in memory for an hour.
	DefaultCacheTTL    = time.Hour
	// DefaultFallbackTTL bounds how long a base-value fallback is served before the provider is retried.
	DefaultFallbackTTL = 5 * time.Minute

	defaultFetchTimeout = 5 * time.Second
	cacheSize           = 64
	multiplierPlaces    = 4
	periodLayout        = "2006-01"

	// BaseProvider tags a context built from the configured base value.
	BaseProvider = "base"
)

// Context is the index value for a month expressed relative to the base period.
type Context struct {
	Value      decimal.Decimal `json:"value"`
	Period     time.Time       `json:"period"`
	BaseValue  decimal.Decimal `json:"base_value"`
	BasePeriod time.Time       `json:"base_period"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Provider   string          `json:"provider"`
	SourceURL  *string         `json:"source_url,omitempty"`
}

// PeriodKey formats the period as YYYY-MM.
func (c Context) PeriodKey() string {
	return c.Period.Format(periodLayout)
}

// IsFallback reports whether the context was built from the base value.
func (c Context) IsFallback() bool {
	return c.Provider == BaseProvider
}

// Options configure a Resolver.
type Options struct {
	BaseValue    decimal.Decimal
	BasePeriod   time.Time
	Fetcher      fetcher.CACFetcher
	Cache        *cache.TTL[string, Context]
	FallbackTTL  time.Duration
	Notifier     alerting.Notifier
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Resolver returns the CAC context for a month, preferring stored rows over the provider.
type Resolver struct {
	store        storage.CACStore
	fetcher      fetcher.CACFetcher
	cache        *cache.TTL[string, Context]
	fallbacks    *cache.TTL[string, Context]
	notifier     alerting.Notifier
	group        singleflight.Group
	baseValue    decimal.Decimal
	basePeriod   time.Time
	fetchTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewResolver builds a resolver. A nil cache gets a default one with DefaultCacheTTL.
func NewResolver(store storage.CACStore, opts Options, logger zerolog.Logger) (*Resolver, error) {
	if !opts.BaseValue.IsPositive() {
		return nil, fmt.Errorf("%w: cac base value must be positive", apperrors.ErrValidation)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewTTL[string, Context](cacheSize, DefaultCacheTTL)
	}
	if opts.FallbackTTL <= 0 {
		opts.FallbackTTL = DefaultFallbackTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Resolver{
		store:        store,
		fetcher:      opts.Fetcher,
		cache:        opts.Cache,
		fallbacks:    cache.NewTTL[string, Context](cacheSize, opts.FallbackTTL),
		notifier:     opts.Notifier,
		baseValue:    opts.BaseValue,
		basePeriod:   monthStart(opts.BasePeriod),
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		logger:       logger.With().Str("component", "cac").Logger(),
	}, nil
}

// GetContext resolves the index for the month of target, or the current month when target is nil.
// Provider failures degrade to the base value; GetContext never fails because of them.
// Resolution is shared between concurrent callers and is not tied to any one caller's context.
func (r *Resolver) GetContext(ctx context.Context, target *time.Time) (Context, error) {
	at := r.now()
	if target != nil && !target.IsZero() {
		at = *target
	}
	period := monthStart(at)
	key := period.Format(periodLayout)

	if cached, ok := r.lookup(key); ok {
		return cached, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		if cached, ok := r.lookup(key); ok {
			return cached, nil
		}

		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*r.fetchTimeout)
		defer cancel()

		resolved := r.resolve(resolveCtx, period)
		switch {
		case resolveCtx.Err() != nil:
			r.logger.Warn().Err(resolveCtx.Err()).Str("period", key).Msg("cac resolution timed out, result not cached")
		case resolved.IsFallback():
			r.fallbacks.Set(key, resolved)
		default:
			r.cache.Set(key, resolved)
		}
		return resolved, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Context{}, res.Err
		}
		return res.Val.(Context), nil
	case <-ctx.Done():
		return Context{}, ctx.Err()
	}
}

func (r *Resolver) lookup(key string) (Context, bool) {
	if cached, ok := r.cache.Get(key); ok {
		return cached, true
	}
	return r.fallbacks.Get(key)
}

// SetManual stores an operator override for the month and drops its cached context.
func (r *Resolver) SetManual(ctx context.Context, year, month int, value decimal.Decimal) (storage.CACIndex, error) {
	if r.store == nil {
		return storage.CACIndex{}, fmt.Errorf("cac: index store not configured")
	}
	if month < 1 || month > 12 {
		return storage.CACIndex{}, fmt.Errorf("%w: month must be between 1 and 12, got %d", apperrors.ErrValidation, month)
	}
	if year < 1900 {
		return storage.CACIndex{}, fmt.Errorf("%w: implausible year %d", apperrors.ErrValidation, year)
	}
	if !value.IsPositive() {
		return storage.CACIndex{}, fmt.Errorf("%w: cac value must be positive", apperrors.ErrValidation)
	}

	saved, err := r.store.InsertCACIndex(ctx, storage.CACIndex{
		Year:      year,
		Month:     month,
		Value:     value,
		Provider:  storage.ManualProvider,
		FetchedAt: r.now(),
	})
	if err != nil {
		return storage.CACIndex{}, fmt.Errorf("store manual cac index: %w", err)
	}

	key := saved.Period().Format(periodLayout)
	r.cache.Delete(key)
	r.fallbacks.Delete(key)
	r.logger.Info().Int("year", year).Int("month", month).Str("value", value.String()).Msg("manual cac index stored")
	return saved, nil
}

// Invalidate drops every cached context.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
	r.fallbacks.Purge()
}

func (r *Resolver) resolve(ctx context.Context, period time.Time) Context {
	year, month := period.Year(), int(period.Month())

	if r.store != nil {
		row, err := r.store.LatestCACIndex(ctx, year, month)
		switch {
		case err == nil:
			return r.contextFrom(row.Value, period, row.Provider, row.SourceURL)
		case !errors.Is(err, apperrors.ErrNotFound):
			r.logger.Warn().Err(err).Int("year", year).Int("month", month).Msg("load cac index failed")
		}
	}

	quote, provider, err := r.fetch(ctx, year, month)
	if err != nil {
		r.logger.Warn().Err(err).Int("year", year).Int("month", month).Msg("cac provider unavailable, using base value")
		r.notify(ctx, period, err)
		return r.contextFrom(r.baseValue, period, BaseProvider, nil)
	}

	var sourceURL *string
	if quote.SourceURL != "" {
		source := quote.SourceURL
		sourceURL = &source
	}
	if r.store != nil {
		if _, err := r.store.InsertCACIndex(ctx, storage.CACIndex{
			Year:      year,
			Month:     month,
			Value:     quote.Value,
			Provider:  provider,
			SourceURL: sourceURL,
			FetchedAt: r.now(),
		}); err != nil {
			r.logger.Error().Err(err).Int("year", year).Int("month", month).Msg("persist cac index failed")
		}
	}
	return r.contextFrom(quote.Value, period, provider, sourceURL)
}

func (r *Resolver) fetch(ctx context.Context, year, month int) (fetcher.CACQuote, string, error) {
	if r.fetcher == nil {
		return fetcher.CACQuote{}, "", errors.New("no cac provider configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	quote, err := r.fetcher.FetchCAC(fetchCtx, year, month)
	if err != nil {
		return fetcher.CACQuote{}, "", err
	}
	if !quote.Value.IsPositive() {
		return fetcher.CACQuote{}, "", fmt.Errorf("%s returned non-positive value %s", r.fetcher.Name(), quote.Value)
	}
	return quote, r.fetcher.Name(), nil
}

func (r *Resolver) contextFrom(value decimal.Decimal, period time.Time, provider string, sourceURL *string) Context {
	return Context{
		Value:      value,
		Period:     period,
		BaseValue:  r.baseValue,
		BasePeriod: r.basePeriod,
		Multiplier: value.DivRound(r.baseValue, multiplierPlaces),
		Provider:   provider,
		SourceURL:  sourceURL,
	}
}

func (r *Resolver) notify(ctx context.Context, period time.Time, cause error) {
	if r.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:       alerting.KindCACFallback,
		OccurredAt: r.now(),
		Value:      r.baseValue,
		Detail:     fmt.Sprintf("period %s: %v", period.Format(periodLayout), cause),
	}
	if err := r.notifier.Notify(ctx, note); err != nil {
		r.logger.Error().Err(err).Msg("degraded data notification failed")
	}
}

// Neutral returns a base-value context for the month of at, with multiplier 1.
func Neutral(baseValue decimal.Decimal, basePeriod, at time.Time) Context {
	period := monthStart(at)
	return Context{
		Value:      baseValue,
		Period:     period,
		BaseValue:  baseValue,
		BasePeriod: monthStart(basePeriod),
		Multiplier: decimal.NewFromInt(1),
		Provider:   BaseProvider,
	}
}

func monthStart(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
