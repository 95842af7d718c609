package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/config"
	"obyra-pricing/internal/storage"
)

// SetCACOptions configure a manual CAC override.
type SetCACOptions struct {
	// Period is YYYY-MM.
	Period string
	Value  decimal.Decimal
}

// SetCAC stores a manual CAC value that wins over provider rows for the month.
func (a *App) SetCAC(ctx context.Context, opts SetCACOptions) error {
	period, err := time.Parse(config.BasePeriodLayout, opts.Period)
	if err != nil {
		return fmt.Errorf("%w: period must use YYYY-MM", apperrors.ErrValidation)
	}

	b, err := a.requirePersistent(ctx, "store a manual cac index")
	if err != nil {
		return err
	}
	defer b.close()

	resolver, err := a.newCACResolver(b, nil)
	if err != nil {
		return err
	}
	saved, err := resolver.SetManual(ctx, period.Year(), int(period.Month()), opts.Value)
	if err != nil {
		return err
	}

	multiplier := saved.Value.DivRound(a.Config.CAC.BaseValueDecimal(), 4)
	fmt.Fprintf(a.Out, "stored manual cac %04d-%02d = %s (multiplier %s)\n", saved.Year, saved.Month, saved.Value.String(), multiplier.StringFixed(4))
	return nil
}

// BackfillCAC fetches and stores provider values for every month in [From, To] lacking a row.
func (a *App) BackfillCAC(ctx context.Context, opts BackfillOptions) error {
	months := monthRange(opts.From.UTC(), opts.To.UTC())
	if len(months) == 0 {
		return errors.New("backfill range is empty, check --from/--to")
	}

	cacFetcher, err := a.newCACFetcher()
	if err != nil {
		return err
	}
	if cacFetcher == nil {
		return errors.New("cac.provider_url not configured; nothing to backfill from")
	}

	b, err := a.requirePersistent(ctx, "backfill cac indices")
	if err != nil {
		return err
	}
	defer b.close()

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var stored, skipped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, month := range months {
		year, m := month.Year(), int(month.Month())
		g.Go(func() error {
			if _, err := b.indices.LatestCACIndex(gctx, year, m); err == nil {
				skipped.Add(1)
				return nil
			} else if !errors.Is(err, apperrors.ErrNotFound) {
				return err
			}

			fetchCtx, cancel := context.WithTimeout(gctx, a.Config.CAC.RequestTimeout)
			quote, err := cacFetcher.FetchCAC(fetchCtx, year, m)
			cancel()
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Int("year", year).Int("month", m).Msg("backfill fetch failed")
				return nil
			}

			if opts.DryRun {
				a.Logger.Info().Int("year", year).Int("month", m).Str("value", quote.Value.String()).Msg("would store cac index")
				stored.Add(1)
				return nil
			}

			source := quote.SourceURL
			if _, err := b.indices.InsertCACIndex(gctx, storage.CACIndex{
				Year:      year,
				Month:     m,
				Value:     quote.Value,
				Provider:  cacFetcher.Name(),
				SourceURL: &source,
				FetchedAt: time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("store cac %04d-%02d: %w", year, m, err)
			}
			stored.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().Int32("stored", stored.Load()).
		Int32("skipped", skipped.Load()).
		Int32("failed", failed.Load()).
		Msg("cac backfill finished")
	if failed.Load() > 0 {
		return errors.New("some months could not be backfilled, check logs")
	}
	return nil
}

// monthRange lists the first day of every month from the month of from to the month of to.
func monthRange(from, to time.Time) []time.Time {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}
