// Package service wires the resolvers and engines into the estimate and refresh workflows.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"obyra-pricing/internal/cac"
	"obyra-pricing/internal/exchange"
	"obyra-pricing/internal/scheduler"
	"obyra-pricing/internal/storage"
)

// CACRefresher is a CAC resolver whose cache can be dropped before a refresh.
type CACRefresher interface {
	CACResolver
	Invalidate()
}

// RefresherOptions wire a Refresher.
type RefresherOptions struct {
	Scheduler *scheduler.Scheduler
	Rates     RateResolver
	CAC       CACRefresher
	Exchange  exchange.EnsureOptions
	// CACSchedule is a five-field cron expression evaluated in UTC. Empty disables CAC refresh.
	CACSchedule string
	Locker      storage.AdvisoryLocker
	LockKey     int64
	Now         func() time.Time
}

// Refresher keeps the stored exchange rate and CAC index warm so estimates rarely hit providers.
type Refresher struct {
	opts   RefresherOptions
	logger zerolog.Logger
}

// NewRefresher validates the options and builds a Refresher.
func NewRefresher(opts RefresherOptions, logger zerolog.Logger) (*Refresher, error) {
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler not configured")
	}
	if opts.Rates == nil {
		return nil, fmt.Errorf("rate resolver not configured")
	}
	if opts.CACSchedule != "" {
		if opts.CAC == nil {
			return nil, fmt.Errorf("cac resolver not configured")
		}
		if _, err := cron.ParseStandard(opts.CACSchedule); err != nil {
			return nil, fmt.Errorf("parse cac schedule %q: %w", opts.CACSchedule, err)
		}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Refresher{opts: opts, logger: logger.With().Str("component", "refresher").Logger()}, nil
}

// Run starts the CAC cron and blocks on the exchange-rate schedule until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if r.opts.CACSchedule != "" {
		c := cron.New(cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(r.opts.CACSchedule, func() {
			if err := r.RefreshCAC(ctx); err != nil {
				r.logger.Error().Err(err).Msg("cac refresh failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule cac refresh: %w", err)
		}
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
		r.logger.Info().Str("schedule", r.opts.CACSchedule).Msg("cac refresh scheduled")
	}

	err := r.opts.Scheduler.Run(ctx, r.RefreshRates)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RefreshRates ensures a fresh exchange-rate snapshot exists for the slot.
func (r *Refresher) RefreshRates(ctx context.Context, slot time.Time) error {
	return r.withLock(ctx, "rates", func() error {
		snapshot, err := r.opts.Rates.EnsureRate(ctx, r.opts.Exchange)
		if err != nil {
			return fmt.Errorf("refresh exchange rate: %w", err)
		}
		r.logger.Info().Time("slot", slot).
			Str("rate", snapshot.Rate.String()).
			Time("fetched_at", snapshot.FetchedAt).
			Msg("exchange rate ready")
		return nil
	})
}

// RefreshCAC drops cached contexts and resolves the current month, storing it when fetched.
func (r *Refresher) RefreshCAC(ctx context.Context) error {
	if r.opts.CAC == nil {
		return nil
	}
	return r.withLock(ctx, "cac", func() error {
		r.opts.CAC.Invalidate()
		now := r.opts.Now()
		resolved, err := r.opts.CAC.GetContext(ctx, &now)
		if err != nil {
			return fmt.Errorf("refresh cac: %w", err)
		}
		event := r.logger.Info()
		if resolved.Provider == cac.BaseProvider {
			event = r.logger.Warn()
		}
		event.Str("period", resolved.PeriodKey()).
			Str("provider", resolved.Provider).
			Str("multiplier", resolved.Multiplier.String()).
			Msg("cac index ready")
		return nil
	})
}

func (r *Refresher) withLock(ctx context.Context, job string, fn func() error) error {
	if r.opts.Locker == nil {
		return fn()
	}

	unlock, acquired, err := r.opts.Locker.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		r.logger.Warn().Err(err).Str("job", job).Msg("advisory lock failed, refreshing without lock")
		return fn()
	}
	if !acquired {
		r.logger.Debug().Str("job", job).Msg("skip refresh because advisory lock is held elsewhere")
		return nil
	}
	defer unlock()
	return fn()
}
