package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Chain tries each provider in order and returns the first successful quote.
type Chain struct {
	fetchers []ExchangeRateFetcher
	logger   zerolog.Logger
}

// NewChain builds a provider fallback chain.
func NewChain(logger zerolog.Logger, fetchers ...ExchangeRateFetcher) *Chain {
	return &Chain{fetchers: fetchers, logger: logger.With().Str("component", "fx_chain").Logger()}
}

// Name lists the chained providers.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.fetchers))
	for _, f := range c.fetchers {
		names = append(names, f.Name())
	}
	return strings.Join(names, ">")
}

// FetchRate returns the first provider quote that succeeds.
func (c *Chain) FetchRate(ctx context.Context) (Quote, error) {
	if len(c.fetchers) == 0 {
		return Quote{}, errors.New("no exchange-rate providers configured")
	}

	var errs []error
	for _, f := range c.fetchers {
		quote, err := f.FetchRate(ctx)
		if err == nil {
			return quote, nil
		}
		c.logger.Warn().Err(err).Str("provider", f.Name()).Msg("exchange-rate provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Quote{}, errors.Join(errs...)
}

var _ ExchangeRateFetcher = (*Chain)(nil)
