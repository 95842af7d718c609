package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultBluelyticsURL = "https://api.bluelytics.com.ar/v2/latest"

// BluelyticsOptions parameterise the Bluelytics fetcher.
type BluelyticsOptions struct {
	HTTPOptions
	// Market selects "oficial" (default) or "blue".
	Market string
}

// Bluelytics reads rates from the Bluelytics public API.
type Bluelytics struct {
	opts   BluelyticsOptions
	client *http.Client
	logger zerolog.Logger
}

// NewBluelytics constructs a Bluelytics fetcher.
func NewBluelytics(opts BluelyticsOptions, logger zerolog.Logger) *Bluelytics {
	if opts.URL == "" {
		opts.URL = defaultBluelyticsURL
	}
	if opts.Market == "" {
		opts.Market = "oficial"
	}
	return &Bluelytics{
		opts:   opts,
		client: newHTTPClient(opts.Timeout),
		logger: logger.With().Str("component", "bluelytics_fetcher").Logger(),
	}
}

// Name identifies the provider in snapshot notes.
func (b *Bluelytics) Name() string { return "bluelytics" }

// FetchRate retrieves the selling rate of the configured market.
func (b *Bluelytics) FetchRate(ctx context.Context) (Quote, error) {
	payload, err := getBody(ctx, b.client, b.opts.URL, b.opts.UserAgent, "application/json")
	if err != nil {
		return Quote{}, err
	}

	var res bluelyticsResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Quote{}, fmt.Errorf("decode bluelytics response: %w", err)
	}

	market := res.Oficial
	if strings.EqualFold(b.opts.Market, "blue") {
		market = res.Blue
	}

	rate := market.ValueSell
	if !rate.IsPositive() {
		rate = market.ValueAvg
	}
	if !rate.IsPositive() {
		return Quote{}, errors.New("bluelytics returned a non-positive rate")
	}

	asOf := time.Now().UTC()
	if parsed, perr := time.Parse(time.RFC3339Nano, res.LastUpdate); perr == nil {
		asOf = parsed.UTC()
	}

	return Quote{Rate: rate, AsOf: asOf, Source: b.Name(), SourceURL: b.opts.URL}, nil
}

type bluelyticsMarket struct {
	ValueAvg  decimal.Decimal `json:"value_avg"`
	ValueSell decimal.Decimal `json:"value_sell"`
	ValueBuy  decimal.Decimal `json:"value_buy"`
}

type bluelyticsResponse struct {
	Oficial    bluelyticsMarket `json:"oficial"`
	Blue       bluelyticsMarket `json:"blue"`
	LastUpdate string           `json:"last_update"`
}

var _ ExchangeRateFetcher = (*Bluelytics)(nil)
