package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultDolarAPIURL = "https://dolarapi.com/v1/dolares/oficial"

// DolarAPI reads the official selling rate published by dolarapi.com.
type DolarAPI struct {
	opts   HTTPOptions
	client *http.Client
	logger zerolog.Logger
}

// NewDolarAPI constructs a dolarapi.com fetcher.
func NewDolarAPI(opts HTTPOptions, logger zerolog.Logger) *DolarAPI {
	if opts.URL == "" {
		opts.URL = defaultDolarAPIURL
	}
	return &DolarAPI{
		opts:   opts,
		client: newHTTPClient(opts.Timeout),
		logger: logger.With().Str("component", "dolarapi_fetcher").Logger(),
	}
}

// Name identifies the provider in snapshot notes.
func (d *DolarAPI) Name() string { return "dolarapi" }

// FetchRate retrieves the selling rate.
func (d *DolarAPI) FetchRate(ctx context.Context) (Quote, error) {
	payload, err := getBody(ctx, d.client, d.opts.URL, d.opts.UserAgent, "application/json")
	if err != nil {
		return Quote{}, err
	}

	var res dolarAPIResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Quote{}, fmt.Errorf("decode dolarapi response: %w", err)
	}

	rate := res.Venta
	if !rate.IsPositive() {
		rate = res.Compra
	}
	if !rate.IsPositive() {
		return Quote{}, errors.New("dolarapi returned a non-positive rate")
	}

	asOf := time.Now().UTC()
	if res.FechaActualizacion != "" {
		if parsed, perr := time.Parse(time.RFC3339, res.FechaActualizacion); perr == nil {
			asOf = parsed.UTC()
		} else {
			d.logger.Debug().Err(perr).Str("value", res.FechaActualizacion).Msg("unparseable update timestamp")
		}
	}

	return Quote{Rate: rate, AsOf: asOf, Source: d.Name(), SourceURL: d.opts.URL}, nil
}

type dolarAPIResponse struct {
	Moneda             string          `json:"moneda"`
	Casa               string          `json:"casa"`
	Compra             decimal.Decimal `json:"compra"`
	Venta              decimal.Decimal `json:"venta"`
	FechaActualizacion string          `json:"fechaActualizacion"`
}

var _ ExchangeRateFetcher = (*DolarAPI)(nil)
