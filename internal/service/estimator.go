package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/budget"
	"obyra-pricing/internal/cac"
	"obyra-pricing/internal/exchange"
	"obyra-pricing/internal/pricing"
	"obyra-pricing/internal/storage"
)

// RateResolver yields the exchange-rate snapshot for a request.
type RateResolver interface {
	EnsureRate(ctx context.Context, opts exchange.EnsureOptions) (storage.ExchangeRateSnapshot, error)
}

// CACResolver yields the index context for a month.
type CACResolver interface {
	GetContext(ctx context.Context, target *time.Time) (cac.Context, error)
}

// StageRequest selects one stage.
type StageRequest struct {
	Slug  string `json:"slug" validate:"required,max=120"`
	Label string `json:"label,omitempty" validate:"max=200"`
}

// EstimateRequest is the input of a budget estimate.
type EstimateRequest struct {
	Stages         []StageRequest `json:"stages" validate:"required,min=1,max=50,dive"`
	SurfaceM2      float64        `json:"surface_m2" validate:"gt=0,lte=10000000"`
	QualityTier    string         `json:"quality_tier" validate:"max=64"`
	Currency       string         `json:"currency" validate:"omitempty,oneof=ARS USD ars usd"`
	ApplyRounding  bool           `json:"apply_rounding"`
	IncludeSurplus bool           `json:"include_surplus"`
	TargetDate     *time.Time     `json:"target_date,omitempty"`
}

// ExchangeRateMeta describes the rate used for dual-currency amounts.
type ExchangeRateMeta struct {
	Provider      string          `json:"provider"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Rate          decimal.Decimal `json:"rate"`
	FetchedAt     time.Time       `json:"fetched_at"`
	AsOfDate      string          `json:"as_of_date"`
	SourceURL     *string         `json:"source_url,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
}

// EstimateResponse is the output of a budget estimate.
type EstimateResponse struct {
	OK               bool              `json:"ok"`
	RequestID        string            `json:"request_id"`
	Currency         string            `json:"currency"`
	QualityTier      string            `json:"quality_tier"`
	Stages           []budget.Stage    `json:"stages"`
	TotalARS         decimal.Decimal   `json:"total_ars"`
	TotalUSD         *decimal.Decimal  `json:"total_usd,omitempty"`
	ExchangeRateMeta *ExchangeRateMeta `json:"exchange_rate_meta,omitempty"`
	CACMeta          cac.Context       `json:"cac_meta"`
	SurplusTotal     *budget.Money     `json:"surplus_total,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// EstimatorOptions wire an Estimator.
type EstimatorOptions struct {
	Rates     RateResolver
	CAC       CACResolver
	Engine    *pricing.Engine
	Processor *budget.Processor
	// Exchange is the template passed to the rate resolver on every estimate.
	Exchange exchange.EnsureOptions
}

// Estimator resolves reference data, prices the stages and applies purchase rounding.
type Estimator struct {
	opts     EstimatorOptions
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewEstimator builds an Estimator.
func NewEstimator(opts EstimatorOptions, logger zerolog.Logger) (*Estimator, error) {
	if opts.Rates == nil || opts.CAC == nil || opts.Engine == nil || opts.Processor == nil {
		return nil, errors.New("estimator: rates, cac, engine and processor are required")
	}
	return &Estimator{
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "estimator").Logger(),
	}, nil
}

// Estimate prices a budget request. On failure the returned response carries OK=false and a
// user-facing message alongside the error.
func (e *Estimator) Estimate(ctx context.Context, req EstimateRequest) (EstimateResponse, error) {
	resp := EstimateResponse{RequestID: uuid.NewString(), Stages: []budget.Stage{}}
	logger := e.logger.With().Str("request_id", resp.RequestID).Logger()

	fail := func(err error) (EstimateResponse, error) {
		resp.OK = false
		resp.Error = apperrors.UserMessage(err)
		logger.Warn().Err(err).Msg("estimate failed")
		return resp, err
	}

	if err := e.validate.Struct(req); err != nil {
		return fail(validationError(err))
	}

	resp.Currency = strings.ToUpper(req.Currency)
	if resp.Currency == "" {
		resp.Currency = pricing.CurrencyARS
	}

	var (
		snapshot storage.ExchangeRateSnapshot
		cacCtx   cac.Context
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = e.opts.Rates.EnsureRate(gctx, e.opts.Exchange)
		return err
	})
	g.Go(func() error {
		var err error
		cacCtx, err = e.opts.CAC.GetContext(gctx, req.TargetDate)
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	rate := snapshot.Rate
	resp.ExchangeRateMeta = metaFromSnapshot(snapshot)
	resp.CACMeta = cacCtx
	if cacCtx.IsFallback() {
		resp.Warnings = append(resp.Warnings, "construction cost index unavailable; base prices used")
	}
	if snapshot.Notes != nil && *snapshot.Notes == "fallback" {
		resp.Warnings = append(resp.Warnings, "exchange rate provider unavailable; configured fallback rate used")
	}

	selections := make([]pricing.StageSelection, 0, len(req.Stages))
	for _, s := range req.Stages {
		selections = append(selections, pricing.StageSelection{Slug: s.Slug, Label: s.Label})
	}
	priced, err := e.opts.Engine.CalculateSelectedStages(pricing.Request{
		Stages:    selections,
		SurfaceM2: req.SurfaceM2,
		Tier:      req.QualityTier,
		Currency:  resp.Currency,
		FXRate:    &rate,
		CAC:       cacCtx,
	})
	if err != nil {
		return fail(err)
	}
	resp.QualityTier = priced.Tier.Display
	for _, s := range priced.Stages {
		switch {
		case s.Err() != nil:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("stage %s could not be priced: %s", s.Slug, apperrors.UserMessage(s.Err())))
		case s.Unmodeled:
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("stage %s has no pricing rules", s.Slug))
		}
	}

	processed, err := e.opts.Processor.Process(ctx, priced.Stages, budget.Options{
		FXRate:         &rate,
		BaseCurrency:   resp.Currency,
		ApplyRounding:  req.ApplyRounding,
		IncludeSurplus: req.IncludeSurplus,
	})
	if err != nil {
		return fail(err)
	}

	resp.OK = true
	resp.Stages = processed.Stages
	resp.TotalARS = processed.Total.ARS
	resp.TotalUSD = processed.Total.USD
	resp.SurplusTotal = processed.SurplusTotal

	logger.Info().Int("stages", len(resp.Stages)).
		Str("total_ars", resp.TotalARS.String()).
		Str("cac_period", cacCtx.PeriodKey()).
		Str("fx_rate", rate.String()).
		Msg("estimate computed")
	return resp, nil
}

func metaFromSnapshot(s storage.ExchangeRateSnapshot) *ExchangeRateMeta {
	return &ExchangeRateMeta{
		Provider:      s.Provider,
		BaseCurrency:  s.BaseCurrency,
		QuoteCurrency: s.QuoteCurrency,
		Rate:          s.Rate,
		FetchedAt:     s.FetchedAt,
		AsOfDate:      s.AsOfDate.Format(time.DateOnly),
		SourceURL:     s.SourceURL,
		Notes:         s.Notes,
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(msgs, "; "))
}
