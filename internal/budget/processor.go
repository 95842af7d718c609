// Package budget runs priced stages through purchase rounding and attaches ARS/USD amounts.
package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/pricing"
	"obyra-pricing/internal/rounding"
)

const moneyPlaces = 2

// Money is an ARS amount with its USD counterpart when a rate is known.
type Money struct {
	ARS decimal.Decimal  `json:"ars"`
	USD *decimal.Decimal `json:"usd,omitempty"`
}

// In returns the amount in currency, falling back to ARS.
func (m Money) In(currency string) decimal.Decimal {
	if strings.EqualFold(currency, pricing.CurrencyUSD) && m.USD != nil {
		return *m.USD
	}
	return m.ARS
}

// Options control one Process call.
type Options struct {
	FXRate         *decimal.Decimal
	BaseCurrency   string
	ApplyRounding  bool
	IncludeSurplus bool
}

// Item is a line item after rounding, priced in both currencies.
type Item struct {
	Type        pricing.ItemType `json:"type"`
	Code        string           `json:"code"`
	Description string           `json:"description"`
	Unit        string           `json:"unit"`
	NetQuantity decimal.Decimal  `json:"net_quantity"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   Money            `json:"unit_price"`
	Subtotal    Money            `json:"subtotal"`
	Surplus     decimal.Decimal  `json:"surplus"`
	SurplusCost *Money           `json:"surplus_cost,omitempty"`
	Rounding    *rounding.Result `json:"rounding,omitempty"`
	Origin      string           `json:"origin"`
}

// Stage is a processed stage with recomputed totals.
type Stage struct {
	Slug       string   `json:"slug"`
	Label      string   `json:"label"`
	Tier       string   `json:"tier"`
	Items      []Item   `json:"items"`
	Materials  Money    `json:"materials"`
	Labor      Money    `json:"labor"`
	Equipment  Money    `json:"equipment"`
	Total      Money    `json:"total"`
	Confidence float64  `json:"confidence"`
	Unmodeled  bool     `json:"unmodeled,omitempty"`
	Notes      []string `json:"notes,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ProcessedBudget is the whole budget after rounding and currency attachment.
type ProcessedBudget struct {
	Currency     string           `json:"currency"`
	FXRate       *decimal.Decimal `json:"fx_rate,omitempty"`
	Stages       []Stage          `json:"stages"`
	Total        Money            `json:"total"`
	SurplusTotal *Money           `json:"surplus_total,omitempty"`
}

// Processor applies purchase rounding and dual-currency pricing. It is safe for concurrent use.
type Processor struct {
	catalog rounding.Catalog
	logger  zerolog.Logger
}

// NewProcessor builds a processor. The tenant catalog is consulted before the per-unit defaults.
func NewProcessor(catalog rounding.Catalog, logger zerolog.Logger) *Processor {
	return &Processor{
		catalog: rounding.Layered(catalog, rounding.DefaultCatalog{}),
		logger:  logger.With().Str("component", "budget").Logger(),
	}
}

// Process converts priced stages into a purchasable, dual-currency budget. Amounts are
// computed in ARS from each item's ARS unit price; USD is derived once from the rate.
func (p *Processor) Process(ctx context.Context, stages []pricing.StageResult, opts Options) (ProcessedBudget, error) {
	currency := strings.ToUpper(strings.TrimSpace(opts.BaseCurrency))
	if currency == "" {
		currency = pricing.CurrencyARS
	}
	if opts.FXRate != nil && !opts.FXRate.IsPositive() {
		return ProcessedBudget{}, fmt.Errorf("%w: rate must be positive, got %s", apperrors.ErrInvalidExchangeRate, opts.FXRate)
	}
	if currency != pricing.CurrencyARS && opts.FXRate == nil {
		return ProcessedBudget{}, fmt.Errorf("%w: %s budget without exchange rate", apperrors.ErrInvalidExchangeRate, currency)
	}

	conv := converter{rate: opts.FXRate}
	out := ProcessedBudget{
		Currency: currency,
		FXRate:   opts.FXRate,
		Stages:   make([]Stage, 0, len(stages)),
	}
	totalARS := decimal.Zero
	surplusARS := decimal.Zero

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return ProcessedBudget{}, err
		}

		processed, surplus := p.processStage(stage, opts, conv)
		totalARS = totalARS.Add(processed.Total.ARS)
		surplusARS = surplusARS.Add(surplus)
		out.Stages = append(out.Stages, processed)
	}

	out.Total = conv.money(totalARS)
	if opts.IncludeSurplus {
		surplus := conv.money(surplusARS)
		out.SurplusTotal = &surplus
	}
	return out, nil
}

func (p *Processor) processStage(stage pricing.StageResult, opts Options, conv converter) (Stage, decimal.Decimal) {
	out := Stage{
		Slug:       stage.Slug,
		Label:      stage.Label,
		Tier:       stage.Tier.Display,
		Items:      make([]Item, 0, len(stage.Items)),
		Confidence: stage.Confidence,
		Unmodeled:  stage.Unmodeled,
		Notes:      append([]string(nil), stage.Notes...),
		Error:      stage.Error,
	}

	materials, labor, equipment, surplus := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, line := range stage.Items {
		item := p.processItem(line, opts, conv, &out)
		switch item.Type {
		case pricing.ItemMaterial:
			materials = materials.Add(item.Subtotal.ARS)
			if item.SurplusCost != nil {
				surplus = surplus.Add(item.SurplusCost.ARS)
			}
		case pricing.ItemLabor:
			labor = labor.Add(item.Subtotal.ARS)
		case pricing.ItemEquipment:
			equipment = equipment.Add(item.Subtotal.ARS)
		}
		out.Items = append(out.Items, item)
	}

	out.Materials = conv.money(materials)
	out.Labor = conv.money(labor)
	out.Equipment = conv.money(equipment)
	out.Total = conv.money(materials.Add(labor).Add(equipment))
	return out, surplus
}

func (p *Processor) processItem(line pricing.LineItem, opts Options, conv converter, stage *Stage) Item {
	item := Item{
		Type:        line.Type,
		Code:        line.Code,
		Description: line.Description,
		Unit:        line.Unit,
		NetQuantity: line.Quantity,
		Quantity:    line.Quantity,
		UnitPrice:   conv.unitMoney(line.UnitPriceARS),
		Surplus:     decimal.Zero,
		Origin:      line.Origin,
	}
	subtotalARS := line.Quantity.Mul(line.UnitPriceARS).Round(moneyPlaces)

	if line.Type == pricing.ItemMaterial && opts.ApplyRounding && line.Quantity.IsPositive() {
		packs := p.catalog.PackSizes(line.Code, line.Unit)
		result, err := rounding.RoundToPurchase(line.Quantity, packs)
		if err != nil {
			p.logger.Warn().Err(err).Str("code", line.Code).Msg("purchase rounding failed, keeping net quantity")
			stage.Notes = append(stage.Notes, fmt.Sprintf("%s: purchase rounding skipped: %v", line.Code, err))
		} else {
			item.Rounding = &result
			item.Quantity = result.TotalQty
			item.Surplus = result.Surplus
			if result.TotalCost != nil {
				subtotalARS = result.TotalCost.Round(moneyPlaces)
			} else {
				subtotalARS = result.TotalQty.Mul(line.UnitPriceARS).Round(moneyPlaces)
			}
		}
	}

	item.Subtotal = conv.money(subtotalARS)
	if line.Type == pricing.ItemMaterial && opts.IncludeSurplus {
		cost := conv.money(item.Surplus.Mul(line.UnitPriceARS).Round(moneyPlaces))
		item.SurplusCost = &cost
	}
	return item
}

type converter struct {
	rate *decimal.Decimal
}

func (c converter) money(ars decimal.Decimal) Money {
	m := Money{ARS: ars}
	if c.rate != nil {
		usd := ars.DivRound(*c.rate, moneyPlaces)
		m.USD = &usd
	}
	return m
}

// unitMoney keeps four places on USD unit prices so cheap items do not collapse to zero.
func (c converter) unitMoney(ars decimal.Decimal) Money {
	m := Money{ARS: ars}
	if c.rate != nil {
		usd := ars.DivRound(*c.rate, 4)
		m.USD = &usd
	}
	return m
}
