package budget

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/cac"
	"obyra-pricing/internal/pricing"
	"obyra-pricing/internal/rounding"
)

func pricedStages(t *testing.T, slugs ...string) []pricing.StageResult {
	t.Helper()
	engine := pricing.NewEngine(pricing.EngineOptions{}, zerolog.Nop())
	neutral := cac.Neutral(decimal.NewFromInt(10000), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Now())

	var selections []pricing.StageSelection
	for _, s := range slugs {
		selections = append(selections, pricing.StageSelection{Slug: s})
	}
	resp, err := engine.CalculateSelectedStages(pricing.Request{
		Stages:    selections,
		SurfaceM2: 220,
		Tier:      "standard",
		Currency:  "ARS",
		CAC:       neutral,
	})
	require.NoError(t, err)
	return resp.Stages
}

func itemByCode(t *testing.T, stage Stage, code string) Item {
	t.Helper()
	for _, item := range stage.Items {
		if item.Code == code {
			return item
		}
	}
	t.Fatalf("item %s not found in %s", code, stage.Slug)
	return Item{}
}

func tenantCatalog() rounding.Catalog {
	return rounding.MaterialCatalog{
		"LATEX-INTERIOR": rounding.Sizes(decimal.NewFromInt(20), decimal.NewFromInt(10), decimal.NewFromInt(5)),
	}
}

func TestProcessRoundsMaterialsAndKeepsNetQuantity(t *testing.T) {
	rate := decimal.NewFromInt(1000)
	processor := NewProcessor(tenantCatalog(), zerolog.Nop())

	out, err := processor.Process(context.Background(), pricedStages(t, "pintura"), Options{
		FXRate:         &rate,
		BaseCurrency:   "ARS",
		ApplyRounding:  true,
		IncludeSurplus: true,
	})
	require.NoError(t, err)
	require.Len(t, out.Stages, 1)
	stage := out.Stages[0]

	latex := itemByCode(t, stage, "LATEX-INTERIOR")
	assert.True(t, latex.NetQuantity.Equal(decimal.NewFromInt(66)), "net %s", latex.NetQuantity)
	assert.True(t, latex.Quantity.Equal(decimal.NewFromInt(70)), "purchase %s", latex.Quantity)
	assert.True(t, latex.Surplus.Equal(decimal.NewFromInt(4)))
	require.NotNil(t, latex.Rounding)
	assert.Equal(t, int64(3), latex.Rounding.Count(decimal.NewFromInt(20)))
	assert.True(t, latex.Subtotal.ARS.Equal(decimal.NewFromInt(364000)))
	require.NotNil(t, latex.Subtotal.USD)
	assert.True(t, latex.Subtotal.USD.Equal(decimal.NewFromInt(364)))
	require.NotNil(t, latex.SurplusCost)
	assert.True(t, latex.SurplusCost.ARS.Equal(decimal.NewFromInt(20800)))

	painter := itemByCode(t, stage, "MO-PINTOR")
	assert.Nil(t, painter.Rounding)
	assert.True(t, painter.Quantity.Equal(painter.NetQuantity))
	assert.Nil(t, painter.SurplusCost)

	assert.True(t, stage.Total.ARS.Equal(stage.Materials.ARS.Add(stage.Labor.ARS).Add(stage.Equipment.ARS)))
	assert.True(t, out.Total.ARS.Equal(stage.Total.ARS))
	require.NotNil(t, out.Total.USD)
	assert.True(t, out.Total.USD.Equal(out.Total.ARS.DivRound(rate, 2)))

	require.NotNil(t, out.SurplusTotal)
	assert.True(t, out.SurplusTotal.ARS.Equal(decimal.NewFromInt(20800)), "surplus %s", out.SurplusTotal.ARS)
	assert.True(t, out.SurplusTotal.USD.Equal(decimal.RequireFromString("20.8")))
}

func TestProcessWithoutRoundingPassesQuantitiesThrough(t *testing.T) {
	stages := pricedStages(t, "pintura")
	out, err := NewProcessor(nil, zerolog.Nop()).Process(context.Background(), stages, Options{BaseCurrency: "ARS"})
	require.NoError(t, err)

	latex := itemByCode(t, out.Stages[0], "LATEX-INTERIOR")
	assert.True(t, latex.Quantity.Equal(decimal.NewFromInt(66)))
	assert.Nil(t, latex.Rounding)
	assert.Nil(t, latex.Subtotal.USD)
	assert.Nil(t, out.SurplusTotal)
	assert.True(t, out.Total.ARS.Equal(stages[0].Total))
}

func TestProcessUsesDefaultCatalogPerUnit(t *testing.T) {
	out, err := NewProcessor(nil, zerolog.Nop()).Process(context.Background(), pricedStages(t, "fundaciones"), Options{ApplyRounding: true})
	require.NoError(t, err)

	cement := itemByCode(t, out.Stages[0], "CEM-BOLSA")
	assert.True(t, cement.Quantity.GreaterThanOrEqual(cement.NetQuantity))
	require.NotNil(t, cement.Rounding)

	for _, item := range out.Stages[0].Items {
		assert.True(t, item.Quantity.GreaterThanOrEqual(item.NetQuantity), "%s under-bought", item.Code)
	}
}

func TestProcessUSDRequiresRate(t *testing.T) {
	processor := NewProcessor(nil, zerolog.Nop())
	_, err := processor.Process(context.Background(), pricedStages(t, "pintura"), Options{BaseCurrency: "USD"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidExchangeRate)

	zero := decimal.Zero
	_, err = processor.Process(context.Background(), pricedStages(t, "pintura"), Options{FXRate: &zero})
	assert.ErrorIs(t, err, apperrors.ErrInvalidExchangeRate)
}

func TestProcessCarriesFailedAndUnmodeledStages(t *testing.T) {
	stages := []pricing.StageResult{
		{Slug: "fundaciones", Error: "invalid exchange rate", Items: []pricing.LineItem{}},
		{Slug: "piscina", Unmodeled: true, Confidence: 0.25, Notes: []string{"no rules"}, Items: []pricing.LineItem{}},
	}
	out, err := NewProcessor(nil, zerolog.Nop()).Process(context.Background(), stages, Options{ApplyRounding: true, IncludeSurplus: true})
	require.NoError(t, err)

	require.Len(t, out.Stages, 2)
	assert.Equal(t, "invalid exchange rate", out.Stages[0].Error)
	assert.True(t, out.Stages[1].Unmodeled)
	assert.True(t, out.Total.ARS.IsZero())
	require.NotNil(t, out.SurplusTotal)
	assert.True(t, out.SurplusTotal.ARS.IsZero())
}

func TestProcessHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessor(nil, zerolog.Nop()).Process(ctx, pricedStages(t, "pintura"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoneyIn(t *testing.T) {
	usd := decimal.NewFromInt(5)
	m := Money{ARS: decimal.NewFromInt(5000), USD: &usd}
	assert.True(t, m.In("usd").Equal(usd))
	assert.True(t, m.In("ARS").Equal(decimal.NewFromInt(5000)))
	assert.True(t, Money{ARS: decimal.NewFromInt(1)}.In("USD").Equal(decimal.NewFromInt(1)))
}
