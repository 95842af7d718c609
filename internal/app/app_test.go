package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obyra-pricing/internal/alerting"
	"obyra-pricing/internal/apperrors"
	"obyra-pricing/internal/config"
	"obyra-pricing/internal/rounding"
	"obyra-pricing/internal/service"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DSN = ""
	cfg.CAC.ProviderURL = ""

	var out bytes.Buffer
	return &App{Config: cfg, Logger: zerolog.Nop(), Out: &out}, &out
}

func TestRoundPrintsBreakdown(t *testing.T) {
	a, out := newTestApp(t)

	err := a.Round(context.Background(), RoundOptions{
		Required: decimal.RequireFromString("66"),
		Sizes:    []decimal.Decimal{decimal.NewFromInt(20), decimal.NewFromInt(10), decimal.NewFromInt(5)},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "3 x 20 + 1 x 10 = 70 (surplus 4)")
}

func TestRoundUsesDefaultSizesForUnit(t *testing.T) {
	a, out := newTestApp(t)

	err := a.Round(context.Background(), RoundOptions{Required: decimal.RequireFromString("2.4"), Unit: "m3", JSON: true})
	require.NoError(t, err)

	var result rounding.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.TotalQty.Equal(decimal.RequireFromString("2.5")), result.TotalQty.String())
}

func TestEstimateWithoutDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"moneda":"USD","casa":"oficial","compra":980,"venta":1000,"fechaActualizacion":"2025-03-04T10:00:00Z"}`))
	}))
	defer srv.Close()

	a, out := newTestApp(t)
	a.Config.Exchange.Sources = []string{"dolarapi"}
	a.Config.Exchange.DolarAPIURL = srv.URL

	err := a.Estimate(context.Background(), EstimateOptions{
		Request: service.EstimateRequest{
			Stages:    []service.StageRequest{{Slug: "fundaciones"}},
			SurfaceM2: 100,
			Currency:  "USD",
		},
		JSON: true,
	})
	require.NoError(t, err)

	var resp service.EstimateResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "USD", resp.Currency)
	require.NotNil(t, resp.TotalUSD)
	require.NotNil(t, resp.ExchangeRateMeta)
	assert.True(t, resp.ExchangeRateMeta.Rate.Equal(decimal.NewFromInt(1000)))
	assert.True(t, resp.TotalUSD.Equal(resp.TotalARS.DivRound(decimal.NewFromInt(1000), 2)))
	assert.True(t, resp.CACMeta.IsFallback())
}

func TestSetCACValidatesPeriod(t *testing.T) {
	a, _ := newTestApp(t)

	err := a.SetCAC(context.Background(), SetCACOptions{Period: "03/2025", Value: decimal.NewFromInt(15000)})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	err = a.SetCAC(context.Background(), SetCACOptions{Period: "2025-03", Value: decimal.NewFromInt(15000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not configured")
}

func TestBackfillRequiresProvider(t *testing.T) {
	a, _ := newTestApp(t)
	from, to := mustMonth(t, "2025-01"), mustMonth(t, "2025-03")

	err := a.BackfillCAC(context.Background(), BackfillOptions{From: from, To: to, Workers: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider_url")
}

func TestMonthRangeIsInclusive(t *testing.T) {
	months := monthRange(mustMonth(t, "2024-11"), mustMonth(t, "2025-02"))
	require.Len(t, months, 4)
	assert.Equal(t, 2024, months[0].Year())
	assert.Equal(t, 2, int(months[3].Month()))

	assert.Empty(t, monthRange(mustMonth(t, "2025-02"), mustMonth(t, "2025-01")))
}

func TestSimulateAlertRequiresChannel(t *testing.T) {
	a, _ := newTestApp(t)
	err := a.SimulateAlert(context.Background(), alerting.KindCACFallback)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerting disabled")
}

func TestLoadCatalogUppercasesCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"latex-interior":[{"size":"20","price":"90000"},{"size":"10"}]}`), 0o600))

	catalog, err := loadCatalog(path)
	require.NoError(t, err)

	sizes := catalog.PackSizes("LATEX-INTERIOR", "lts")
	require.Len(t, sizes, 2)
	assert.True(t, sizes[0].Size.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, sizes[0].Price)

	none, err := loadCatalog("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func mustMonth(t *testing.T, value string) time.Time {
	t.Helper()
	at, err := time.Parse(config.BasePeriodLayout, value)
	require.NoError(t, err)
	return at
}
