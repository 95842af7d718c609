package rounding

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obyra-pricing/internal/apperrors"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func price(v string) *decimal.Decimal {
	p := d(v)
	return &p
}

func TestRoundToPurchaseKnownCases(t *testing.T) {
	tests := []struct {
		name     string
		required string
		sizes    []string
		packs    map[string]int64
		total    string
		surplus  string
	}{
		{name: "mixed sizes", required: "66", sizes: []string{"20", "10", "5"}, packs: map[string]int64{"20": 3, "10": 1}, total: "70", surplus: "4"},
		{name: "single size", required: "23", sizes: []string{"10"}, packs: map[string]int64{"10": 3}, total: "30", surplus: "7"},
		{name: "exact fit", required: "45", sizes: []string{"20", "5"}, packs: map[string]int64{"20": 2, "5": 1}, total: "45", surplus: "0"},
		{name: "fractional sizes", required: "1.7", sizes: []string{"1", "0.5"}, packs: map[string]int64{"1": 2}, total: "2", surplus: "0.3"},
		{name: "smaller surplus beats fewer packs", required: "21", sizes: []string{"20", "1"}, packs: map[string]int64{"20": 1, "1": 1}, total: "21", surplus: "0"},
		{name: "unsorted input", required: "12", sizes: []string{"5", "10"}, packs: map[string]int64{"10": 1, "5": 1}, total: "15", surplus: "3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var sizes []PackSize
			for _, s := range tc.sizes {
				sizes = append(sizes, PackSize{Size: d(s)})
			}

			got, err := RoundToPurchase(d(tc.required), sizes)
			require.NoError(t, err)

			assert.True(t, got.TotalQty.Equal(d(tc.total)), "total %s", got.TotalQty)
			assert.True(t, got.Surplus.Equal(d(tc.surplus)), "surplus %s", got.Surplus)
			assert.Len(t, got.Packs, len(tc.packs))
			for size, count := range tc.packs {
				assert.Equal(t, count, got.Count(d(size)), "size %s", size)
			}
			assert.Nil(t, got.TotalCost)
		})
	}
}

func TestRoundToPurchaseBreakdownOrdersLargestFirst(t *testing.T) {
	got, err := RoundToPurchase(d("66"), Sizes(d("5"), d("20"), d("10")))
	require.NoError(t, err)
	assert.Equal(t, "3 x 20 + 1 x 10 = 70 (surplus 4)", got.Breakdown)
	assert.Equal(t, int64(4), got.PackTotal())
}

func TestRoundToPurchaseZeroIsNoop(t *testing.T) {
	got, err := RoundToPurchase(decimal.Zero, Sizes(d("20"), d("10")))
	require.NoError(t, err)
	assert.Empty(t, got.Packs)
	assert.True(t, got.TotalQty.IsZero())
	assert.True(t, got.Surplus.IsZero())
	assert.Nil(t, got.TotalCost)
}

func TestRoundToPurchaseRejectsInvalidInput(t *testing.T) {
	_, err := RoundToPurchase(d("-1"), Sizes(d("10")))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = RoundToPurchase(d("5"), Sizes(d("10"), decimal.Zero))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRoundToPurchaseRejectsOversizedRequirement(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		_, err := RoundToPurchase(d("1e19"), Sizes(d("1")))
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	case <-time.After(5 * time.Second):
		t.Fatal("RoundToPurchase did not return for an oversized requirement")
	}

	_, err := RoundToPurchase(d("1000000001"), Sizes(d("1")))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	res, err := RoundToPurchase(d("999999.5"), Sizes(d("1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), res.Count(d("1")))
}

func TestRoundToPurchaseWithoutSizesCeilsToUnit(t *testing.T) {
	got, err := RoundToPurchase(d("2.4"), nil)
	require.NoError(t, err)
	assert.True(t, got.TotalQty.Equal(d("3")))
	assert.True(t, got.Surplus.Equal(d("0.6")))
	assert.Equal(t, int64(3), got.Count(decimal.NewFromInt(1)))
}

func TestRoundToPurchaseCostBreaksTies(t *testing.T) {
	// 20 = 1x20 (one pack) wins on count before cost is considered.
	got, err := RoundToPurchase(d("20"), []PackSize{
		{Size: d("20"), Price: price("900")},
		{Size: d("10"), Price: price("100")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Count(d("20")))

	// Same surplus and pack count: the cheaper mix wins.
	got, err = RoundToPurchase(d("15"), []PackSize{
		{Size: d("10"), Price: price("500")},
		{Size: d("7.5"), Price: price("50"), Name: "Balde 7,5 L"},
		{Size: d("5"), Price: price("100")},
	})
	require.NoError(t, err)
	require.NotNil(t, got.TotalCost)
	assert.True(t, got.TotalCost.Equal(d("100")), "cost %s", got.TotalCost)
	assert.Equal(t, int64(2), got.Count(d("7.5")))

	// Without a price on every size the first candidate generated is kept.
	got, err = RoundToPurchase(d("15"), []PackSize{
		{Size: d("10"), Price: price("500")},
		{Size: d("7.5")},
		{Size: d("5"), Price: price("100")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Count(d("10")))
	assert.Equal(t, int64(1), got.Count(d("5")))
	require.NotNil(t, got.TotalCost)
	assert.True(t, got.TotalCost.Equal(d("600")))
}

func TestRoundToPurchaseNeverUnderBuys(t *testing.T) {
	catalogs := [][]string{
		{"20", "10", "5", "1"},
		{"50", "25", "10"},
		{"12", "6"},
		{"1", "0.5"},
		{"7", "3"},
		{"4"},
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		var sizes []PackSize
		for _, s := range catalogs[i%len(catalogs)] {
			sizes = append(sizes, PackSize{Size: d(s)})
		}
		required := decimal.NewFromFloat(rng.Float64() * 250).Round(3)
		if !required.IsPositive() {
			continue
		}

		got, err := RoundToPurchase(required, sizes)
		require.NoError(t, err)
		assert.True(t, got.TotalQty.GreaterThanOrEqual(required), "required %s got %s with %v", required, got.TotalQty, got.Packs)
		assert.True(t, got.Surplus.Equal(got.TotalQty.Sub(required)))
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog{}

	lts := catalog.PackSizes("LATEX", "Litros")
	require.Len(t, lts, 4)
	assert.True(t, lts[0].Size.Equal(d("20")))

	kg := catalog.PackSizes("PEGAMENTO", "kg.")
	require.Len(t, kg, 4)
	assert.True(t, kg[0].Size.Equal(d("50")))

	assert.Empty(t, catalog.PackSizes("X", "jornal"))
}

func TestLayeredCatalogPrefersTenantEntries(t *testing.T) {
	tenant := MaterialCatalog{"LATEX-INTERIOR": {{Size: d("4"), Name: "Lata 4 L"}}}
	catalog := Layered(tenant, DefaultCatalog{})

	got := catalog.PackSizes("latex-interior", "lts")
	require.Len(t, got, 1)
	assert.Equal(t, "Lata 4 L", got[0].Name)

	fallback := catalog.PackSizes("FIJADOR", "lts")
	assert.Len(t, fallback, 4)
}
