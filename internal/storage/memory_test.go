package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"obyra-pricing/internal/apperrors"
)

func TestMemoryLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.LatestSnapshot(ctx, "oficial", "ARS", "USD"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("empty store should return ErrNotFound, got %v", err)
	}

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, rate := range []int64{1000, 1010, 1005} {
		_, _ = store.InsertSnapshot(ctx, ExchangeRateSnapshot{
			Provider:      "oficial",
			BaseCurrency:  "ARS",
			QuoteCurrency: "USD",
			Rate:          decimal.NewFromInt(rate),
			FetchedAt:     base.Add(time.Duration(i) * time.Hour),
		})
	}
	_, _ = store.InsertSnapshot(ctx, ExchangeRateSnapshot{
		Provider: "blue", BaseCurrency: "ARS", QuoteCurrency: "USD",
		Rate: decimal.NewFromInt(1300), FetchedAt: base.Add(5 * time.Hour),
	})

	latest, err := store.LatestSnapshot(ctx, "oficial", "ARS", "USD")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if !latest.Rate.Equal(decimal.NewFromInt(1005)) {
		t.Fatalf("expected newest oficial rate 1005, got %s", latest.Rate)
	}
	if store.SnapshotCount() != 4 {
		t.Fatalf("expected 4 rows, got %d", store.SnapshotCount())
	}

	window, _ := store.ListSnapshotsBetween(ctx, base, base.Add(2*time.Hour))
	if len(window) != 2 {
		t.Fatalf("expected 2 snapshots in window, got %d", len(window))
	}
}

func TestMemoryLatestCACIndexPrefersManual(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	fetched := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	_, _ = store.InsertCACIndex(ctx, CACIndex{Year: 2025, Month: 3, Value: decimal.NewFromInt(11000), Provider: "manual", FetchedAt: fetched})
	_, _ = store.InsertCACIndex(ctx, CACIndex{Year: 2025, Month: 3, Value: decimal.NewFromInt(11500), Provider: "camarco", FetchedAt: fetched.Add(time.Hour)})
	_, _ = store.InsertCACIndex(ctx, CACIndex{Year: 2025, Month: 2, Value: decimal.NewFromInt(10800), Provider: "camarco", FetchedAt: fetched})

	idx, err := store.LatestCACIndex(ctx, 2025, 3)
	if err != nil {
		t.Fatalf("LatestCACIndex: %v", err)
	}
	if !idx.IsManual() || !idx.Value.Equal(decimal.NewFromInt(11000)) {
		t.Fatalf("manual row should win, got %+v", idx)
	}

	recent, _ := store.ListRecentCACIndices(ctx, 10)
	if len(recent) != 3 || recent[0].Month != 3 || recent[2].Month != 2 {
		t.Fatalf("unexpected ordering: %+v", recent)
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/obyra":   "pgx5://u:p@localhost:5432/obyra",
		"postgresql://u@db/obyra?sslmode=false": "pgx5://u@db/obyra?sslmode=false",
		"pgx5://already":                        "pgx5://already",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
