package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManualProvider tags CAC rows entered by an operator; they win over automated rows.
const ManualProvider = "manual"

// ExchangeRateSnapshot is an immutable, append-only exchange-rate observation.
// Rate is the amount of BaseCurrency paid for one unit of QuoteCurrency.
type ExchangeRateSnapshot struct {
	ID            int64
	Provider      string
	BaseCurrency  string
	QuoteCurrency string
	Rate          decimal.Decimal
	FetchedAt     time.Time
	AsOfDate      time.Time
	SourceURL     *string
	Notes         *string
}

// Age reports how old the snapshot is at now.
func (s ExchangeRateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// CACIndex is one published (or manually entered) construction-cost index value.
type CACIndex struct {
	ID        int64
	Year      int
	Month     int
	Value     decimal.Decimal
	Provider  string
	SourceURL *string
	FetchedAt time.Time
}

// Period returns the first day of the index month in UTC.
func (c CACIndex) Period() time.Time {
	return time.Date(c.Year, time.Month(c.Month), 1, 0, 0, 0, 0, time.UTC)
}

// IsManual reports whether the row is an operator override.
func (c CACIndex) IsManual() bool {
	return c.Provider == ManualProvider
}
