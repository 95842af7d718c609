package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"obyra-pricing/internal/apperrors"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	snapshotColumns = `id, provider, base_currency, quote_currency, rate::text, fetched_at, as_of_date, source_url, notes`

	insertSnapshotSQL = `INSERT INTO exchange_rate_snapshots (
        provider,
        base_currency,
        quote_currency,
        rate,
        fetched_at,
        as_of_date,
        source_url,
        notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING ` + snapshotColumns + `;`

	latestSnapshotSQL = `SELECT ` + snapshotColumns + `
    FROM exchange_rate_snapshots
    WHERE provider = $1
      AND base_currency = $2
      AND quote_currency = $3
    ORDER BY fetched_at DESC, id DESC
    LIMIT 1;`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM exchange_rate_snapshots
    WHERE fetched_at >= $1
      AND fetched_at < $2
    ORDER BY fetched_at;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM exchange_rate_snapshots
    ORDER BY fetched_at DESC, id DESC
    LIMIT $1;`

	cacColumns = `id, year, month, value::text, provider, source_url, fetched_at`

	insertCACIndexSQL = `INSERT INTO cac_indices (
        year,
        month,
        value,
        provider,
        source_url,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING ` + cacColumns + `;`

	latestCACIndexSQL = `SELECT ` + cacColumns + `
    FROM cac_indices
    WHERE year = $1
      AND month = $2
    ORDER BY (provider = 'manual') DESC, fetched_at DESC, id DESC
    LIMIT 1;`

	listRecentCACIndicesSQL = `SELECT ` + cacColumns + `
    FROM cac_indices
    ORDER BY year DESC, month DESC, fetched_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore persists exchange-rate snapshots. Rows are only ever inserted.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, provider, base, quote string) (ExchangeRateSnapshot, error)
	InsertSnapshot(ctx context.Context, snapshot ExchangeRateSnapshot) (ExchangeRateSnapshot, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]ExchangeRateSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]ExchangeRateSnapshot, error)
}

// CACStore persists construction-cost index rows. Rows are only ever inserted.
type CACStore interface {
	LatestCACIndex(ctx context.Context, year, month int) (CACIndex, error)
	InsertCACIndex(ctx context.Context, index CACIndex) (CACIndex, error)
	ListRecentCACIndices(ctx context.Context, limit int) ([]CACIndex, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to exchange-rate snapshots and CAC indices.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort: the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LatestSnapshot returns the most recently fetched snapshot for the currency pair.
func (s *Store) LatestSnapshot(ctx context.Context, provider, base, quote string) (ExchangeRateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return ExchangeRateSnapshot{}, err
	}

	snapshot, err := scanSnapshot(pool.QueryRow(ctx, latestSnapshotSQL, provider, base, quote))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRateSnapshot{}, apperrors.ErrNotFound
		}
		return ExchangeRateSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snapshot, nil
}

// InsertSnapshot appends a snapshot row and returns it with its assigned ID.
func (s *Store) InsertSnapshot(ctx context.Context, snapshot ExchangeRateSnapshot) (ExchangeRateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return ExchangeRateSnapshot{}, err
	}

	row := pool.QueryRow(ctx, insertSnapshotSQL,
		snapshot.Provider,
		snapshot.BaseCurrency,
		snapshot.QuoteCurrency,
		snapshot.Rate.String(),
		snapshot.FetchedAt,
		snapshot.AsOfDate,
		snapshot.SourceURL,
		snapshot.Notes,
	)
	saved, err := scanSnapshot(row)
	if err != nil {
		return ExchangeRateSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return saved, nil
}

// ListSnapshotsBetween lists snapshots fetched within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]ExchangeRateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending fetch time.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]ExchangeRateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// LatestCACIndex returns the preferred index row for a month: manual first, then newest.
func (s *Store) LatestCACIndex(ctx context.Context, year, month int) (CACIndex, error) {
	pool, err := s.getPool()
	if err != nil {
		return CACIndex{}, err
	}

	index, err := scanCACIndex(pool.QueryRow(ctx, latestCACIndexSQL, year, month))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CACIndex{}, apperrors.ErrNotFound
		}
		return CACIndex{}, fmt.Errorf("latest cac index: %w", err)
	}
	return index, nil
}

// InsertCACIndex appends an index row.
func (s *Store) InsertCACIndex(ctx context.Context, index CACIndex) (CACIndex, error) {
	pool, err := s.getPool()
	if err != nil {
		return CACIndex{}, err
	}

	fetchedAt := index.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, insertCACIndexSQL,
		index.Year,
		index.Month,
		index.Value.String(),
		index.Provider,
		index.SourceURL,
		fetchedAt,
	)
	saved, err := scanCACIndex(row)
	if err != nil {
		return CACIndex{}, fmt.Errorf("insert cac index: %w", err)
	}
	return saved, nil
}

// ListRecentCACIndices lists index rows, newest period first.
func (s *Store) ListRecentCACIndices(ctx context.Context, limit int) ([]CACIndex, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCACIndicesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent cac indices: %w", queryErr)
	}
	defer rows.Close()

	indices := make([]CACIndex, 0, limit)
	for rows.Next() {
		index, scanErr := scanCACIndex(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		indices = append(indices, index)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return indices, nil
}

func collectSnapshots(rows pgx.Rows) ([]ExchangeRateSnapshot, error) {
	defer rows.Close()

	snapshots := make([]ExchangeRateSnapshot, 0)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSnapshot(row pgx.Row) (ExchangeRateSnapshot, error) {
	var (
		snapshot ExchangeRateSnapshot
		rateStr  string
	)

	if err := row.Scan(
		&snapshot.ID,
		&snapshot.Provider,
		&snapshot.BaseCurrency,
		&snapshot.QuoteCurrency,
		&rateStr,
		&snapshot.FetchedAt,
		&snapshot.AsOfDate,
		&snapshot.SourceURL,
		&snapshot.Notes,
	); err != nil {
		return ExchangeRateSnapshot{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return ExchangeRateSnapshot{}, fmt.Errorf("parse rate: %w", err)
	}
	snapshot.Rate = rate
	return snapshot, nil
}

func scanCACIndex(row pgx.Row) (CACIndex, error) {
	var (
		index    CACIndex
		valueStr string
	)

	if err := row.Scan(
		&index.ID,
		&index.Year,
		&index.Month,
		&valueStr,
		&index.Provider,
		&index.SourceURL,
		&index.FetchedAt,
	); err != nil {
		return CACIndex{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return CACIndex{}, fmt.Errorf("parse cac value: %w", err)
	}
	index.Value = value
	return index, nil
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ CACStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
