package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"obyra-pricing/internal/apperrors"
)

// MemoryStore keeps snapshots and CAC rows in process. It backs CLI runs without a
// configured database and resolver tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots []ExchangeRateSnapshot
	indices   []CACIndex
	nextID    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LatestSnapshot returns the newest snapshot for the currency pair.
func (m *MemoryStore) LatestSnapshot(_ context.Context, provider, base, quote string) (ExchangeRateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest ExchangeRateSnapshot
		found  bool
	)
	for _, s := range m.snapshots {
		if s.Provider != provider || s.BaseCurrency != base || s.QuoteCurrency != quote {
			continue
		}
		if !found || s.FetchedAt.After(latest.FetchedAt) || (s.FetchedAt.Equal(latest.FetchedAt) && s.ID > latest.ID) {
			latest = s
			found = true
		}
	}
	if !found {
		return ExchangeRateSnapshot{}, apperrors.ErrNotFound
	}
	return latest, nil
}

// InsertSnapshot appends a snapshot.
func (m *MemoryStore) InsertSnapshot(_ context.Context, snapshot ExchangeRateSnapshot) (ExchangeRateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	snapshot.ID = m.nextID
	m.snapshots = append(m.snapshots, snapshot)
	return snapshot, nil
}

// ListSnapshotsBetween lists snapshots fetched in [from, to), oldest first.
func (m *MemoryStore) ListSnapshotsBetween(_ context.Context, from, to time.Time) ([]ExchangeRateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ExchangeRateSnapshot, 0)
	for _, s := range m.snapshots {
		if !s.FetchedAt.Before(from) && s.FetchedAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out, nil
}

// ListRecentSnapshots lists the newest snapshots first.
func (m *MemoryStore) ListRecentSnapshots(_ context.Context, limit int) ([]ExchangeRateSnapshot, error) {
	m.mu.RLock()
	out := append([]ExchangeRateSnapshot(nil), m.snapshots...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SnapshotCount reports how many snapshots were ever written.
func (m *MemoryStore) SnapshotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// LatestCACIndex returns the manual row for the month if any, otherwise the newest row.
func (m *MemoryStore) LatestCACIndex(_ context.Context, year, month int) (CACIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best  CACIndex
		found bool
	)
	for _, idx := range m.indices {
		if idx.Year != year || idx.Month != month {
			continue
		}
		if !found || preferCAC(idx, best) {
			best = idx
			found = true
		}
	}
	if !found {
		return CACIndex{}, apperrors.ErrNotFound
	}
	return best, nil
}

// InsertCACIndex appends an index row.
func (m *MemoryStore) InsertCACIndex(_ context.Context, index CACIndex) (CACIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index.FetchedAt.IsZero() {
		index.FetchedAt = time.Now().UTC()
	}
	m.nextID++
	index.ID = m.nextID
	m.indices = append(m.indices, index)
	return index, nil
}

// ListRecentCACIndices lists index rows, newest period first.
func (m *MemoryStore) ListRecentCACIndices(_ context.Context, limit int) ([]CACIndex, error) {
	m.mu.RLock()
	out := append([]CACIndex(nil), m.indices...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Period(), out[j].Period()
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return out[i].FetchedAt.After(out[j].FetchedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CACCount reports how many index rows were ever written.
func (m *MemoryStore) CACCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices)
}

// preferCAC mirrors the SQL ordering: manual rows first, then newest fetch, then newest id.
func preferCAC(candidate, current CACIndex) bool {
	if candidate.IsManual() != current.IsManual() {
		return candidate.IsManual()
	}
	if !candidate.FetchedAt.Equal(current.FetchedAt) {
		return candidate.FetchedAt.After(current.FetchedAt)
	}
	return candidate.ID > current.ID
}

var (
	_ SnapshotStore = (*MemoryStore)(nil)
	_ CACStore      = (*MemoryStore)(nil)
)
