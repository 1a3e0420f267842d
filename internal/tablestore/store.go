// Package tablestore provides cached, invalidation-aware access to the
// remote registration tables.
//
// Correctness of the cache depends on every writer going through this
// package: snapshots carry no TTL and are dropped only by local mutations.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/sheets"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

// Remote retry policy. Three attempts with doubling backoff keeps a slow
// spreadsheet call well under a conversational response budget.
const (
	retryAttempts  = 3
	retryBaseDelay = 250 * time.Millisecond
)

// ErrNotFound indicates a requested row is missing from its table.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "row not found")

// tableSlot is the cache slot for one table.
//
// The version counter closes the read/write race: a read records the version
// before its remote fetch and only installs the snapshot if no mutation
// bumped the version in between, so a stale fetch can never repopulate the
// cache after an invalidation.
type tableSlot struct {
	mu      sync.Mutex
	rows    [][]string
	valid   bool
	version uint64
}

// Store is the cached table access layer.
type Store struct {
	client  sheets.Client
	metrics *metrics.Metrics
	slots   map[Table]*tableSlot
}

// New creates a Store over the given remote client.
func New(client sheets.Client, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Store{
		client:  client,
		metrics: m,
		slots: map[Table]*tableSlot{
			TableUsers:     {},
			TableExperts:   {},
			TablePositions: {},
		},
	}
}

func (s *Store) slot(table Table) *tableSlot {
	slot, ok := s.slots[table]
	if !ok {
		// Unknown tables are a programming error; fail loudly in tests.
		panic(fmt.Sprintf("tablestore: unknown table %q", table))
	}
	return slot
}

// Fetch returns the table's rows, serving the cached snapshot when present.
// Callers must treat the returned rows as read-only.
func (s *Store) Fetch(ctx context.Context, table Table) ([][]string, error) {
	slot := s.slot(table)

	slot.mu.Lock()
	if slot.valid {
		rows := slot.rows
		slot.mu.Unlock()
		s.metrics.CacheHits.WithLabelValues(string(table)).Inc()
		return rows, nil
	}
	version := slot.version
	slot.mu.Unlock()

	s.metrics.CacheMisses.WithLabelValues(string(table)).Inc()

	var rows [][]string
	err := s.withRetry(ctx, table, "read", func(ctx context.Context) error {
		var readErr error
		rows, readErr = s.client.Read(ctx, string(table), dataRange(table))
		return readErr
	})
	if err != nil {
		return nil, err
	}
	padRows(rows, tableColumns(table))

	slot.mu.Lock()
	if slot.version == version {
		slot.rows = rows
		slot.valid = true
	}
	slot.mu.Unlock()
	return rows, nil
}

// Append appends one row and invalidates the table's cache.
func (s *Store) Append(ctx context.Context, table Table, row []string) error {
	slot := s.slot(table)
	s.invalidate(slot)
	defer s.invalidate(slot)

	return s.withRetry(ctx, table, "append", func(ctx context.Context) error {
		return s.client.Append(ctx, string(table), row)
	})
}

// UpdateRow overwrites one data row by zero-based index and invalidates the
// table's cache.
func (s *Store) UpdateRow(ctx context.Context, table Table, rowIndex int, row []string) error {
	slot := s.slot(table)
	s.invalidate(slot)
	defer s.invalidate(slot)

	return s.withRetry(ctx, table, "update", func(ctx context.Context) error {
		return s.client.Update(ctx, string(table), rowRange(table, rowIndex), row)
	})
}

// UpdateCell overwrites a single cell by zero-based row and column indexes
// and invalidates the table's cache.
func (s *Store) UpdateCell(ctx context.Context, table Table, rowIndex, column int, value string) error {
	slot := s.slot(table)
	s.invalidate(slot)
	defer s.invalidate(slot)

	return s.withRetry(ctx, table, "update", func(ctx context.Context) error {
		return s.client.Update(ctx, string(table), cellRange(rowIndex, column), []string{value})
	})
}

// BatchUpdateRows overwrites several data rows in one remote call and
// invalidates the table's cache. Used to bound remote-call count on
// whole-table mutations.
func (s *Store) BatchUpdateRows(ctx context.Context, table Table, rows map[int][]string) error {
	slot := s.slot(table)
	s.invalidate(slot)
	defer s.invalidate(slot)

	updates := make([]sheets.CellUpdate, 0, len(rows))
	for rowIndex, row := range rows {
		updates = append(updates, sheets.CellUpdate{
			Range:  rowRange(table, rowIndex),
			Values: row,
		})
	}
	return s.withRetry(ctx, table, "batch update", func(ctx context.Context) error {
		return s.client.BatchUpdate(ctx, string(table), updates)
	})
}

// padRows extends every row to width cells. The values API omits trailing
// empty cells, so a row with blank tail columns comes back short.
func padRows(rows [][]string, width int) {
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
}

// FindByKey returns the first row whose keyColumn cell equals key, along
// with the row's zero-based index. Earlier rows win ties.
func (s *Store) FindByKey(ctx context.Context, table Table, keyColumn int, key string) ([]string, int, error) {
	rows, err := s.Fetch(ctx, table)
	if err != nil {
		return nil, 0, err
	}
	for i, row := range rows {
		if keyColumn < len(row) && row[keyColumn] == key {
			return row, i, nil
		}
	}
	return nil, 0, ErrNotFound
}

// invalidate drops the snapshot and bumps the version. Mutation paths call
// it before and after the remote write so neither a pre-write nor an
// in-flight stale read can reinstall old data.
func (s *Store) invalidate(slot *tableSlot) {
	slot.mu.Lock()
	slot.rows = nil
	slot.valid = false
	slot.version++
	slot.mu.Unlock()
}

// withRetry runs fn with the store's retry policy. Transient failures are
// retried with doubling backoff and surface as a REMOTE_UNAVAILABLE error
// once attempts are exhausted; permanent failures return immediately.
func (s *Store) withRetry(ctx context.Context, table Table, op string, fn func(context.Context) error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := range retryAttempts {
		if attempt > 0 {
			s.metrics.RemoteRetries.WithLabelValues(string(table)).Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.CodeRemoteUnavailable,
					fmt.Sprintf("%s %s: cancelled during retry", op, table), ctx.Err())
			}
			delay *= 2
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return fmt.Errorf("%s %s: %w", op, table, lastErr)
		}
	}
	s.metrics.RemoteFailures.WithLabelValues(string(table)).Inc()
	return apperrors.Wrap(apperrors.CodeRemoteUnavailable,
		fmt.Sprintf("%s %s: retries exhausted", op, table), lastErr)
}

// isTransient reports whether the error is worth retrying.
func isTransient(err error) bool {
	var remote *sheets.RemoteError
	if errors.As(err, &remote) {
		return remote.Transient()
	}
	return false
}
