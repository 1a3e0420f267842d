// Package positions arbitrates the fixed pool of numbered expert positions.
//
// Exclusivity is enforced in-process: every check-then-write pair for one
// position runs under that position's lock. Cross-process deployments need a
// server-side transactional update or an external lock; the remote
// spreadsheet offers neither, so operators must run a single instance.
package positions

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/tablestore"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

var (
	// ErrPositionNotFound indicates an identifier outside the provisioned
	// range or a missing row.
	ErrPositionNotFound = apperrors.New(apperrors.CodePositionNotFound, "position not found")
	// ErrPositionConflict indicates an assign attempt on an occupied position.
	ErrPositionConflict = apperrors.New(apperrors.CodePositionConflict, "position is occupied")
)

// Allocator enforces single-occupancy of numbered positions on top of the
// cached tablestore.
type Allocator struct {
	store   *tablestore.Store
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// New creates an Allocator over the given store.
func New(store *tablestore.Store, m *metrics.Metrics) *Allocator {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Allocator{
		store:   store,
		metrics: m,
		locks:   make(map[int]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations for one position.
func (a *Allocator) lockFor(positionID int) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[positionID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[positionID] = lock
	}
	return lock
}

// find locates a position row through the store's Positions cache.
func (a *Allocator) find(ctx context.Context, positionID int) (tablestore.PositionRecord, int, error) {
	if positionID <= 0 {
		return tablestore.PositionRecord{}, 0, ErrPositionNotFound
	}
	row, rowIndex, err := a.store.FindByKey(ctx, tablestore.TablePositions, 0, strconv.Itoa(positionID))
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return tablestore.PositionRecord{}, 0, ErrPositionNotFound
		}
		return tablestore.PositionRecord{}, 0, err
	}
	record, err := tablestore.ParsePositionRecord(row)
	if err != nil {
		return tablestore.PositionRecord{}, 0, fmt.Errorf("decode position row: %w", err)
	}
	return record, rowIndex, nil
}

// IsFree reports whether no expert occupies the position.
func (a *Allocator) IsFree(ctx context.Context, positionID int) (bool, error) {
	record, _, err := a.find(ctx, positionID)
	if err != nil {
		return false, err
	}
	return record.Free(), nil
}

// Assign reserves the position for a user. It re-checks occupancy under the
// position's lock before writing, so two in-process callers can never both
// commit the same position.
func (a *Allocator) Assign(ctx context.Context, positionID int, userID int64, now time.Time) error {
	lock := a.lockFor(positionID)
	lock.Lock()
	defer lock.Unlock()

	record, rowIndex, err := a.find(ctx, positionID)
	if err != nil {
		return err
	}
	if !record.Free() {
		return apperrors.WithMetadata(apperrors.CodePositionConflict, "position is occupied",
			map[string]string{"position": strconv.Itoa(positionID)})
	}

	assignedAt := now.UTC()
	record.OccupantID = userID
	record.AssignedAt = &assignedAt
	if err := a.store.UpdateRow(ctx, tablestore.TablePositions, rowIndex, record.Row()); err != nil {
		return err
	}
	a.metrics.Assignments.Inc()
	return nil
}

// Reset clears one position's occupant and assignment timestamp.
func (a *Allocator) Reset(ctx context.Context, positionID int) error {
	lock := a.lockFor(positionID)
	lock.Lock()
	defer lock.Unlock()

	record, rowIndex, err := a.find(ctx, positionID)
	if err != nil {
		return err
	}
	record.OccupantID = 0
	record.AssignedAt = nil
	return a.store.UpdateRow(ctx, tablestore.TablePositions, rowIndex, record.Row())
}

// ResetAll clears every position in a single batched remote write.
func (a *Allocator) ResetAll(ctx context.Context) error {
	rows, err := a.store.Fetch(ctx, tablestore.TablePositions)
	if err != nil {
		return err
	}
	cleared := make(map[int][]string, len(rows))
	for i, row := range rows {
		record, err := tablestore.ParsePositionRecord(row)
		if err != nil {
			return fmt.Errorf("decode position row %d: %w", i, err)
		}
		record.OccupantID = 0
		record.AssignedAt = nil
		cleared[i] = record.Row()
	}
	if len(cleared) == 0 {
		return nil
	}
	return a.store.BatchUpdateRows(ctx, tablestore.TablePositions, cleared)
}

// Provision materializes rows 1..count when the table has no data rows.
// Calling it against a populated table is a no-op, which makes boot-time
// provisioning safe to repeat.
func (a *Allocator) Provision(ctx context.Context, count int) error {
	if count <= 0 {
		return fmt.Errorf("position count must be positive, got %d", count)
	}
	rows, err := a.store.Fetch(ctx, tablestore.TablePositions)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}

	fresh := make(map[int][]string, count)
	for i := range count {
		record := tablestore.PositionRecord{
			ID:    i + 1,
			Title: fmt.Sprintf("Position %d", i+1),
		}
		fresh[i] = record.Row()
	}
	return a.store.BatchUpdateRows(ctx, tablestore.TablePositions, fresh)
}
