// Package sheetstest provides an in-memory sheets.Client for tests.
package sheetstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/civicmesh/enroll/internal/sheets"
)

// Fake is an in-memory spreadsheet. The zero value is not usable; use New.
type Fake struct {
	mu     sync.Mutex
	tables map[string][][]string

	// Calls counts remote operations by name (read, append, update, batch).
	Calls map[string]int

	failures map[string]*failurePlan
}

type failurePlan struct {
	skip      int
	remaining int
	status    int
}

// New creates an empty fake spreadsheet.
func New() *Fake {
	return &Fake{
		tables:   make(map[string][][]string),
		Calls:    make(map[string]int),
		failures: make(map[string]*failurePlan),
	}
}

// Seed replaces a sheet's data rows.
func (f *Fake) Seed(sheet string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([][]string, len(rows))
	for i, row := range rows {
		copied[i] = append([]string(nil), row...)
	}
	f.tables[sheet] = copied
}

// Rows returns a copy of a sheet's data rows.
func (f *Fake) Rows(sheet string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.tables[sheet]
	copied := make([][]string, len(rows))
	for i, row := range rows {
		copied[i] = append([]string(nil), row...)
	}
	return copied
}

// FailNext makes the next n calls of the named operation fail with the given
// HTTP status. A zero status simulates a transport failure.
func (f *Fake) FailNext(op string, n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failurePlan{remaining: n, status: status}
}

// FailAfter is FailNext with the first skip calls of the operation left
// untouched.
func (f *Fake) FailAfter(op string, skip, n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failurePlan{skip: skip, remaining: n, status: status}
}

func (f *Fake) failureFor(op string) error {
	plan := f.failures[op]
	if plan == nil || plan.remaining == 0 {
		return nil
	}
	if plan.skip > 0 {
		plan.skip--
		return nil
	}
	plan.remaining--
	if plan.status == 0 {
		return &sheets.RemoteError{Op: op, Cause: fmt.Errorf("injected transport failure")}
	}
	return &sheets.RemoteError{Op: op, StatusCode: plan.status}
}

// Read implements sheets.Client. The range argument is ignored; the fake
// always serves the full data block, matching how the store reads.
func (f *Fake) Read(_ context.Context, sheet, _ string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["read"]++
	if err := f.failureFor("read"); err != nil {
		return nil, err
	}
	rows := f.tables[sheet]
	copied := make([][]string, len(rows))
	for i, row := range rows {
		copied[i] = append([]string(nil), row...)
	}
	return copied, nil
}

// Append implements sheets.Client.
func (f *Fake) Append(_ context.Context, sheet string, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["append"]++
	if err := f.failureFor("append"); err != nil {
		return err
	}
	f.tables[sheet] = append(f.tables[sheet], append([]string(nil), row...))
	return nil
}

// Update implements sheets.Client.
func (f *Fake) Update(_ context.Context, sheet, rng string, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["update"]++
	if err := f.failureFor("update"); err != nil {
		return err
	}
	return f.apply(sheet, rng, row)
}

// BatchUpdate implements sheets.Client.
func (f *Fake) BatchUpdate(_ context.Context, sheet string, updates []sheets.CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["batch"]++
	if err := f.failureFor("batch"); err != nil {
		return err
	}
	for _, u := range updates {
		rng := u.Range
		if i := strings.IndexByte(rng, '!'); i >= 0 {
			rng = rng[i+1:]
		}
		if err := f.apply(sheet, rng, u.Values); err != nil {
			return err
		}
	}
	return nil
}

// apply writes one row of values starting at the range's first cell.
func (f *Fake) apply(sheet, rng string, values []string) error {
	start := rng
	if i := strings.IndexByte(rng, ':'); i >= 0 {
		start = rng[:i]
	}
	col, sheetRow, err := parseCell(start)
	if err != nil {
		return err
	}
	rowIndex := sheetRow - 2 // data rows start at sheet row 2
	if rowIndex < 0 {
		return &sheets.RemoteError{Op: "update", StatusCode: 400}
	}
	rows := f.tables[sheet]
	for len(rows) <= rowIndex {
		rows = append(rows, []string{})
	}
	f.tables[sheet] = rows
	for offset, value := range values {
		target := col + offset
		for len(rows[rowIndex]) <= target {
			rows[rowIndex] = append(rows[rowIndex], "")
		}
		rows[rowIndex][target] = value
	}
	return nil
}

// parseCell splits an A1 cell reference into zero-based column and sheet row.
func parseCell(cell string) (int, int, error) {
	split := 0
	for split < len(cell) && cell[split] >= 'A' && cell[split] <= 'Z' {
		split++
	}
	if split == 0 || split == len(cell) {
		return 0, 0, fmt.Errorf("malformed cell reference %q", cell)
	}
	col := 0
	for _, letter := range cell[:split] {
		col = col*26 + int(letter-'A'+1)
	}
	row, err := strconv.Atoi(cell[split:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cell reference %q: %w", cell, err)
	}
	return col - 1, row, nil
}
