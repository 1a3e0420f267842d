// Package sheets provides the transport client for the remote spreadsheet
// service that backs the registration tables.
//
// The package exposes the minimal row-level protocol the core depends on:
// ranged reads, row appends, point updates, and batched updates. Everything
// above it (caching, typed records, retries) belongs to the tablestore.
package sheets

import (
	"context"
	"fmt"
)

// CellUpdate is a single ranged write inside a batched update.
type CellUpdate struct {
	Range  string
	Values []string
}

// Client is the abstracted remote spreadsheet protocol.
//
// Implementations must be safe for concurrent use; the tablestore issues
// calls from multiple conversations at once.
type Client interface {
	// Read returns the rows in the given A1-style range of a sheet.
	Read(ctx context.Context, sheet, rng string) ([][]string, error)
	// Append appends one row after the last data row of a sheet.
	Append(ctx context.Context, sheet string, row []string) error
	// Update overwrites the given range with one row of values.
	Update(ctx context.Context, sheet, rng string, row []string) error
	// BatchUpdate applies several ranged writes in a single remote call.
	BatchUpdate(ctx context.Context, sheet string, updates []CellUpdate) error
}

// RemoteError describes a failed remote call with enough detail for the
// caller to decide whether a retry can help.
type RemoteError struct {
	Op         string
	StatusCode int // zero when the failure happened before an HTTP response
	Cause      error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying the call may succeed. Transport
// failures, rate limiting, and server errors are transient; any other
// HTTP status is a permanent caller mistake.
func (e *RemoteError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}
