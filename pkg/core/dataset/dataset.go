// Package dataset provides the read-only handle over a columnar project source.
//
// A Handle never loads the whole source: every operation streams rows through
// Scan and keeps only what the caller asks for. Values inside a Row are one of
// nil, string, int64, float64, bool or time.Time.
package dataset

import (
	"context"
	"errors"
)

// ErrStopScan can be returned from a ScanFunc to end a scan early.
// Scan itself then returns nil.
var ErrStopScan = errors.New("dataset: stop scan")

// Row is one record aligned to Handle.Columns().
type Row []any

// ScanFunc receives every row of a source together with its zero-based
// position in source order.
type ScanFunc func(index int64, row Row) error

// Source is a columnar origin of rows.
type Source interface {
	// Name identifies the source in logs and cache keys.
	Name() string
	// Columns returns column names in row order.
	Columns(ctx context.Context) ([]string, error)
	// Scan streams all rows in a stable order.
	Scan(ctx context.Context, fn ScanFunc) error
	Close() error
}
