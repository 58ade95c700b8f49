package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSchemaEmpty is returned by Open when the source exposes no columns.
	ErrSchemaEmpty = errors.New("dataset: source has no columns")
	// ErrSourceOpen wraps every failure to reach or read the source itself.
	ErrSourceOpen = errors.New("dataset: cannot open source")
)

// DuplicateColumnError reports column names that occur more than once.
type DuplicateColumnError struct {
	Names []string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("dataset: duplicate column names: %s", strings.Join(e.Names, ", "))
}

// Handle is an immutable view of a validated source. It is opened once and
// shared by every session of the process.
type Handle struct {
	src     Source
	columns []string
	index   map[string]int
}

// Open reads the source schema and validates it.
func Open(ctx context.Context, src Source) (*Handle, error) {
	columns, err := src.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSourceOpen, src.Name(), err)
	}
	if err := ValidateColumns(columns); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(columns))
	for i, name := range columns {
		index[name] = i
	}
	return &Handle{
		src:     src,
		columns: append([]string(nil), columns...),
		index:   index,
	}, nil
}

// ValidateColumns checks that a schema is non-empty and free of duplicates.
func ValidateColumns(columns []string) error {
	if len(columns) == 0 {
		return ErrSchemaEmpty
	}

	seen := make(map[string]int, len(columns))
	for _, name := range columns {
		seen[name]++
	}
	var dups []string
	for name, n := range seen {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return &DuplicateColumnError{Names: dups}
	}
	return nil
}

// Name returns the underlying source name.
func (h *Handle) Name() string { return h.src.Name() }

// Columns returns a copy of the column names in row order.
func (h *Handle) Columns() []string {
	return append([]string(nil), h.columns...)
}

// Schema returns the set of column names.
func (h *Handle) Schema() map[string]struct{} {
	set := make(map[string]struct{}, len(h.columns))
	for _, name := range h.columns {
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether the column exists.
func (h *Handle) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Index returns the row position of a column, or -1.
func (h *Handle) Index(name string) int {
	if i, ok := h.index[name]; ok {
		return i
	}
	return -1
}

// Scan streams every row of the source. Rows shorter than the schema are
// padded with nils so callers can index by column position.
func (h *Handle) Scan(ctx context.Context, fn ScanFunc) error {
	width := len(h.columns)
	err := h.src.Scan(ctx, func(index int64, row Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(row) < width {
			padded := make(Row, width)
			copy(padded, row)
			row = padded
		}
		return fn(index, row)
	})
	if errors.Is(err, ErrStopScan) {
		return nil
	}
	return err
}

// Close releases the source.
func (h *Handle) Close() error {
	return h.src.Close()
}
