package dataset

import "context"

// MemorySource serves rows held in memory. It backs tests and small fixtures.
type MemorySource struct {
	name    string
	columns []string
	rows    []Row
}

// NewMemorySource creates a source over the given rows. Rows are not copied.
func NewMemorySource(name string, columns []string, rows []Row) *MemorySource {
	return &MemorySource{name: name, columns: columns, rows: rows}
}

func (m *MemorySource) Name() string { return m.name }

func (m *MemorySource) Columns(context.Context) ([]string, error) {
	return m.columns, nil
}

func (m *MemorySource) Scan(ctx context.Context, fn ScanFunc) error {
	for i, row := range m.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(int64(i), row); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySource) Close() error { return nil }
