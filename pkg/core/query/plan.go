package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
)

// Direction of a sort.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// KeyKind selects how sort keys are cast before comparison.
type KeyKind int

const (
	KeyAny KeyKind = iota
	KeyNumber
	KeyTime
)

// OrderBy describes a single-column sort. Nulls always sort last.
type OrderBy struct {
	Column    string
	Direction Direction
	Kind      KeyKind
	index     int
}

// Plan is an immutable, unexecuted description of a query over a Handle.
// Filter, OrderBy and Select return new plans; only Count and Slice read
// the source.
type Plan struct {
	h           *dataset.Handle
	where       []Predicate
	order       *OrderBy
	project     []int
	diagnostics []string
}

// NewPlan returns the unfiltered, unsorted plan over h.
func NewPlan(h *dataset.Handle) Plan {
	return Plan{h: h}
}

// Handle returns the dataset the plan reads.
func (p Plan) Handle() *dataset.Handle { return p.h }

// Filter adds a conjunct.
func (p Plan) Filter(pred Predicate) Plan {
	p.where = append(append([]Predicate(nil), p.where...), pred)
	return p
}

// OrderBy sets the sort. When the column is missing the plan stays unsorted
// and a diagnostic is recorded.
func (p Plan) OrderBy(column string, dir Direction, kind KeyKind) Plan {
	idx := p.h.Index(column)
	if idx < 0 {
		p.order = nil
		return p.withDiagnostic(fmt.Sprintf("sort column %q not in schema; results unsorted", column))
	}
	p.order = &OrderBy{Column: column, Direction: dir, Kind: kind, index: idx}
	return p
}

// Select restricts the columns returned by Slice. Unknown names are skipped
// with a diagnostic.
func (p Plan) Select(columns ...string) Plan {
	project := make([]int, 0, len(columns))
	for _, name := range columns {
		idx := p.h.Index(name)
		if idx < 0 {
			p = p.withDiagnostic(fmt.Sprintf("projected column %q not in schema", name))
			continue
		}
		project = append(project, idx)
	}
	p.project = project
	return p
}

func (p Plan) withDiagnostic(msg string) Plan {
	p.diagnostics = append(append([]string(nil), p.diagnostics...), msg)
	return p
}

// Columns lists the names returned by Slice, in order.
func (p Plan) Columns() []string {
	all := p.h.Columns()
	if p.project == nil {
		return all
	}
	out := make([]string, len(p.project))
	for i, idx := range p.project {
		out[i] = all[idx]
	}
	return out
}

// Ordering reports the resolved sort, if any.
func (p Plan) Ordering() (OrderBy, bool) {
	if p.order == nil {
		return OrderBy{}, false
	}
	return *p.order, true
}

// Diagnostics returns non-fatal notes recorded while building the plan.
func (p Plan) Diagnostics() []string {
	return append([]string(nil), p.diagnostics...)
}

// Where returns the canonical text of the filter conjunction.
func (p Plan) Where() string {
	if len(p.where) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(p.where))
	for i, pred := range p.where {
		parts[i] = pred.String()
	}
	return strings.Join(parts, " AND ")
}

func (p Plan) String() string {
	s := "SELECT * FROM " + p.h.Name() + " WHERE " + p.Where()
	if p.order != nil {
		s += fmt.Sprintf(" ORDER BY %q %s NULLS LAST", p.order.Column, p.order.Direction)
	}
	return s
}

// Fingerprint identifies the filtered row set. Sort and projection do not
// change the count and are left out.
func (p Plan) Fingerprint() string {
	return fmt.Sprintf("%016x", xxh3.HashString(p.h.Name()+"\x00"+p.Where()))
}

func (p Plan) match(row dataset.Row) bool {
	for _, pred := range p.where {
		if !pred.Match(row) {
			return false
		}
	}
	return true
}

func (p Plan) projectRow(row dataset.Row) dataset.Row {
	if p.project == nil {
		return append(dataset.Row(nil), row...)
	}
	out := make(dataset.Row, len(p.project))
	for i, idx := range p.project {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// Count scans the source once and returns the number of matching rows.
func (p Plan) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.h.Scan(ctx, func(_ int64, row dataset.Row) error {
		if p.match(row) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Slice returns up to limit matching rows starting at offset, in plan order.
func (p Plan) Slice(ctx context.Context, offset, limit int64) ([]dataset.Row, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []dataset.Row{}, nil
	}
	if p.order == nil {
		return p.sliceUnsorted(ctx, offset, limit)
	}
	return p.sliceSorted(ctx, offset, limit)
}

func (p Plan) sliceUnsorted(ctx context.Context, offset, limit int64) ([]dataset.Row, error) {
	out := make([]dataset.Row, 0, limit)
	var seen int64
	err := p.h.Scan(ctx, func(_ int64, row dataset.Row) error {
		if !p.match(row) {
			return nil
		}
		seen++
		if seen <= offset {
			return nil
		}
		out = append(out, p.projectRow(row))
		if int64(len(out)) >= limit {
			return dataset.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sliceSorted collects (row index, key) for matching rows, orders them, then
// re-scans the source to project only the rows on the requested page.
func (p Plan) sliceSorted(ctx context.Context, offset, limit int64) ([]dataset.Row, error) {
	ob := *p.order
	var keys []sortKey
	err := p.h.Scan(ctx, func(index int64, row dataset.Row) error {
		if p.match(row) {
			keys = append(keys, newSortKey(index, row[ob.index], ob.Kind))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(keys)) {
		return []dataset.Row{}, nil
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return lessKeys(keys[i], keys[j], ob.Direction)
	})

	end := offset + limit
	if end > int64(len(keys)) {
		end = int64(len(keys))
	}
	page := keys[offset:end]
	slot := make(map[int64]int, len(page))
	for i, k := range page {
		slot[k.index] = i
	}

	out := make([]dataset.Row, len(page))
	remaining := len(page)
	err = p.h.Scan(ctx, func(index int64, row dataset.Row) error {
		i, ok := slot[index]
		if !ok {
			return nil
		}
		out[i] = p.projectRow(row)
		remaining--
		if remaining == 0 {
			return dataset.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, fmt.Errorf("source %s changed between scans: %d rows missing", p.h.Name(), remaining)
	}
	return out, nil
}
