package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
)

// Predicate tests one row. String returns a stable textual form used in
// logs and count-cache keys.
type Predicate interface {
	Match(row dataset.Row) bool
	String() string
}

// Op joins the members of a Group.
type Op string

const (
	And Op = "AND"
	Or  Op = "OR"
)

// Group combines predicates with AND or OR, short-circuiting as soon as the
// outcome is known.
type Group struct {
	Op    Op
	Items []Predicate
}

func (g Group) Match(row dataset.Row) bool {
	if g.Op == Or {
		for _, p := range g.Items {
			if p.Match(row) {
				return true
			}
		}
		return false
	}
	for _, p := range g.Items {
		if !p.Match(row) {
			return false
		}
	}
	return true
}

func (g Group) String() string {
	parts := make([]string, len(g.Items))
	for i, p := range g.Items {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, " "+string(g.Op)+" ") + ")"
}

// column addresses one field of a row by position.
type column struct {
	name  string
	index int
}

func (c column) value(row dataset.Row) any {
	if c.index < 0 || c.index >= len(row) {
		return nil
	}
	return row[c.index]
}

// Contains is a case-insensitive literal substring test.
type Contains struct {
	col    column
	needle string
}

func (p Contains) Match(row dataset.Row) bool {
	s, ok := dataset.AsString(p.col.value(row))
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(s), p.needle)
}

func (p Contains) String() string {
	return fmt.Sprintf("lower(%s) CONTAINS %s", strconv.Quote(p.col.name), strconv.Quote(p.needle))
}

// In is set membership, optionally case-insensitive.
type In struct {
	col    column
	values map[string]struct{}
	fold   bool
}

func newIn(col column, values []string, fold bool) In {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if fold {
			v = strings.ToLower(v)
		}
		set[v] = struct{}{}
	}
	return In{col: col, values: set, fold: fold}
}

func (p In) Match(row dataset.Row) bool {
	s, ok := dataset.AsString(p.col.value(row))
	if !ok {
		return false
	}
	if p.fold {
		s = strings.ToLower(s)
	}
	_, hit := p.values[s]
	return hit
}

func (p In) String() string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, strconv.Quote(k))
	}
	sort.Strings(keys)
	name := strconv.Quote(p.col.name)
	if p.fold {
		name = "lower(" + name + ")"
	}
	return fmt.Sprintf("%s IN (%s)", name, strings.Join(keys, ","))
}

// Between is an inclusive numeric range test. Null and non-numeric values
// never match.
type Between struct {
	col column
	r   state.NumericRange
}

func (p Between) Match(row dataset.Row) bool {
	f, ok := dataset.AsFloat(p.col.value(row))
	return ok && p.r.Contains(f)
}

func (p Between) String() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", strconv.Quote(p.col.name),
		strconv.FormatFloat(p.r.Min, 'g', -1, 64), strconv.FormatFloat(p.r.Max, 'g', -1, 64))
}

// Since keeps rows whose timestamp is at or after Cutoff. Values that do
// not parse as a timestamp never match.
type Since struct {
	col    column
	cutoff time.Time
}

func (p Since) Match(row dataset.Row) bool {
	t, ok := dataset.AsTime(p.col.value(row))
	return ok && !t.Before(p.cutoff)
}

func (p Since) String() string {
	return fmt.Sprintf("timestamp(%s) >= %s", strconv.Quote(p.col.name), p.cutoff.UTC().Format(time.RFC3339))
}
