package metadata

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
)

type bounds struct {
	min, max float64
	seen     bool
}

func (b *bounds) add(v any) {
	f, ok := dataset.AsFloat(v)
	if !ok {
		return
	}
	if !b.seen {
		b.min, b.max, b.seen = f, f, true
		return
	}
	b.min = math.Min(b.min, f)
	b.max = math.Max(b.max, f)
}

func (b *bounds) rangeOr(def state.NumericRange) state.NumericRange {
	if !b.seen {
		return def
	}
	return state.NumericRange{Min: math.Floor(b.min), Max: math.Ceil(b.max)}
}

// Derive builds metadata from one scan over h. Columns missing from the
// dataset keep their defaults.
func Derive(ctx context.Context, h *dataset.Handle, cols query.ColumnMap) (*Metadata, error) {
	cols = cols.WithDefaults()
	idx := func(name string) int { return h.Index(name) }
	catIdx, subIdx := idx(cols.Category), idx(cols.Subcategory)
	countryIdx, stateIdx := idx(cols.Country), idx(cols.State)
	pledgedIdx, goalIdx, raisedIdx := idx(cols.Pledged), idx(cols.Goal), idx(cols.Raised)

	categories := map[string]map[string]struct{}{}
	subcategories := map[string]struct{}{}
	countries := map[string]struct{}{}
	states := map[string]struct{}{}
	var pledged, goal, raised bounds

	text := func(row dataset.Row, i int) (string, bool) {
		if i < 0 {
			return "", false
		}
		s, ok := dataset.AsString(row[i])
		return s, ok && s != ""
	}

	err := h.Scan(ctx, func(_ int64, row dataset.Row) error {
		cat, hasCat := text(row, catIdx)
		sub, hasSub := text(row, subIdx)
		if hasCat {
			if categories[cat] == nil {
				categories[cat] = map[string]struct{}{}
			}
			if hasSub {
				categories[cat][sub] = struct{}{}
			}
		}
		if hasSub {
			subcategories[sub] = struct{}{}
		}
		if s, ok := text(row, countryIdx); ok {
			countries[s] = struct{}{}
		}
		if s, ok := text(row, stateIdx); ok {
			states[s] = struct{}{}
		}
		if pledgedIdx >= 0 {
			pledged.add(row[pledgedIdx])
		}
		if goalIdx >= 0 {
			goal.add(row[goalIdx])
		}
		if raisedIdx >= 0 {
			raised.add(row[raisedIdx])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("derive metadata from %s: %w", h.Name(), err)
	}

	m := Default()
	m.Categories = withSentinel(state.AllCategories, keys(categories))
	m.Subcategories = withSentinel(state.AllSubcategories, setKeys(subcategories))
	m.Countries = withSentinel(state.AllCountries, setKeys(countries))
	m.States = withSentinel(state.AllStates, setKeys(states))

	m.CategoryMap = state.CategoryMap{}
	for cat, subs := range categories {
		m.CategoryMap[cat] = withSentinel(state.AllSubcategories, setKeys(subs))
	}
	m.CategoryMap = fixCategoryMap(m.CategoryMap, m.Subcategories)

	m.MinMax = state.Ranges{
		Pledged: pledged.rangeOr(DefaultBounds.Pledged),
		Goal:    goal.rangeOr(DefaultBounds.Goal),
		Raised:  raised.rangeOr(DefaultBounds.Raised),
	}
	return m, nil
}

func keys(m map[string]map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func withSentinel(sentinel string, values []string) []string {
	return append([]string{sentinel}, values...)
}
