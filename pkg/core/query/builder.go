// Package query turns a FilterSpec and SortOrder into a lazy Plan over a
// dataset.Handle.
package query

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
)

// ColumnMap names the dataset columns each facet reads.
type ColumnMap struct {
	Name        string `yaml:"name"`
	Creator     string `yaml:"creator"`
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
	Country     string `yaml:"country"`
	State       string `yaml:"state"`
	Pledged     string `yaml:"pledged"`
	Goal        string `yaml:"goal"`
	Raised      string `yaml:"raised"`
	Date        string `yaml:"date"`
	Deadline    string `yaml:"deadline"`
	Backers     string `yaml:"backers"`
	Popularity  string `yaml:"popularity"`
	Link        string `yaml:"link"`
}

// DefaultColumns returns the column names of the published project export.
func DefaultColumns() ColumnMap {
	return ColumnMap{
		Name:        "Project Name",
		Creator:     "Creator",
		Category:    "Category",
		Subcategory: "Subcategory",
		Country:     "Country",
		State:       "State",
		Pledged:     "Raw Pledged",
		Goal:        "Raw Goal",
		Raised:      "Raw Raised",
		Date:        "Raw Date",
		Deadline:    "Raw Deadline",
		Backers:     "Backer Count",
		Popularity:  "Popularity Score",
		Link:        "Link",
	}
}

// WithDefaults fills empty names from DefaultColumns.
func (c ColumnMap) WithDefaults() ColumnMap {
	d := DefaultColumns()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.Name, d.Name)
	fill(&c.Creator, d.Creator)
	fill(&c.Category, d.Category)
	fill(&c.Subcategory, d.Subcategory)
	fill(&c.Country, d.Country)
	fill(&c.State, d.State)
	fill(&c.Pledged, d.Pledged)
	fill(&c.Goal, d.Goal)
	fill(&c.Raised, d.Raised)
	fill(&c.Date, d.Date)
	fill(&c.Deadline, d.Deadline)
	fill(&c.Backers, d.Backers)
	fill(&c.Popularity, d.Popularity)
	fill(&c.Link, d.Link)
	return c
}

// SortKey resolves a sort order to its column, direction and key kind.
func (c ColumnMap) SortKey(s state.SortOrder) (string, Direction, KeyKind) {
	switch s {
	case state.Newest:
		return c.Date, Desc, KeyTime
	case state.Oldest:
		return c.Date, Asc, KeyTime
	case state.MostFunded:
		return c.Pledged, Desc, KeyNumber
	case state.MostBacked:
		return c.Backers, Desc, KeyNumber
	case state.EndDate:
		return c.Deadline, Desc, KeyTime
	default:
		return c.Popularity, Desc, KeyNumber
	}
}

// Builder composes plans. The zero value is not usable; see NewBuilder.
type Builder struct {
	Columns ColumnMap
	Now     func() time.Time
	Logger  zerolog.Logger
}

// NewBuilder returns a builder over cols using the wall clock.
func NewBuilder(cols ColumnMap, logger zerolog.Logger) *Builder {
	return &Builder{Columns: cols.WithDefaults(), Now: time.Now, Logger: logger}
}

// Build composes the plan for f and s as a conjunction. Every step whose
// column is missing from h is skipped.
func (b *Builder) Build(h *dataset.Handle, f state.FilterSpec, s state.SortOrder) Plan {
	cols := b.Columns
	plan := NewPlan(h)

	lookup := func(name string) (column, bool) {
		idx := h.Index(name)
		return column{name: name, index: idx}, idx >= 0
	}

	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		var anyOf []Predicate
		for _, name := range []string{cols.Name, cols.Creator, cols.Category, cols.Subcategory} {
			if col, ok := lookup(name); ok {
				anyOf = append(anyOf, Contains{col: col, needle: needle})
			}
		}
		if len(anyOf) > 0 {
			plan = plan.Filter(Group{Op: Or, Items: anyOf})
		}
	}

	facets := []struct {
		name     string
		sel      state.Selection
		sentinel string
		fold     bool
	}{
		{cols.Category, f.Categories, state.AllCategories, false},
		{cols.Subcategory, f.Subcategories, state.AllSubcategories, false},
		{cols.Country, f.Countries, state.AllCountries, false},
		{cols.State, f.States, state.AllStates, true},
	}
	for _, facet := range facets {
		values := facet.sel.Values(facet.sentinel)
		if values == nil {
			continue
		}
		if col, ok := lookup(facet.name); ok {
			plan = plan.Filter(newIn(col, values, facet.fold))
		}
	}

	ranges := []struct {
		name string
		r    state.NumericRange
	}{
		{cols.Pledged, f.Ranges.Pledged},
		{cols.Goal, f.Ranges.Goal},
		{cols.Raised, f.Ranges.Raised},
	}
	for _, rg := range ranges {
		if col, ok := lookup(rg.name); ok {
			plan = plan.Filter(Between{col: col, r: rg.r})
		}
	}

	if days := f.Date.Days(); days > 0 {
		if col, ok := lookup(cols.Date); ok {
			cutoff := b.now().Add(-time.Duration(days) * 24 * time.Hour)
			plan = plan.Filter(Since{col: col, cutoff: cutoff})
		}
	}

	sortCol, dir, kind := cols.SortKey(s)
	plan = plan.OrderBy(sortCol, dir, kind)
	for _, d := range plan.Diagnostics() {
		b.Logger.Warn().Str("sort_order", s.String()).Msg(d)
	}

	b.Logger.Debug().Str("plan", plan.String()).Msg("query plan built")
	return plan
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}
