// Package metadata provides the static filter vocabulary and numeric bounds
// shown by the widget. It is loaded once per process.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
)

// LoadError reports that the metadata file could not be used. Load still
// returns usable defaults alongside it.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("metadata: cannot load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// FilterOptions is the vocabulary offered by each selector.
type FilterOptions struct {
	Categories []string `json:"categories"`
	Countries  []string `json:"countries"`
	States     []string `json:"states"`
	DateRanges []string `json:"date_ranges"`
}

// Metadata is the read-only value object shared by every session.
type Metadata struct {
	Categories    []string          `json:"categories"`
	Subcategories []string          `json:"subcategories"`
	Countries     []string          `json:"countries"`
	States        []string          `json:"states"`
	DateRanges    []string          `json:"date_ranges"`
	CategoryMap   state.CategoryMap `json:"category_subcategory_map"`
	MinMax        state.Ranges      `json:"min_max_values"`
}

// DefaultBounds are used when the file has no min_max_values.
var DefaultBounds = state.Ranges{
	Pledged: state.NumericRange{Min: 0, Max: 1000},
	Goal:    state.NumericRange{Min: 0, Max: 10000},
	Raised:  state.NumericRange{Min: 0, Max: 500},
}

func dateRangeLabels() []string {
	var out []string
	for _, d := range state.DateRanges() {
		out = append(out, d.String())
	}
	return out
}

// Default returns the vocabulary used when no file can be read.
func Default() *Metadata {
	return &Metadata{
		Categories:    []string{state.AllCategories},
		Subcategories: []string{state.AllSubcategories},
		Countries:     []string{state.AllCountries},
		States:        []string{state.AllStates},
		DateRanges:    dateRangeLabels(),
		CategoryMap:   state.CategoryMap{state.AllCategories: {state.AllSubcategories}},
		MinMax:        DefaultBounds,
	}
}

// Options returns the selector vocabulary for the widget payload.
func (m *Metadata) Options() FilterOptions {
	return FilterOptions{
		Categories: m.Categories,
		Countries:  m.Countries,
		States:     m.States,
		DateRanges: m.DateRanges,
	}
}

// Bounds returns the default numeric ranges.
func (m *Metadata) Bounds() state.Ranges { return m.MinMax }

type fileRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type fileFormat struct {
	Categories    []string             `json:"categories"`
	Subcategories []string             `json:"subcategories"`
	Countries     []string             `json:"countries"`
	States        []string             `json:"states"`
	DateRanges    []string             `json:"date_ranges"`
	CategoryMap   map[string][]string  `json:"category_subcategory_map"`
	MinMax        map[string]fileRange `json:"min_max_values"`
}

// Load reads the metadata file at path. On any read or parse failure it
// returns Default() together with a *LoadError.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), &LoadError{Path: path, Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		return Default(), &LoadError{Path: path, Err: err}
	}
	return m, nil
}

// Parse decodes a metadata document and fills every missing part from the
// defaults.
func Parse(data []byte) (*Metadata, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	m := Default()
	if len(f.Categories) > 0 {
		m.Categories = f.Categories
	}
	if len(f.Countries) > 0 {
		m.Countries = f.Countries
	}
	if len(f.States) > 0 {
		m.States = f.States
	}
	if f.DateRanges != nil {
		m.DateRanges = f.DateRanges
	}
	if len(f.Subcategories) > 0 {
		m.Subcategories = f.Subcategories
	}
	if f.CategoryMap != nil {
		m.CategoryMap = state.CategoryMap(f.CategoryMap)
	}
	m.CategoryMap = fixCategoryMap(m.CategoryMap, m.Subcategories)

	m.MinMax.Pledged = pickRange(f.MinMax, "pledged", m.MinMax.Pledged)
	m.MinMax.Goal = pickRange(f.MinMax, "goal", m.MinMax.Goal)
	m.MinMax.Raised = pickRange(f.MinMax, "raised", m.MinMax.Raised)
	return m, nil
}

func pickRange(ranges map[string]fileRange, key string, def state.NumericRange) state.NumericRange {
	r, ok := ranges[key]
	if !ok || r.Min == nil || r.Max == nil || *r.Min > *r.Max {
		return def
	}
	return state.NumericRange{Min: *r.Min, Max: *r.Max}
}

// fixCategoryMap guarantees the AllCategories entry exists, starts with
// AllSubcategories and lists every known subcategory.
func fixCategoryMap(m state.CategoryMap, subcategories []string) state.CategoryMap {
	all, ok := m[state.AllCategories]
	if !ok {
		all = []string{state.AllSubcategories}
	}
	if len(all) > 0 && !contains(all, state.AllSubcategories) {
		all = append([]string{state.AllSubcategories}, all...)
	}

	var missing []string
	for _, sub := range subcategories {
		if !contains(all, sub) {
			missing = append(missing, sub)
		}
	}
	if len(missing) > 0 {
		all = sortedUnion(append(all, missing...))
	}
	m[state.AllCategories] = all
	return m
}

// sortedUnion de-duplicates names and sorts them with AllSubcategories
// first.
func sortedUnion(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i] == state.AllSubcategories, out[j] == state.AllSubcategories
		if a != b {
			return a
		}
		return out[i] < out[j]
	})
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Write stores m as indented JSON at path.
func (m *Metadata) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata %s: %w", path, err)
	}
	return nil
}
