// Package state holds the explorer's session data model: the filter spec,
// sort order and page that drive a query, and the snapshot pushed to the
// widget.
package state

import (
	"encoding/json"
	"fmt"
)

// Sentinels meaning "no restriction" on a facet.
const (
	AllCategories    = "All Categories"
	AllSubcategories = "All Subcategories"
	AllCountries     = "All Countries"
	AllStates        = "All States"
)

// DateRange buckets the project launch date relative to now.
type DateRange int

const (
	AllTime DateRange = iota
	LastMonth
	Last6Months
	LastYear
	Last5Years
	Last10Years
)

var dateRangeLabels = [...]string{
	AllTime:     "All Time",
	LastMonth:   "Last Month",
	Last6Months: "Last 6 Months",
	LastYear:    "Last Year",
	Last5Years:  "Last 5 Years",
	Last10Years: "Last 10 Years",
}

var dateRangeDays = [...]int{
	AllTime:     0,
	LastMonth:   30,
	Last6Months: 182,
	LastYear:    365,
	Last5Years:  1825,
	Last10Years: 3650,
}

// DateRanges lists every bucket in display order.
func DateRanges() []DateRange {
	return []DateRange{AllTime, LastMonth, Last6Months, LastYear, Last5Years, Last10Years}
}

func (d DateRange) String() string {
	if d < 0 || int(d) >= len(dateRangeLabels) {
		return fmt.Sprintf("DateRange(%d)", int(d))
	}
	return dateRangeLabels[d]
}

// Days returns the look-back window; zero for AllTime.
func (d DateRange) Days() int {
	if d < 0 || int(d) >= len(dateRangeDays) {
		return 0
	}
	return dateRangeDays[d]
}

// ParseDateRange maps a wire label to a DateRange.
func ParseDateRange(s string) (DateRange, error) {
	for i, label := range dateRangeLabels {
		if label == s {
			return DateRange(i), nil
		}
	}
	return AllTime, fmt.Errorf("unknown date range %q", s)
}

func (d DateRange) MarshalJSON() ([]byte, error) {
	if d < 0 || int(d) >= len(dateRangeLabels) {
		return nil, fmt.Errorf("invalid date range %d", int(d))
	}
	return json.Marshal(dateRangeLabels[d])
}

func (d *DateRange) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date range: %w", err)
	}
	v, err := ParseDateRange(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// SortOrder is one of the fixed orderings offered to the user.
type SortOrder int

const (
	Popularity SortOrder = iota
	Newest
	Oldest
	MostFunded
	MostBacked
	EndDate
)

var sortOrderNames = [...]string{
	Popularity: "popularity",
	Newest:     "newest",
	Oldest:     "oldest",
	MostFunded: "mostfunded",
	MostBacked: "mostbacked",
	EndDate:    "enddate",
}

// SortOrders lists every order in display order.
func SortOrders() []SortOrder {
	return []SortOrder{Popularity, Newest, Oldest, MostFunded, MostBacked, EndDate}
}

func (s SortOrder) String() string {
	if s < 0 || int(s) >= len(sortOrderNames) {
		return fmt.Sprintf("SortOrder(%d)", int(s))
	}
	return sortOrderNames[s]
}

// ParseSortOrder maps a wire name to a SortOrder.
func ParseSortOrder(s string) (SortOrder, error) {
	for i, name := range sortOrderNames {
		if name == s {
			return SortOrder(i), nil
		}
	}
	return Popularity, fmt.Errorf("unknown sort order %q", s)
}

func (s SortOrder) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(sortOrderNames) {
		return nil, fmt.Errorf("invalid sort order %d", int(s))
	}
	return json.Marshal(sortOrderNames[s])
}

func (s *SortOrder) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("sort order: %w", err)
	}
	v, err := ParseSortOrder(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// NumericRange is an inclusive [Min, Max] interval.
type NumericRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether Min <= Max.
func (r NumericRange) Valid() bool { return r.Min <= r.Max }

// Contains reports whether v lies within the range.
func (r NumericRange) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Ranges groups the three ranged money fields.
type Ranges struct {
	Pledged NumericRange `json:"pledged"`
	Goal    NumericRange `json:"goal"`
	Raised  NumericRange `json:"raised"`
}

// FilterSpec is the full set of user-chosen facets.
type FilterSpec struct {
	Search        string    `json:"search"`
	Categories    Selection `json:"categories"`
	Subcategories Selection `json:"subcategories"`
	Countries     Selection `json:"countries"`
	States        Selection `json:"states"`
	Date          DateRange `json:"date"`
	Ranges        Ranges    `json:"ranges"`
}

// DefaultFilters returns the unrestricted spec with ranges set to bounds.
func DefaultFilters(bounds Ranges) FilterSpec {
	return FilterSpec{
		Categories:    Selection{AllCategories},
		Subcategories: Selection{AllSubcategories},
		Countries:     Selection{AllCountries},
		States:        Selection{AllStates},
		Date:          AllTime,
		Ranges:        bounds,
	}
}

// PageState is the requested page. Number is stored clamped.
type PageState struct {
	Number int
	Size   int
}

// Committed is the authoritative state a session queries against.
type Committed struct {
	Filters FilterSpec
	Sort    SortOrder
	Page    PageState
}

// Defaults returns the session's initial committed state.
func Defaults(bounds Ranges, pageSize int) Committed {
	return Committed{
		Filters: DefaultFilters(bounds),
		Sort:    Popularity,
		Page:    PageState{Number: 1, Size: pageSize},
	}
}

// Snapshot is what the backend last told the widget.
type Snapshot struct {
	Page      int        `json:"page"`
	Filters   FilterSpec `json:"filters"`
	SortOrder SortOrder  `json:"sort_order"`
}

// Snapshot captures the state that was just used for a query.
func (c Committed) Snapshot() Snapshot {
	return Snapshot{Page: c.Page.Number, Filters: c.Filters.clone(), SortOrder: c.Sort}
}

func (f FilterSpec) clone() FilterSpec {
	f.Categories = append(Selection(nil), f.Categories...)
	f.Subcategories = append(Selection(nil), f.Subcategories...)
	f.Countries = append(Selection(nil), f.Countries...)
	f.States = append(Selection(nil), f.States...)
	return f
}
