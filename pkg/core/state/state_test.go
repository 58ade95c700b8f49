package state

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

var testBounds = Ranges{
	Pledged: NumericRange{Min: 0, Max: 1000},
	Goal:    NumericRange{Min: 0, Max: 10000},
	Raised:  NumericRange{Min: 0, Max: 500},
}

// --- Enums ---

func TestDateRange_JSON(t *testing.T) {
	for _, d := range DateRanges() {
		b, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", d, err)
		}
		var back DateRange
		if err := json.Unmarshal(b, &back); err != nil || back != d {
			t.Errorf("round trip %s = %v, %v", b, back, err)
		}
	}
	var d DateRange
	if err := json.Unmarshal([]byte(`"Last Week"`), &d); err == nil {
		t.Error("Unmarshal(Last Week) error = nil, want error")
	}
}

func TestDateRange_Days(t *testing.T) {
	want := map[DateRange]int{AllTime: 0, LastMonth: 30, Last6Months: 182, LastYear: 365, Last5Years: 1825, Last10Years: 3650}
	for d, days := range want {
		if d.Days() != days {
			t.Errorf("%v.Days() = %d, want %d", d, d.Days(), days)
		}
	}
}

func TestSortOrder_Parse(t *testing.T) {
	for _, s := range SortOrders() {
		got, err := ParseSortOrder(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSortOrder(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseSortOrder("random"); err == nil {
		t.Error("ParseSortOrder(random) error = nil, want error")
	}
}

// --- Selection ---

func TestNewSelection_Normalizes(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want Selection
	}{
		{"empty reverts to sentinel", nil, Selection{AllCountries}},
		{"sentinel only", []string{AllCountries}, Selection{AllCountries}},
		{"sentinel dropped with concrete", []string{AllCountries, "US", "GB"}, Selection{"US", "GB"}},
		{"duplicates dropped keeping order", []string{"GB", "US", "GB"}, Selection{"GB", "US"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSelection(AllCountries, tt.in...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NewSelection(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPruneSubcategories(t *testing.T) {
	m := CategoryMap{
		AllCategories: {AllSubcategories, "Robots", "Board Games", "Zines"},
		"Technology":  {AllSubcategories, "Robots"},
		"Games":       {AllSubcategories, "Board Games"},
		"Publishing":  {AllSubcategories, "Zines"},
	}

	f := DefaultFilters(testBounds)
	f.Categories = NewSelection(AllCategories, "Technology", "Games")
	f.Subcategories = NewSelection(AllSubcategories, "Robots", "Zines")
	got := m.PruneSubcategories(f)
	if !reflect.DeepEqual(got.Subcategories, Selection{"Robots"}) {
		t.Errorf("Subcategories = %v, want [Robots]", got.Subcategories)
	}

	f.Subcategories = NewSelection(AllSubcategories, "Zines")
	got = m.PruneSubcategories(f)
	if !reflect.DeepEqual(got.Subcategories, Selection{AllSubcategories}) {
		t.Errorf("emptied Subcategories = %v, want sentinel", got.Subcategories)
	}

	f.Categories = Selection{AllCategories}
	got = m.PruneSubcategories(f)
	if !reflect.DeepEqual(got.Subcategories, Selection{"Zines"}) {
		t.Errorf("unrestricted categories changed Subcategories to %v", got.Subcategories)
	}
}

// --- Message ---

const validMessage = `{
  "page": 2,
  "sort_order": "mostfunded",
  "filters": {
    "search": "robot",
    "categories": ["Technology"],
    "subcategories": ["All Subcategories"],
    "countries": ["US", "US"],
    "states": [],
    "date": "Last Year",
    "ranges": {"pledged": {"min": 10, "max": 500}, "goal": {"min": 0, "max": 10000}, "raised": {"min": 0, "max": 500}}
  }
}`

func TestParseMessage_Structure(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"array", `[]`},
		{"null", `null`},
		{"missing sort", `{"page":1,"filters":{}}`},
		{"filters not object", `{"page":1,"sort_order":"newest","filters":[]}`},
		{"filters missing keys", `{"page":1,"sort_order":"newest","filters":{"search":""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.raw))
			var se *StructureError
			if !errors.As(err, &se) {
				t.Errorf("ParseMessage() error = %v, want *StructureError", err)
			}
		})
	}
}

func TestDecode_ValidMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(validMessage))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	got, fallbacks := msg.Decode(Defaults(testBounds, 10))
	if len(fallbacks) != 0 {
		t.Errorf("fallbacks = %v, want none", fallbacks)
	}
	if got.Page != (PageState{Number: 2, Size: 10}) {
		t.Errorf("Page = %+v", got.Page)
	}
	if got.Sort != MostFunded {
		t.Errorf("Sort = %v, want mostfunded", got.Sort)
	}
	if got.Filters.Search != "robot" || got.Filters.Date != LastYear {
		t.Errorf("Filters = %+v", got.Filters)
	}
	if !reflect.DeepEqual(got.Filters.Countries, Selection{"US"}) {
		t.Errorf("Countries = %v", got.Filters.Countries)
	}
	if !reflect.DeepEqual(got.Filters.States, Selection{AllStates}) {
		t.Errorf("States = %v, want sentinel", got.Filters.States)
	}
	if got.Filters.Ranges.Pledged != (NumericRange{Min: 10, Max: 500}) {
		t.Errorf("Pledged = %+v", got.Filters.Ranges.Pledged)
	}
}

func TestDecode_PerFieldFallback(t *testing.T) {
	raw := `{
	  "page": "two",
	  "sort_order": "sideways",
	  "filters": {
	    "search": 42,
	    "categories": ["Games"],
	    "subcategories": "Board Games",
	    "countries": ["GB"],
	    "states": ["Live", 3],
	    "date": "Yesterday",
	    "ranges": {"pledged": {"min": 900, "max": 100}, "goal": {"min": 5}, "raised": {"min": 1, "max": 2}}
	  }
	}`
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	defaults := Defaults(testBounds, 10)
	got, fallbacks := msg.Decode(defaults)

	wantFallbacks := []string{
		"page", "sort_order", "filters.search", "filters.subcategories", "filters.states",
		"filters.date", "filters.ranges.pledged", "filters.ranges.goal",
	}
	if !reflect.DeepEqual(fallbacks, wantFallbacks) {
		t.Errorf("fallbacks = %v, want %v", fallbacks, wantFallbacks)
	}

	// Valid fields are still honored.
	if !reflect.DeepEqual(got.Filters.Categories, Selection{"Games"}) {
		t.Errorf("Categories = %v", got.Filters.Categories)
	}
	if !reflect.DeepEqual(got.Filters.Countries, Selection{"GB"}) {
		t.Errorf("Countries = %v", got.Filters.Countries)
	}
	if got.Filters.Ranges.Raised != (NumericRange{Min: 1, Max: 2}) {
		t.Errorf("Raised = %+v", got.Filters.Ranges.Raised)
	}
	// Invalid fields fall back.
	if got.Page.Number != 1 || got.Sort != Popularity || got.Filters.Date != AllTime {
		t.Errorf("fallback values = %d %v %v", got.Page.Number, got.Sort, got.Filters.Date)
	}
	if got.Filters.Ranges.Pledged != testBounds.Pledged {
		t.Errorf("Pledged = %+v, want default", got.Filters.Ranges.Pledged)
	}
}

// --- Canonical ---

func TestCanonical_KeyOrderAndWhitespace(t *testing.T) {
	a, err := Canonical([]byte(`{"b": 1.0, "a": {"y": [1, 2], "x": "s"}}`))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	b, err := Canonical([]byte(`{"a":{"x":"s","y":[1,2]},"b":1}`))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("Canonical mismatch:\n%s\n%s", a, b)
	}
}

func TestSnapshot_MatchesEquivalentMessage(t *testing.T) {
	c := Defaults(testBounds, 10)
	snap, err := CanonicalOf(c.Snapshot())
	if err != nil {
		t.Fatalf("CanonicalOf() error = %v", err)
	}

	msg := `{"sort_order":"popularity","page":1,"filters":{"ranges":{"raised":{"max":500,"min":0},
	"goal":{"max":10000,"min":0},"pledged":{"max":1000,"min":0}},"date":"All Time",
	"states":["All States"],"countries":["All Countries"],"subcategories":["All Subcategories"],
	"categories":["All Categories"],"search":""}}`
	got, err := Canonical([]byte(msg))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if string(got) != string(snap) {
		t.Errorf("snapshot canonical form differs:\n%s\n%s", got, snap)
	}
}
