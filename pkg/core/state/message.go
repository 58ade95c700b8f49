package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// StructureError reports an inbound message that lacks required keys or is
// not a JSON object. Such messages are discarded whole.
type StructureError struct {
	Reason string
}

func (e *StructureError) Error() string {
	return "state: malformed widget message: " + e.Reason
}

var (
	messageKeys = []string{"page", "filters", "sort_order"}
	filterKeys  = []string{"search", "categories", "subcategories", "countries", "states", "date", "ranges"}
)

// Message is a structurally valid inbound widget message whose fields have
// not been validated yet.
type Message struct {
	Page      json.RawMessage
	SortOrder json.RawMessage
	Filters   map[string]json.RawMessage
}

// ParseMessage checks that raw carries every required key.
func ParseMessage(raw []byte) (*Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, &StructureError{Reason: "not a JSON object"}
	}
	if missing := missingKeys(top, messageKeys); len(missing) > 0 {
		return nil, &StructureError{Reason: "missing " + strings.Join(missing, ", ")}
	}

	var filters map[string]json.RawMessage
	if err := json.Unmarshal(top["filters"], &filters); err != nil || filters == nil {
		return nil, &StructureError{Reason: "filters is not an object"}
	}
	if missing := missingKeys(filters, filterKeys); len(missing) > 0 {
		return nil, &StructureError{Reason: "filters missing " + strings.Join(missing, ", ")}
	}

	return &Message{
		Page:      top["page"],
		SortOrder: top["sort_order"],
		Filters:   filters,
	}, nil
}

func missingKeys(m map[string]json.RawMessage, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Decode builds a new committed state from msg. Each field is validated on
// its own; a field that fails falls back to its value in defaults and its
// name is returned in fallbacks. The page size is always taken from defaults.
func (msg *Message) Decode(defaults Committed) (next Committed, fallbacks []string) {
	note := func(field string, ok bool) {
		if !ok {
			fallbacks = append(fallbacks, field)
		}
	}
	var ok bool

	next.Page.Size = defaults.Page.Size
	next.Page.Number, ok = ValidatePage(msg.Page, defaults.Page.Number)
	note("page", ok)
	next.Sort, ok = ValidateSort(msg.SortOrder, defaults.Sort)
	note("sort_order", ok)

	d := defaults.Filters
	f := msg.Filters
	next.Filters.Search, ok = ValidateSearch(f["search"], d.Search)
	note("filters.search", ok)
	next.Filters.Categories, ok = ValidateSelection(f["categories"], AllCategories, d.Categories)
	note("filters.categories", ok)
	next.Filters.Subcategories, ok = ValidateSelection(f["subcategories"], AllSubcategories, d.Subcategories)
	note("filters.subcategories", ok)
	next.Filters.Countries, ok = ValidateSelection(f["countries"], AllCountries, d.Countries)
	note("filters.countries", ok)
	next.Filters.States, ok = ValidateSelection(f["states"], AllStates, d.States)
	note("filters.states", ok)
	next.Filters.Date, ok = ValidateDate(f["date"], d.Date)
	note("filters.date", ok)

	var ranges map[string]json.RawMessage
	if err := json.Unmarshal(f["ranges"], &ranges); err != nil {
		ranges = nil
	}
	next.Filters.Ranges.Pledged, ok = ValidateRange(ranges["pledged"], d.Ranges.Pledged)
	note("filters.ranges.pledged", ok)
	next.Filters.Ranges.Goal, ok = ValidateRange(ranges["goal"], d.Ranges.Goal)
	note("filters.ranges.goal", ok)
	next.Filters.Ranges.Raised, ok = ValidateRange(ranges["raised"], d.Ranges.Raised)
	note("filters.ranges.raised", ok)

	return next, fallbacks
}

// ValidatePage accepts any integral JSON number. Clamping happens later
// against the result size.
func ValidatePage(raw json.RawMessage, def int) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || isNull(raw) {
		return def, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return def, false
	}
	return int(f), true
}

// ValidateSort accepts a known sort order name.
func ValidateSort(raw json.RawMessage, def SortOrder) (SortOrder, bool) {
	var s SortOrder
	if err := json.Unmarshal(raw, &s); err != nil {
		return def, false
	}
	return s, true
}

// ValidateSearch accepts a string. Surrounding whitespace is kept.
func ValidateSearch(raw json.RawMessage, def string) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isNull(raw) {
		return def, false
	}
	return s, true
}

// ValidateSelection accepts an array of strings and normalizes it.
func ValidateSelection(raw json.RawMessage, sentinel string, def Selection) (Selection, bool) {
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil || isNull(raw) {
		return append(Selection(nil), def...), false
	}
	return NewSelection(sentinel, values...), true
}

// ValidateDate accepts a known date range label.
func ValidateDate(raw json.RawMessage, def DateRange) (DateRange, bool) {
	var d DateRange
	if err := json.Unmarshal(raw, &d); err != nil {
		return def, false
	}
	return d, true
}

// ValidateRange accepts {"min": number, "max": number} with min <= max.
func ValidateRange(raw json.RawMessage, def NumericRange) (NumericRange, bool) {
	var r struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(raw, &r); err != nil || r.Min == nil || r.Max == nil {
		return def, false
	}
	out := NumericRange{Min: *r.Min, Max: *r.Max}
	if !out.Valid() {
		return def, false
	}
	return out, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Canonical re-encodes a JSON document with sorted object keys, no
// insignificant whitespace and numbers in shortest float form, so that two
// documents with the same content compare byte-equal.
func Canonical(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return json.Marshal(v)
}

// CanonicalOf marshals v and canonicalizes the result.
func CanonicalOf(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return Canonical(raw)
}
