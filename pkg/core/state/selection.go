package state

// Selection is a facet choice: either exactly the facet's sentinel or a
// non-empty, ordered list of distinct concrete values.
type Selection []string

// NewSelection normalizes values for a facet. Duplicates are dropped keeping
// first occurrence, the sentinel is dropped when concrete values are present,
// and an empty result reverts to the sentinel.
func NewSelection(sentinel string, values ...string) Selection {
	seen := make(map[string]struct{}, len(values))
	out := make(Selection, 0, len(values))
	for _, v := range values {
		if v == sentinel {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return Selection{sentinel}
	}
	return out
}

// IsAll reports whether the selection places no restriction.
func (s Selection) IsAll(sentinel string) bool {
	return len(s) == 0 || (len(s) == 1 && s[0] == sentinel)
}

// Values returns the concrete values, or nil when unrestricted.
func (s Selection) Values(sentinel string) []string {
	if s.IsAll(sentinel) {
		return nil
	}
	return s
}

// Contains reports whether v was selected.
func (s Selection) Contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// CategoryMap lists valid subcategories per category. The synthetic
// AllCategories entry holds the union, led by AllSubcategories.
type CategoryMap map[string][]string

// Subcategories returns the union of subcategories allowed by categories,
// preserving first-seen order.
func (m CategoryMap) Subcategories(categories Selection) []string {
	if categories.IsAll(AllCategories) {
		return m[AllCategories]
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range categories {
		for _, sub := range m[c] {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// PruneSubcategories drops selected subcategories that do not belong to any
// selected category. Nothing changes when categories are unrestricted.
func (m CategoryMap) PruneSubcategories(f FilterSpec) FilterSpec {
	if f.Categories.IsAll(AllCategories) || f.Subcategories.IsAll(AllSubcategories) {
		return f
	}
	allowed := make(map[string]struct{})
	for _, sub := range m.Subcategories(f.Categories) {
		allowed[sub] = struct{}{}
	}
	kept := make([]string, 0, len(f.Subcategories))
	for _, sub := range f.Subcategories {
		if _, ok := allowed[sub]; ok {
			kept = append(kept, sub)
		}
	}
	f.Subcategories = NewSelection(AllSubcategories, kept...)
	return f
}
