package query

import "github.com/ruslano69/tdtp-explorer/pkg/core/dataset"

// sortKey is one matching row's position and its cast sort value.
type sortKey struct {
	index int64
	value any
	null  bool
}

func newSortKey(index int64, v any, kind KeyKind) sortKey {
	switch kind {
	case KeyNumber:
		if f, ok := dataset.AsFloat(v); ok {
			return sortKey{index: index, value: f}
		}
		return sortKey{index: index, null: true}
	case KeyTime:
		if t, ok := dataset.AsTime(v); ok {
			return sortKey{index: index, value: t}
		}
		return sortKey{index: index, null: true}
	}
	if dataset.IsNull(v) {
		return sortKey{index: index, null: true}
	}
	return sortKey{index: index, value: v}
}

// lessKeys orders non-null values by direction, nulls after every value
// regardless of direction, and ties by source position.
func lessKeys(a, b sortKey, dir Direction) bool {
	switch {
	case a.null && b.null:
		return a.index < b.index
	case a.null:
		return false
	case b.null:
		return true
	}

	cmp := dataset.Compare(a.value, b.value)
	if cmp == 0 {
		return a.index < b.index
	}
	if dir == Desc {
		return cmp > 0
	}
	return cmp < 0
}
