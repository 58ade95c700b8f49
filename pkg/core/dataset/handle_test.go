package dataset

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// --- Open ---

func TestOpen_EmptySchema(t *testing.T) {
	_, err := Open(context.Background(), NewMemorySource("empty", nil, nil))
	if !errors.Is(err, ErrSchemaEmpty) {
		t.Fatalf("Open() error = %v, want ErrSchemaEmpty", err)
	}
}

func TestOpen_DuplicateColumns(t *testing.T) {
	src := NewMemorySource("dups", []string{"b", "a", "b", "c", "a", "a"}, nil)

	_, err := Open(context.Background(), src)
	var dup *DuplicateColumnError
	if !errors.As(err, &dup) {
		t.Fatalf("Open() error = %v, want *DuplicateColumnError", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(dup.Names, want) {
		t.Errorf("Names = %v, want %v", dup.Names, want)
	}
}

type failingSource struct{ MemorySource }

func (failingSource) Columns(context.Context) ([]string, error) {
	return nil, errors.New("boom")
}

func TestOpen_SourceFailureWrapped(t *testing.T) {
	_, err := Open(context.Background(), &failingSource{})
	if !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("Open() error = %v, want ErrSourceOpen", err)
	}
}

func TestHandle_SchemaIntrospection(t *testing.T) {
	h, err := Open(context.Background(), NewMemorySource("m", []string{"x", "y"}, nil))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !h.Has("x") || h.Has("z") {
		t.Error("Has() mismatch")
	}
	if h.Index("y") != 1 || h.Index("z") != -1 {
		t.Errorf("Index() = %d/%d, want 1/-1", h.Index("y"), h.Index("z"))
	}
	if len(h.Schema()) != 2 {
		t.Errorf("Schema() size = %d, want 2", len(h.Schema()))
	}

	cols := h.Columns()
	cols[0] = "mutated"
	if h.Columns()[0] != "x" {
		t.Error("Columns() must return a copy")
	}
}

// --- Scan ---

func TestScan_PadsShortRowsAndStopsEarly(t *testing.T) {
	src := NewMemorySource("m", []string{"a", "b"}, []Row{{"1"}, {"2", "x"}, {"3", "y"}})
	h, err := Open(context.Background(), src)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var seen []Row
	err = h.Scan(context.Background(), func(_ int64, row Row) error {
		seen = append(seen, row)
		if len(seen) == 2 {
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("Scan() visited %d rows, want 2", len(seen))
	}
	if len(seen[0]) != 2 || seen[0][1] != nil {
		t.Errorf("short row not padded: %v", seen[0])
	}
}

func TestScan_CancelledContext(t *testing.T) {
	src := NewMemorySource("m", []string{"a"}, []Row{{"1"}, {"2"}})
	h, _ := Open(context.Background(), src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Scan(ctx, func(int64, Row) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
}

// --- Values ---

func TestAsTime_Layouts(t *testing.T) {
	tests := []struct {
		in   any
		ok   bool
		want time.Time
	}{
		{"2024-03-05", true, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-03-05 10:11:12", true, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
		{"2024-03-05T10:11:12", true, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
		{"2024-03-05T10:11:12Z", true, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
		{"not a date", false, time.Time{}},
		{"", false, time.Time{}},
		{nil, false, time.Time{}},
		{int64(5), false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := AsTime(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("AsTime(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAsFloat(t *testing.T) {
	if f, ok := AsFloat(" 12.5 "); !ok || f != 12.5 {
		t.Errorf("AsFloat(string) = %v, %v", f, ok)
	}
	if f, ok := AsFloat(int64(3)); !ok || f != 3 {
		t.Errorf("AsFloat(int64) = %v, %v", f, ok)
	}
	if _, ok := AsFloat("abc"); ok {
		t.Error("AsFloat(abc) must fail")
	}
	if _, ok := AsFloat(nil); ok {
		t.Error("AsFloat(nil) must fail")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{int64(1), 2.5, -1},
		{3.0, int64(3), 0},
		{"b", "a", 1},
		{"10", "9", -1},
		{false, true, -1},
		{time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), "2019-12-31", 1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
