package query

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

var bounds = state.Ranges{
	Pledged: state.NumericRange{Min: 0, Max: 1e9},
	Goal:    state.NumericRange{Min: 0, Max: 1e9},
	Raised:  state.NumericRange{Min: 0, Max: 1e9},
}

var fixtureColumns = []string{
	"Project Name", "Creator", "Category", "Subcategory", "Country", "State",
	"Raw Pledged", "Raw Goal", "Raw Raised", "Raw Date", "Raw Deadline",
	"Backer Count", "Popularity Score", "Link",
}

// fixture25 builds 25 projects. Popularity rises with the row number so
// the expected popularity order is the reverse of source order.
func fixture25() []dataset.Row {
	rows := make([]dataset.Row, 25)
	for i := range rows {
		n := i + 1
		category, sub := "Art", "Painting"
		if n%5 == 0 {
			category, sub = "Technology", "Robots"
		}
		status := "Successful"
		if n%2 == 0 {
			status = "failed"
		}
		rows[i] = dataset.Row{
			fmt.Sprintf("Project %02d", n),
			fmt.Sprintf("Creator %02d", n),
			category, sub,
			[]string{"US", "GB", "DE"}[n%3],
			status,
			float64(n * 100),
			float64(n * 1000),
			float64(n * 10),
			fixedNow.AddDate(0, 0, -n*20).Format("2006-01-02"),
			fixedNow.AddDate(0, 0, n).Format("2006-01-02 15:04:05"),
			int64(n),
			float64(n) / 100,
			fmt.Sprintf("https://example.org/p/%d", n),
		}
	}
	return rows
}

func openFixture(t *testing.T, rows []dataset.Row) *dataset.Handle {
	t.Helper()
	h, err := dataset.Open(context.Background(), dataset.NewMemorySource("fixture", fixtureColumns, rows))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return h
}

func newTestBuilder() *Builder {
	b := NewBuilder(DefaultColumns(), zerolog.Nop())
	b.Now = func() time.Time { return fixedNow }
	return b
}

func names(t *testing.T, p Plan, rows []dataset.Row) []string {
	t.Helper()
	idx := -1
	for i, c := range p.Columns() {
		if c == "Project Name" {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatal("Project Name not projected")
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r[idx].(string)
	}
	return out
}

// --- Defaults ---

func TestBuild_DefaultsSortByPopularityDesc(t *testing.T) {
	h := openFixture(t, fixture25())
	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.Popularity)
	ctx := context.Background()

	total, err := plan.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if total != 25 {
		t.Errorf("Count() = %d, want 25", total)
	}

	rows, err := plan.Slice(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	got := names(t, plan, rows)
	for i, name := range got {
		if want := fmt.Sprintf("Project %02d", 25-i); name != want {
			t.Errorf("row %d = %q, want %q", i, name, want)
		}
	}
}

func TestBuild_DefaultsEquivalentToUnfiltered(t *testing.T) {
	h := openFixture(t, fixture25())
	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.Popularity)

	unfiltered := NewPlan(h).OrderBy("Popularity Score", Desc, KeyNumber)
	a, _ := plan.Slice(context.Background(), 0, 100)
	b, _ := unfiltered.Slice(context.Background(), 0, 100)
	if !reflect.DeepEqual(a, b) {
		t.Error("default filters changed the row set")
	}
}

// --- Search ---

func TestBuild_SearchAnyTextColumn(t *testing.T) {
	rows := fixture25()
	rows[0][0] = "Giant ROBOT"            // name
	rows[1][1] = "robotics lab"           // creator
	rows[2][3] = "Robot Kits"             // subcategory
	rows[3][13] = "https://robot.example" // link is not searched
	h := openFixture(t, rows)

	f := state.DefaultFilters(bounds)
	f.Search = "robot"
	plan := newTestBuilder().Build(h, f, state.Oldest)

	total, err := plan.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// 3 edited rows plus the 5 "Robots" subcategory rows.
	if total != 8 {
		t.Errorf("Count() = %d, want 8", total)
	}
}

func TestBuild_SearchIsLiteral(t *testing.T) {
	rows := fixture25()
	rows[4][0] = "a.b"
	h := openFixture(t, rows)

	f := state.DefaultFilters(bounds)
	f.Search = "."
	total, _ := newTestBuilder().Build(h, f, state.Popularity).Count(context.Background())
	if total != 1 {
		t.Errorf("Count() = %d, want 1", total)
	}
}

// --- Facets ---

func TestBuild_CategoricalAndState(t *testing.T) {
	h := openFixture(t, fixture25())
	f := state.DefaultFilters(bounds)
	f.Categories = state.NewSelection(state.AllCategories, "Technology")
	f.States = state.NewSelection(state.AllStates, "FAILED")

	plan := newTestBuilder().Build(h, f, state.Popularity)
	rows, err := plan.Slice(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	// n%5==0 and even: 10, 20.
	if got, want := names(t, plan, rows), []string{"Project 20", "Project 10"}; !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestBuild_RangeInclusiveNullExcluded(t *testing.T) {
	rows := fixture25()
	rows[6][6] = nil            // Project 07 pledged null
	rows[7][6] = "not a number" // Project 08
	h := openFixture(t, rows)

	f := state.DefaultFilters(bounds)
	f.Ranges.Pledged = state.NumericRange{Min: 500, Max: 1000}
	plan := newTestBuilder().Build(h, f, state.Oldest)

	got, err := plan.Slice(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	pledged := plan.Columns()
	pi := 0
	for i, c := range pledged {
		if c == "Raw Pledged" {
			pi = i
		}
	}
	for _, r := range got {
		v, ok := dataset.AsFloat(r[pi])
		if !ok || v < 500 || v > 1000 {
			t.Errorf("row pledged %v outside [500, 1000]", r[pi])
		}
	}
	// 5, 6, 9, 10 remain.
	if len(got) != 4 {
		t.Errorf("len = %d, want 4", len(got))
	}
}

// --- Date ---

func TestBuild_LastMonthExcludesOldAndUnparseable(t *testing.T) {
	rows := fixture25()
	rows[0][9] = nil       // Project 01, 20 days old
	rows[2][9] = "someday" // Project 03
	rows[3][9] = fixedNow.AddDate(0, 0, -3).Format(time.RFC3339)
	h := openFixture(t, rows)

	f := state.DefaultFilters(bounds)
	f.Date = state.LastMonth
	plan := newTestBuilder().Build(h, f, state.Newest)

	got, err := plan.Slice(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	// Project 02 is 40 days old; every later row is older still.
	if want := []string{"Project 04"}; !reflect.DeepEqual(names(t, plan, got), want) {
		t.Errorf("rows = %v, want %v", names(t, plan, got), want)
	}
}

// --- Sort ---

func TestBuild_MostFundedNullsLast(t *testing.T) {
	rows := fixture25()[:5]
	rows[1][6] = nil
	rows[3][6] = nil
	h := openFixture(t, rows)

	f := state.DefaultFilters(bounds)
	f.Ranges.Pledged = state.NumericRange{Min: -1, Max: 1e9}
	plan := NewPlan(h).OrderBy("Raw Pledged", Desc, KeyNumber)
	got, err := plan.Slice(context.Background(), 0, 5)
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	want := []string{"Project 05", "Project 03", "Project 01", "Project 02", "Project 04"}
	if !reflect.DeepEqual(names(t, plan, got), want) {
		t.Errorf("rows = %v, want %v", names(t, plan, got), want)
	}

	// Built through the builder, null pledges are filtered by the range.
	built := newTestBuilder().Build(h, f, state.MostFunded)
	got, _ = built.Slice(context.Background(), 0, 5)
	if want := []string{"Project 05", "Project 03", "Project 01"}; !reflect.DeepEqual(names(t, built, got), want) {
		t.Errorf("built rows = %v, want %v", names(t, built, got), want)
	}
}

func TestBuild_OldestAscendingNullsLast(t *testing.T) {
	rows := fixture25()[:4]
	rows[3][9] = ""
	h := openFixture(t, rows)

	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.Oldest)
	got, _ := plan.Slice(context.Background(), 0, 4)
	want := []string{"Project 03", "Project 02", "Project 01", "Project 04"}
	if !reflect.DeepEqual(names(t, plan, got), want) {
		t.Errorf("rows = %v, want %v", names(t, plan, got), want)
	}
}

func TestBuild_TiesKeepSourceOrder(t *testing.T) {
	rows := fixture25()[:6]
	for _, r := range rows {
		r[12] = 0.5
	}
	h := openFixture(t, rows)

	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.Popularity)
	got, _ := plan.Slice(context.Background(), 2, 3)
	want := []string{"Project 03", "Project 04", "Project 05"}
	if !reflect.DeepEqual(names(t, plan, got), want) {
		t.Errorf("rows = %v, want %v", names(t, plan, got), want)
	}
}

func TestBuild_MissingSortColumnLeavesUnsorted(t *testing.T) {
	cols := []string{"Project Name", "Raw Pledged"}
	rows := []dataset.Row{{"b", 1.0}, {"a", 2.0}, {"c", 3.0}}
	h, err := dataset.Open(context.Background(), dataset.NewMemorySource("narrow", cols, rows))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.MostBacked)
	if _, ok := plan.Ordering(); ok {
		t.Error("Ordering() ok = true, want unsorted")
	}
	if len(plan.Diagnostics()) != 1 {
		t.Errorf("Diagnostics() = %v, want one entry", plan.Diagnostics())
	}
	got, _ := plan.Slice(context.Background(), 0, 10)
	if want := []string{"b", "a", "c"}; !reflect.DeepEqual(names(t, plan, got), want) {
		t.Errorf("rows = %v, want %v", names(t, plan, got), want)
	}
}

// --- Plan ---

func TestPlan_Idempotent(t *testing.T) {
	h := openFixture(t, fixture25())
	f := state.DefaultFilters(bounds)
	f.Countries = state.NewSelection(state.AllCountries, "US", "DE")

	b := newTestBuilder()
	a, _ := b.Build(h, f, state.MostBacked).Slice(context.Background(), 0, 25)
	c, _ := b.Build(h, f, state.MostBacked).Slice(context.Background(), 0, 25)
	if !reflect.DeepEqual(a, c) {
		t.Error("same spec produced different rows")
	}
}

func TestPlan_ImmutableAndSelect(t *testing.T) {
	h := openFixture(t, fixture25())
	base := NewPlan(h)
	narrowed := base.Select("Project Name", "Nope")

	if len(base.Columns()) != len(fixtureColumns) {
		t.Error("Select mutated the base plan")
	}
	if got := narrowed.Columns(); !reflect.DeepEqual(got, []string{"Project Name"}) {
		t.Errorf("Columns() = %v", got)
	}
	if len(narrowed.Diagnostics()) != 1 {
		t.Errorf("Diagnostics() = %v", narrowed.Diagnostics())
	}

	rows, _ := narrowed.Slice(context.Background(), 23, 10)
	if len(rows) != 2 || len(rows[0]) != 1 {
		t.Errorf("Slice() = %v", rows)
	}
}

func TestPlan_SliceBeyondEnd(t *testing.T) {
	h := openFixture(t, fixture25())
	plan := newTestBuilder().Build(h, state.DefaultFilters(bounds), state.Popularity)
	rows, err := plan.Slice(context.Background(), 30, 10)
	if err != nil || len(rows) != 0 {
		t.Errorf("Slice(30) = %v, %v", rows, err)
	}
}

func TestPlan_Fingerprint(t *testing.T) {
	h := openFixture(t, fixture25())
	b := newTestBuilder()
	f := state.DefaultFilters(bounds)

	p1 := b.Build(h, f, state.Popularity)
	p2 := b.Build(h, f, state.Newest)
	if p1.Fingerprint() != p2.Fingerprint() {
		t.Error("sort order must not change the fingerprint")
	}

	f.Search = "x"
	if b.Build(h, f, state.Popularity).Fingerprint() == p1.Fingerprint() {
		t.Error("different filters share a fingerprint")
	}
}
