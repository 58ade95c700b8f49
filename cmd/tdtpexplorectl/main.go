// tdtpexplorectl — terminal widget for a running tdtpexplore backend.
//
// Usage:
//
//	tdtpexplorectl [--server URL] [--search text] [--category c]... [--subcategory s]...
//	               [--country c]... [--state s]... [--date "Last Year"] [--sort mostfunded]
//	               [--pledged min:max] [--goal min:max] [--raised min:max]
//	               [--page n] [--export out.xlsx] [--json]
//
// Every control is applied the way the widget applies it: search and ranges
// are debounced and flushed, discrete selectors emit at once.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/client"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
	"github.com/ruslano69/tdtp-explorer/pkg/reconcile"
	"github.com/ruslano69/tdtp-explorer/pkg/xlsx"
)

type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

type rangeFlag struct {
	set    bool
	lo, hi float64
}

func (r *rangeFlag) String() string {
	if !r.set {
		return ""
	}
	return fmt.Sprintf("%g:%g", r.lo, r.hi)
}

func (r *rangeFlag) Set(v string) error {
	lo, hi, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("want min:max, got %q", v)
	}
	var err error
	if r.lo, err = strconv.ParseFloat(lo, 64); err != nil {
		return fmt.Errorf("min: %w", err)
	}
	if r.hi, err = strconv.ParseFloat(hi, 64); err != nil {
		return fmt.Errorf("max: %w", err)
	}
	r.set = true
	return nil
}

func main() {
	server := flag.String("server", "http://localhost:8501", "tdtpexplore base URL")
	search := flag.String("search", "", "free-text search")
	date := flag.String("date", "", `date range, e.g. "Last Year"`)
	sortOrder := flag.String("sort", "", "sort order: popularity|newest|oldest|mostfunded|mostbacked|enddate")
	page := flag.Int("page", 0, "page number")
	export := flag.String("export", "", "write the filtered rows to this XLSX file")
	asJSON := flag.Bool("json", false, "print the final payload as JSON")
	verbose := flag.Bool("v", false, "log every emission")
	var categories, subcategories, countries, states listFlag
	var pledged, goal, raised rangeFlag
	flag.Var(&categories, "category", "category filter (repeatable)")
	flag.Var(&subcategories, "subcategory", "subcategory filter (repeatable)")
	flag.Var(&countries, "country", "country filter (repeatable)")
	flag.Var(&states, "state", "project state filter (repeatable)")
	flag.Var(&pledged, "pledged", "pledged range min:max")
	flag.Var(&goal, "goal", "goal range min:max")
	flag.Var(&raised, "raised", "raised percentage range min:max")
	flag.Parse()

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := client.New(*server, client.WithLogger(logger), client.OnPayload(func(p *reconcile.Payload) {
		logger.Info().Int("page", p.CurrentPage).Int64("total_rows", p.TotalRows).Msg("payload")
	}))
	if _, err := c.Open(ctx); err != nil {
		fail("open session", err)
	}
	defer func() { _ = c.Close(context.Background()) }()

	steps := []struct {
		when bool
		name string
		run  func() (*client.Response, error)
	}{
		{len(categories) > 0, "category", func() (*client.Response, error) { return c.SetCategories(ctx, categories...) }},
		{len(subcategories) > 0, "subcategory", func() (*client.Response, error) { return c.SetSubcategories(ctx, subcategories...) }},
		{len(countries) > 0, "country", func() (*client.Response, error) { return c.SetCountries(ctx, countries...) }},
		{len(states) > 0, "state", func() (*client.Response, error) { return c.SetStates(ctx, states...) }},
		{*date != "", "date", func() (*client.Response, error) {
			d, err := state.ParseDateRange(*date)
			if err != nil {
				return nil, err
			}
			return c.SetDate(ctx, d)
		}},
		{*sortOrder != "", "sort", func() (*client.Response, error) {
			o, err := state.ParseSortOrder(*sortOrder)
			if err != nil {
				return nil, err
			}
			return c.SetSort(ctx, o)
		}},
	}
	for _, s := range steps {
		if !s.when {
			continue
		}
		resp, err := s.run()
		if err != nil {
			fail(s.name, err)
		}
		for _, f := range resp.Fallbacks {
			fmt.Fprintf(os.Stderr, "warning: backend replaced invalid %s with its default\n", f)
		}
	}

	if *search != "" {
		c.SetSearch(*search)
	}
	for name, r := range map[string]*rangeFlag{"pledged": &pledged, "goal": &goal, "raised": &raised} {
		if r.set {
			if err := c.SetRange(name, r.lo, r.hi); err != nil {
				fail(name, err)
			}
		}
	}
	c.Flush()
	if err := c.Err(); err != nil {
		fail("apply search/ranges", err)
	}

	if *page > 1 {
		if _, err := c.SetPage(ctx, *page); err != nil {
			fail("page", err)
		}
	}

	if *export != "" {
		exportTo(ctx, c, *export)
	}

	p := c.Payload()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(p)
		return
	}
	printPage(p)
}

func exportTo(ctx context.Context, c *client.Client, path string) {
	f, err := os.Create(path)
	if err != nil {
		fail("export", err)
	}
	n, err := c.Export(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fail("export", err)
	}

	in, err := os.Open(path)
	if err != nil {
		fail("export", err)
	}
	defer in.Close()
	_, rows, err := xlsx.ReadRows(in, "")
	if err != nil {
		fail("export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %s rows to %s (%s)\n", humanize.Comma(int64(len(rows))), path, humanize.Bytes(uint64(n)))
}

func printPage(p *reconcile.Payload) {
	if p.Error != "" {
		fmt.Fprintf(os.Stderr, "query error: %s\n", p.Error)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(p.Columns, "\t"))
	for _, rec := range p.Rows {
		cells := make([]string, len(rec.Cells))
		for i, cell := range rec.Cells {
			cells[i] = cell.Text
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	fmt.Printf("\nPage %d of %d, %s projects (sorted by %s)\n",
		p.CurrentPage, p.TotalPages, humanize.Comma(p.TotalRows), p.SortOrder)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "tdtpexplorectl: %s: %v\n", step, err)
	os.Exit(1)
}
