// Package render turns page rows into the records the widget displays.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
)

// Visible column headers, in display order.
const (
	ColProjectName   = "Project Name"
	ColCreator       = "Creator"
	ColPledgedAmount = "Pledged Amount"
	ColLink          = "Link"
	ColCountry       = "Country"
	ColState         = "State"
)

// VisibleColumns lists the table headers.
var VisibleColumns = []string{ColProjectName, ColCreator, ColPledgedAmount, ColLink, ColCountry, ColState}

const (
	notAvailable = "N/A"
	maxLinkLen   = 60
)

// Cell is one visible table cell.
type Cell struct {
	Text  string `json:"text"`
	Href  string `json:"href,omitempty"`
	Title string `json:"title,omitempty"`
	Class string `json:"class,omitempty"`
}

// Record is one rendered row: visible cells plus the data attributes the
// widget uses for client-side sorting and tooltips.
type Record struct {
	Cells []Cell            `json:"cells"`
	Data  map[string]string `json:"data"`
}

// Renderer maps dataset columns through a ColumnMap.
type Renderer struct {
	Columns query.ColumnMap
}

// New returns a renderer for cols.
func New(cols query.ColumnMap) *Renderer {
	return &Renderer{Columns: cols.WithDefaults()}
}

// Render converts rows laid out as columns into records.
func (r *Renderer) Render(columns []string, rows []dataset.Row) []Record {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	get := func(row dataset.Row, name string) any {
		if i, ok := index[name]; ok && i < len(row) {
			return row[i]
		}
		return nil
	}

	c := r.Columns
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			Cells: []Cell{
				{Text: textOr(get(row, c.Name), notAvailable)},
				{Text: textOr(get(row, c.Creator), notAvailable)},
				{Text: PledgedAmount(get(row, c.Pledged))},
				linkCell(get(row, c.Link)),
				{Text: textOr(get(row, c.Country), notAvailable)},
				stateCell(get(row, c.State)),
			},
			Data: map[string]string{
				"category":    textOr(get(row, c.Category), notAvailable),
				"subcategory": textOr(get(row, c.Subcategory), notAvailable),
				"pledged":     fixed(get(row, c.Pledged), 2),
				"goal":        fixed(get(row, c.Goal), 2),
				"raised":      fixed(get(row, c.Raised), 2),
				"date":        day(get(row, c.Date)),
				"deadline":    day(get(row, c.Deadline)),
				"backers":     count(get(row, c.Backers)),
				"popularity":  fixed(get(row, c.Popularity), 6),
			},
		}
		out = append(out, rec)
	}
	return out
}

// PledgedAmount formats a raw pledge as whole dollars with thousands
// separators, or N/A.
func PledgedAmount(v any) string {
	f, ok := dataset.AsFloat(v)
	if !ok {
		return notAvailable
	}
	return "$" + humanize.Comma(int64(f))
}

// StateClass returns the css class for a project state.
func StateClass(v any) string {
	s, ok := dataset.AsString(v)
	if !ok {
		return "state-unknown"
	}
	return "state-" + strings.ReplaceAll(strings.ToLower(s), " ", "-")
}

// TruncateLink shortens long URLs for display.
func TruncateLink(url string) string {
	if len(url) < maxLinkLen {
		return url
	}
	return url[:maxLinkLen-3] + "..."
}

func linkCell(v any) Cell {
	url, ok := dataset.AsString(v)
	if !ok || url == "" {
		url = "#"
	}
	return Cell{Text: TruncateLink(url), Href: url, Title: url}
}

func stateCell(v any) Cell {
	s, ok := dataset.AsString(v)
	if !ok {
		s = "unknown"
	}
	return Cell{Text: s, Class: "state_cell " + StateClass(v)}
}

func textOr(v any, def string) string {
	if s, ok := dataset.AsString(v); ok {
		return s
	}
	return def
}

func fixed(v any, prec int) string {
	f, _ := dataset.AsFloat(v)
	return strconv.FormatFloat(f, 'f', prec, 64)
}

func day(v any) string {
	t, ok := dataset.AsTime(v)
	if !ok {
		return notAvailable
	}
	return t.Format("2006-01-02")
}

func count(v any) string {
	f, ok := dataset.AsFloat(v)
	if !ok {
		return "0"
	}
	return fmt.Sprintf("%d", int64(f))
}
