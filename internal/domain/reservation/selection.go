package reservation

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Availability is what a result row's action label says about its seats.
type Availability int

const (
	Other Availability = iota
	Bookable
	SoldOut
)

func (a Availability) String() string {
	switch a {
	case Bookable:
		return "bookable"
	case SoldOut:
		return "sold out"
	default:
		return "other"
	}
}

// Labels are the localized substrings of a row's action affordance.
type Labels struct {
	Bookable string `yaml:"bookable"`
	SoldOut  string `yaml:"sold_out"`
}

// Classify matches label against l, case-sensitively.
func (l Labels) Classify(label string) Availability {
	switch {
	case l.Bookable != "" && strings.Contains(label, l.Bookable):
		return Bookable
	case l.SoldOut != "" && strings.Contains(label, l.SoldOut):
		return SoldOut
	default:
		return Other
	}
}

// Row is one departure in the search results table.
type Row struct {
	// Index is the zero-based position of the row in the table body.
	Index       int
	Departure   string
	ActionLabel string
}

// RowLayout locates the interesting cells inside a results row.
type RowLayout struct {
	Row       string `yaml:"row"`
	Departure string `yaml:"departure"`
	Action    string `yaml:"action"`
}

// ParseRows extracts every row of the results table markup, in order.
// Rows without a departure cell are kept with an empty Departure so indices stay aligned
// with the live table.
func ParseRows(tableHTML string, layout RowLayout) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, fmt.Errorf("parse results table: %w", err)
	}

	var rows []Row
	doc.Find(layout.Row).Each(func(i int, s *goquery.Selection) {
		rows = append(rows, Row{
			Index:       i,
			Departure:   strings.TrimSpace(s.Find(layout.Departure).First().Text()),
			ActionLabel: strings.TrimSpace(s.Find(layout.Action).First().Text()),
		})
	})
	return rows, nil
}

// MatchRows returns, in table order, every row whose departure equals want exactly.
func MatchRows(rows []Row, want string) []Row {
	want = strings.TrimSpace(want)
	var out []Row
	for _, r := range rows {
		if r.Departure == want {
			out = append(out, r)
		}
	}
	return out
}

// FirstBookable walks matches in order, skipping sold-out and unrecognized rows.
// skipped receives every row passed over together with its classification.
func FirstBookable(matches []Row, labels Labels, skipped func(Row, Availability)) (Row, bool) {
	for _, r := range matches {
		a := labels.Classify(r.ActionLabel)
		if a == Bookable {
			return r, true
		}
		if skipped != nil {
			skipped(r, a)
		}
	}
	return Row{}, false
}
