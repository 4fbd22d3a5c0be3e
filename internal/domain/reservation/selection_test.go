package reservation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = RowLayout{
	Row:       "tbody > tr",
	Departure: "td:nth-child(4) em",
	Action:    "td:nth-child(7) a",
}

var testLabels = Labels{Bookable: "예약하기", SoldOut: "매진"}

func resultsTable(rows ...[2]string) string {
	var b strings.Builder
	b.WriteString("<table><tbody>")
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>1</td><td>SRT</td><td>수서</td><td><em> %s </em></td><td>부산</td><td>-</td><td><a href=\"#\">%s</a></td></tr>", r[0], r[1])
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func TestParseRows(t *testing.T) {
	t.Parallel()

	rows, err := ParseRows(resultsTable(
		[2]string{"10:00", "매진"},
		[2]string{"10:20", "예약하기"},
	), testLayout)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Index: 0, Departure: "10:00", ActionLabel: "매진"}, rows[0])
	assert.Equal(t, Row{Index: 1, Departure: "10:20", ActionLabel: "예약하기"}, rows[1])
}

func TestParseRows_MissingCellsKeepIndex(t *testing.T) {
	t.Parallel()

	html := "<table><tbody><tr><td colspan=7>공지</td></tr>" +
		"<tr><td></td><td></td><td></td><td><em>11:00</em></td><td></td><td></td><td><a>예약하기</a></td></tr></tbody></table>"
	rows, err := ParseRows(html, testLayout)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[0].Departure)
	assert.Equal(t, 1, rows[1].Index)
	assert.Equal(t, "11:00", rows[1].Departure)
}

func TestMatchRows_DuplicateListingsInOrder(t *testing.T) {
	t.Parallel()

	rows, err := ParseRows(resultsTable(
		[2]string{"10:00", "예약하기"},
		[2]string{"10:20", "매진"},
		[2]string{"10:20", "예약하기"},
		[2]string{"11:00", "예약하기"},
	), testLayout)
	require.NoError(t, err)

	matches := MatchRows(rows, " 10:20 ")
	require.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].Index)
	assert.Equal(t, 2, matches[1].Index)

	var skipped []int
	got, ok := FirstBookable(matches, testLabels, func(r Row, a Availability) {
		assert.Equal(t, SoldOut, a)
		skipped = append(skipped, r.Index)
	})
	require.True(t, ok)
	assert.Equal(t, 2, got.Index)
	assert.Equal(t, []int{1}, skipped)
}

func TestMatchRows_None(t *testing.T) {
	t.Parallel()

	rows := []Row{{Index: 0, Departure: "10:00"}}
	assert.Empty(t, MatchRows(rows, "10:01"))
}

func TestFirstBookable_NoneBookable(t *testing.T) {
	t.Parallel()

	matches := []Row{
		{Index: 0, ActionLabel: "매진"},
		{Index: 1, ActionLabel: "입석+좌석"},
	}
	var kinds []Availability
	_, ok := FirstBookable(matches, testLabels, func(_ Row, a Availability) { kinds = append(kinds, a) })
	assert.False(t, ok)
	assert.Equal(t, []Availability{SoldOut, Other}, kinds)
}

func TestLabels_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  Availability
	}{
		{"예약하기", Bookable},
		{" 예약하기 ", Bookable},
		{"매진", SoldOut},
		{"예약대기", Other},
		{"", Other},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, testLabels.Classify(tt.label), tt.label)
	}
}
