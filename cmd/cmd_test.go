package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/srt-scheduler/internal/domain/reservation"
)

func TestNewRootCmd_Commands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"version", "keys", "password", "server", "reserve"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestMergeInput_FlagsWin(t *testing.T) {
	flags := reservation.Input{Departure: "동탄", DepartureTime: "07:30"}
	env := reservation.Input{
		MemberID:      "1234567890",
		Password:      "pw",
		Departure:     "수서",
		Arrival:       "부산",
		Date:          "20261020",
		DepartureTime: "10:20",
	}

	got := mergeInput(flags, env)

	assert.Equal(t, reservation.Input{
		MemberID:      "1234567890",
		Password:      "pw",
		Departure:     "동탄",
		Arrival:       "부산",
		Date:          "20261020",
		DepartureTime: "07:30",
	}, got)
}

func TestVersionCmd(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		want  string
		exact bool
	}{
		{name: "full", args: []string{"version"}, want: "srtsched dev (commit=none, built=unknown, "},
		{name: "short", args: []string{"version", "--short"}, want: "dev\n", exact: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			root := NewRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs(tc.args)

			require.NoError(t, root.Execute())
			if tc.exact {
				assert.Equal(t, tc.want, out.String())
				return
			}
			assert.Contains(t, out.String(), tc.want)
		})
	}
}
