package reservation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkers_Judge(t *testing.T) {
	t.Parallel()

	m := Markers{
		DialogSuccess: []string{"예약되었습니다"},
		DialogFailure: []string{"잔여석", "실패"},
		Locations:     []string{"confirmReservationInfo"},
	}

	tests := []struct {
		name string
		ev   Evidence
		want Verdict
	}{
		{"nothing observed", Evidence{}, Unknown},
		{"neutral dialog only", Evidence{DialogSeen: true, DialogText: "확인하세요"}, Unknown},
		{"success dialog", Evidence{DialogSeen: true, DialogText: "좌석이 예약되었습니다"}, Success},
		{"failure dialog", Evidence{DialogSeen: true, DialogText: "잔여석이 없습니다"}, Failure},
		{"failure dialog beats location", Evidence{DialogSeen: true, DialogText: "예약 실패", Location: "https://x/confirmReservationInfo.do"}, Failure},
		{"location only", Evidence{Location: "https://x/hpg/hra/02/confirmReservationInfo.do"}, Success},
		{"other location", Evidence{Location: "https://x/selectScheduleList.do"}, Unknown},
		{"dialog text ignored when not seen", Evidence{DialogText: "예약되었습니다"}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, m.Judge(tt.ev))
		})
	}
}
