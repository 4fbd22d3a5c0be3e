package reservation

import (
	"regexp"
	"strings"
	"time"
)

var departTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Input is the raw, untrusted form of a reservation request.
type Input struct {
	MemberID      string `json:"srtId"`
	Password      string `json:"srtPw"`
	Departure     string `json:"departure"`
	Arrival       string `json:"arrival"`
	Date          string `json:"date"`       // YYYYMMDD
	Hour          string `json:"time"`       // HH
	DepartureTime string `json:"departTime"` // HH:MM
}

// Request parameterizes exactly one engine run. It is never mutated after Parse.
type Request struct {
	MemberID       string
	MemberPassword string
	Origin         string
	Destination    string
	TravelDate     time.Time
	// HourBlock is the two-digit hour the search form filters on.
	HourBlock string
	// DepartureTime is the exact HH:MM a result row must show to be selected.
	DepartureTime string
}

// Parse validates in and builds a Request.
func Parse(in Input) (Request, error) {
	in = Input{
		MemberID:      strings.TrimSpace(in.MemberID),
		Password:      in.Password,
		Departure:     strings.TrimSpace(in.Departure),
		Arrival:       strings.TrimSpace(in.Arrival),
		Date:          strings.TrimSpace(in.Date),
		Hour:          strings.TrimSpace(in.Hour),
		DepartureTime: strings.TrimSpace(in.DepartureTime),
	}

	switch {
	case in.MemberID == "":
		return Request{}, invalid("srtId", "required")
	case in.Password == "":
		return Request{}, invalid("srtPw", "required")
	case in.Departure == "":
		return Request{}, invalid("departure", "required")
	case in.Arrival == "":
		return Request{}, invalid("arrival", "required")
	case in.Date == "":
		return Request{}, invalid("date", "required")
	case in.DepartureTime == "":
		return Request{}, invalid("departTime", "required")
	}

	m := departTimeRe.FindStringSubmatch(in.DepartureTime)
	if m == nil {
		return Request{}, invalid("departTime", "must be HH:MM with hour 00-23 and minute 00-59")
	}
	hour := m[1]

	if in.Hour != "" {
		if len(in.Hour) == 1 {
			in.Hour = "0" + in.Hour
		}
		if in.Hour != hour {
			return Request{}, invalid("time", "must equal the hour of departTime ("+hour+")")
		}
	}

	date, err := time.Parse("20060102", in.Date)
	if err != nil {
		return Request{}, invalid("date", "must be YYYYMMDD")
	}

	return Request{
		MemberID:       in.MemberID,
		MemberPassword: in.Password,
		Origin:         in.Departure,
		Destination:    in.Arrival,
		TravelDate:     date,
		HourBlock:      hour,
		DepartureTime:  in.DepartureTime,
	}, nil
}

// DateValue is the option value of the travel date in the search form.
func (r Request) DateValue() string { return r.TravelDate.Format("20060102") }

// HourValue is the option value of the hour block in the search form.
func (r Request) HourValue() string { return r.HourBlock + "0000" }

// Route renders the request for humans, e.g. "수서 → 부산 20250101 08:20".
func (r Request) Route() string {
	return r.Origin + " → " + r.Destination + " " + r.DateValue() + " " + r.DepartureTime
}
