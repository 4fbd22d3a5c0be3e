package engine

import (
	"time"

	"github.com/example/srt-scheduler/internal/domain/reservation"
)

// Timings are the waits the engine makes against the site. They encode how slow the real
// UI is; tune them here rather than inside the steps.
type Timings struct {
	// LoginSettle is the pause on the search page before the header is inspected.
	LoginSettle time.Duration `yaml:"login_settle"`
	// KeySettle is the pause around Enter in the station autocomplete.
	KeySettle time.Duration `yaml:"key_settle"`
	// ReadyTimeout bounds the wait for the page's own load signal.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	// ReadyCap is the other side of the race with ReadyTimeout.
	ReadyCap time.Duration `yaml:"ready_cap"`
	// SettleDelay follows the load race; the table paints before it is usable.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// ResultsTimeout bounds the wait for result rows.
	ResultsTimeout time.Duration `yaml:"results_timeout"`
	// ResultsCooldown follows a missing results table.
	ResultsCooldown time.Duration `yaml:"results_cooldown"`
	// AttemptInterval separates searches that found nothing to book.
	AttemptInterval time.Duration `yaml:"attempt_interval"`
	// ErrorCooldown follows a transient error.
	ErrorCooldown time.Duration `yaml:"error_cooldown"`
	// DialogWait is how long a booking click waits for a native dialog.
	DialogWait time.Duration `yaml:"dialog_wait"`
	// NavigationSettle lets a post-booking navigation land before the location is read.
	NavigationSettle time.Duration `yaml:"navigation_settle"`
	// BookingTimeout bounds the whole booking window.
	BookingTimeout time.Duration `yaml:"booking_timeout"`
	// ReleaseDelay keeps the browser open briefly after a booking.
	ReleaseDelay time.Duration `yaml:"release_delay"`
	// NotifyTimeout bounds the best-effort wait for notifications.
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// Site holds the URLs, selectors and labels of the booking site.
type Site struct {
	LoginURL  string `yaml:"login_url"`
	SearchURL string `yaml:"search_url"`

	MemberIDField string `yaml:"member_id_field"`
	PasswordField string `yaml:"password_field"`
	LoginSubmit   string `yaml:"login_submit"`
	// NavLinks selects the header links inspected after login.
	NavLinks   string `yaml:"nav_links"`
	LoginLabel string `yaml:"login_label"`

	OriginField      string `yaml:"origin_field"`
	DestinationField string `yaml:"destination_field"`
	DateField        string `yaml:"date_field"`
	HourField        string `yaml:"hour_field"`
	SearchButton     string `yaml:"search_button"`

	ResultsTable string                `yaml:"results_table"`
	Rows         reservation.RowLayout `yaml:"rows"`
	Labels       reservation.Labels    `yaml:"labels"`
	Markers      reservation.Markers   `yaml:"markers"`
}

// Config tunes the engine.
type Config struct {
	Timings Timings `yaml:"timings"`
	Site    Site    `yaml:"site"`
	// MaxDuration ends a job that has not finished in time. Zero means no deadline.
	MaxDuration time.Duration `yaml:"max_duration"`
	// MaxConsecutiveErrors turns a run of transient errors into a fatal one. Zero means
	// transient errors never end the job.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// DefaultConfig targets etk.srail.kr.
func DefaultConfig() Config {
	return Config{
		Timings: Timings{
			LoginSettle:      2 * time.Second,
			KeySettle:        500 * time.Millisecond,
			ReadyTimeout:     30 * time.Second,
			ReadyCap:         5 * time.Second,
			SettleDelay:      2 * time.Second,
			ResultsTimeout:   30 * time.Second,
			ResultsCooldown:  3 * time.Second,
			AttemptInterval:  5 * time.Second,
			ErrorCooldown:    3 * time.Second,
			DialogWait:       5 * time.Second,
			NavigationSettle: time.Second,
			BookingTimeout:   30 * time.Second,
			ReleaseDelay:     2 * time.Second,
			NotifyTimeout:    15 * time.Second,
		},
		Site: Site{
			LoginURL:         "https://etk.srail.kr/cmc/01/selectLoginForm.do?pageId=TK0701000000",
			SearchURL:        "https://etk.srail.kr/hpg/hra/01/selectScheduleList.do?pageId=TK0101010000",
			MemberIDField:    "#srchDvNm01",
			PasswordField:    "#hmpgPwdCphd01",
			LoginSubmit:      ".loginSubmit",
			NavLinks:         "#wrap > div.header.header-e > div.global.clear > div a",
			LoginLabel:       "로그인",
			OriginField:      "#dptRsStnCdNm",
			DestinationField: "#arvRsStnCdNm",
			DateField:        "#dptDt",
			HourField:        "#dptTm",
			SearchButton:     "#search_top_tag > input",
			ResultsTable:     "#result-form > fieldset > div.tbl_wrap.th_thead > table",
			Rows: reservation.RowLayout{
				Row:       "tbody > tr",
				Departure: "td:nth-child(4) em",
				Action:    "td:nth-child(7) a",
			},
			Labels: reservation.Labels{
				Bookable: "예약하기",
				SoldOut:  "매진",
			},
			Markers: reservation.Markers{
				DialogSuccess: []string{"예약되었습니다", "예약이 완료"},
				DialogFailure: []string{"잔여석", "매진", "실패", "오류", "초과"},
				Locations:     []string{"/hpg/hra/02/confirmReservationInfo.do", "/hpg/hra/02/requestReservationInfo.do"},
			},
		},
	}
}
