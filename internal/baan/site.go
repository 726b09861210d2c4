package baan

import (
	"strings"
	"time"
)

const (
	pathOverview  = "/reservations"
	pathLogin     = "/auth/login"
	pathLogout    = "/auth/logout"
	pathWaitlist  = "/waitinglist"
	dateLayout    = "2006-01-02"
	timeLayout    = "15:04"
	formDateFmt   = "02-01-2006"
	defaultSiteTZ = "Europe/Amsterdam"
)

// Selectors. The site has no stable contract; these track its current markup.
const (
	selUsername    = `input[name='username']`
	selPassword    = `input[name='password']`
	selLoginSubmit = `form#login-form button[type='submit']`

	selCalendarDays = `table.month-view td[data-date]`
	selCalendarDay  = `table.month-view td[data-date='%s']`
	selNextMonth    = `table.month-view a.month-next`
	selTimeRows     = `table.matrix tr[data-time]`
	selFreeCourts   = `table.matrix tr[data-time='%s'] td.free[type='free']`
	selCourtAt      = `table.matrix tr[data-time='%s'] td.free[type='free'][slot='%d']`

	selPlayerSearch = `input.player-search[data-index='%d']`
	selPlayerSelect = `select[name='players[%d]']`
	selPlayerOption = `select[name='players[%d]'] option[value='%s']`

	selConfirm      = `input#__make_submit`
	selConfirmFinal = `input#__make_submit2`
	selBookingError = `#content .alert-danger`

	selWaitlistIDs    = `table.waitinglist tbody tr td:first-child`
	selWaitlistAdd    = `a.waitinglist-add`
	selWaitlistStart  = `input[name='dates[start]']`
	selWaitlistEnd    = `input[name='dates[end]']`
	selWaitlistFrom   = `input[name='start_time']`
	selWaitlistTo     = `input[name='end_time']`
	selWaitlistSubmit = `form#waitinglist-form input[type='submit']`
	selWaitlistDelete = `table.waitinglist tbody tr:nth-child(%d) a.delete`
)

// GuestID is the site's catch-all participant.
const GuestID = "-1"

// Site locates the booking website.
type Site struct {
	BaseURL  string
	Location *time.Location
}

// DefaultLocation is the zone the site shows its calendar in.
func DefaultLocation() *time.Location { return mustLoad(defaultSiteTZ) }

func NewSite(baseURL string, loc *time.Location) Site {
	if loc == nil {
		loc = DefaultLocation()
	}
	return Site{BaseURL: strings.TrimRight(baseURL, "/"), Location: loc}
}

func (s Site) URL(path string) string { return s.BaseURL + path }

func (s Site) local(t time.Time) time.Time {
	if s.Location == nil {
		return t.In(DefaultLocation())
	}
	return t.In(s.Location)
}

func requiresLogin(location string) bool {
	return strings.Contains(location, pathLogin)
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
