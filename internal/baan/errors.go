package baan

import (
	"errors"
	"fmt"
)

// Step names one UI interaction on the site.
type Step int

const (
	StepUnknown Step = iota
	StepOpenOverview
	StepLoginUsername
	StepLoginPassword
	StepLoginSubmit
	StepLogout
	StepOpenCalendar
	StepNextMonth
	StepSelectDay
	StepReadCourts
	StepSelectCourt
	StepOpponentInput
	StepOpponentSelect
	StepGuestFallback
	StepConfirm
	StepOpenWaitlist
	StepReadWaitlist
	StepOpenWaitlistForm
	StepFillWaitlistForm
	StepWaitlistSubmit
	StepWaitlistRemove
)

var stepNames = [...]string{
	StepUnknown:          "unknown",
	StepOpenOverview:     "open_overview",
	StepLoginUsername:    "login_username",
	StepLoginPassword:    "login_password",
	StepLoginSubmit:      "login_submit",
	StepLogout:           "logout",
	StepOpenCalendar:     "open_calendar",
	StepNextMonth:        "next_month",
	StepSelectDay:        "select_day",
	StepReadCourts:       "read_courts",
	StepSelectCourt:      "select_court",
	StepOpponentInput:    "opponent_input",
	StepOpponentSelect:   "opponent_select",
	StepGuestFallback:    "guest_fallback",
	StepConfirm:          "confirm",
	StepOpenWaitlist:     "open_waitlist",
	StepReadWaitlist:     "read_waitlist",
	StepOpenWaitlistForm: "open_waitlist_form",
	StepFillWaitlistForm: "fill_waitlist_form",
	StepWaitlistSubmit:   "waitlist_submit",
	StepWaitlistRemove:   "waitlist_remove",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// StepError is a failed UI interaction, tagged with the step it happened in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// StepOf reports the step of the first StepError in err's chain.
func StepOf(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return StepUnknown, false
}

var (
	ErrElementNotFound = errors.New("element not found")
	ErrDialogTimeout   = errors.New("confirmation dialog did not appear")
	ErrLoginRejected   = errors.New("still on login page after submit")
	ErrDayNotVisible   = errors.New("day not visible in calendar")
	ErrBookingRejected = errors.New("site rejected the reservation")

	ErrOpponentNotFound = errors.New("opponent not in search results")

	// ErrNoNewWaitlistEntry means the waiting list showed no new entry after
	// submitting the form; the registration did not take effect.
	ErrNoNewWaitlistEntry = errors.New("no new waiting list entry after submit")
)
