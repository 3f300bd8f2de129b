// Package schedule defines the clinic's bookable hours and the date/time
// token validation used by the assistant.
package schedule

import (
	"regexp"
	"time"
)

// clinicHours is the fixed single-resource calendar: one bookable slot per
// hour from 9:00 AM to 3:00 PM.
var clinicHours = []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00"}

var (
	dateTokenRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	timeTokenRe = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// DateLayout is the calendar-day wire format used across all stores.
const DateLayout = "2006-01-02"

// ClinicHours returns the slot catalog in booking order. Callers must not
// mutate the returned slice.
func ClinicHours() []string {
	return clinicHours
}

// ValidSlot reports whether s is a well-formed time token naming one of the
// clinic's hours.
func ValidSlot(s string) bool {
	if !timeTokenRe.MatchString(s) {
		return false
	}
	for _, h := range clinicHours {
		if h == s {
			return true
		}
	}
	return false
}

// ParseDate parses a strict YYYY-MM-DD calendar day. Days that do not
// round-trip (2025-02-31) are rejected.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	if t.Format(DateLayout) != s {
		return time.Time{}, false
	}
	return t, true
}

// ExtractDate returns the first date-shaped token in an utterance, if any.
func ExtractDate(utterance string) (string, bool) {
	m := dateTokenRe.FindString(utterance)
	return m, m != ""
}

// BeforeToday reports whether the date falls on a calendar day strictly
// before now's day. Comparison truncates both sides to midnight UTC so a
// same-day appointment is still bookable.
func BeforeToday(date time.Time, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return day.Before(today)
}

// Available returns the catalog minus the already-confirmed slots,
// preserving catalog order.
func Available(confirmed []string) []string {
	taken := make(map[string]struct{}, len(confirmed))
	for _, s := range confirmed {
		taken[s] = struct{}{}
	}
	out := make([]string, 0, len(clinicHours))
	for _, h := range clinicHours {
		if _, booked := taken[h]; !booked {
			out = append(out, h)
		}
	}
	return out
}
