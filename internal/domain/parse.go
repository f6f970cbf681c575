package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hhmmRE = regexp.MustCompile(`^(?:[01]\d|2[0-3]):[0-5]\d$`)

// ValidHHMM reports whether s is a 24-hour HH:MM time with a leading zero
// ("07:30" yes, "7:30" no, "24:00" no).
func ValidHHMM(s string) bool {
	return hhmmRE.MatchString(s)
}

// SplitHHMM returns the hour and minute of a valid HH:MM string.
func SplitHHMM(s string) (hour, minute int, err error) {
	if !ValidHHMM(s) {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h, m, nil
}

var dowAlias = map[string]string{
	"mon": "mon", "monday": "mon",
	"tue": "tue", "tuesday": "tue",
	"wed": "wed", "wednesday": "wed",
	"thu": "thu", "thursday": "thu",
	"fri": "fri", "friday": "fri",
	"sat": "sat", "saturday": "sat",
	"sun": "sun", "sunday": "sun",
}

// NormalizeDOW maps a weekday name or 3-letter abbreviation (any case) to
// its canonical lowercase 3-letter form. ok is false for anything else.
func NormalizeDOW(s string) (dow string, ok bool) {
	dow, ok = dowAlias[normalize(s)]
	return dow, ok
}

// Weekday returns the time.Weekday for a canonical 3-letter dow.
func Weekday(dow string) (time.Weekday, bool) {
	switch dow {
	case "sun":
		return time.Sunday, true
	case "mon":
		return time.Monday, true
	case "tue":
		return time.Tuesday, true
	case "wed":
		return time.Wednesday, true
	case "thu":
		return time.Thursday, true
	case "fri":
		return time.Friday, true
	case "sat":
		return time.Saturday, true
	}
	return 0, false
}

// ValidateTZ checks that tz names a loadable IANA zone and returns its
// canonical name.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc.String(), nil
}

// LocalTimeString formats t in the member's zone for the bulletin footer.
// An unknown zone degrades to UTC rather than failing the relay.
func LocalTimeString(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
