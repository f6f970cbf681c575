package domain

import "time"

// Cadence is how often a member's prompt recurs.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// ParseCadence validates a user-supplied cadence string.
func ParseCadence(s string) (Cadence, bool) {
	switch Cadence(normalize(s)) {
	case CadenceDaily:
		return CadenceDaily, true
	case CadenceWeekly:
		return CadenceWeekly, true
	}
	return "", false
}

// Member is a participant's stored schedule state.
//
// DOW is the lowercase 3-letter weekday ("mon".."sun"); it is set iff
// Cadence is weekly.
type Member struct {
	UserID   int64
	TZ       string // IANA zone name
	HHMM     string // 24h wall-clock time, always valid HH:MM
	Approved bool
	Cadence  Cadence
	DOW      string
}

// Checkin is one relayed reply. Rows are append-only.
type Checkin struct {
	ID        int64
	UserID    int64
	Content   string
	CreatedAt time.Time // UTC
}
