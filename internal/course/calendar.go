package course

import "time"

// StartOfDay returns midnight of t's calendar day in t's location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a falls on the calendar day of ref, using ref's location
// for day boundaries.
func SameDay(a, ref time.Time) bool {
	ay, am, ad := a.In(ref.Location()).Date()
	ry, rm, rd := ref.Date()
	return ay == ry && am == rm && ad == rd
}

// compareDays orders a and b by calendar day in loc: -1, 0 or 1
func compareDays(a, b time.Time, loc *time.Location) int {
	da := StartOfDay(a.In(loc))
	db := StartOfDay(b.In(loc))
	switch {
	case da.Before(db):
		return -1
	case da.After(db):
		return 1
	default:
		return 0
	}
}

// DayKey formats the calendar day of t as yyyy-MM-dd
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDay parses a yyyy-MM-dd string as midnight in loc
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}
