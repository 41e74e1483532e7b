package risk

import "time"

// StartOfUTCDay returns midnight UTC of the calendar day containing t.
func StartOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfISOWeek returns Monday 00:00 UTC of the ISO week containing t.
func StartOfISOWeek(t time.Time) time.Time {
	day := StartOfUTCDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 { // Sunday is the last day of an ISO week
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}
