package markethours

import "time"

// CME Globex full-closure days (equity, metals and energy futures).
// Early-close days trade and are not listed.
var cmeHolidays = []struct {
	year  int
	month time.Month
	day   int
}{
	{2025, time.December, 25}, // Christmas
	{2026, time.January, 1},   // New Year's Day
	{2026, time.April, 3},     // Good Friday
	{2026, time.December, 25}, // Christmas
	{2027, time.January, 1},   // New Year's Day
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(cmeHolidays))
	for _, h := range cmeHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in Eastern time) is a full CME closure.
func IsHoliday(t time.Time) bool {
	et := t.In(Eastern)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
