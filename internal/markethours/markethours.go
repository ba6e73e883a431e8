// Package markethours maps candle timestamps onto US Eastern trading
// sessions: Globex open/close, killzone windows and the cash opening range.
package markethours

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Eastern is America/New_York with DST. Falls back to a fixed EST offset
// if the zone database is unavailable.
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Session boundaries in Eastern time, as minutes after midnight.
const (
	// Cash equity open, anchor of the opening range.
	OpenMinutes = 9*60 + 30

	// Globex daily maintenance break 17:00–18:00.
	GlobexCloseMinutes  = 17 * 60
	GlobexReopenMinutes = 18 * 60
)

// Window is a named intraday time window [StartMinutes, EndMinutes).
type Window struct {
	Label        string
	StartMinutes int
	EndMinutes   int
}

// Contains reports whether minutes falls inside the window.
func (w Window) Contains(minutes int) bool {
	return minutes >= w.StartMinutes && minutes < w.EndMinutes
}

// Slug is the lowercase, dash-separated label used in zone ids.
func (w Window) Slug() string {
	return strings.ToLower(strings.Join(strings.Fields(w.Label), "-"))
}

var (
	londonKillzone  = Window{Label: "London Killzone", StartMinutes: 2 * 60, EndMinutes: 5 * 60}
	newYorkKillzone = Window{Label: "New York Killzone", StartMinutes: 8 * 60, EndMinutes: 11 * 60}
	newYorkGold     = Window{Label: "New York Killzone", StartMinutes: 8 * 60, EndMinutes: 10 * 60}
)

// IsGold reports whether a contract code is a gold future (GC, MGC).
func IsGold(code string) bool {
	c := strings.ToUpper(code)
	return strings.HasPrefix(c, "GC") || strings.HasPrefix(c, "MGC")
}

// KillzoneWindows returns the London and New York windows for a contract.
// Gold uses a narrower New York window.
func KillzoneWindows(contractCode string) []Window {
	if IsGold(contractCode) {
		return []Window{londonKillzone, newYorkGold}
	}
	return []Window{londonKillzone, newYorkKillzone}
}

// Clock is an epoch-seconds timestamp decomposed in Eastern time.
type Clock struct {
	Day     string // YYYY-MM-DD
	Minutes int    // minutes after midnight
}

// EasternClock decomposes epoch seconds into an Eastern day key and minute of day.
func EasternClock(ts int64) Clock {
	et := time.Unix(ts, 0).In(Eastern)
	return Clock{
		Day:     fmt.Sprintf("%04d-%02d-%02d", et.Year(), int(et.Month()), et.Day()),
		Minutes: et.Hour()*60 + et.Minute(),
	}
}

// DayEntry is one candle index tagged with its Eastern minute of day.
type DayEntry struct {
	Index   int
	Minutes int
}

// DayGroup is all entries of one Eastern calendar day, in input order.
type DayGroup struct {
	Day     string
	Entries []DayEntry
}

// GroupByEasternDay buckets timestamps by Eastern calendar day. Groups are
// returned in order of first appearance.
func GroupByEasternDay(times []int64) []DayGroup {
	var groups []DayGroup
	pos := make(map[string]int)
	for i, ts := range times {
		if ts <= 0 {
			continue
		}
		clk := EasternClock(ts)
		gi, ok := pos[clk.Day]
		if !ok {
			gi = len(groups)
			pos[clk.Day] = gi
			groups = append(groups, DayGroup{Day: clk.Day})
		}
		groups[gi].Entries = append(groups[gi].Entries, DayEntry{Index: i, Minutes: clk.Minutes})
	}
	return groups
}

// IsMarketOpen returns true if t falls within CME Globex hours: Sunday
// 18:00 through Friday 17:00 Eastern, excluding the daily 17:00–18:00
// break and full-closure holidays.
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	if IsHoliday(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	switch et.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return hm >= GlobexReopenMinutes
	case time.Friday:
		return hm < GlobexCloseMinutes
	default:
		return hm < GlobexCloseMinutes || hm >= GlobexReopenMinutes
	}
}

// NextOpen returns the next Globex reopen (18:00 Eastern) at or after t.
// If the market is open, t itself is returned.
func NextOpen(t time.Time) time.Time {
	if IsMarketOpen(t) {
		return t
	}
	et := t.In(Eastern)
	d := time.Date(et.Year(), et.Month(), et.Day(), 18, 0, 0, 0, Eastern)
	if !d.After(et) {
		d = d.AddDate(0, 0, 1)
	}
	for i := 0; i < 10; i++ {
		if IsMarketOpen(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "Globex Open"
	}
	next := NextOpen(t).In(Eastern)
	d := next.Sub(t)
	return fmt.Sprintf("Globex Closed, opens %s %s ET (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
