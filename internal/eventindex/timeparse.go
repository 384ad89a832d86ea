// Package eventindex turns day-bucketed events into lane assignments for the
// timeline and agenda views. Everything here is pure: no state survives a
// call except what the caller keeps in a TimeCache.
package eventindex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"calview/internal/model"
)

// MinutesPerDay bounds the 24-hour grid.
const MinutesPerDay = 24 * 60

var clockRe = regexp.MustCompile(`(\d+):(\d+) (\w{2})`)

// ParseTimeToMinutes converts "H:MM AM/PM" into minutes since midnight.
// Unparseable input yields 0; it never fails.
func ParseTimeToMinutes(s string) int {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[3]) {
	case "PM":
		if hour != 12 {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}
	return hour*60 + minutes
}

// FormatMinutes renders minutes since midnight as "H:MM AM/PM", the inverse
// of ParseTimeToMinutes for values inside one day.
func FormatMinutes(minutes int) string {
	minutes = ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	hour := minutes / 60
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, minutes%60, period)
}

// FormatClock renders t's wall clock as "H:MM AM/PM".
func FormatClock(t time.Time) string {
	return FormatMinutes(t.Hour()*60 + t.Minute())
}

// FormatTimeSlot labels an hour row of the grid, e.g. 0 -> "12AM", 13 -> "1PM".
func FormatTimeSlot(hour int) string {
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return strconv.Itoa(h) + period
}

// FormatDayHeader renders an ISO date as "Mar 02". Invalid input is
// returned unchanged.
func FormatDayHeader(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Jan 02")
}

// FormatMonthTitle renders an ISO date or month as "March 2025".
func FormatMonthTitle(dateOrMonth string) string {
	month := model.MonthOf(dateOrMonth)
	t, err := time.Parse(model.MonthLayout, month)
	if err != nil {
		return dateOrMonth
	}
	return t.Format("January 2006")
}

// TimeCache memoizes ParseTimeToMinutes by exact string. It is built once
// per bucket set and only read afterwards, so it is safe to share between
// concurrent renders.
type TimeCache map[string]int

// NewTimeCache pre-warms a cache with every start/end string in buckets.
func NewTimeCache(buckets []model.DayBucket) TimeCache {
	cache := make(TimeCache)
	for _, b := range buckets {
		for _, ev := range b.Data {
			if _, ok := cache[ev.StartTime]; !ok {
				cache[ev.StartTime] = ParseTimeToMinutes(ev.StartTime)
			}
			if _, ok := cache[ev.EndTime]; !ok {
				cache[ev.EndTime] = ParseTimeToMinutes(ev.EndTime)
			}
		}
	}
	return cache
}

// Minutes returns the cached value for s, parsing on a miss. A nil cache
// always parses.
func (c TimeCache) Minutes(s string) int {
	if v, ok := c[s]; ok {
		return v
	}
	return ParseTimeToMinutes(s)
}
