// Package dates resolves the human date expressions written after a task
// line's due delimiter.
package dates

import (
	"strconv"
	"strings"
	"time"
)

const isoLayout = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Reference returns noon of t's local day. Every relative expression is
// resolved against this instant so a timezone shift can't move the day.
func Reference(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, t.Location())
}

// Weekday parses a full or abbreviated weekday name.
func Weekday(name string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return wd, ok
}

// Resolve turns expr into a concrete day (at noon) relative to the day of
// ref. The boolean is false when the expression is not recognised.
func Resolve(expr string, ref time.Time) (time.Time, bool) {
	ref = Reference(ref)
	s := strings.Join(strings.Fields(strings.ToLower(expr)), " ")
	if s == "" {
		return time.Time{}, false
	}

	switch s {
	case "today":
		return ref, true
	case "tomorrow":
		return addDays(ref, 1), true
	case "yesterday":
		return addDays(ref, -1), true
	case "end of week":
		// weeks run Monday..Sunday
		return addDays(ref, (7-int(ref.Weekday()))%7), true
	case "end of month":
		return time.Date(ref.Year(), ref.Month()+1, 0, 12, 0, 0, 0, ref.Location()), true
	}

	fields := strings.Fields(s)
	if len(fields) == 3 && fields[0] == "in" && (fields[2] == "days" || fields[2] == "day") {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return time.Time{}, false
		}
		return addDays(ref, n), true
	}

	if wd, ok := weekdays[s]; ok {
		return addDays(ref, daysUntil(ref.Weekday(), wd)), true
	}
	if len(fields) == 2 && fields[0] == "next" {
		if wd, ok := weekdays[fields[1]]; ok {
			// the naive occurrence is always inside the coming seven days,
			// so "next" pushes it one more week out
			return addDays(ref, daysUntil(ref.Weekday(), wd)+7), true
		}
	}

	if d, err := time.ParseInLocation(isoLayout, s, ref.Location()); err == nil {
		return Reference(d), true
	}
	return time.Time{}, false
}

// Format renders a resolved day in the ISO form Resolve accepts.
func Format(t time.Time) string {
	return t.Format(isoLayout)
}

// daysUntil counts the days from `from` to the next `to`, zero when equal.
func daysUntil(from, to time.Weekday) int {
	return (int(to) - int(from) + 7) % 7
}

func addDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, 12, 0, 0, 0, t.Location())
}
