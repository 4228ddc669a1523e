// Package recurrence computes the next occurrence of a repeating task and
// spawns its successor when the task is completed.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Validate checks that rule can be expanded.
func Validate(rule *model.RecurrenceRule) error {
	if rule == nil {
		return fmt.Errorf("%w: missing", ErrInvalidRule)
	}
	switch rule.Unit {
	case model.Daily, model.Weekly, model.Monthly, model.Yearly:
	default:
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidRule, rule.Unit)
	}
	if rule.Interval < 0 {
		return fmt.Errorf("%w: negative interval %d", ErrInvalidRule, rule.Interval)
	}
	for _, wd := range rule.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, wd)
		}
	}
	if rule.Unit == model.Monthly && rule.Ordinal != 0 {
		if rule.Ordinal < -5 || rule.Ordinal > 5 {
			return fmt.Errorf("%w: ordinal %d out of range", ErrInvalidRule, rule.Ordinal)
		}
		if len(rule.Weekdays) == 0 {
			return fmt.Errorf("%w: ordinal without weekday", ErrInvalidRule)
		}
	}
	return nil
}

// Next returns the first occurrence of rule after base. The time of day of
// base is kept.
func Next(rule *model.RecurrenceRule, base time.Time) (time.Time, error) {
	if err := Validate(rule); err != nil {
		return time.Time{}, err
	}
	n := rule.Every()

	switch rule.Unit {
	case model.Daily:
		return base.AddDate(0, 0, n), nil
	case model.Weekly:
		if len(rule.Weekdays) == 0 {
			return base.AddDate(0, 0, 7*n), nil
		}
		return nextWeekday(base, rule.Weekdays, n), nil
	case model.Monthly:
		if rule.Ordinal != 0 {
			return nthWeekday(base, n, rule.Weekdays, rule.Ordinal)
		}
		return addMonths(base, n), nil
	default:
		return addMonths(base, 12*n), nil
	}
}

// addMonths moves base by n months, clamping the day to the target
// month's length instead of overflowing into the following month.
func addMonths(base time.Time, n int) time.Time {
	first := time.Date(base.Year(), base.Month()+time.Month(n), 1,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
	day := base.Day()
	if last := daysIn(first); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(month time.Time) int {
	return time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// mondayOffset is the position of wd in a Monday-anchored week.
func mondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// nextWeekday picks the next listed weekday later in base's week, or else
// the first listed weekday of the week `weeks` weeks later.
func nextWeekday(base time.Time, set []time.Weekday, weeks int) time.Time {
	want := make(map[int]bool, len(set))
	for _, wd := range set {
		want[mondayOffset(wd)] = true
	}

	pos := mondayOffset(base.Weekday())
	for off := pos + 1; off < 7; off++ {
		if want[off] {
			return base.AddDate(0, 0, off-pos)
		}
	}
	weekStart := base.AddDate(0, 0, -pos+7*weeks)
	for off := 0; off < 7; off++ {
		if want[off] {
			return weekStart.AddDate(0, 0, off)
		}
	}
	return weekStart
}

// nthWeekday lists every day of the month `months` after base whose weekday
// is in set and picks the ordinal-th one, counting from the end when the
// ordinal is negative. Out of range ordinals clamp to the ends.
func nthWeekday(base time.Time, months int, set []time.Weekday, ordinal int) (time.Time, error) {
	first := time.Date(base.Year(), base.Month()+time.Month(months), 1,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())

	want := make(map[time.Weekday]bool, len(set))
	for _, wd := range set {
		want[wd] = true
	}
	var candidates []time.Time
	for d := 0; d < daysIn(first); d++ {
		day := first.AddDate(0, 0, d)
		if want[day.Weekday()] {
			candidates = append(candidates, day)
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, fmt.Errorf("%w: no candidate days in %s", ErrInvalidRule, first.Format("2006-01"))
	}

	idx := ordinal - 1
	if ordinal < 0 {
		idx = len(candidates) + ordinal
	}
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return candidates[idx], nil
}
