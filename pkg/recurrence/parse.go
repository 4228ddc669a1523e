package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/taskweave/pkg/dates"
	"github.com/harrisonrobin/taskweave/pkg/model"
)

var units = map[string]model.Unit{
	"day": model.Daily, "days": model.Daily,
	"week": model.Weekly, "weeks": model.Weekly,
	"month": model.Monthly, "months": model.Monthly,
	"year": model.Yearly, "years": model.Yearly,
}

var ordinals = map[string]int{
	"1st": 1, "first": 1,
	"2nd": 2, "second": 2,
	"3rd": 3, "third": 3,
	"4th": 4, "fourth": 4,
	"5th": 5, "fifth": 5,
	"last": model.LastOrdinal,
}

var ordinalNames = []string{"1st", "2nd", "3rd", "4th", "5th"}

// Parse reads a rule written the way a user would type it:
//
//	daily | weekly | monthly | yearly
//	every 3 days | every week | every 2 months
//	every mon, wed and fri
//	2nd tuesday [monthly | every 2 months]
//	last friday
func Parse(s string) (*model.RecurrenceRule, error) {
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(s, ",", " ")))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRule)
	}

	var rule *model.RecurrenceRule
	switch {
	case len(fields) == 1:
		rule = single(fields[0])
	case fields[0] == "every":
		rule = every(fields[1:])
	default:
		rule = ordinalRule(fields)
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRule, s)
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func single(word string) *model.RecurrenceRule {
	switch word {
	case "daily":
		return &model.RecurrenceRule{Unit: model.Daily, Interval: 1}
	case "weekly":
		return &model.RecurrenceRule{Unit: model.Weekly, Interval: 1}
	case "monthly":
		return &model.RecurrenceRule{Unit: model.Monthly, Interval: 1}
	case "yearly", "annually":
		return &model.RecurrenceRule{Unit: model.Yearly, Interval: 1}
	}
	return nil
}

func every(fields []string) *model.RecurrenceRule {
	if len(fields) == 1 {
		if u, ok := units[fields[0]]; ok {
			return &model.RecurrenceRule{Unit: u, Interval: 1}
		}
	}
	if len(fields) == 2 {
		if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
			if u, ok := units[fields[1]]; ok {
				return &model.RecurrenceRule{Unit: u, Interval: n}
			}
			return nil
		}
	}

	days := weekdayList(fields)
	if days == nil {
		return nil
	}
	return &model.RecurrenceRule{Unit: model.Weekly, Interval: 1, Weekdays: days}
}

func ordinalRule(fields []string) *model.RecurrenceRule {
	ord, ok := ordinals[fields[0]]
	if !ok || len(fields) < 2 {
		return nil
	}
	wd, ok := dates.Weekday(fields[1])
	if !ok {
		return nil
	}
	rule := &model.RecurrenceRule{Unit: model.Monthly, Interval: 1, Ordinal: ord, Weekdays: []time.Weekday{wd}}

	tail := fields[2:]
	if len(tail) > 0 && tail[0] == "of" {
		tail = tail[1:]
	}
	switch {
	case len(tail) == 0:
	case len(tail) == 1 && tail[0] == "monthly":
	case len(tail) == 2 && tail[0] == "every" && tail[1] == "month":
	case len(tail) == 3 && tail[0] == "every" && (tail[2] == "months" || tail[2] == "month"):
		n, err := strconv.Atoi(tail[1])
		if err != nil || n <= 0 {
			return nil
		}
		rule.Interval = n
	default:
		return nil
	}
	return rule
}

func weekdayList(fields []string) []time.Weekday {
	var days []time.Weekday
	for _, f := range fields {
		if f == "and" {
			continue
		}
		wd, ok := dates.Weekday(f)
		if !ok {
			return nil
		}
		days = append(days, wd)
	}
	return days
}

// Format renders rule in the syntax Parse accepts.
func Format(rule *model.RecurrenceRule) string {
	if rule == nil {
		return ""
	}
	n := rule.Every()
	if rule.Unit == model.Monthly && rule.Ordinal != 0 && len(rule.Weekdays) > 0 {
		ord := "last"
		if rule.Ordinal > 0 && rule.Ordinal <= len(ordinalNames) {
			ord = ordinalNames[rule.Ordinal-1]
		}
		s := ord + " " + strings.ToLower(rule.Weekdays[0].String())
		if n > 1 {
			s += fmt.Sprintf(" every %d months", n)
		}
		return s
	}
	if rule.Unit == model.Weekly && len(rule.Weekdays) > 0 && n == 1 {
		names := make([]string, len(rule.Weekdays))
		for i, wd := range rule.Weekdays {
			names[i] = strings.ToLower(wd.String()[:3])
		}
		return "every " + strings.Join(names, ",")
	}
	if n == 1 {
		return string(rule.Unit)
	}
	unit := map[model.Unit]string{
		model.Daily: "days", model.Weekly: "weeks", model.Monthly: "months", model.Yearly: "years",
	}[rule.Unit]
	return fmt.Sprintf("every %d %s", n, unit)
}
