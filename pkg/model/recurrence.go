package model

import "time"

// Unit is the repeat unit of a RecurrenceRule.
type Unit string

const (
	Daily   Unit = "daily"
	Weekly  Unit = "weekly"
	Monthly Unit = "monthly"
	Yearly  Unit = "yearly"
)

// LastOrdinal selects the last matching weekday of a month.
const LastOrdinal = -1

// RecurrenceRule describes how a task repeats.
type RecurrenceRule struct {
	Unit     Unit           `json:"unit"`
	Interval int            `json:"interval,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	// Ordinal selects the n-th matching weekday of the month (1..4), or
	// counts from the end when negative. Zero means unset.
	Ordinal int `json:"ordinal,omitempty"`
}

// Every returns the effective interval, defaulting to 1.
func (r *RecurrenceRule) Every() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}

func (r *RecurrenceRule) Clone() *RecurrenceRule {
	c := *r
	c.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
	return &c
}
