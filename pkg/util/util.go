package util

import (
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

const (
	StatusNeedsAction = "needsAction"
	StatusCompleted   = "completed"

	eventCancelled = "cancelled"
)

// ParseRemoteTime parses an RFC 3339 timestamp as sent by Google. Empty or
// malformed values yield the zero time.
func ParseRemoteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DueFromRemote turns a Google Tasks due value into a local due date. The
// API keeps only the date, so the result is noon of that date in loc.
func DueFromRemote(s string, loc *time.Location) *time.Time {
	t := ParseRemoteTime(s)
	if t.IsZero() {
		return nil
	}
	y, m, d := t.UTC().Date()
	due := time.Date(y, m, d, 12, 0, 0, 0, loc)
	return &due
}

// DueToRemote formats a due date the way Google Tasks stores it: midnight
// UTC of the task's own calendar day.
func DueToRemote(due *time.Time) string {
	if due == nil {
		return ""
	}
	y, m, d := due.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

// TaskToItem converts a Google task. ok is false for deleted tasks and for
// tasks without an id.
func TaskToItem(t *tasks.Task, loc *time.Location) (item model.RemoteItem, ok bool) {
	if t == nil || t.Deleted || t.Id == "" {
		return model.RemoteItem{}, false
	}
	return model.RemoteItem{
		ExternalUID:  t.Id,
		Summary:      t.Title,
		Due:          DueFromRemote(t.Due, loc),
		Completed:    t.Status == StatusCompleted,
		LastModified: ParseRemoteTime(t.Updated),
	}, true
}

// ItemToTask is the inverse of TaskToItem, used for inserts and as the
// target of ItemNeedsUpdate.
func ItemToTask(item model.RemoteItem) *tasks.Task {
	t := &tasks.Task{
		Id:     item.ExternalUID,
		Title:  item.Summary,
		Due:    DueToRemote(item.Due),
		Status: StatusNeedsAction,
	}
	if item.Completed {
		t.Status = StatusCompleted
	}
	return t
}

// ItemNeedsUpdate returns a patch if the fields shared between a local item
// and the existing Google task differ, nil otherwise.
func ItemNeedsUpdate(existing, target *tasks.Task) *tasks.Task {
	patch := &tasks.Task{}
	needsUpdate := false

	if existing.Title != target.Title {
		patch.Title = target.Title
		needsUpdate = true
	}

	if !sameDate(existing.Due, target.Due) {
		if target.Due == "" {
			patch.NullFields = append(patch.NullFields, "Due")
		} else {
			patch.Due = target.Due
		}
		needsUpdate = true
	}

	if existing.Status != target.Status {
		patch.Status = target.Status
		if target.Status == StatusNeedsAction {
			// reopening needs the completion stamp cleared too
			patch.NullFields = append(patch.NullFields, "Completed")
		}
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}

func sameDate(a, b string) bool {
	ta, tb := ParseRemoteTime(a), ParseRemoteTime(b)
	if ta.IsZero() || tb.IsZero() {
		return ta.IsZero() == tb.IsZero()
	}
	ay, am, ad := ta.UTC().Date()
	by, bm, bd := tb.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// EventToItem converts a calendar event. All-day events start at midnight
// in loc. ok is false for cancelled events.
func EventToItem(e *calendar.Event, loc *time.Location) (item model.RemoteItem, ok bool) {
	if e == nil || e.Status == eventCancelled || e.Id == "" {
		return model.RemoteItem{}, false
	}
	item = model.RemoteItem{
		ExternalUID:  e.Id,
		Summary:      e.Summary,
		LastModified: ParseRemoteTime(e.Updated),
	}
	if e.Start != nil {
		if e.Start.DateTime != "" {
			if t := ParseRemoteTime(e.Start.DateTime); !t.IsZero() {
				item.Due = &t
			}
		} else if e.Start.Date != "" {
			if t, err := time.ParseInLocation("2006-01-02", e.Start.Date, loc); err == nil {
				item.Due = &t
			}
		}
	}
	return item, true
}
