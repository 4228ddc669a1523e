package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/taskweave/pkg/auth"
	"github.com/harrisonrobin/taskweave/pkg/model"
)

// ErrReadOnly is returned when writing to an event calendar.
var ErrReadOnly = errors.New("event calendars are read-only")

// Client reaches the Google Tasks and Calendar APIs of one account.
type Client struct {
	tasks    *tasks.Service
	calendar *calendar.Service
	loc      *time.Location
	now      func() time.Time
}

// Dial authenticates account and returns a client for it.
func Dial(ctx context.Context, account string) (*Client, error) {
	hc, err := auth.GetClient(ctx, auth.Scopes, account)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, option.WithHTTPClient(hc))
}

// NewClient builds the API services from opts.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	ts, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Tasks client: %w", err)
	}
	cs, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return &Client{tasks: ts, calendar: cs, loc: time.Local, now: time.Now}, nil
}

// Discover lists the task lists and calendars the account can see.
func (c *Client) Discover(ctx context.Context) ([]model.Collection, error) {
	var out []model.Collection

	err := c.tasks.Tasklists.List().MaxResults(100).Pages(ctx, func(page *tasks.TaskLists) error {
		for _, l := range page.Items {
			out = append(out, model.Collection{DisplayName: l.Title, ResourceURL: l.Id, Kind: model.TaskList})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve task lists: %w", err)
	}

	err = c.calendar.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, entry := range page.Items {
			name := entry.Summary
			if entry.SummaryOverride != "" {
				name = entry.SummaryOverride
			}
			out = append(out, model.Collection{DisplayName: name, ResourceURL: entry.Id, Kind: model.EventCalendar})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	return out, nil
}

// TaskList returns the remote for the task list with the given id.
func (c *Client) TaskList(id string) *TaskList {
	return &TaskList{srv: c.tasks, listID: id, loc: c.loc}
}

// Calendar returns the remote for the calendar with the given id.
func (c *Client) Calendar(id string) *Calendar {
	return &Calendar{srv: c.calendar, calendarID: id, loc: c.loc, now: c.now}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
}
