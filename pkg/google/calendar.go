package google

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskweave/pkg/model"
	"github.com/harrisonrobin/taskweave/pkg/util"
)

const (
	lookBehind = 30 * 24 * time.Hour
	lookAhead  = 365 * 24 * time.Hour
)

// Calendar is a Google calendar synchronised as a read-only
// event_calendar resource.
type Calendar struct {
	srv        *calendar.Service
	calendarID string
	loc        *time.Location
	now        func() time.Time
}

// List fetches the events from a month back to a year ahead, with
// recurring events expanded into single occurrences.
func (c *Calendar) List(ctx context.Context) ([]model.RemoteItem, error) {
	now := c.now()
	var items []model.RemoteItem
	err := c.srv.Events.List(c.calendarID).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		TimeMin(now.Add(-lookBehind).Format(time.RFC3339)).
		TimeMax(now.Add(lookAhead).Format(time.RFC3339)).
		Pages(ctx, func(page *calendar.Events) error {
			for _, e := range page.Items {
				if it, ok := util.EventToItem(e, c.loc); ok {
					items = append(items, it)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}
	return items, nil
}

func (c *Calendar) Put(context.Context, model.RemoteItem) (model.RemoteItem, error) {
	return model.RemoteItem{}, ErrReadOnly
}

func (c *Calendar) Delete(context.Context, string) error {
	return ErrReadOnly
}
