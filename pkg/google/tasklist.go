package google

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/taskweave/pkg/model"
	"github.com/harrisonrobin/taskweave/pkg/util"
)

// TaskList is a Google Tasks list synchronised as a task_list resource.
type TaskList struct {
	srv    *tasks.Service
	listID string
	loc    *time.Location
}

// List fetches every task of the list, completed and hidden ones included.
func (l *TaskList) List(ctx context.Context) ([]model.RemoteItem, error) {
	var items []model.RemoteItem
	err := l.srv.Tasks.List(l.listID).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(false).
		MaxResults(100).
		Pages(ctx, func(page *tasks.Tasks) error {
			for _, t := range page.Items {
				if it, ok := util.TaskToItem(t, l.loc); ok {
					items = append(items, it)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve tasks of list %s: %w", l.listID, err)
	}
	return items, nil
}

// Put inserts item when it has no external uid, and patches the fields
// that differ otherwise. A task gone from the list is inserted again.
func (l *TaskList) Put(ctx context.Context, item model.RemoteItem) (model.RemoteItem, error) {
	target := util.ItemToTask(item)

	if item.ExternalUID != "" {
		existing, err := l.srv.Tasks.Get(l.listID, item.ExternalUID).Context(ctx).Do()
		switch {
		case err == nil:
			patch := util.ItemNeedsUpdate(existing, target)
			if patch == nil {
				return l.convert(existing, item)
			}
			updated, err := l.srv.Tasks.Patch(l.listID, existing.Id, patch).Context(ctx).Do()
			if err != nil {
				return model.RemoteItem{}, fmt.Errorf("error patching task %s: %w", existing.Id, err)
			}
			return l.convert(updated, item)
		case isNotFound(err):
			log.Debug().Str("external_uid", item.ExternalUID).Msg("task vanished from list, inserting again")
		default:
			return model.RemoteItem{}, fmt.Errorf("error fetching task %s: %w", item.ExternalUID, err)
		}
	}

	target.Id = ""
	created, err := l.srv.Tasks.Insert(l.listID, target).Context(ctx).Do()
	if err != nil {
		return model.RemoteItem{}, fmt.Errorf("error inserting task: %w", err)
	}
	return l.convert(created, item)
}

// Delete removes a task; a task already gone counts as deleted.
func (l *TaskList) Delete(ctx context.Context, externalUID string) error {
	err := l.srv.Tasks.Delete(l.listID, externalUID).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("error deleting task %s: %w", externalUID, err)
	}
	return nil
}

func (l *TaskList) convert(t *tasks.Task, sent model.RemoteItem) (model.RemoteItem, error) {
	it, ok := util.TaskToItem(t, l.loc)
	if !ok {
		return model.RemoteItem{}, fmt.Errorf("task list %s returned an unusable task for %q", l.listID, sent.Summary)
	}
	return it, nil
}
