package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// pass is one run of the state machine for one resource.
type pass struct {
	*Syncer
	run      *runner
	resource *model.Resource
	report   *Report
	now      time.Time
}

func (p *pass) execute(ctx context.Context) error {
	p.run.set(Discovering)
	remote, err := p.connector.Connect(ctx, p.resource)
	if err != nil {
		return fmt.Errorf("could not reach %s: %w", p.resource.Endpoint, err)
	}

	p.run.set(Pulling)
	items, err := remote.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list items: %w", err)
	}

	p.run.set(Reconciling)
	if p.resource.Kind == model.EventCalendar {
		return p.reconcileEvents(ctx, items)
	}
	if err := p.reconcileTasks(ctx, remote, items); err != nil {
		return err
	}

	p.run.set(Pushing)
	return p.push(ctx, remote)
}

// reconcileEvents mirrors an event calendar into the read-only events table.
func (p *pass) reconcileEvents(ctx context.Context, items []model.RemoteItem) error {
	events := make([]model.Event, 0, len(items))
	for _, it := range items {
		events = append(events, model.Event{
			ResourceID:   p.resource.ID,
			ExternalUID:  it.ExternalUID,
			Summary:      it.Summary,
			Start:        it.Due,
			LastModified: it.LastModified,
		})
	}
	if err := p.store.ReplaceEvents(ctx, p.resource.ID, events); err != nil {
		return err
	}
	p.report.Pulled += len(events)
	return nil
}

func (p *pass) reconcileTasks(ctx context.Context, remote Remote, items []model.RemoteItem) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[it.ExternalUID] = true

		local, err := p.store.GetTaskByExternalUID(ctx, p.resource.ID, it.ExternalUID)
		switch {
		case err == nil:
			p.merge(ctx, local, it)
		case errors.Is(err, model.ErrNotFound):
			p.materialize(ctx, remote, it)
		default:
			p.itemError(it.ExternalUID, err)
		}
	}

	// items deleted remotely go away locally unless edited since last sync
	locals, err := p.store.ListTasksByResource(ctx, p.resource.ID)
	if err != nil {
		return err
	}
	for _, t := range locals {
		if t.ExternalUID == "" || seen[t.ExternalUID] || t.LocallyModified() {
			continue
		}
		if err := p.ledger.Bury(ctx, t.ID, t.ExternalUID); err != nil && !errors.Is(err, model.ErrNotFound) {
			p.itemError(t.ExternalUID, err)
			continue
		}
		log.Debug().Str("task_id", t.ID).Str("external_uid", t.ExternalUID).Msg("removed task deleted remotely")
	}
	return nil
}

// materialize creates a local task for a remote item never seen before,
// unless the item's task was deleted locally.
func (p *pass) materialize(ctx context.Context, remote Remote, it model.RemoteItem) {
	dead, err := p.ledger.IsTombstoned(ctx, it.ExternalUID)
	if err != nil {
		p.itemError(it.ExternalUID, err)
		return
	}
	if dead {
		p.report.SkippedTombstoned++
		if p.opts.DeleteTombstonedRemote && ctx.Err() == nil {
			if err := remote.Delete(ctx, it.ExternalUID); err != nil {
				p.itemError(it.ExternalUID, err)
			}
		}
		return
	}

	t := &model.Task{
		Content:     it.Summary,
		Status:      statusOf(it.Completed),
		Due:         it.Due,
		ResourceID:  p.resource.ID,
		ExternalUID: it.ExternalUID,
		SyncedAt:    p.now,
		CreatedAt:   p.now,
		UpdatedAt:   p.now,
	}
	if err := p.store.CreateTask(ctx, t); err != nil {
		// on a conflict the task that holds the uid first keeps it
		p.itemError(it.ExternalUID, err)
		return
	}
	p.report.Pulled++
}

// merge settles a task present on both sides. The side changed last wins
// every field the two disagree on; a task untouched locally since its last
// sync always takes the remote values.
func (p *pass) merge(ctx context.Context, local *model.Task, it model.RemoteItem) {
	diff := differs(local, it)
	if !diff {
		if local.UpdatedAt.After(local.SyncedAt) {
			local.SyncedAt = local.UpdatedAt
			if err := p.store.UpdateTask(ctx, local); err != nil {
				p.itemError(it.ExternalUID, err)
			}
		}
		return
	}
	if local.LocallyModified() && local.UpdatedAt.After(it.LastModified) {
		// local wins, written back during push
		return
	}

	local.Content = it.Summary
	local.Status = statusOf(it.Completed)
	if !sameDay(local.Due, it.Due) {
		local.Due = it.Due
	}
	local.UpdatedAt = p.now
	local.SyncedAt = p.now
	if err := p.store.UpdateTask(ctx, local); err != nil {
		p.itemError(it.ExternalUID, err)
		return
	}
	p.report.Pulled++
}

func (p *pass) push(ctx context.Context, remote Remote) error {
	locals, err := p.store.ListTasksByResource(ctx, p.resource.ID)
	if err != nil {
		return err
	}
	for _, t := range locals {
		if !t.LocallyModified() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		stored, err := remote.Put(ctx, model.RemoteItem{
			ExternalUID:  t.ExternalUID,
			Summary:      t.Content,
			Due:          t.Due,
			Completed:    t.Done(),
			LastModified: t.UpdatedAt,
		})
		if err != nil {
			p.itemError(t.ExternalUID, err)
			continue
		}
		t.ExternalUID = stored.ExternalUID
		t.SyncedAt = p.now
		if t.UpdatedAt.After(t.SyncedAt) {
			t.SyncedAt = t.UpdatedAt
		}
		if err := p.store.UpdateTask(ctx, t); err != nil {
			p.itemError(t.ExternalUID, err)
			continue
		}
		p.report.Pushed++
	}
	return nil
}

func (p *pass) itemError(uid string, err error) {
	log.Warn().Err(err).
		Str("resource_id", p.resource.ID).
		Str("external_uid", uid).
		Msg("sync item failed")
	p.report.Errors = append(p.report.Errors, &ResourceError{
		ResourceID: p.resource.ID,
		State:      p.run.current(),
		Err:        fmt.Errorf("item %s: %w", uid, err),
	})
}

func differs(local *model.Task, it model.RemoteItem) bool {
	return local.Content != it.Summary || !sameDay(local.Due, it.Due) || local.Done() != it.Completed
}

// sameDay compares due dates by calendar day; task lists drop the time.
func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func statusOf(completed bool) model.Status {
	if completed {
		return model.StatusDone
	}
	return model.StatusTodo
}
