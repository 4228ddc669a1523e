// Package reconcile maps the task lines of a document onto persistent
// tasks, turning each parse into creates, updates and deletes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/index"
	"github.com/harrisonrobin/taskweave/pkg/model"
)

// Tasks is the task store as seen by the reconciler.
type Tasks interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error
}

// Lifecycle runs the transitions that have side effects beyond one row:
// completing (which may spawn a recurring successor) and deleting (which
// may leave a tombstone).
type Lifecycle interface {
	Complete(ctx context.Context, t *model.Task) error
	Delete(ctx context.Context, taskID string) error
}

// Op names the step a Failure happened in.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpComplete Op = "complete"
	OpDelete   Op = "delete"
)

// Failure is one mention or orphan that could not be applied.
type Failure struct {
	Op       Op
	InlineID string
	TaskID   string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s (task %s): %v", f.Op, f.InlineID, f.TaskID, f.Err)
}

// Result reports what one pass changed.
type Result struct {
	Created    []*model.Task
	Updated    []*model.Task
	DeletedIDs []string
	Failures   []Failure
}

// Empty reports whether the pass changed nothing.
func (r *Result) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.DeletedIDs) == 0
}

type Reconciler struct {
	tasks Tasks
	maps  index.Backend
	life  Lifecycle
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(tasks Tasks, maps index.Backend, life Lifecycle, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{tasks: tasks, maps: maps, life: life, now: now, locks: make(map[string]*sync.Mutex)}
}

// lock serialises passes over the same document.
func (r *Reconciler) lock(documentID string) func() {
	r.mu.Lock()
	l, ok := r.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[documentID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Reconcile applies mentions, the freshly parsed task lines of documentID,
// against the document's identity map. Creates and updates for every
// mention run before any orphan is deleted. A failing mention or orphan is
// reported in Result.Failures and does not stop the pass; the returned
// error is set only when the identity map itself cannot be read or written.
func (r *Reconciler) Reconcile(ctx context.Context, documentID string, mentions []model.Mention) (*Result, error) {
	defer r.lock(documentID)()

	idx, err := index.Load(ctx, r.maps, documentID)
	if err != nil {
		return nil, fmt.Errorf("error loading identity map of %s: %w", documentID, err)
	}

	res := &Result{}
	current := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		current[m.InlineID] = true

		if taskID, ok := idx.Get(m.InlineID); ok {
			task, err := r.tasks.GetTask(ctx, taskID)
			switch {
			case err == nil:
				r.update(ctx, res, m, task)
				continue
			case errors.Is(err, model.ErrNotFound):
				// deleted behind the document's back; give the line a new task
				idx.Remove(m.InlineID)
			default:
				res.fail(Failure{Op: OpUpdate, InlineID: m.InlineID, TaskID: taskID, Err: err})
				continue
			}
		}
		r.create(ctx, res, idx, documentID, m)
	}

	orphans := idx.Orphans(current)
	sort.Strings(orphans)
	for _, inline := range orphans {
		taskID, _ := idx.Get(inline)
		err := r.life.Delete(ctx, taskID)
		switch {
		case err == nil:
			res.DeletedIDs = append(res.DeletedIDs, taskID)
		case errors.Is(err, model.ErrNotFound):
		default:
			// keep the mapping so the next pass retries
			res.fail(Failure{Op: OpDelete, InlineID: inline, TaskID: taskID, Err: err})
			continue
		}
		idx.Remove(inline)
	}

	if err := idx.Save(ctx, r.maps); err != nil {
		return res, fmt.Errorf("error saving identity map of %s: %w", documentID, err)
	}

	log.Debug().
		Str("document_id", documentID).
		Int("created", len(res.Created)).
		Int("updated", len(res.Updated)).
		Int("deleted", len(res.DeletedIDs)).
		Int("failed", len(res.Failures)).
		Msg("reconciled document")
	return res, nil
}

// Forget drops every mapping of documentID that points at taskID and
// returns the inline ids it dropped.
func (r *Reconciler) Forget(ctx context.Context, documentID, taskID string) ([]string, error) {
	defer r.lock(documentID)()

	idx, err := index.Load(ctx, r.maps, documentID)
	if err != nil {
		return nil, fmt.Errorf("error loading identity map of %s: %w", documentID, err)
	}
	inline := idx.InlineIDs(taskID)
	for _, id := range inline {
		idx.Remove(id)
	}
	if err := idx.Save(ctx, r.maps); err != nil {
		return nil, fmt.Errorf("error saving identity map of %s: %w", documentID, err)
	}
	return inline, nil
}

func (r *Reconciler) update(ctx context.Context, res *Result, m model.Mention, task *model.Task) {
	changed := false
	if task.Content != m.Content {
		task.Content = m.Content
		changed = true
	}
	if !model.SameDue(task.Due, m.Due) {
		task.Due = m.Due
		changed = true
	}
	if task.Done() && !m.Done {
		task.Status = model.StatusTodo
		changed = true
	}
	completing := m.Done && !task.Done()
	if !changed && !completing {
		return
	}

	if changed {
		task.UpdatedAt = r.now()
		if err := r.tasks.UpdateTask(ctx, task); err != nil {
			res.fail(Failure{Op: OpUpdate, InlineID: m.InlineID, TaskID: task.ID, Err: err})
			return
		}
	}
	if completing {
		if err := r.life.Complete(ctx, task); err != nil {
			res.fail(Failure{Op: OpComplete, InlineID: m.InlineID, TaskID: task.ID, Err: err})
			if !changed {
				return
			}
		}
	}
	res.Updated = append(res.Updated, task)
}

func (r *Reconciler) create(ctx context.Context, res *Result, idx *index.IdentityMap, documentID string, m model.Mention) {
	now := r.now()
	task := &model.Task{
		Content:   m.Content,
		Status:    model.StatusTodo,
		Due:       m.Due,
		Contexts:  []string{documentID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.tasks.CreateTask(ctx, task); err != nil {
		res.fail(Failure{Op: OpCreate, InlineID: m.InlineID, Err: err})
		return
	}
	idx.Set(m.InlineID, task.ID)
	res.Created = append(res.Created, task)

	if m.Done {
		if err := r.life.Complete(ctx, task); err != nil {
			res.fail(Failure{Op: OpComplete, InlineID: m.InlineID, TaskID: task.ID, Err: err})
		}
	}
}

func (res *Result) fail(f Failure) {
	log.Warn().
		Err(f.Err).
		Str("op", string(f.Op)).
		Str("inline_id", f.InlineID).
		Str("task_id", f.TaskID).
		Msg("reconciliation item failed")
	res.Failures = append(res.Failures, f)
}
