package recurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// TaskWriter is the part of the task store the expander writes to.
type TaskWriter interface {
	// SpawnSuccessor stores completed and inserts successor atomically.
	SpawnSuccessor(ctx context.Context, completed, successor *model.Task) error
}

// Expander spawns the successor of a completed repeating task.
type Expander struct {
	store TaskWriter
	now   func() time.Time
}

func NewExpander(store TaskWriter, now func() time.Time) *Expander {
	if now == nil {
		now = time.Now
	}
	return &Expander{store: store, now: now}
}

// Expand creates the successor of completed and clears the rule on
// completed in the same write, so completing it again spawns nothing. It
// returns nil, nil when there is nothing to expand.
func (e *Expander) Expand(ctx context.Context, completed *model.Task) (*model.Task, error) {
	if completed.Rule == nil || !completed.Done() {
		return nil, nil
	}

	now := e.now()
	base := now
	if completed.Due != nil {
		base = *completed.Due
	}
	next, err := Next(completed.Rule, base)
	if err != nil {
		return nil, fmt.Errorf("could not compute next occurrence of %s: %w", completed.ID, err)
	}

	successor := &model.Task{
		Content:    completed.Content,
		Status:     model.StatusTodo,
		Due:        &next,
		Rule:       completed.Rule.Clone(),
		Contexts:   append([]string(nil), completed.Contexts...),
		ResourceID: completed.ResourceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	inert := completed.Clone()
	inert.Rule = nil
	inert.UpdatedAt = now
	if err := e.store.SpawnSuccessor(ctx, inert, successor); err != nil {
		return nil, fmt.Errorf("could not create successor of %s: %w", completed.ID, err)
	}
	completed.Rule = nil
	completed.UpdatedAt = now

	log.Debug().
		Str("task_id", completed.ID).
		Str("successor_id", successor.ID).
		Time("due", next).
		Msg("spawned recurring task")
	return successor, nil
}
