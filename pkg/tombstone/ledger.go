// Package tombstone remembers deleted externally sourced tasks so a later
// sync pull does not bring them back.
package tombstone

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// Backend is the persistent side of the ledger.
type Backend interface {
	AppendTombstone(ctx context.Context, t model.Tombstone) error
	// DeleteTaskWithTombstone deletes the task and appends t atomically.
	DeleteTaskWithTombstone(ctx context.Context, taskID string, t model.Tombstone) error
	HasTombstone(ctx context.Context, externalUID string) (bool, error)
	PruneTombstones(ctx context.Context, before time.Time) (int, error)
}

type Ledger struct {
	backend Backend
	now     func() time.Time
}

func NewLedger(backend Backend, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{backend: backend, now: now}
}

// Record appends a tombstone for externalUID. Empty UIDs are ignored.
func (l *Ledger) Record(ctx context.Context, externalUID string) error {
	if externalUID == "" {
		return nil
	}
	if err := l.backend.AppendTombstone(ctx, model.Tombstone{ExternalUID: externalUID, DeletedAt: l.now()}); err != nil {
		return fmt.Errorf("error recording tombstone for %s: %w", externalUID, err)
	}
	return nil
}

// Bury deletes the task and tombstones externalUID in one write, so a
// task is never gone without its tombstone. A task with no uid is just
// deleted.
func (l *Ledger) Bury(ctx context.Context, taskID, externalUID string) error {
	stone := model.Tombstone{ExternalUID: externalUID, DeletedAt: l.now()}
	if err := l.backend.DeleteTaskWithTombstone(ctx, taskID, stone); err != nil {
		return fmt.Errorf("error deleting task %s: %w", taskID, err)
	}
	return nil
}

// IsTombstoned reports whether externalUID was deleted locally.
func (l *Ledger) IsTombstoned(ctx context.Context, externalUID string) (bool, error) {
	if externalUID == "" {
		return false, nil
	}
	return l.backend.HasTombstone(ctx, externalUID)
}

// Prune drops tombstones older than maxAge. It is an administrative
// operation and never runs on its own.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := l.backend.PruneTombstones(ctx, l.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("error pruning tombstones: %w", err)
	}
	log.Info().Int("pruned", n).Dur("max_age", maxAge).Msg("pruned tombstones")
	return n, nil
}
