// Package calsync keeps local tasks in step with external calendars and
// task lists.
//
// Every configured resource runs the same pass,
//
//	Idle -> Discovering -> Pulling -> Reconciling -> Pushing -> Idle
//
// and drops to Failed (then back to Idle) on the first error that stops
// it. Passes for different resources are independent: one failing never
// stops the others. At most one pass per resource is in flight; a pass
// requested meanwhile is dropped rather than queued.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// ErrPassInFlight reports a pass dropped because another one for the same
// resource is still running.
var ErrPassInFlight = errors.New("sync pass already in flight")

// Remote is one external collection as seen by a pass.
type Remote interface {
	List(ctx context.Context) ([]model.RemoteItem, error)
	// Put creates the item when ExternalUID is empty and updates it
	// otherwise, returning the stored version.
	Put(ctx context.Context, item model.RemoteItem) (model.RemoteItem, error)
	Delete(ctx context.Context, externalUID string) error
}

// Connector opens the remote side of a configured resource.
type Connector interface {
	Connect(ctx context.Context, r *model.Resource) (Remote, error)
}

// Store is the local side of a pass.
type Store interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	ListResources(ctx context.Context) ([]*model.Resource, error)

	GetTaskByExternalUID(ctx context.Context, resourceID, uid string) (*model.Task, error)
	ListTasksByResource(ctx context.Context, resourceID string) ([]*model.Task, error)
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error

	ReplaceEvents(ctx context.Context, resourceID string, events []model.Event) error
}

// Ledger is the tombstone ledger.
type Ledger interface {
	// Bury deletes a task and tombstones its uid in one write.
	Bury(ctx context.Context, taskID, externalUID string) error
	IsTombstoned(ctx context.Context, externalUID string) (bool, error)
}

// ResourceError is a failure scoped to one resource.
type ResourceError struct {
	ResourceID string
	State      State
	Err        error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %s: %v", e.ResourceID, e.State, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Report sums up one SyncNow call.
type Report struct {
	Pulled            int
	Pushed            int
	SkippedTombstoned int
	Errors            []error
}

func (r *Report) add(o *Report) {
	r.Pulled += o.Pulled
	r.Pushed += o.Pushed
	r.SkippedTombstoned += o.SkippedTombstoned
	r.Errors = append(r.Errors, o.Errors...)
}

// Options tunes a Syncer.
type Options struct {
	// DeleteTombstonedRemote asks the remote to drop items whose local task
	// was deleted, instead of only ignoring them.
	DeleteTombstonedRemote bool
	Now                    func() time.Time
}

type runner struct {
	inFlight atomic.Bool
	state    atomic.Int32
}

type Syncer struct {
	store     Store
	ledger    Ledger
	connector Connector
	opts      Options

	mu      sync.Mutex
	runners map[string]*runner
}

func NewSyncer(store Store, ledger Ledger, connector Connector, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:     store,
		ledger:    ledger,
		connector: connector,
		opts:      opts,
		runners:   make(map[string]*runner),
	}
}

func (s *Syncer) runner(resourceID string) *runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[resourceID]
	if !ok {
		r = &runner{}
		s.runners[resourceID] = r
	}
	return r
}

// State returns where the pass of resourceID currently is.
func (s *Syncer) State(resourceID string) State {
	return State(s.runner(resourceID).state.Load())
}

// SyncNow runs one pass for resourceID, or for every configured resource
// when resourceID is empty. Resource failures land in Report.Errors; the
// returned error is reserved for the store being unusable.
func (s *Syncer) SyncNow(ctx context.Context, resourceID string) (*Report, error) {
	var resources []*model.Resource
	if resourceID != "" {
		r, err := s.store.GetResource(ctx, resourceID)
		if err != nil {
			return nil, fmt.Errorf("error loading resource %s: %w", resourceID, err)
		}
		resources = []*model.Resource{r}
	} else {
		var err error
		if resources, err = s.store.ListResources(ctx); err != nil {
			return nil, fmt.Errorf("error loading resources: %w", err)
		}
	}

	report := &Report{}
	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, &ResourceError{ResourceID: r.ID, State: Idle, Err: err})
			continue
		}
		report.add(s.syncResource(ctx, r))
	}
	return report, nil
}

func (s *Syncer) syncResource(ctx context.Context, r *model.Resource) *Report {
	run := s.runner(r.ID)
	if !run.inFlight.CompareAndSwap(false, true) {
		log.Debug().Str("resource_id", r.ID).Msg("sync pass already running, dropped")
		return &Report{Errors: []error{&ResourceError{ResourceID: r.ID, State: run.current(), Err: ErrPassInFlight}}}
	}
	defer run.inFlight.Store(false)

	p := &pass{Syncer: s, run: run, resource: r, report: &Report{}, now: s.opts.Now()}
	if err := p.execute(ctx); err != nil {
		state := run.current()
		run.set(Failed)
		log.Error().Err(err).
			Str("resource_id", r.ID).
			Str("resource", r.DisplayName).
			Stringer("state", state).
			Msg("sync pass failed")
		p.report.Errors = append(p.report.Errors, &ResourceError{ResourceID: r.ID, State: state, Err: err})
	}
	run.set(Idle)

	log.Info().
		Str("resource_id", r.ID).
		Int("pulled", p.report.Pulled).
		Int("pushed", p.report.Pushed).
		Int("skipped_tombstoned", p.report.SkippedTombstoned).
		Int("errors", len(p.report.Errors)).
		Msg("sync pass finished")
	return p.report
}

// Run syncs every resource now and then on each tick until ctx ends.
// Ticks that arrive while a pass is still running collapse into nothing.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.SyncNow(ctx, "")
			if err != nil {
				log.Error().Err(err).Msg("sync failed")
				return
			}
			for _, e := range report.Errors {
				if !errors.Is(e, ErrPassInFlight) {
					log.Warn().Err(e).Msg("sync error")
				}
			}
		}()
	}

	fire()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fire()
		}
	}
}
