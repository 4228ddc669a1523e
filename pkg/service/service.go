// Package service is the entry point for everything outside the core:
// documents come in as raw text, task transitions and resource management
// go through here, and every operation hands back a synchronous result.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrisonrobin/taskweave/pkg/calsync"
	"github.com/harrisonrobin/taskweave/pkg/checklist"
	"github.com/harrisonrobin/taskweave/pkg/model"
	"github.com/harrisonrobin/taskweave/pkg/reconcile"
	"github.com/harrisonrobin/taskweave/pkg/recurrence"
	"github.com/harrisonrobin/taskweave/pkg/store"
	"github.com/harrisonrobin/taskweave/pkg/tombstone"
)

// Discoverer lists the collections an account can sync.
type Discoverer interface {
	Discover(ctx context.Context, account string) ([]model.Collection, error)
}

type Options struct {
	Now   func() time.Time
	NewID func() string

	Connector              calsync.Connector
	Discoverer             Discoverer
	DeleteTombstonedRemote bool
}

type Service struct {
	store      *store.Store
	parser     *checklist.Parser
	reconciler *reconcile.Reconciler
	expander   *recurrence.Expander
	ledger     *tombstone.Ledger
	syncer     *calsync.Syncer
	discoverer Discoverer
	now        func() time.Time
}

func New(st *store.Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		store:      st,
		parser:     &checklist.Parser{Now: opts.Now, NewID: opts.NewID},
		expander:   recurrence.NewExpander(st, opts.Now),
		ledger:     tombstone.NewLedger(st, opts.Now),
		discoverer: opts.Discoverer,
		now:        opts.Now,
	}
	s.reconciler = reconcile.New(st, st, s, opts.Now)
	if opts.Connector != nil {
		s.syncer = calsync.NewSyncer(st, s.ledger, opts.Connector, calsync.Options{
			DeleteTombstonedRemote: opts.DeleteTombstonedRemote,
			Now:                    opts.Now,
		})
	}
	return s
}

// ReconcileResult is a reconcile.Result plus the annotated document text.
type ReconcileResult struct {
	*reconcile.Result
	Text string
}

// Reconcile parses rawText as the new content of documentID, applies its
// task lines and stores the text with a marker on every task line.
func (s *Service) Reconcile(ctx context.Context, documentID, rawText string) (*ReconcileResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.New("document id is empty")
	}
	parsed := s.parser.Parse(rawText)

	res, err := s.reconciler.Reconcile(ctx, documentID, parsed.Mentions)
	if err != nil {
		return &ReconcileResult{Result: res, Text: parsed.Text}, err
	}

	doc := &model.Document{ID: documentID, Content: parsed.Text, UpdatedAt: s.now()}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return &ReconcileResult{Result: res, Text: parsed.Text}, fmt.Errorf("error saving document %s: %w", documentID, err)
	}
	return &ReconcileResult{Result: res, Text: parsed.Text}, nil
}

// Completion is the outcome of completing a task.
type Completion struct {
	Task      *model.Task
	Successor *model.Task
}

// CompleteTask marks a task done. A repeating task spawns its successor;
// completing a task that is already done changes nothing.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (*Completion, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Done() {
		return &Completion{Task: t}, nil
	}
	successor, err := s.complete(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Completion{Task: t, Successor: successor}, nil
}

// SetCompletion is the completion toggle. Reopening has no side effects.
func (s *Service) SetCompletion(ctx context.Context, taskID string, done bool) (*Completion, error) {
	if done {
		return s.CompleteTask(ctx, taskID)
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Done() {
		t.Status = model.StatusTodo
		t.UpdatedAt = s.now()
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return nil, err
		}
	}
	return &Completion{Task: t}, nil
}

// complete commits the transition, then expands. Expansion failures are
// logged; the completion stands.
func (s *Service) complete(ctx context.Context, t *model.Task) (*model.Task, error) {
	t.Status = model.StatusDone
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("error completing task %s: %w", t.ID, err)
	}

	successor, err := s.expander.Expand(ctx, t)
	if err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Msg("could not expand recurring task")
	}
	return successor, nil
}

// Complete implements reconcile.Lifecycle.
func (s *Service) Complete(ctx context.Context, t *model.Task) error {
	_, err := s.complete(ctx, t)
	return err
}

// Delete implements reconcile.Lifecycle: the task's line is already gone
// from its document.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	_, err := s.remove(ctx, taskID)
	return err
}

func (s *Service) remove(ctx context.Context, taskID string) (*model.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Bury(ctx, taskID, t.ExternalUID); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask deletes a task directly and removes its line from every
// document it is linked to.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	t, err := s.remove(ctx, taskID)
	if err != nil {
		return err
	}

	var errs []error
	for _, docID := range t.Contexts {
		if err := s.dropFromDocument(ctx, docID, taskID); err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Str("document_id", docID).Msg("could not clean up document")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) dropFromDocument(ctx context.Context, docID, taskID string) error {
	inline, err := s.reconciler.Forget(ctx, docID, taskID)
	if err != nil {
		return err
	}
	if len(inline) == 0 {
		return nil
	}

	doc, err := s.store.GetDocument(ctx, docID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ids := make(map[string]bool, len(inline))
	for _, id := range inline {
		ids[id] = true
	}
	doc.Content = checklist.RemoveTasks(doc.Content, ids)
	doc.UpdatedAt = s.now()
	return s.store.SaveDocument(ctx, doc)
}

// SetRecurrence attaches the rule written in text, e.g. "every 2 weeks" or
// "2nd tuesday monthly". An empty text clears the rule.
func (s *Service) SetRecurrence(ctx context.Context, taskID, text string) (*model.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		t.Rule = nil
	} else {
		rule, err := recurrence.Parse(text)
		if err != nil {
			return nil, err
		}
		t.Rule = rule
	}
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// LinkTask attaches a local task to a task list resource. The next sync
// pass creates it there.
func (s *Service) LinkTask(ctx context.Context, taskID, resourceID string) (*model.Task, error) {
	r, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if r.Kind != model.TaskList {
		return nil, fmt.Errorf("resource %s is a %s, tasks can only be linked to a %s", resourceID, r.Kind, model.TaskList)
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.ResourceID == resourceID {
		return t, nil
	}
	if t.ExternalUID != "" {
		return nil, fmt.Errorf("task %s already syncs with resource %s: %w", taskID, t.ResourceID, model.ErrConflict)
	}
	t.ResourceID = resourceID
	t.UpdatedAt = s.now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	log.Info().Str("task_id", taskID).Str("resource_id", resourceID).Msg("task linked")
	return t, nil
}

func (s *Service) Task(ctx context.Context, taskID string) (*model.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) Tasks(ctx context.Context) ([]*model.Task, error) {
	return s.store.ListTasks(ctx)
}

func (s *Service) Document(ctx context.Context, documentID string) (*model.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}

// ConfigureResource stores a resource picked from discovery and returns
// its id. credentials names the account used to reach it.
func (s *Service) ConfigureResource(ctx context.Context, endpoint, credentials, displayName string, kind model.ResourceKind) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", errors.New("resource endpoint is empty")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown resource kind %q", kind)
	}
	if displayName == "" {
		displayName = endpoint
	}
	r := &model.Resource{
		DisplayName: displayName,
		Endpoint:    endpoint,
		Credentials: credentials,
		Kind:        kind,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateResource(ctx, r); err != nil {
		return "", err
	}
	log.Info().Str("resource_id", r.ID).Str("resource", displayName).Str("kind", string(kind)).Msg("resource configured")
	return r.ID, nil
}

// RemoveResource deletes a resource and its events. Its tasks stay, as
// local tasks.
func (s *Service) RemoveResource(ctx context.Context, resourceID string) error {
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return err
	}
	if err := s.store.UnlinkResource(ctx, resourceID); err != nil {
		return err
	}
	return s.store.DeleteResource(ctx, resourceID)
}

func (s *Service) Resources(ctx context.Context) ([]*model.Resource, error) {
	return s.store.ListResources(ctx)
}

func (s *Service) Events(ctx context.Context, resourceID string) ([]model.Event, error) {
	return s.store.ListEvents(ctx, resourceID)
}

func (s *Service) Discover(ctx context.Context, account string) ([]model.Collection, error) {
	if s.discoverer == nil {
		return nil, errors.New("no discoverer configured")
	}
	return s.discoverer.Discover(ctx, account)
}

// SyncNow syncs resourceID, or every resource when it is empty.
func (s *Service) SyncNow(ctx context.Context, resourceID string) (*calsync.Report, error) {
	if s.syncer == nil {
		return nil, errors.New("no connector configured")
	}
	return s.syncer.SyncNow(ctx, resourceID)
}

// RunSync syncs every resource on each interval until ctx ends.
func (s *Service) RunSync(ctx context.Context, interval time.Duration) error {
	if s.syncer == nil {
		return errors.New("no connector configured")
	}
	return s.syncer.Run(ctx, interval)
}

// PruneTombstones drops tombstones older than maxAge.
func (s *Service) PruneTombstones(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.ledger.Prune(ctx, maxAge)
}
