package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskweave/pkg/calsync"
	"github.com/harrisonrobin/taskweave/pkg/model"
	"github.com/harrisonrobin/taskweave/pkg/recurrence"
	"github.com/harrisonrobin/taskweave/pkg/service"
	"github.com/harrisonrobin/taskweave/pkg/store"
)

// Wednesday morning
var ref = time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)

type remote struct {
	items map[string]model.RemoteItem
}

func (r *remote) List(context.Context) ([]model.RemoteItem, error) {
	var out []model.RemoteItem
	for _, it := range r.items {
		out = append(out, it)
	}
	return out, nil
}

func (r *remote) Put(_ context.Context, it model.RemoteItem) (model.RemoteItem, error) {
	if it.ExternalUID == "" {
		it.ExternalUID = fmt.Sprintf("r%d", len(r.items)+1)
	}
	r.items[it.ExternalUID] = it
	return it, nil
}

func (r *remote) Delete(_ context.Context, uid string) error {
	delete(r.items, uid)
	return nil
}

type connector struct{ remote *remote }

func (c connector) Connect(context.Context, *model.Resource) (calsync.Remote, error) {
	return c.remote, nil
}

func (c connector) Discover(context.Context, string) ([]model.Collection, error) {
	return []model.Collection{{DisplayName: "Inbox", ResourceURL: "L1", Kind: model.TaskList}}, nil
}

type env struct {
	svc    *service.Service
	store  *store.Store
	remote *remote
	now    time.Time
	dbPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e := &env{store: st, remote: &remote{items: map[string]model.RemoteItem{}}, now: ref, dbPath: path}
	conn := connector{remote: e.remote}
	e.svc = service.New(st, service.Options{
		Now:        func() time.Time { return e.now },
		Connector:  conn,
		Discoverer: conn,
	})
	return e
}

// exec runs raw SQL on a second handle, for faults the store cannot produce.
func (e *env) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+e.dbPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(query, args...)
	require.NoError(t, err)
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	res, err := e.svc.Reconcile(ctx, "doc", "- [ ] Buy milk @tomorrow")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	milk := res.Created[0]
	assert.Equal(t, "Buy milk", milk.Content)
	tomorrow := time.Date(2024, 6, 13, 12, 0, 0, 0, time.UTC)
	assert.True(t, tomorrow.Equal(*milk.Due))
	assert.Contains(t, res.Text, "<!-- task-id:")

	// no rule, no successor
	done, err := e.svc.SetCompletion(ctx, milk.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, done.Task.Status)
	assert.Nil(t, done.Successor)

	_, err = e.svc.SetCompletion(ctx, milk.ID, false)
	require.NoError(t, err)
	_, err = e.svc.SetRecurrence(ctx, milk.ID, "weekly")
	require.NoError(t, err)

	done, err = e.svc.CompleteTask(ctx, milk.ID)
	require.NoError(t, err)
	require.NotNil(t, done.Successor)
	assert.True(t, tomorrow.AddDate(0, 0, 7).Equal(*done.Successor.Due))
	assert.Equal(t, []string{"doc"}, done.Successor.Contexts)
	assert.Equal(t, "Buy milk", done.Successor.Content)

	original, err := e.svc.Task(ctx, milk.ID)
	require.NoError(t, err)
	assert.Nil(t, original.Rule)
	assert.Equal(t, model.StatusDone, original.Status)

	next, err := e.svc.Task(ctx, done.Successor.ID)
	require.NoError(t, err)
	require.NotNil(t, next.Rule)
	assert.Equal(t, model.Weekly, next.Rule.Unit)

	// completing again spawns nothing more
	again, err := e.svc.CompleteTask(ctx, milk.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Successor)

	all, err := e.svc.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReconcileIdempotentAndStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	first, err := e.svc.Reconcile(ctx, "doc", "# Groceries\n- [ ] Milk\n- [x] Bread due today\n")
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)

	second, err := e.svc.Reconcile(ctx, "doc", first.Text)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Equal(t, first.Text, second.Text)

	doc, err := e.svc.Document(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, first.Text, doc.Content)

	_, err = e.svc.Reconcile(ctx, " ", "- [ ] x")
	assert.Error(t, err)
}

func TestReconcileOrphanCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	first, err := e.svc.Reconcile(ctx, "doc", "- [ ] A\n- [ ] B\n- [ ] C\n")
	require.NoError(t, err)
	require.Len(t, first.Created, 3)
	ids := map[string]string{}
	for _, task := range first.Created {
		ids[task.Content] = task.ID
	}

	var kept []string
	for _, line := range strings.SplitAfter(first.Text, "\n") {
		if !strings.HasPrefix(line, "- [ ] C") {
			kept = append(kept, line)
		}
	}
	second, err := e.svc.Reconcile(ctx, "doc", strings.Join(kept, ""))
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, []string{ids["C"]}, second.DeletedIDs)

	_, err = e.svc.Task(ctx, ids["C"])
	assert.ErrorIs(t, err, model.ErrNotFound)
	for _, name := range []string{"A", "B"} {
		_, err := e.svc.Task(ctx, ids[name])
		assert.NoError(t, err)
	}
}

func TestDeleteTaskRewritesDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	res, err := e.svc.Reconcile(ctx, "doc", "intro\n- [ ] Keep\n- [ ] Drop\noutro\n")
	require.NoError(t, err)
	var drop string
	for _, task := range res.Created {
		if task.Content == "Drop" {
			drop = task.ID
		}
	}
	require.NotEmpty(t, drop)

	require.NoError(t, e.svc.DeleteTask(ctx, drop))

	doc, err := e.svc.Document(ctx, "doc")
	require.NoError(t, err)
	assert.NotContains(t, doc.Content, "Drop")
	assert.Contains(t, doc.Content, "Keep")
	assert.True(t, strings.HasPrefix(doc.Content, "intro\n"))
	assert.True(t, strings.HasSuffix(doc.Content, "outro\n"))

	// the rewritten document is already in step
	again, err := e.svc.Reconcile(ctx, "doc", doc.Content)
	require.NoError(t, err)
	assert.True(t, again.Empty())

	assert.ErrorIs(t, e.svc.DeleteTask(ctx, drop), model.ErrNotFound)
}

func TestDeletedSyncedTaskIsNotResurrected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.remote.items["X"] = model.RemoteItem{ExternalUID: "X", Summary: "From phone", LastModified: ref}

	cols, err := e.svc.Discover(ctx, "me")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	resID, err := e.svc.ConfigureResource(ctx, cols[0].ResourceURL, "me", cols[0].DisplayName, cols[0].Kind)
	require.NoError(t, err)

	rep, err := e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)

	local, err := e.store.GetTaskByExternalUID(ctx, resID, "X")
	require.NoError(t, err)
	require.NoError(t, e.svc.DeleteTask(ctx, local.ID))

	e.now = ref.Add(time.Hour)
	rep, err = e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pulled)
	assert.Equal(t, 1, rep.SkippedTombstoned)
	_, err = e.store.GetTaskByExternalUID(ctx, resID, "X")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// pruning lifts the suppression
	n, err := e.svc.PruneTombstones(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rep, err = e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)
}

func TestResourceManagement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.ConfigureResource(ctx, "L1", "me", "", "shared_folder")
	assert.Error(t, err)
	_, err = e.svc.ConfigureResource(ctx, "", "me", "", model.TaskList)
	assert.Error(t, err)

	resID, err := e.svc.ConfigureResource(ctx, "L1", "me", "", model.TaskList)
	require.NoError(t, err)
	e.remote.items["Y"] = model.RemoteItem{ExternalUID: "Y", Summary: "Synced", LastModified: ref}
	_, err = e.svc.SyncNow(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.svc.RemoveResource(ctx, resID))
	assert.ErrorIs(t, e.svc.RemoveResource(ctx, resID), model.ErrNotFound)

	resources, err := e.svc.Resources(ctx)
	require.NoError(t, err)
	assert.Empty(t, resources)

	tasks, err := e.svc.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Synced", tasks[0].Content)
	assert.Empty(t, tasks[0].ExternalUID)
	assert.Empty(t, tasks[0].ResourceID)
}

func TestBadRulesDoNotBlockCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	res, err := e.svc.Reconcile(ctx, "doc", "- [ ] Odd one")
	require.NoError(t, err)
	id := res.Created[0].ID

	_, err = e.svc.SetRecurrence(ctx, id, "whenever")
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)

	task, err := e.svc.Task(ctx, id)
	require.NoError(t, err)
	task.Rule = &model.RecurrenceRule{Unit: "hourly"}
	require.NoError(t, e.store.UpdateTask(ctx, task))

	done, err := e.svc.CompleteTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, done.Task.Status)
	assert.Nil(t, done.Successor)

	stored, err := e.svc.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, stored.Status)
}

func TestServiceWithoutConnector(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer st.Close()
	svc := service.New(st, service.Options{})

	_, err = svc.SyncNow(context.Background(), "")
	assert.Error(t, err)
	_, err = svc.Discover(context.Background(), "me")
	assert.Error(t, err)
}

func TestFailedTombstoneKeepsTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.remote.items["X"] = model.RemoteItem{ExternalUID: "X", Summary: "From phone", LastModified: ref}
	resID, err := e.svc.ConfigureResource(ctx, "L1", "me", "Inbox", model.TaskList)
	require.NoError(t, err)
	_, err = e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	local, err := e.store.GetTaskByExternalUID(ctx, resID, "X")
	require.NoError(t, err)

	e.exec(t, `CREATE TRIGGER no_stones BEFORE INSERT ON tombstones
		BEGIN SELECT RAISE(ABORT, 'disk hiccup'); END`)
	assert.Error(t, e.svc.DeleteTask(ctx, local.ID))
	_, err = e.svc.Task(ctx, local.ID)
	require.NoError(t, err, "a delete without its tombstone must not happen")

	e.exec(t, `DROP TRIGGER no_stones`)
	e.now = ref.Add(time.Hour)
	rep, err := e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pulled)
	all, err := e.svc.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// the retry goes through and stays deleted
	require.NoError(t, e.svc.DeleteTask(ctx, local.ID))
	rep, err = e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Pulled)
	assert.Equal(t, 1, rep.SkippedTombstoned)
	_, err = e.store.GetTaskByExternalUID(ctx, resID, "X")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFailedOrphanDeleteIsRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.remote.items["X"] = model.RemoteItem{ExternalUID: "X", Summary: "Shared", LastModified: ref}
	resID, err := e.svc.ConfigureResource(ctx, "L1", "me", "Inbox", model.TaskList)
	require.NoError(t, err)
	_, err = e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	local, err := e.store.GetTaskByExternalUID(ctx, resID, "X")
	require.NoError(t, err)

	// adopt the synced task into a document through its identity map
	require.NoError(t, e.store.SaveIdentityMap(ctx, "doc", map[string]string{"inline-1": local.ID}))
	e.exec(t, `CREATE TRIGGER no_stones BEFORE INSERT ON tombstones
		BEGIN SELECT RAISE(ABORT, 'disk hiccup'); END`)
	res, err := e.svc.Reconcile(ctx, "doc", "nothing here\n")
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Empty(t, res.DeletedIDs)

	e.exec(t, `DROP TRIGGER no_stones`)
	res, err = e.svc.Reconcile(ctx, "doc", "nothing here\n")
	require.NoError(t, err)
	assert.Equal(t, []string{local.ID}, res.DeletedIDs)

	rep, err := e.svc.SyncNow(ctx, resID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SkippedTombstoned)
	_, err = e.store.GetTaskByExternalUID(ctx, resID, "X")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLinkedDocumentTaskIsPushed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	res, err := e.svc.Reconcile(ctx, "doc", "- [ ] Call the plumber @tomorrow\n")
	require.NoError(t, err)
	id := res.Created[0].ID

	listID, err := e.svc.ConfigureResource(ctx, "L1", "me", "Inbox", model.TaskList)
	require.NoError(t, err)
	calID, err := e.svc.ConfigureResource(ctx, "C1", "me", "Team", model.EventCalendar)
	require.NoError(t, err)

	_, err = e.svc.LinkTask(ctx, id, calID)
	assert.Error(t, err)
	_, err = e.svc.LinkTask(ctx, id, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	linked, err := e.svc.LinkTask(ctx, id, listID)
	require.NoError(t, err)
	assert.Equal(t, listID, linked.ResourceID)

	e.now = ref.Add(time.Minute)
	rep, err := e.svc.SyncNow(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pushed)
	require.Len(t, e.remote.items, 1)

	task, err := e.svc.Task(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, task.ExternalUID)
	uid := task.ExternalUID
	assert.Equal(t, "Call the plumber", e.remote.items[uid].Summary)

	// the next pass finds it in step and keeps the uid
	e.now = ref.Add(time.Hour)
	rep, err = e.svc.SyncNow(ctx, listID)
	require.NoError(t, err)
	assert.Zero(t, rep.Pushed)
	assert.Zero(t, rep.Pulled)
	task, err = e.svc.Task(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uid, task.ExternalUID)
	assert.Len(t, e.remote.items, 1)

	// a synced task cannot move to another list
	other, err := e.svc.ConfigureResource(ctx, "L2", "me", "Work", model.TaskList)
	require.NoError(t, err)
	_, err = e.svc.LinkTask(ctx, id, other)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestMalformedStoredRuleStillCompletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	res, err := e.svc.Reconcile(ctx, "doc", "- [ ] Odd one")
	require.NoError(t, err)
	id := res.Created[0].ID
	e.exec(t, `UPDATE tasks SET rule = '{broken' WHERE id = ?`, id)

	done, err := e.svc.CompleteTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, done.Task.Status)
	assert.Nil(t, done.Successor)
}
