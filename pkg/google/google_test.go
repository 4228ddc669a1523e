package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/taskweave/pkg/model"
)

// fakeGoogle serves the handful of Tasks and Calendar endpoints the remotes use.
type fakeGoogle struct {
	mu      sync.Mutex
	tasks   map[string]map[string]any
	order   []string
	n       int
	patches []map[string]any
	deletes []string
	pageReq int
}

func newFakeGoogle() *fakeGoogle {
	return &fakeGoogle{tasks: map[string]map[string]any{}}
}

func (f *fakeGoogle) add(task map[string]any) {
	id := task["id"].(string)
	f.tasks[id] = task
	f.order = append(f.order, id)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "Not Found"}})
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	switch {
	case strings.HasSuffix(p, "/users/@me/lists"):
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{
			map[string]any{"id": "L1", "title": "Inbox"},
		}})
	case strings.HasSuffix(p, "/users/me/calendarList"):
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{
			map[string]any{"id": "C1", "summary": "team@example.com", "summaryOverride": "Team"},
		}})
	case strings.Contains(p, "/calendars/"):
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{
			map[string]any{"id": "e1", "summary": "Standup", "updated": "2024-06-01T10:00:00Z",
				"start": map[string]any{"dateTime": "2024-06-13T09:00:00Z"}},
			map[string]any{"id": "e2", "summary": "Cancelled", "status": "cancelled"},
		}})
	case strings.Contains(p, "/lists/"):
		f.serveTasks(w, r, strings.Split(p[strings.Index(p, "/lists/")+len("/lists/"):], "/"))
	default:
		notFound(w)
	}
}

// serveTasks handles lists/{list}/tasks[/{id}] with parts split after "lists/".
func (f *fakeGoogle) serveTasks(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 2 || parts[0] != "L1" || parts[1] != "tasks" {
		notFound(w)
		return
	}
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			f.pageReq++
			// two pages, one task each, to exercise paging
			var items []any
			next := ""
			start := 0
			if r.URL.Query().Get("pageToken") == "p2" {
				start = 1
			} else if len(f.order) > 1 {
				next = "p2"
			}
			for i, id := range f.order {
				if (next != "" && i == 0) || (next == "" && i >= start) {
					items = append(items, f.tasks[id])
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextPageToken": next})
		case http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.n++
			body["id"] = fmt.Sprintf("new-%d", f.n)
			body["updated"] = "2024-06-12T10:00:00.000Z"
			f.add(body)
			writeJSON(w, http.StatusOK, body)
		}
		return
	}

	id := parts[2]
	task, ok := f.tasks[id]
	if !ok {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, task)
	case http.MethodPatch:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.patches = append(f.patches, body)
		for k, v := range body {
			if v == nil {
				delete(task, k)
			} else {
				task[k] = v
			}
		}
		task["updated"] = "2024-06-12T11:00:00.000Z"
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		delete(f.tasks, id)
		f.deletes = append(f.deletes, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTestClient(t *testing.T, f *fakeGoogle) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	c.loc = time.UTC
	c.now = func() time.Time { return time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestDiscover(t *testing.T) {
	c := newTestClient(t, newFakeGoogle())

	got, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Collection{
		{DisplayName: "Inbox", ResourceURL: "L1", Kind: model.TaskList},
		{DisplayName: "Team", ResourceURL: "C1", Kind: model.EventCalendar},
	}, got)
}

func TestTaskListListPagesAndSkipsDeleted(t *testing.T) {
	f := newFakeGoogle()
	f.add(map[string]any{"id": "a", "title": "Buy milk", "status": "needsAction", "due": "2024-06-13T00:00:00.000Z", "updated": "2024-06-12T08:00:00.000Z"})
	f.add(map[string]any{"id": "b", "title": "Old", "status": "completed", "hidden": true, "updated": "2024-06-12T08:00:00.000Z"})
	f.add(map[string]any{"id": "c", "title": "Gone", "deleted": true})
	c := newTestClient(t, f)

	items, err := c.TaskList("L1").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.pageReq)
	require.Len(t, items, 2)

	assert.Equal(t, "a", items[0].ExternalUID)
	assert.Equal(t, 13, items[0].Due.Day())
	assert.False(t, items[0].Completed)
	assert.Equal(t, "b", items[1].ExternalUID)
	assert.True(t, items[1].Completed)
}

func TestTaskListPut(t *testing.T) {
	ctx := context.Background()
	f := newFakeGoogle()
	c := newTestClient(t, f)
	list := c.TaskList("L1")

	due := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	created, err := list.Put(ctx, model.RemoteItem{Summary: "Write report", Due: &due})
	require.NoError(t, err)
	assert.Equal(t, "new-1", created.ExternalUID)
	assert.Equal(t, "2024-06-14T00:00:00Z", f.tasks["new-1"]["due"])

	// unchanged: no patch sent
	_, err = list.Put(ctx, created)
	require.NoError(t, err)
	assert.Empty(t, f.patches)

	created.Completed = true
	updated, err := list.Put(ctx, created)
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	require.Len(t, f.patches, 1)
	assert.Equal(t, map[string]any{"status": "completed"}, f.patches[0])

	// reopen clears the completion stamp and the due date
	created.Completed = false
	created.Due = nil
	_, err = list.Put(ctx, created)
	require.NoError(t, err)
	require.Len(t, f.patches, 2)
	assert.Contains(t, f.patches[1], "completed")
	assert.Nil(t, f.patches[1]["completed"])
	assert.Contains(t, f.patches[1], "due")

	// a task removed remotely is inserted again
	delete(f.tasks, "new-1")
	again, err := list.Put(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "new-2", again.ExternalUID)
}

func TestTaskListDeleteIgnoresMissing(t *testing.T) {
	f := newFakeGoogle()
	f.add(map[string]any{"id": "a", "title": "x", "status": "needsAction"})
	list := newTestClient(t, f).TaskList("L1")

	require.NoError(t, list.Delete(context.Background(), "a"))
	require.NoError(t, list.Delete(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, f.deletes)
}

func TestCalendarIsReadOnly(t *testing.T) {
	cal := newTestClient(t, newFakeGoogle()).Calendar("C1")

	items, err := cal.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Standup", items[0].Summary)

	_, err = cal.Put(context.Background(), model.RemoteItem{Summary: "nope"})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, cal.Delete(context.Background(), "e1"), ErrReadOnly)
}

func TestConnectorCachesClientsPerAccount(t *testing.T) {
	f := newFakeGoogle()
	dials := map[string]int{}
	conn := NewConnector(func(ctx context.Context, account string) (*Client, error) {
		dials[account]++
		if account == "broken" {
			return nil, fmt.Errorf("no token")
		}
		return newTestClient(t, f), nil
	})
	ctx := context.Background()

	remote, err := conn.Connect(ctx, &model.Resource{Endpoint: "L1", Credentials: "me", Kind: model.TaskList})
	require.NoError(t, err)
	assert.IsType(t, &TaskList{}, remote)

	remote, err = conn.Connect(ctx, &model.Resource{Endpoint: "C1", Credentials: "me", Kind: model.EventCalendar})
	require.NoError(t, err)
	assert.IsType(t, &Calendar{}, remote)
	assert.Equal(t, 1, dials["me"])

	_, err = conn.Connect(ctx, &model.Resource{Endpoint: "L1", Credentials: "broken", Kind: model.TaskList})
	assert.Error(t, err)
	_, err = conn.Connect(ctx, &model.Resource{Endpoint: "L1", Credentials: "me", Kind: "bogus"})
	assert.Error(t, err)
}
