package optimistic

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencycrm/internal/apierr"
	"agencycrm/internal/events"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
	"agencycrm/internal/utils"
)

type fakeRemote[T models.Entity] struct {
	mu      sync.Mutex
	records []T
	calls   []string

	create func(ctx context.Context, draft T) (map[string]interface{}, error)
	update func(ctx context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error)
	del    func(ctx context.Context, id string) error
}

func (f *fakeRemote[T]) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemote[T]) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote[T]) List(context.Context) ([]T, error) {
	f.record("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.records...), nil
}

func (f *fakeRemote[T]) Create(ctx context.Context, draft T) (map[string]interface{}, error) {
	f.record("create")
	if f.create != nil {
		return f.create(ctx, draft)
	}
	return utils.ToFields(draft)
}

func (f *fakeRemote[T]) Update(ctx context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error) {
	f.record("update " + id)
	if f.update != nil {
		return f.update(ctx, id, patch)
	}
	return nil, nil
}

func (f *fakeRemote[T]) Delete(ctx context.Context, id string) error {
	f.record("delete " + id)
	if f.del != nil {
		return f.del(ctx, id)
	}
	return nil
}

type fakeGate struct {
	actions map[models.Action]bool
	columns map[models.Column]bool
}

func (g fakeGate) CanPerformAction(_ string, _ models.Resource, a models.Action) bool {
	return g.actions[a]
}

func (g fakeGate) CanEditColumn(_ string, c models.Column) bool {
	return g.columns[c]
}

func seededTasks() []models.Task {
	return []models.Task{
		{ID: "task-1", Title: "Shoot reel", Status: "todo", Progress: 20},
		{ID: "task-2", Title: "Write captions", Status: "todo", Progress: 0},
		{ID: "task-3", Title: "Approve moodboard", Status: "review", Progress: 90},
	}
}

func newTaskController(t *testing.T, remote *fakeRemote[models.Task], opts Options) (*Controller[models.Task], *notify.Center) {
	t.Helper()
	center := notify.NewCenter(50)
	opts.Notifier = center
	if opts.Noun == "" {
		opts.Noun = "Task"
	}
	c := New[models.Task](models.ResourceTasks, remote, opts)
	require.NoError(t, c.Load(context.Background()))
	return c, center
}

func TestUpdateRollsBackOnServerError(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
		return nil, apierr.New(apierr.KindTransient, http.StatusInternalServerError, "Internal server error")
	}
	c, center := newTaskController(t, remote, Options{})
	before := c.List()

	_, err := c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"progress": 50})
	require.Error(t, err)

	assert.Equal(t, before, c.List())
	task, ok := c.Get("task-1")
	require.True(t, ok)
	assert.Equal(t, 20, task.Progress)
	assert.Equal(t, models.StateRolledBack, c.State("task-1"))

	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.LevelError, got[0].Level)
	assert.Equal(t, "task-1", got[0].EntityID)
}

func TestUpdateCommitsServerFields(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(_ context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error) {
		assert.Equal(t, map[string]interface{}{"progress": 100}, patch)
		return map[string]interface{}{"id": id, "title": "Shoot reel", "status": "done", "progress": 100}, nil
	}
	c, center := newTaskController(t, remote, Options{})

	task, err := c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"progress": 100})
	require.NoError(t, err)

	assert.Equal(t, "done", task.Status)
	stored, _ := c.Get("task-1")
	assert.Equal(t, task, stored)
	assert.Equal(t, models.StateCommitted, c.State("task-1"))
	assert.Equal(t, 0, c.Pending())

	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Task updated", got[0].Message)
}

func TestUpdateUnknownID(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	c, center := newTaskController(t, remote, Options{})

	_, err := c.Update(context.Background(), "editor", "task-404", map[string]interface{}{"progress": 1})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Equal(t, []string{"list"}, remote.Calls())
	assert.Len(t, center.Drain(), 1)
}

func TestDeleteTreats404AsCommitted(t *testing.T) {
	remote := &fakeRemote[models.Content]{records: []models.Content{
		{ID: "content-8", Title: "Launch teaser"},
		{ID: "content-9", Title: "Behind the scenes"},
	}}
	remote.del = func(context.Context, string) error {
		return apierr.NotFound("Content not found")
	}
	center := notify.NewCenter(10)
	c := New[models.Content](models.ResourceContent, remote, Options{Noun: "Content", Notifier: center})
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.Delete(context.Background(), "editor", "content-9"))

	_, ok := c.Get("content-9")
	assert.False(t, ok)
	assert.Len(t, c.List(), 1)
	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.LevelSuccess, got[0].Level)
}

func TestDeleteRestoresPositionOnFailure(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.del = func(context.Context, string) error {
		return apierr.Conflict("This record is still referenced by other records.", -1)
	}
	c, center := newTaskController(t, remote, Options{})
	before := c.List()

	err := c.Delete(context.Background(), "editor", "task-2")
	assert.ErrorIs(t, err, apierr.ErrConflict)

	assert.Equal(t, before, c.List())
	got := center.Drain()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "still referenced")
}

func TestCreateReplacesTemporaryID(t *testing.T) {
	remote := &fakeRemote[models.Task]{}
	remote.create = func(_ context.Context, draft models.Task) (map[string]interface{}, error) {
		assert.Empty(t, draft.ID)
		return map[string]interface{}{"id": "server-42", "title": "X"}, nil
	}
	c, center := newTaskController(t, remote, Options{})

	created, err := c.Create(context.Background(), "editor", models.Task{Title: "X", Priority: "high"})
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "server-42", list[0].ID)
	assert.Equal(t, "X", list[0].Title)
	assert.Equal(t, "high", list[0].Priority)
	assert.Equal(t, created, list[0])
	for _, task := range list {
		assert.False(t, IsTempID(task.ID))
	}
	assert.Equal(t, models.StateCommitted, c.State("server-42"))

	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Task created", got[0].Message)
	assert.Equal(t, "server-42", got[0].EntityID)
}

func TestCreateFailureRemovesTemporaryRecord(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.create = func(context.Context, models.Task) (map[string]interface{}, error) {
		return nil, apierr.Validation("Title is required")
	}
	c, center := newTaskController(t, remote, Options{})
	before := c.List()

	_, err := c.Create(context.Background(), "editor", models.Task{Title: "Y"})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	assert.Equal(t, before, c.List())
	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Failed to create task: Title is required", got[0].Message)
}

func TestBulkUpdateSettlesEachIDIndependently(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(_ context.Context, id string, _ map[string]interface{}) (map[string]interface{}, error) {
		if id == "task-2" {
			return nil, errors.New("connection reset by peer")
		}
		return nil, nil
	}
	c, center := newTaskController(t, remote, Options{})

	res, err := c.BulkUpdate(context.Background(), "editor", []string{"task-1", "task-2", "task-3", "task-1"}, map[string]interface{}{"status": "done"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"task-1", "task-3"}, res.Committed)
	require.Contains(t, res.Failed, "task-2")
	assert.True(t, apierr.IsKind(res.Failed["task-2"], apierr.KindTransient))

	t1, _ := c.Get("task-1")
	t2, _ := c.Get("task-2")
	t3, _ := c.Get("task-3")
	assert.Equal(t, "done", t1.Status)
	assert.Equal(t, "todo", t2.Status)
	assert.Equal(t, "done", t3.Status)
	assert.Equal(t, models.StateRolledBack, c.State("task-2"))
	assert.Equal(t, models.StateCommitted, c.State("task-3"))

	got := center.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, notify.LevelWarning, got[0].Level)
	assert.Contains(t, got[0].Message, "Updated 2 of 3 tasks")
}

func TestTimeoutForcesRollback(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
		<-hang
		return nil, nil
	}
	c, center := newTaskController(t, remote, Options{Timeout: 20 * time.Millisecond})

	_, err := c.Update(context.Background(), "editor", "task-3", map[string]interface{}{"progress": 100})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindTransient))

	task, _ := c.Get("task-3")
	assert.Equal(t, 90, task.Progress)
	assert.Equal(t, models.StateRolledBack, c.State("task-3"))
	got := center.Drain()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "took too long")
}

func TestPermissionDeniedSkipsRemote(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	gate := fakeGate{actions: map[models.Action]bool{models.ActionRead: true}}
	c, center := newTaskController(t, remote, Options{Gate: gate})

	_, err := c.Update(context.Background(), "viewer", "task-1", map[string]interface{}{"progress": 50})
	assert.ErrorIs(t, err, apierr.ErrPermissionDenied)
	err = c.Delete(context.Background(), "viewer", "task-1")
	assert.ErrorIs(t, err, apierr.ErrPermissionDenied)
	_, err = c.BulkUpdate(context.Background(), "viewer", []string{"task-1", "task-2"}, map[string]interface{}{"status": "done"})
	assert.ErrorIs(t, err, apierr.ErrPermissionDenied)

	assert.Equal(t, []string{"list"}, remote.Calls())
	assert.Equal(t, seededTasks(), c.List())
	assert.Len(t, center.Drain(), 3)
}

func TestColumnGateOnContent(t *testing.T) {
	remote := &fakeRemote[models.Content]{records: []models.Content{{ID: "content-1", Title: "Carousel"}}}
	gate := fakeGate{
		actions: map[models.Action]bool{models.ActionUpdate: true},
		columns: map[models.Column]bool{models.ColumnTextContent: true},
	}
	c := New[models.Content](models.ResourceContent, remote, Options{Gate: gate, Columns: models.ContentColumnFields})
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Update(context.Background(), "copywriter", "content-1", map[string]interface{}{"textContent": "Hello", "notes": "fyi"})
	require.ErrorIs(t, err, apierr.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "notes")

	updated, err := c.Update(context.Background(), "copywriter", "content-1", map[string]interface{}{"textContent": "Hello", "title": "Carousel v2"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", updated.TextContent)
	assert.Equal(t, "Carousel v2", updated.Title)
}

func TestMutationsOnOneIDAreSerialized(t *testing.T) {
	started := make(chan string, 2)
	unblock := make(chan struct{})
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(_ context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error) {
		started <- patch["status"].(string)
		if patch["status"] == "in_progress" {
			<-unblock
		}
		return nil, nil
	}
	c, _ := newTaskController(t, remote, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"status": "in_progress"})
	}()
	assert.Equal(t, "in_progress", <-started)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"status": "review"})
	}()

	select {
	case s := <-started:
		t.Fatalf("second update reached the backend before the first settled: %s", s)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	assert.Equal(t, "review", <-started)
	wg.Wait()

	task, _ := c.Get("task-1")
	assert.Equal(t, "review", task.Status)
	assert.Equal(t, 0, c.queue.size())
}

func TestUpdateOnTemporaryIDFollowsServerID(t *testing.T) {
	createStarted := make(chan struct{})
	releaseCreate := make(chan struct{})
	remote := &fakeRemote[models.Task]{}
	remote.create = func(_ context.Context, draft models.Task) (map[string]interface{}, error) {
		close(createStarted)
		<-releaseCreate
		draft.ID = "server-7"
		return utils.ToFields(draft)
	}
	var updatedID string
	remote.update = func(_ context.Context, id string, _ map[string]interface{}) (map[string]interface{}, error) {
		updatedID = id
		return nil, nil
	}
	c, _ := newTaskController(t, remote, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Create(context.Background(), "editor", models.Task{Title: "Storyboard"})
	}()
	<-createStarted

	list := c.List()
	require.Len(t, list, 1)
	tempID := list[0].ID
	require.True(t, IsTempID(tempID))
	assert.Equal(t, models.StatePending, c.State(tempID))

	updated := make(chan error, 1)
	go func() {
		_, err := c.Update(context.Background(), "editor", tempID, map[string]interface{}{"progress": 10})
		updated <- err
	}()
	close(releaseCreate)
	<-done
	require.NoError(t, <-updated)

	assert.Equal(t, "server-7", updatedID)
	task, ok := c.Get(tempID)
	require.True(t, ok)
	assert.Equal(t, "server-7", task.ID)
	assert.Equal(t, 10, task.Progress)
}

func TestRefreshKeepsInFlightRecords(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
		close(started)
		<-unblock
		return nil, nil
	}
	c, _ := newTaskController(t, remote, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"progress": 60})
	}()
	<-started

	require.NoError(t, c.Refresh(context.Background()))
	task, _ := c.Get("task-1")
	assert.Equal(t, 60, task.Progress)

	close(unblock)
	<-done
	task, _ = c.Get("task-1")
	assert.Equal(t, 60, task.Progress)
}

func TestApplyDropsSnapshotsOlderThanLocalChanges(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	c, _ := newTaskController(t, remote, Options{})

	stale, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Delete(context.Background(), "editor", "task-2"))

	assert.True(t, c.Apply(stale))
	_, ok := c.Get("task-2")
	assert.False(t, ok, "a list fetched before the delete settled must not resurrect the record")

	fresh, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Apply(fresh))
	assert.False(t, c.Apply(stale))
}

func TestLateResultAfterReset(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(context.Context, string, map[string]interface{}) (map[string]interface{}, error) {
		close(started)
		<-unblock
		return nil, apierr.Transient(errors.New("boom"))
	}
	c, center := newTaskController(t, remote, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"progress": 5})
	}()
	<-started
	c.Reset()
	close(unblock)
	<-done

	assert.Empty(t, c.List())
	assert.Len(t, center.Drain(), 1)
}

func TestSettledMutationsArePublished(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.del = func(context.Context, string) error { return errors.New("nope") }
	bus := events.NewSyncEventBus()
	var got []events.Settled
	bus.On("*", func(data interface{}) { got = append(got, data.(events.Settled)) })
	c, _ := newTaskController(t, remote, Options{Bus: bus})

	_, err := c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"status": "done"})
	require.NoError(t, err)
	require.Error(t, c.Delete(context.Background(), "editor", "task-3"))

	require.Len(t, got, 2)
	assert.Equal(t, models.StateCommitted, got[0].Outcome)
	assert.Equal(t, models.OperationUpdate, got[0].Operation)
	assert.Equal(t, "editor", got[0].Role)
	assert.Equal(t, models.StateRolledBack, got[1].Outcome)
	assert.Equal(t, "task-3", got[1].EntityID)
	assert.Error(t, got[1].Err)
}

func TestCreateKeepsFieldsTheServerOmits(t *testing.T) {
	remote := &fakeRemote[models.Task]{}
	remote.create = func(context.Context, models.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"id": "server-42", "title": "X"}, nil
	}
	c, _ := newTaskController(t, remote, Options{})

	created, err := c.Create(context.Background(), "editor", models.Task{Title: "X", Progress: 30, Status: "todo"})
	require.NoError(t, err)

	assert.Equal(t, "server-42", created.ID)
	assert.Equal(t, 30, created.Progress)
	assert.Equal(t, "todo", created.Status)
	stored, ok := c.Get("server-42")
	require.True(t, ok)
	assert.Equal(t, created, stored)
}

func TestUpdateKeepsFieldsTheServerOmits(t *testing.T) {
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.update = func(_ context.Context, id string, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"id": id, "title": "Renamed by server"}, nil
	}
	c, _ := newTaskController(t, remote, Options{})

	updated, err := c.Update(context.Background(), "editor", "task-1", map[string]interface{}{"title": "renamed"})
	require.NoError(t, err)

	assert.Equal(t, "Renamed by server", updated.Title)
	assert.Equal(t, 20, updated.Progress)
	assert.Equal(t, "todo", updated.Status)
}

func TestUpdateRejectsUnknownFields(t *testing.T) {
	remote := &fakeRemote[models.Content]{records: []models.Content{{ID: "content-1", Title: "Carousel"}}}
	gate := fakeGate{actions: map[models.Action]bool{models.ActionUpdate: true}}
	center := notify.NewCenter(10)
	c := New[models.Content](models.ResourceContent, remote, Options{
		Noun: "Content", Notifier: center, Gate: gate, Columns: models.ContentColumnFields,
	})
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Update(context.Background(), "copywriter", "content-1", map[string]interface{}{"design_brief": "x"})
	require.ErrorIs(t, err, apierr.ErrValidation)
	assert.Contains(t, err.Error(), `"design_brief"`)

	_, err = c.Update(context.Background(), "copywriter", "content-1", map[string]interface{}{"designBrief": "x"})
	require.ErrorIs(t, err, apierr.ErrPermissionDenied)

	_, err = c.BulkUpdate(context.Background(), "copywriter", []string{"content-1"}, map[string]interface{}{"design_brief": "x"})
	require.ErrorIs(t, err, apierr.ErrValidation)

	assert.Equal(t, []string{"list"}, remote.Calls())
	stored, _ := c.Get("content-1")
	assert.Empty(t, stored.DesignBrief)
	assert.Len(t, center.Drain(), 3)
}

func TestFailedDeleteRestoresRecordBeforeFirstLoad(t *testing.T) {
	remote := &fakeRemote[models.Task]{}
	remote.create = func(context.Context, models.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"id": "server-1"}, nil
	}
	remote.del = func(context.Context, string) error {
		return apierr.New(apierr.KindTransient, http.StatusInternalServerError, "Internal server error")
	}
	c := New[models.Task](models.ResourceTasks, remote, Options{Noun: "Task"})

	_, err := c.Create(context.Background(), "editor", models.Task{Title: "Draft"})
	require.NoError(t, err)
	require.Error(t, c.Delete(context.Background(), "editor", "server-1"))

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "server-1", list[0].ID)
	assert.Equal(t, models.StateRolledBack, c.State("server-1"))
}

func TestFailedDeleteAfterResetStaysOut(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	remote := &fakeRemote[models.Task]{records: seededTasks()}
	remote.del = func(context.Context, string) error {
		close(started)
		<-unblock
		return apierr.Transient(errors.New("boom"))
	}
	c, _ := newTaskController(t, remote, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Delete(context.Background(), "editor", "task-2")
	}()
	<-started
	c.Reset()
	close(unblock)
	<-done

	assert.Empty(t, c.List())
}

func TestCreatePublishesServerRecord(t *testing.T) {
	remote := &fakeRemote[models.Task]{}
	calls := 0
	remote.create = func(context.Context, models.Task) (map[string]interface{}, error) {
		calls++
		if calls == 2 {
			return nil, apierr.Validation("Title is taken")
		}
		return map[string]interface{}{"id": "server-9"}, nil
	}
	bus := events.NewSyncEventBus()
	var got []events.Settled
	bus.On("*", func(data interface{}) { got = append(got, data.(events.Settled)) })
	c, _ := newTaskController(t, remote, Options{Bus: bus})

	_, err := c.Create(context.Background(), "editor", models.Task{Title: "Reel", Progress: 5})
	require.NoError(t, err)
	_, err = c.Create(context.Background(), "editor", models.Task{Title: "Reel"})
	require.Error(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "server-9", got[0].EntityID)
	assert.Equal(t, "server-9", got[0].Patch["id"])
	assert.Equal(t, "Reel", got[0].Patch["title"])
	assert.Empty(t, got[1].EntityID)
	assert.NotContains(t, got[1].Patch, "id")
	for _, s := range got {
		for _, v := range s.Patch {
			if str, ok := v.(string); ok {
				assert.False(t, IsTempID(str))
			}
		}
	}
}
