package journal

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencycrm/internal/apierr"
	"agencycrm/internal/db"
	"agencycrm/internal/events"
	"agencycrm/internal/models"
	"agencycrm/internal/utils"
)

func TestRecordFromSettled(t *testing.T) {
	rec, err := Record(events.Settled{
		Resource:  models.ResourceTasks,
		EntityID:  "task-1",
		Operation: models.OperationUpdate,
		Outcome:   models.StateRolledBack,
		Role:      "editor",
		Patch:     map[string]interface{}{"progress": 50},
		Err:       apierr.Conflict("This record is still referenced by other records.", -1),
	})
	require.NoError(t, err)

	assert.Equal(t, "tasks", rec.Resource)
	assert.Equal(t, "task-1", rec.EntityID)
	assert.Equal(t, models.StateRolledBack, rec.Outcome)
	assert.Equal(t, "conflict", rec.ErrorKind)
	assert.Equal(t, "This record is still referenced by other records.", rec.Message)

	patch, err := utils.JSONToMap(rec.Patch)
	require.NoError(t, err)
	assert.Equal(t, float64(50), patch["progress"])
}

func TestRecordWithoutPatchOrError(t *testing.T) {
	rec, err := Record(events.Settled{
		Resource:  models.ResourceContent,
		EntityID:  "content-9",
		Operation: models.OperationDelete,
		Outcome:   models.StateCommitted,
	})
	require.NoError(t, err)

	assert.Nil(t, rec.Patch)
	assert.Empty(t, rec.Message)
	assert.Empty(t, rec.ErrorKind)
}

func TestQueryBounds(t *testing.T) {
	page, limit := Query{}.bounds()
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultLimit, limit)

	page, limit = Query{Page: 3, Limit: 10000}.bounds()
	assert.Equal(t, 3, page)
	assert.Equal(t, maxLimit, limit)

	assert.Equal(t, map[string]interface{}{"resource": "tasks", "outcome": "ROLLED_BACK"},
		Query{Resource: "tasks", Outcome: models.StateRolledBack}.filters())
}

func TestJournalAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	conn, err := db.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	j := New(conn)
	entity := "task-" + uuid.NewString()
	bus := events.NewSyncEventBus()
	j.Subscribe(bus)

	bus.Emit("tasks.committed", events.Settled{
		Resource: models.ResourceTasks, EntityID: entity,
		Operation: models.OperationUpdate, Outcome: models.StateCommitted,
		Patch: map[string]interface{}{"status": "done"},
	})
	bus.Emit("tasks.rolled_back", events.Settled{
		Resource: models.ResourceTasks, EntityID: entity,
		Operation: models.OperationDelete, Outcome: models.StateRolledBack,
		Err: apierr.Transient(nil),
	})

	records, total, err := j.List(context.Background(), Query{EntityID: entity})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)

	rolledBack, total, err := j.List(context.Background(), Query{EntityID: entity, Outcome: models.StateRolledBack})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.OperationDelete, rolledBack[0].Operation)
	assert.Equal(t, "transient", rolledBack[0].ErrorKind)
}
