package workflow

import (
	"errors"
	"fmt"
	"testing"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockedBy(ids ...string) func(*NewTask) {
	return func(in *NewTask) { in.BlockedBy = ids }
}

func assignedTo(ids ...string) func(*NewTask) {
	return func(in *NewTask) { in.AssigneeIDs = ids }
}

func TestChangeStatus_BlockedUntilBlockerDone(t *testing.T) {
	f := newFixture(t)
	blocker := f.task("Design schema")
	task := f.task("Build API", blockedBy(blocker.ID))

	_, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusDone, "u-owner")
	require.ErrorIs(t, err, ErrBlocked)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []string{blocker.ID}, blocked.Blockers)
	assert.Equal(t, models.StatusTodo, f.reload(task.ID).Status)

	_, err = f.engine.ChangeStatus(f.ctx, blocker.ID, models.StatusDone, "u-owner")
	require.NoError(t, err)

	done, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusDone, "u-owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(f.clock.Now()))

	last := done.History[len(done.History)-1]
	assert.Equal(t, "Status changed from Te Doen to Voltooid", last.Action)
	assert.Equal(t, models.StatusTodo, last.FromStatus)
	assert.Equal(t, models.StatusDone, last.ToStatus)
}

func TestChangeStatus_InactiveTargetIgnoresBlockers(t *testing.T) {
	f := newFixture(t)
	blocker := f.task("Design schema")
	task := f.task("Build API", blockedBy(blocker.ID))

	moved, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusBacklog, "u-owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBacklog, moved.Status)
}

func TestChangeStatus_DeletedBlockerNoLongerBlocks(t *testing.T) {
	f := newFixture(t)
	blocker := f.task("Design schema")
	task := f.task("Build API", blockedBy(blocker.ID))
	require.NoError(t, f.engine.DeleteTask(f.ctx, blocker.ID, "u-owner"))

	_, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusInProgress, "u-owner")
	require.NoError(t, err)
}

func TestChangeStatus_LeavingSuccessClearsCompletedAt(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")

	_, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusDone, "u-owner")
	require.NoError(t, err)
	reopened, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusInReview, "u-owner")
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt)
}

func TestChangeStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")
	before := len(f.reload(task.ID).History)

	got, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusTodo, "u-owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTodo, got.Status)
	assert.Len(t, f.reload(task.ID).History, before)
}

func TestChangeStatus_Validation(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")

	_, err := f.engine.ChangeStatus(f.ctx, task.ID, "Someday", "u-owner")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.ChangeStatus(f.ctx, "missing", models.StatusDone, "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.ChangeStatus(f.ctx, task.ID, models.StatusDone, "u-member")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.engine.ChangeStatus(f.ctx, task.ID, models.StatusDone, "u-stranger")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestChangeStatus_NotifiesCreatorAndAssignees(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs", assignedTo("u-member", "u-manager"))
	f.hooks.notes = nil

	_, err := f.engine.ChangeStatus(f.ctx, task.ID, models.StatusInProgress, "u-manager")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"u-owner", "u-member"}, f.hooks.recipients())
	assert.Contains(t, f.hooks.eventNames(), notify.EventTaskStatusChanged)
}

func TestMoveTask_PreconditionIsNotRetried(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")
	f.store.txCalls.Store(0)

	_, err := f.engine.MoveTask(f.ctx, MoveRequest{
		TaskID:         task.ID,
		ActorID:        "u-owner",
		ToStatus:       models.StatusInProgress,
		ExpectedStatus: models.StatusInReview,
	})
	require.ErrorIs(t, err, ErrConflict)
	var pre *PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, models.StatusTodo, pre.Actual)
	assert.Equal(t, int32(1), f.store.txCalls.Load())
	assert.Equal(t, models.StatusTodo, f.reload(task.ID).Status)
}

func TestMoveTask_AppendsToDestinationColumn(t *testing.T) {
	f := newFixture(t)
	inProgress := f.task("Already running", func(in *NewTask) { in.Status = models.StatusInProgress })
	task := f.task("Write docs")

	moved, err := f.engine.MoveTask(f.ctx, MoveRequest{
		TaskID:         task.ID,
		ActorID:        "u-owner",
		ToStatus:       models.StatusInProgress,
		ExpectedStatus: models.StatusTodo,
	})
	require.NoError(t, err)
	assert.Greater(t, moved.Order, inProgress.Order)

	column, err := f.db.ListTasks(f.ctx, database.TaskFilter{OrganizationID: "org-1", Status: models.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, column, 2)
	assert.Equal(t, task.ID, column[1].ID)
}

func TestMoveTask_AtPosition(t *testing.T) {
	f := newFixture(t)
	a := f.task("A")
	b := f.task("B")
	c := f.task("C")
	pos := 0

	moved, err := f.engine.MoveTask(f.ctx, MoveRequest{TaskID: c.ID, ActorID: "u-owner", ToStatus: models.StatusTodo, Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved.Order)
	assert.Equal(t, []string{notify.EventTaskReordered}, f.hooks.eventNames()[3:])

	column, err := f.db.ListTasks(f.ctx, database.TaskFilter{OrganizationID: "org-1", Status: models.StatusTodo})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, taskIDs(column))
}

func TestMoveTask_PositionPastEndClamps(t *testing.T) {
	f := newFixture(t)
	a := f.task("A")
	b := f.task("B")
	pos := 42

	_, err := f.engine.MoveTask(f.ctx, MoveRequest{TaskID: a.ID, ActorID: "u-owner", ToStatus: models.StatusTodo, Position: &pos})
	require.NoError(t, err)

	column, err := f.db.ListTasks(f.ctx, database.TaskFilter{OrganizationID: "org-1", Status: models.StatusTodo})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, taskIDs(column))
}

func TestMoveTask_BlockedLeavesTaskUntouched(t *testing.T) {
	f := newFixture(t)
	blocker := f.task("Design schema")
	task := f.task("Build API", blockedBy(blocker.ID))
	before := f.reload(task.ID)
	events := len(f.hooks.eventNames())
	pos := 0

	_, err := f.engine.MoveTask(f.ctx, MoveRequest{TaskID: task.ID, ActorID: "u-owner", ToStatus: models.StatusDone, Position: &pos})
	require.ErrorIs(t, err, ErrBlocked)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []string{blocker.ID}, blocked.Blockers)

	after := f.reload(task.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Order, after.Order)
	assert.Len(t, after.History, len(before.History))
	assert.Nil(t, after.CompletedAt)
	assert.Len(t, f.hooks.eventNames(), events)
}

func TestMoveTask_ResequenceFailureKeepsCommittedMove(t *testing.T) {
	f := newFixture(t)
	f.task("Already running", func(in *NewTask) { in.Status = models.StatusInProgress })
	task := f.task("Write docs")
	f.store.batchErr = fmt.Errorf("batch: %w", database.ErrStoreUnavailable)
	pos := 0

	moved, err := f.engine.MoveTask(f.ctx, MoveRequest{TaskID: task.ID, ActorID: "u-owner", ToStatus: models.StatusInProgress, Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, moved.Status)
	assert.Equal(t, models.StatusInProgress, f.reload(task.ID).Status)
	assert.Contains(t, f.hooks.eventNames(), notify.EventTaskStatusChanged)
	assert.Equal(t, 1.0, f.counter("taskboard_engine_operations_total", map[string]string{"operation": "Resequence", "result": "store_unavailable"}))
	assert.Equal(t, 1.0, f.counter("taskboard_engine_operations_total", map[string]string{"operation": "MoveTask", "result": "ok"}))
}

func TestReorder(t *testing.T) {
	f := newFixture(t)
	a := f.task("A")
	b := f.task("B")
	c := f.task("C")

	require.NoError(t, f.engine.Reorder(f.ctx, "u-owner", []string{c.ID, a.ID, b.ID}))

	all, err := f.db.ListTasks(f.ctx, database.TaskFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, taskIDs(all))
	assert.Equal(t, int64(0), f.reload(c.ID).Order)
	assert.Equal(t, int64(2), f.reload(b.ID).Order)
}

func TestReorder_Validation(t *testing.T) {
	f := newFixture(t)
	a := f.task("A")
	other, err := f.engine.CreateTask(f.ctx, "u-owner", NewTask{OrganizationID: "org-2", Title: "Elsewhere"})
	require.NoError(t, err)

	assert.NoError(t, f.engine.Reorder(f.ctx, "u-owner", nil))
	assert.ErrorIs(t, f.engine.Reorder(f.ctx, "u-owner", []string{a.ID, a.ID}), ErrInvalidArgument)
	assert.ErrorIs(t, f.engine.Reorder(f.ctx, "u-owner", []string{a.ID, other.ID}), ErrNotFound)
	assert.ErrorIs(t, f.engine.Reorder(f.ctx, "u-owner", []string{a.ID, "missing"}), ErrNotFound)
	assert.ErrorIs(t, f.engine.Reorder(f.ctx, "u-member", []string{a.ID}), ErrPermissionDenied)
}

func TestReorder_ForeignIDsReadAsMissing(t *testing.T) {
	f := newFixture(t)
	foreign := f.task("Acme secret")
	own, err := f.engine.CreateTask(f.ctx, "u-outsider", NewTask{OrganizationID: "org-2", Title: "Mine"})
	require.NoError(t, err)

	errForeign := f.engine.Reorder(f.ctx, "u-outsider", []string{own.ID, foreign.ID})
	errMissing := f.engine.Reorder(f.ctx, "u-outsider", []string{own.ID, "no-such-task"})
	require.ErrorIs(t, errForeign, ErrNotFound)
	require.ErrorIs(t, errMissing, ErrNotFound)
	assert.Equal(t, KindOf(errMissing), KindOf(errForeign))

	assert.ErrorIs(t, f.engine.Reorder(f.ctx, "u-member", []string{foreign.ID, "no-such-task"}), ErrPermissionDenied,
		"permission is checked before the other ids are looked up")
	assert.Equal(t, foreign.Order, f.reload(foreign.ID).Order)
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
