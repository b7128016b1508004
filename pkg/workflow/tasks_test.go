package workflow

import (
	"testing"
	"time"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTask_Defaults(t *testing.T) {
	f := newFixture(t)

	task, err := f.engine.CreateTask(f.ctx, "u-member", NewTask{
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		Title:          "  Fix login  ",
		AssigneeIDs:    []string{"u-owner", "u-owner", ""},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Fix login", task.Title)
	assert.Equal(t, models.StatusTodo, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, []string{"u-owner"}, task.AssigneeIDs)
	assert.Equal(t, "u-member", task.CreatedBy)
	require.Len(t, task.History, 1)
	assert.Equal(t, ActionCreated, task.History[0].Action)

	assert.Equal(t, []string{"u-owner"}, f.hooks.recipients())
	assert.Equal(t, []string{notify.EventTaskCreated}, f.hooks.eventNames())
	assert.Equal(t, task.ID, f.reload(task.ID).ID)
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	blocker := f.task("Blocker")

	cases := map[string]struct {
		actor string
		in    NewTask
		want  error
	}{
		"empty title":       {"u-owner", NewTask{OrganizationID: "org-1", Title: "  "}, ErrInvalidArgument},
		"unknown status":    {"u-owner", NewTask{OrganizationID: "org-1", Title: "x", Status: "Later"}, ErrInvalidArgument},
		"unknown priority":  {"u-owner", NewTask{OrganizationID: "org-1", Title: "x", Priority: "meh"}, ErrInvalidArgument},
		"viewer":            {"u-viewer", NewTask{OrganizationID: "org-1", Title: "x"}, ErrPermissionDenied},
		"unknown org":       {"u-owner", NewTask{OrganizationID: "nope", Title: "x"}, ErrPermissionDenied},
		"foreign project":   {"u-owner", NewTask{OrganizationID: "org-2", ProjectID: "proj-1", Title: "x"}, ErrInvalidArgument},
		"non-member":        {"u-owner", NewTask{OrganizationID: "org-1", Title: "x", AssigneeIDs: []string{"u-ghost"}}, ErrInvalidArgument},
		"missing blocker":   {"u-owner", NewTask{OrganizationID: "org-1", Title: "x", BlockedBy: []string{"missing"}}, ErrNotFound},
		"blocked into done": {"u-owner", NewTask{OrganizationID: "org-1", Title: "x", Status: models.StatusDone, BlockedBy: []string{blocker.ID}}, ErrBlocked},
		"cross-org blocker": {"u-owner", NewTask{OrganizationID: "org-2", Title: "x", BlockedBy: []string{blocker.ID}}, ErrInvalidArgument},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.CreateTask(f.ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetAndListTasks(t *testing.T) {
	f := newFixture(t)
	a := f.task("A", func(in *NewTask) { in.ProjectID = "proj-1" })
	f.task("B")

	got, err := f.engine.GetTask(f.ctx, a.ID, "u-viewer")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)

	_, err = f.engine.GetTask(f.ctx, a.ID, "u-stranger")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	all, err := f.engine.ListTasks(f.ctx, "u-viewer", database.TaskFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := f.engine.ListTasks(f.ctx, "u-viewer", database.TaskFilter{OrganizationID: "org-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, taskIDs(scoped))

	_, err = f.engine.ListTasks(f.ctx, "u-viewer", database.TaskFilter{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	task := f.task("Draft")
	title := "Final"
	high := models.PriorityHigh
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	got, err := f.engine.UpdateDetails(f.ctx, task.ID, "u-owner", DetailsPatch{Title: &title, Priority: &high, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	last := got.History[len(got.History)-1]
	assert.Equal(t, "title,priority,due_date", last.Meta["fields"])

	historyLen := len(got.History)
	got, err = f.engine.UpdateDetails(f.ctx, task.ID, "u-owner", DetailsPatch{Title: &title})
	require.NoError(t, err)
	assert.Len(t, got.History, historyLen)

	got, err = f.engine.UpdateDetails(f.ctx, task.ID, "u-owner", DetailsPatch{ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)

	blank := " "
	_, err = f.engine.UpdateDetails(f.ctx, task.ID, "u-owner", DetailsPatch{Title: &blank})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.UpdateDetails(f.ctx, task.ID, "u-member", DetailsPatch{Title: &title})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	task := f.task("Temp")

	assert.ErrorIs(t, f.engine.DeleteTask(f.ctx, task.ID, "u-member"), ErrPermissionDenied)
	require.NoError(t, f.engine.DeleteTask(f.ctx, task.ID, "u-owner"))
	_, err := f.db.GetTask(f.ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, f.hooks.eventNames(), notify.EventTaskDeleted)
}

func TestSetAssignees_NotifiesOnlyAdded(t *testing.T) {
	f := newFixture(t)
	task := f.task("Review", assignedTo("u-member"))
	f.hooks.notes = nil

	got, err := f.engine.SetAssignees(f.ctx, task.ID, "u-owner", []string{"u-manager", "u-member"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u-manager", "u-member"}, got.AssigneeIDs)
	assert.Equal(t, []string{"u-manager"}, f.hooks.recipients())
	last := got.History[len(got.History)-1]
	assert.Equal(t, "u-manager", last.Meta["added"])

	_, err = f.engine.SetAssignees(f.ctx, task.ID, "u-owner", []string{"u-ghost"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.SetAssignees(f.ctx, task.ID, "u-member", nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBlockers(t *testing.T) {
	f := newFixture(t)
	a := f.task("A")
	b := f.task("B")
	c := f.task("C")

	_, err := f.engine.AddBlocker(f.ctx, b.ID, a.ID, "u-owner")
	require.NoError(t, err)
	got, err := f.engine.AddBlocker(f.ctx, c.ID, b.ID, "u-owner")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, got.BlockedBy)

	_, err = f.engine.AddBlocker(f.ctx, a.ID, c.ID, "u-owner")
	assert.ErrorIs(t, err, ErrInvalidArgument, "cycle")
	_, err = f.engine.AddBlocker(f.ctx, a.ID, a.ID, "u-owner")
	assert.ErrorIs(t, err, ErrInvalidArgument, "self")
	_, err = f.engine.AddBlocker(f.ctx, a.ID, "missing", "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = f.engine.RemoveBlocker(f.ctx, c.ID, b.ID, "u-owner")
	require.NoError(t, err)
	assert.Empty(t, got.BlockedBy)
	_, err = f.engine.RemoveBlocker(f.ctx, c.ID, b.ID, "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	task := f.task("Discuss", assignedTo("u-manager"))
	f.hooks.notes = nil

	comment, err := f.engine.AddComment(f.ctx, task.ID, "u-member", "  Looks good  ")
	require.NoError(t, err)
	assert.Equal(t, "Looks good", comment.Body)
	assert.Equal(t, "u-member", comment.AuthorID)
	assert.ElementsMatch(t, []string{"u-owner", "u-manager"}, f.hooks.recipients())
	assert.Contains(t, f.hooks.eventNames(), notify.EventCommentAdded)

	stored := f.reload(task.ID)
	require.Len(t, stored.Comments, 1)
	assert.Equal(t, comment.ID, stored.Comments[0].ID)

	_, err = f.engine.AddComment(f.ctx, task.ID, "u-member", "   ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.AddComment(f.ctx, task.ID, "u-viewer", "hi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestLinks(t *testing.T) {
	f := newFixture(t)
	task := f.task("Integrate")

	got, err := f.engine.AddLink(f.ctx, task.ID, "u-owner", LinkInput{Provider: "GitHub", URL: "https://github.com/acme/web/pull/7"})
	require.NoError(t, err)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "github", got.Links[0].Provider)

	got, err = f.engine.AddLink(f.ctx, task.ID, "u-owner", LinkInput{Provider: "github", URL: "https://github.com/acme/web/pull/7"})
	require.NoError(t, err)
	assert.Len(t, got.Links, 1)

	_, err = f.engine.AddLink(f.ctx, task.ID, "u-owner", LinkInput{Provider: "github", URL: "javascript:alert(1)"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.AddLink(f.ctx, task.ID, "u-owner", LinkInput{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	got, err = f.engine.RemoveLink(f.ctx, task.ID, got.Links[0].ID, "u-owner")
	require.NoError(t, err)
	assert.Empty(t, got.Links)
	_, err = f.engine.RemoveLink(f.ctx, task.ID, "gone", "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueAndDiffStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueStrings([]string{"b", " a", "b", ""}))
	assert.Nil(t, uniqueStrings(nil))

	added, removed := diffStrings([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
}
