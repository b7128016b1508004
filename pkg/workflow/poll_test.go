package workflow

import (
	"testing"

	"taskboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyVote(t *testing.T) {
	poll := &models.Poll{Options: []models.PollOption{
		{ID: "a", Text: "Monday", VoterIDs: []string{"u1"}},
		{ID: "b", Text: "Tuesday"},
	}}

	t.Run("single choice moves the vote", func(t *testing.T) {
		opts, cast, err := ApplyVote(poll, "b", "u1")
		require.NoError(t, err)
		assert.True(t, cast)
		assert.Nil(t, opts[0].VoterIDs)
		assert.Equal(t, []string{"u1"}, opts[1].VoterIDs)
		assert.Equal(t, []string{"u1"}, poll.Options[0].VoterIDs, "input must not change")
	})

	t.Run("same option retracts", func(t *testing.T) {
		opts, cast, err := ApplyVote(poll, "a", "u1")
		require.NoError(t, err)
		assert.False(t, cast)
		assert.Nil(t, opts[0].VoterIDs)
	})

	t.Run("multi vote keeps other options", func(t *testing.T) {
		multi := &models.Poll{IsMultiVote: true, Options: poll.Options}
		opts, cast, err := ApplyVote(multi, "b", "u1")
		require.NoError(t, err)
		assert.True(t, cast)
		assert.Equal(t, []string{"u1"}, opts[0].VoterIDs)
		assert.Equal(t, []string{"u1"}, opts[1].VoterIDs)
	})

	t.Run("unknown option", func(t *testing.T) {
		_, _, err := ApplyVote(poll, "zzz", "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no poll", func(t *testing.T) {
		_, _, err := ApplyVote(nil, "a", "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func withPoll(t *testing.T, f *fixture, multi bool) *models.Task {
	t.Helper()
	task := f.task("Pick a date")
	task, err := f.engine.CreatePoll(f.ctx, task.ID, "u-owner", PollInput{
		Question:    "When?",
		Options:     []string{"Monday", " Tuesday ", ""},
		IsMultiVote: multi,
	})
	require.NoError(t, err)
	require.Len(t, task.Poll.Options, 2)
	return task
}

func TestVote_RoundTripRestoresPoll(t *testing.T) {
	f := newFixture(t)
	task := withPoll(t, f, false)
	optionID := task.Poll.Options[0].ID
	before := f.reload(task.ID).Poll

	require.NoError(t, f.engine.Vote(f.ctx, task.ID, optionID, "u-member"))
	assert.Equal(t, []string{"u-member"}, f.reload(task.ID).Poll.Options[0].VoterIDs)

	require.NoError(t, f.engine.Vote(f.ctx, task.ID, optionID, "u-member"))
	after := f.reload(task.ID)
	assert.Equal(t, before, after.Poll)

	actions := []string{}
	for _, h := range after.History {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []string{ActionCreated, ActionPollCreated, ActionVoteCast, ActionVoteRetracted}, actions)
}

func TestVote_SingleChoiceIsExclusive(t *testing.T) {
	f := newFixture(t)
	task := withPoll(t, f, false)
	first, second := task.Poll.Options[0].ID, task.Poll.Options[1].ID

	require.NoError(t, f.engine.Vote(f.ctx, task.ID, first, "u-member"))
	require.NoError(t, f.engine.Vote(f.ctx, task.ID, second, "u-member"))

	poll := f.reload(task.ID).Poll
	assert.Empty(t, poll.Options[0].VoterIDs)
	assert.Equal(t, []string{"u-member"}, poll.Options[1].VoterIDs)
}

func TestVote_Refusals(t *testing.T) {
	f := newFixture(t)
	task := withPoll(t, f, true)

	assert.ErrorIs(t, f.engine.Vote(f.ctx, task.ID, task.Poll.Options[0].ID, "u-viewer"), ErrPermissionDenied)
	assert.ErrorIs(t, f.engine.Vote(f.ctx, task.ID, "nope", "u-member"), ErrNotFound)
	assert.ErrorIs(t, f.engine.Vote(f.ctx, "missing", "nope", "u-member"), ErrNotFound)

	plain := f.task("No poll here")
	assert.ErrorIs(t, f.engine.Vote(f.ctx, plain.ID, "a", "u-member"), ErrNotFound)
}

func TestVote_FeatureDisabled(t *testing.T) {
	f := newFixture(t)
	task, err := f.engine.CreateTask(f.ctx, "u-owner", NewTask{OrganizationID: "org-off", Title: "Quiet"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.Vote(f.ctx, task.ID, "a", "u-owner"), ErrFeatureDisabled)
	_, err = f.engine.CreatePoll(f.ctx, task.ID, "u-owner", PollInput{Question: "?", Options: []string{"x", "y"}})
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestCreatePoll_Validation(t *testing.T) {
	f := newFixture(t)
	task := withPoll(t, f, false)

	_, err := f.engine.CreatePoll(f.ctx, task.ID, "u-owner", PollInput{Question: "Again?", Options: []string{"x", "y"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.CreatePoll(f.ctx, task.ID, "u-owner", PollInput{Question: "One?", Options: []string{"x"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.engine.CreatePoll(f.ctx, task.ID, "u-member", PollInput{Question: "Mine?", Options: []string{"x", "y"}})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRemovePoll(t *testing.T) {
	f := newFixture(t)
	task := withPoll(t, f, false)

	got, err := f.engine.RemovePoll(f.ctx, task.ID, "u-owner")
	require.NoError(t, err)
	assert.Nil(t, got.Poll)

	_, err = f.engine.RemovePoll(f.ctx, task.ID, "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)
}
