package workflow

import (
	"sync"
	"testing"
	"time"

	"taskboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleTimer_StartThenStop(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")

	res, err := f.engine.ToggleTimer(f.ctx, "org-1", task.ID, "u-member")
	require.NoError(t, err)
	assert.True(t, res.Started)
	running := f.reload(task.ID)
	assert.Equal(t, []ActiveTimer{{UserID: "u-member", StartedAt: f.clock.Now()}}, ActiveTimers(running))

	f.clock.Advance(90*time.Second + 400*time.Millisecond)
	res, err = f.engine.ToggleTimer(f.ctx, "org-1", task.ID, "u-member")
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.Equal(t, int64(90), res.ElapsedSeconds)
	assert.Equal(t, int64(90), res.TimeLogged)

	stopped := f.reload(task.ID)
	assert.Empty(t, stopped.ActiveTimerStartedAt)
	assert.Equal(t, int64(90), stopped.TimeLogged)

	last := stopped.History[len(stopped.History)-1]
	assert.Equal(t, ActionTimerStopped, last.Action)
	assert.Equal(t, "90", last.Meta["elapsed_seconds"])
	assert.Equal(t, "Logged 1m30s, total 1m30s", last.Details)
}

func TestToggleTimer_ConcurrentUsersKeepSeparateTimers(t *testing.T) {
	f := newFixture(t)
	task := f.task("Pair on bug")

	users := []string{"u-member", "u-manager"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, uid := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.ToggleTimer(f.ctx, "org-1", task.ID, uid)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got := f.reload(task.ID)
	assert.Len(t, got.ActiveTimerStartedAt, 2)
	assert.Contains(t, got.ActiveTimerStartedAt, "u-member")
	assert.Contains(t, got.ActiveTimerStartedAt, "u-manager")

	f.clock.Advance(time.Minute)
	res, err := f.engine.ToggleTimer(f.ctx, "org-1", task.ID, "u-member")
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.Contains(t, f.reload(task.ID).ActiveTimerStartedAt, "u-manager")
}

func TestToggleTimer_FeatureDisabledBeforeTaskRead(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ToggleTimer(f.ctx, "org-off", "does-not-exist", "u-owner")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestToggleTimer_Refusals(t *testing.T) {
	f := newFixture(t)
	task := f.task("Write docs")

	_, err := f.engine.ToggleTimer(f.ctx, "org-1", task.ID, "u-viewer")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.engine.ToggleTimer(f.ctx, "org-2", task.ID, "u-owner")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.ToggleTimer(f.ctx, "org-unknown", task.ID, "u-owner")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestToggle_ClockSkewNeverSubtracts(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	task := &models.Task{TimeLogged: 30}

	assert.True(t, toggle(task, "u1", start).Started)
	res := toggle(task, "u1", start.Add(-time.Minute))
	assert.Equal(t, int64(0), res.ElapsedSeconds)
	assert.Equal(t, int64(30), res.TimeLogged)
}
