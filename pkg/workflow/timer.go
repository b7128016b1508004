package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"
)

// TimerResult reports which way a toggle went.
type TimerResult struct {
	Started bool `json:"started"`
	// ElapsedSeconds is the time added by a stop.
	ElapsedSeconds int64 `json:"elapsed_seconds,omitempty"`
	// TimeLogged is the task total after the toggle.
	TimeLogged int64 `json:"time_logged"`
}

// ToggleTimer starts userID's timer on a task, or stops it and adds the
// elapsed whole seconds to the task total. Timers of different users are
// independent. A disabled time-tracking feature fails before the task is read.
func (e *Engine) ToggleTimer(ctx context.Context, orgID, taskID, userID string) (res TimerResult, err error) {
	defer func() { e.observe("ToggleTimer", err) }()

	if err := e.requireFeature(ctx, orgID, userID, models.FeatureTimeTracking); err != nil {
		return TimerResult{}, err
	}

	current, err := e.load(ctx, taskID, userID, models.PermTrackTime)
	if err != nil {
		return TimerResult{}, err
	}
	if current.OrganizationID != orgID {
		return TimerResult{}, fmt.Errorf("task %s in organization %s: %w", taskID, orgID, ErrNotFound)
	}

	task, err := e.mutate(ctx, "ToggleTimer", taskID, func(t *models.Task) error {
		res = toggle(t, userID, e.now())
		action, details, meta := ActionTimerStarted, "", map[string]string(nil)
		if !res.Started {
			action = ActionTimerStopped
			details = fmt.Sprintf("Logged %s, total %s", formatSeconds(res.ElapsedSeconds), formatSeconds(res.TimeLogged))
			meta = map[string]string{
				"elapsed_seconds": strconv.FormatInt(res.ElapsedSeconds, 10),
				"total_seconds":   strconv.FormatInt(res.TimeLogged, 10),
			}
		}
		e.record(t, e.entry(userID, action, details, meta))
		return nil
	})
	if err != nil {
		return TimerResult{}, err
	}

	payload := eventFor(task, userID, ActionTimerStarted)
	if !res.Started {
		payload.Action = ActionTimerStopped
		payload.Meta = map[string]string{"elapsed_seconds": strconv.FormatInt(res.ElapsedSeconds, 10)}
	}
	e.dispatch(ctx, notify.EventTimerToggled, payload, nil)
	return res, nil
}

// toggle flips userID's timer on t at now.
func toggle(t *models.Task, userID string, now time.Time) TimerResult {
	startedAt, running := t.ActiveTimerStartedAt[userID]
	if !running {
		if t.ActiveTimerStartedAt == nil {
			t.ActiveTimerStartedAt = make(map[string]time.Time)
		}
		t.ActiveTimerStartedAt[userID] = now
		return TimerResult{Started: true, TimeLogged: t.TimeLogged}
	}

	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := int64(elapsed / time.Second)
	t.TimeLogged += seconds
	delete(t.ActiveTimerStartedAt, userID)
	return TimerResult{Started: false, ElapsedSeconds: seconds, TimeLogged: t.TimeLogged}
}

// ActiveTimer is one running timer on a task.
type ActiveTimer struct {
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// ActiveTimers lists the running timers on task ordered by start time.
func ActiveTimers(task *models.Task) []ActiveTimer {
	out := make([]ActiveTimer, 0, len(task.ActiveTimerStartedAt))
	for uid, at := range task.ActiveTimerStartedAt {
		out = append(out, ActiveTimer{UserID: uid, StartedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func formatSeconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}
