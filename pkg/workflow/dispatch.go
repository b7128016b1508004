package workflow

import (
	"context"

	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"
)

// TaskEvent is the webhook payload for task events.
type TaskEvent struct {
	TaskID         string            `json:"task_id"`
	OrganizationID string            `json:"organization_id"`
	ProjectID      string            `json:"project_id,omitempty"`
	ActorID        string            `json:"actor_id"`
	Action         string            `json:"action"`
	Status         models.Status     `json:"status,omitempty"`
	FromStatus     models.Status     `json:"from_status,omitempty"`
	ToStatus       models.Status     `json:"to_status,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

func eventFor(task *models.Task, actorID, action string) TaskEvent {
	return TaskEvent{
		TaskID:         task.ID,
		OrganizationID: task.OrganizationID,
		ProjectID:      task.ProjectID,
		ActorID:        actorID,
		Action:         action,
		Status:         task.Status,
	}
}

// dispatch runs the post-commit hooks. Failures are logged and counted, never returned.
func (e *Engine) dispatch(ctx context.Context, event string, payload TaskEvent, notes []notify.Notification) {
	if err := e.webhooks.Trigger(ctx, payload.OrganizationID, event, payload); err != nil {
		e.metrics.ObserveHookFailure("webhook")
		e.logger.Warn("webhook trigger failed", "event", event, "task", payload.TaskID, "error", err)
	}
	for _, n := range notes {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.metrics.ObserveHookFailure("notify")
			e.logger.Warn("notification failed", "user", n.UserID, "task", n.TaskID, "error", err)
		}
	}
}

// notifyUsers builds one notification per recipient, skipping the actor and duplicates.
func notifyUsers(task *models.Task, actorID, message string, meta map[string]string, recipients ...string) []notify.Notification {
	seen := map[string]bool{actorID: true}
	var out []notify.Notification
	for _, uid := range recipients {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, notify.Notification{
			UserID:  uid,
			Message: message,
			TaskID:  task.ID,
			OrgID:   task.OrganizationID,
			ActorID: actorID,
			Meta:    meta,
		})
	}
	return out
}
