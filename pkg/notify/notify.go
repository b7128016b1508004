// Package notify delivers post-commit side effects: member notifications and
// organization webhooks. Delivery is fire-and-forget from the engine's view.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Webhook event names.
const (
	EventTaskCreated       = "task.created"
	EventTaskUpdated       = "task.updated"
	EventTaskDeleted       = "task.deleted"
	EventTaskStatusChanged = "task.status_changed"
	EventTaskReordered     = "task.reordered"
	EventTimerToggled      = "task.timer_toggled"
	EventPollVoted         = "task.poll_voted"
	EventCommentAdded      = "task.comment_added"
)

// Notification is a message to one member about a task.
type Notification struct {
	UserID  string            `json:"user_id"`
	Message string            `json:"message"`
	TaskID  string            `json:"task_id"`
	OrgID   string            `json:"organization_id"`
	ActorID string            `json:"actor_id"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Notifier delivers a notification to a member.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Webhooks announces an organization event to external subscribers.
type Webhooks interface {
	Trigger(ctx context.Context, orgID, event string, payload any) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error          { return nil }
func (Nop) Trigger(context.Context, string, string, any) error { return nil }

// LogNotifier writes notifications and events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"user", n.UserID, "task", n.TaskID, "org", n.OrgID, "actor", n.ActorID, "message", n.Message)
	return nil
}

func (l *LogNotifier) Trigger(ctx context.Context, orgID, event string, payload any) error {
	l.logger.InfoContext(ctx, "webhook event", "org", orgID, "event", event)
	return nil
}

// MultiNotifier fans a notification out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiWebhooks fans an event out to every sink and joins their errors.
type MultiWebhooks []Webhooks

func (m MultiWebhooks) Trigger(ctx context.Context, orgID, event string, payload any) error {
	var errs []error
	for _, target := range m {
		if err := target.Trigger(ctx, orgID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
