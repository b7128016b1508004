// Package workflow applies permission-checked mutations to tasks: status
// transitions guarded by blockers, column ordering, timers, polls and the
// audit trail. Every single-task mutation runs as one optimistic transaction.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds how often a conflicting transaction is tried.
const DefaultMaxAttempts = 3

// Authorizer resolves permissions and serves cached organization reads.
type Authorizer interface {
	Require(ctx context.Context, actorID, orgID string, perm models.Permission, scope *access.Scope) error
	Organization(ctx context.Context, orgID string) (*models.Organization, error)
	Project(ctx context.Context, projectID string) (*models.Project, error)
}

// Config wires an Engine. Tasks and Access are required.
type Config struct {
	Tasks    database.TaskStore
	Access   Authorizer
	Statuses *StatusCatalog
	Notifier notify.Notifier
	Webhooks notify.Webhooks
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Now and NewID default to time.Now and uuid strings.
	Now   func() time.Time
	NewID func() string

	MaxAttempts  int
	RetryBackoff time.Duration
}

// Engine is safe for concurrent use. It owns no goroutines.
type Engine struct {
	tasks       database.TaskStore
	access      Authorizer
	statuses    *StatusCatalog
	notifier    notify.Notifier
	webhooks    notify.Webhooks
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
	maxAttempts int
	backoff     time.Duration
	lastOrder   atomic.Int64
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("workflow: task store is required")
	}
	if cfg.Access == nil {
		return nil, errors.New("workflow: authorizer is required")
	}
	e := &Engine{
		tasks:       cfg.Tasks,
		access:      cfg.Access,
		statuses:    cfg.Statuses,
		notifier:    cfg.Notifier,
		webhooks:    cfg.Webhooks,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		newID:       cfg.NewID,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
	}
	if e.statuses == nil {
		e.statuses = DefaultStatuses()
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.webhooks == nil {
		e.webhooks = notify.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.backoff <= 0 {
		e.backoff = 25 * time.Millisecond
	}
	return e, nil
}

// Statuses returns the status catalog in use.
func (e *Engine) Statuses() *StatusCatalog {
	return e.statuses
}

// errUnchanged lets a mutation finish without writing.
var errUnchanged = errors.New("unchanged")

// mutate runs fn against a fresh copy of the task inside one transaction and
// retries the whole read-modify-write on conflict.
func (e *Engine) mutate(ctx context.Context, op, taskID string, fn func(task *models.Task) error) (*models.Task, error) {
	var result *models.Task
	err := e.retry(ctx, op, func() error {
		return e.tasks.RunTransaction(ctx, func(tx database.TaskTx) error {
			task, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if err := fn(task); err != nil {
				if errors.Is(err, errUnchanged) {
					result = task
					return nil
				}
				return err
			}
			task.UpdatedAt = e.now()
			if err := tx.PutTask(task); err != nil {
				return err
			}
			result = task
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// load reads a task and checks perm against its organization and project.
func (e *Engine) load(ctx context.Context, taskID, actorID string, perm models.Permission) (*models.Task, error) {
	task, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.access.Require(ctx, actorID, task.OrganizationID, perm, scopeOf(task)); err != nil {
		return nil, err
	}
	return task, nil
}

// organization loads orgID for a feature check. A missing organization is a
// denial so its existence does not leak.
func (e *Engine) organization(ctx context.Context, orgID, actorID string) (*models.Organization, error) {
	org, err := e.access.Organization(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s in unknown organization: %w", actorID, ErrPermissionDenied)
		}
		return nil, err
	}
	return org, nil
}

func scopeOf(task *models.Task) *access.Scope {
	if task.ProjectID == "" {
		return nil
	}
	return &access.Scope{ProjectID: task.ProjectID}
}

// nextOrder returns a sort key at the end of any column: the current unix
// millis, bumped when needed so successive calls strictly increase.
func (e *Engine) nextOrder() int64 {
	candidate := e.now().UnixMilli()
	for {
		last := e.lastOrder.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if e.lastOrder.CompareAndSwap(last, next) {
			return next
		}
	}
}

// observe records the outcome of a public operation.
func (e *Engine) observe(op string, err error) {
	kind := KindOf(err)
	switch kind {
	case KindNone:
		e.metrics.ObserveOperation(op, "ok")
		return
	case KindStoreUnavailable, KindConflict, KindInternal:
		e.logger.Warn("operation failed", "op", op, "kind", kind, "error", err)
	default:
		e.logger.Debug("operation refused", "op", op, "kind", kind, "error", err)
	}
	e.metrics.ObserveOperation(op, string(kind))
}
