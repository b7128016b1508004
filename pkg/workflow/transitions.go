package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"

	"golang.org/x/sync/errgroup"
)

// blockerReadLimit caps concurrent reads when checking prerequisites.
const blockerReadLimit = 8

// ChangeStatus moves a task to newStatus. Entering an active status requires
// every blocker to be finished. Changing to the current status is a no-op.
func (e *Engine) ChangeStatus(ctx context.Context, taskID string, newStatus models.Status, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("ChangeStatus", err) }()

	if !e.statuses.Valid(newStatus) {
		return nil, invalidf("unknown status %q", newStatus)
	}
	current, err := e.load(ctx, taskID, actorID, models.PermEditTask)
	if err != nil {
		return nil, err
	}
	if current.Status == newStatus {
		return current, nil
	}
	if err := e.checkBlockers(ctx, current, newStatus); err != nil {
		return nil, err
	}

	var from models.Status
	task, err = e.mutate(ctx, "ChangeStatus", taskID, func(t *models.Task) error {
		if t.Status == newStatus {
			return errUnchanged
		}
		from = t.Status
		e.applyStatus(t, newStatus, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != "" {
		e.afterStatusChange(ctx, task, actorID, from, newStatus)
	}
	return task, nil
}

// applyStatus sets the status, keeps CompletedAt in step with it and records the change.
func (e *Engine) applyStatus(t *models.Task, to models.Status, actorID string) {
	from := t.Status
	t.Status = to
	if to == e.statuses.Success() {
		now := e.now()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	h := e.entry(actorID, statusAction(from, to), "", nil)
	h.FromStatus = from
	h.ToStatus = to
	e.record(t, h)
}

func (e *Engine) afterStatusChange(ctx context.Context, task *models.Task, actorID string, from, to models.Status) {
	payload := eventFor(task, actorID, statusAction(from, to))
	payload.FromStatus = from
	payload.ToStatus = to
	notes := notifyUsers(task, actorID,
		fmt.Sprintf("%q moved from %s to %s", task.Title, from, to),
		map[string]string{"from_status": string(from), "to_status": string(to)},
		append([]string{task.CreatedBy}, task.AssigneeIDs...)...)
	e.dispatch(ctx, notify.EventTaskStatusChanged, payload, notes)
}

// checkBlockers fails with a *BlockedError when target is active and any
// prerequisite is unfinished. Blockers are read outside any transaction and in
// parallel. Deleted blockers no longer block.
func (e *Engine) checkBlockers(ctx context.Context, task *models.Task, target models.Status) error {
	if !e.statuses.IsActive(target) || len(task.BlockedBy) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		pending []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blockerReadLimit)
	for _, id := range task.BlockedBy {
		g.Go(func() error {
			blocker, err := e.tasks.GetTask(gctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			if blocker.Status != e.statuses.Success() {
				mu.Lock()
				pending = append(pending, id)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(pending) > 0 {
		return newBlockedError(task.ID, pending)
	}
	return nil
}

// MoveRequest moves a task to a column, optionally at a position.
type MoveRequest struct {
	TaskID  string
	ActorID string
	// ToStatus is the destination column.
	ToStatus models.Status
	// ExpectedStatus, when set, must match the task's status at commit time.
	// A mismatch is a conflict that is not retried.
	ExpectedStatus models.Status
	// Position, when set, is the zero-based index in the destination column.
	// Without it the task goes to the end.
	Position *int
}

// MoveTask changes the status like ChangeStatus and gives the task a fresh
// order so it sorts last in the destination column. With a Position the
// destination column is re-sequenced around the task. The move is committed
// before re-sequencing starts, so a failed re-sequence is logged and counted
// but does not fail the move.
func (e *Engine) MoveTask(ctx context.Context, req MoveRequest) (task *models.Task, err error) {
	defer func() { e.observe("MoveTask", err) }()

	if !e.statuses.Valid(req.ToStatus) {
		return nil, invalidf("unknown status %q", req.ToStatus)
	}
	if req.ExpectedStatus != "" && !e.statuses.Valid(req.ExpectedStatus) {
		return nil, invalidf("unknown expected status %q", req.ExpectedStatus)
	}
	if req.Position != nil && *req.Position < 0 {
		return nil, invalidf("position must not be negative")
	}

	current, err := e.load(ctx, req.TaskID, req.ActorID, models.PermEditTask)
	if err != nil {
		return nil, err
	}
	if current.Status != req.ToStatus {
		if err := e.checkBlockers(ctx, current, req.ToStatus); err != nil {
			return nil, err
		}
	}

	var from models.Status
	task, err = e.mutate(ctx, "MoveTask", req.TaskID, func(t *models.Task) error {
		if req.ExpectedStatus != "" && t.Status != req.ExpectedStatus {
			return &PreconditionError{TaskID: t.ID, Expected: req.ExpectedStatus, Actual: t.Status}
		}
		from = ""
		if t.Status != req.ToStatus {
			from = t.Status
			e.applyStatus(t, req.ToStatus, req.ActorID)
		}
		t.Order = e.nextOrder()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Position != nil {
		err := e.resequence(ctx, task, *req.Position)
		e.observe("Resequence", err)
	}
	if from != "" {
		e.afterStatusChange(ctx, task, req.ActorID, from, req.ToStatus)
	} else {
		e.dispatch(ctx, notify.EventTaskReordered, eventFor(task, req.ActorID, ActionMoved), nil)
	}
	return task, nil
}

// resequence renumbers the task's column with task at position.
func (e *Engine) resequence(ctx context.Context, task *models.Task, position int) error {
	column, err := e.tasks.ListTasks(ctx, database.TaskFilter{
		OrganizationID: task.OrganizationID,
		ProjectID:      task.ProjectID,
		Status:         task.Status,
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(column))
	for _, t := range column {
		if t.ID != task.ID {
			ids = append(ids, t.ID)
		}
	}
	if position > len(ids) {
		position = len(ids)
	}
	ids = append(ids[:position], append([]string{task.ID}, ids[position:]...)...)

	if err := e.tasks.BatchWrite(ctx, orderPatches(ids)); err != nil {
		return err
	}
	task.Order = int64(position)
	return nil
}

func orderPatches(ids []string) []database.TaskPatch {
	patches := make([]database.TaskPatch, len(ids))
	for i, id := range ids {
		patches[i] = database.TaskPatch{ID: id, Order: int64(i)}
	}
	return patches
}

// Reorder gives each task an order equal to its index in taskIDs. All tasks
// must belong to the organization of the first one, which the actor must be
// allowed to edit; ids outside it read as not found. The writes are per
// document and record no history.
func (e *Engine) Reorder(ctx context.Context, actorID string, taskIDs []string) (err error) {
	defer func() { e.observe("Reorder", err) }()

	if len(taskIDs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if id == "" || seen[id] {
			return invalidf("task ids must be unique and non-empty")
		}
		seen[id] = true
	}

	first, err := e.load(ctx, taskIDs[0], actorID, models.PermEditTask)
	if err != nil {
		return err
	}
	orgID := first.OrganizationID
	projectID := first.ProjectID

	rest := make([]*models.Task, len(taskIDs)-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blockerReadLimit)
	for i, id := range taskIDs[1:] {
		g.Go(func() error {
			t, err := e.tasks.GetTask(gctx, id)
			if err != nil {
				return err
			}
			if t.OrganizationID != orgID {
				return fmt.Errorf("task %s: %w", id, ErrNotFound)
			}
			rest[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range rest {
		if t.ProjectID != projectID {
			projectID = ""
		}
	}
	if projectID != first.ProjectID {
		// Mixed projects need the permission organization-wide.
		if err := e.access.Require(ctx, actorID, orgID, models.PermEditTask, nil); err != nil {
			return err
		}
	}

	if err := e.tasks.BatchWrite(ctx, orderPatches(taskIDs)); err != nil {
		return err
	}

	e.dispatch(ctx, notify.EventTaskReordered, TaskEvent{
		OrganizationID: orgID,
		ProjectID:      projectID,
		ActorID:        actorID,
		Action:         "Reordered",
		Meta:           map[string]string{"count": fmt.Sprint(len(taskIDs))},
	}, nil)
	return nil
}
