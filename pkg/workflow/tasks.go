package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"
)

const (
	maxTitleLength   = 500
	maxCommentLength = 10000
	// maxBlockerDepth bounds the walk that looks for dependency cycles.
	maxBlockerDepth = 256
)

// NewTask is the input of CreateTask.
type NewTask struct {
	OrganizationID string          `json:"organization_id"`
	ProjectID      string          `json:"project_id,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         models.Status   `json:"status,omitempty"`
	Priority       models.Priority `json:"priority,omitempty"`
	AssigneeIDs    []string        `json:"assignee_ids,omitempty"`
	BlockedBy      []string        `json:"blocked_by,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
}

// CreateTask adds a task at the end of its column.
func (e *Engine) CreateTask(ctx context.Context, actorID string, in NewTask) (task *models.Task, err error) {
	defer func() { e.observe("CreateTask", err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, invalidf("title is required and at most %d characters", maxTitleLength)
	}
	status := in.Status
	if status == "" {
		status = e.statuses.Initial()
	}
	if !e.statuses.Valid(status) {
		return nil, invalidf("unknown status %q", status)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, invalidf("unknown priority %q", priority)
	}

	var scope = scopeOf(&models.Task{ProjectID: in.ProjectID})
	if err := e.access.Require(ctx, actorID, in.OrganizationID, models.PermCreateTask, scope); err != nil {
		return nil, err
	}
	if in.ProjectID != "" {
		project, err := e.access.Project(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.OrganizationID != in.OrganizationID {
			return nil, invalidf("project %s belongs to another organization", in.ProjectID)
		}
	}

	assignees, err := e.validAssignees(ctx, in.OrganizationID, in.AssigneeIDs)
	if err != nil {
		return nil, err
	}
	blockers := uniqueStrings(in.BlockedBy)
	for _, id := range blockers {
		if _, err := e.sameOrgTask(ctx, in.OrganizationID, id); err != nil {
			return nil, err
		}
	}

	now := e.now()
	task = &models.Task{
		ID:             e.newID(),
		OrganizationID: in.OrganizationID,
		ProjectID:      in.ProjectID,
		Title:          title,
		Description:    in.Description,
		Status:         status,
		Priority:       priority,
		AssigneeIDs:    assignees,
		BlockedBy:      blockers,
		Order:          e.nextOrder(),
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
		DueDate:        in.DueDate,
	}
	if err := e.checkBlockers(ctx, task, status); err != nil {
		return nil, err
	}
	if status == e.statuses.Success() {
		task.CompletedAt = &now
	}
	e.record(task, e.entry(actorID, ActionCreated, title, nil))

	if err := e.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	notes := notifyUsers(task, actorID, fmt.Sprintf("You were assigned to %q", task.Title), nil, task.AssigneeIDs...)
	e.dispatch(ctx, notify.EventTaskCreated, eventFor(task, actorID, ActionCreated), notes)
	return task, nil
}

// GetTask returns a task the actor may view.
func (e *Engine) GetTask(ctx context.Context, taskID, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("GetTask", err) }()
	return e.load(ctx, taskID, actorID, models.PermViewTask)
}

// ListTasks returns the tasks of an organization in board order.
func (e *Engine) ListTasks(ctx context.Context, actorID string, filter database.TaskFilter) (tasks []models.Task, err error) {
	defer func() { e.observe("ListTasks", err) }()

	if filter.OrganizationID == "" {
		return nil, invalidf("organization id is required")
	}
	if filter.Status != "" && !e.statuses.Valid(filter.Status) {
		return nil, invalidf("unknown status %q", filter.Status)
	}
	scope := scopeOf(&models.Task{ProjectID: filter.ProjectID})
	if err := e.access.Require(ctx, actorID, filter.OrganizationID, models.PermViewTask, scope); err != nil {
		return nil, err
	}
	return e.tasks.ListTasks(ctx, filter)
}

// DetailsPatch updates descriptive fields. Nil fields are left alone.
type DetailsPatch struct {
	Title        *string          `json:"title,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Priority     *models.Priority `json:"priority,omitempty"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	ClearDueDate bool             `json:"clear_due_date,omitempty"`
}

// UpdateDetails applies patch and records which fields changed.
func (e *Engine) UpdateDetails(ctx context.Context, taskID, actorID string, patch DetailsPatch) (task *models.Task, err error) {
	defer func() { e.observe("UpdateDetails", err) }()

	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" || len(t) > maxTitleLength {
			return nil, invalidf("title is required and at most %d characters", maxTitleLength)
		}
		patch.Title = &t
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, invalidf("unknown priority %q", *patch.Priority)
	}
	if _, err := e.load(ctx, taskID, actorID, models.PermEditTask); err != nil {
		return nil, err
	}

	var changed []string
	task, err = e.mutate(ctx, "UpdateDetails", taskID, func(t *models.Task) error {
		changed = changed[:0]
		if patch.Title != nil && *patch.Title != t.Title {
			t.Title = *patch.Title
			changed = append(changed, "title")
		}
		if patch.Description != nil && *patch.Description != t.Description {
			t.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Priority != nil && *patch.Priority != t.Priority {
			t.Priority = *patch.Priority
			changed = append(changed, "priority")
		}
		switch {
		case patch.ClearDueDate && t.DueDate != nil:
			t.DueDate = nil
			changed = append(changed, "due_date")
		case patch.DueDate != nil && (t.DueDate == nil || !t.DueDate.Equal(*patch.DueDate)):
			due := *patch.DueDate
			t.DueDate = &due
			changed = append(changed, "due_date")
		}
		if len(changed) == 0 {
			return errUnchanged
		}
		fields := strings.Join(changed, ",")
		e.record(t, e.entry(actorID, ActionDetailsUpdated, fields, map[string]string{"fields": fields}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		payload := eventFor(task, actorID, ActionDetailsUpdated)
		payload.Meta = map[string]string{"fields": strings.Join(changed, ",")}
		e.dispatch(ctx, notify.EventTaskUpdated, payload, nil)
	}
	return task, nil
}

// DeleteTask removes a task permanently.
func (e *Engine) DeleteTask(ctx context.Context, taskID, actorID string) (err error) {
	defer func() { e.observe("DeleteTask", err) }()

	task, err := e.load(ctx, taskID, actorID, models.PermDeleteTask)
	if err != nil {
		return err
	}
	if err := e.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	e.dispatch(ctx, notify.EventTaskDeleted, eventFor(task, actorID, "Task deleted"), nil)
	return nil
}

// SetAssignees replaces the assignee set. Newly added assignees are notified.
func (e *Engine) SetAssignees(ctx context.Context, taskID, actorID string, assigneeIDs []string) (task *models.Task, err error) {
	defer func() { e.observe("SetAssignees", err) }()

	current, err := e.load(ctx, taskID, actorID, models.PermAssignTask)
	if err != nil {
		return nil, err
	}
	assignees, err := e.validAssignees(ctx, current.OrganizationID, assigneeIDs)
	if err != nil {
		return nil, err
	}

	var added []string
	task, err = e.mutate(ctx, "SetAssignees", taskID, func(t *models.Task) error {
		var removed []string
		added, removed = diffStrings(t.AssigneeIDs, assignees)
		if len(added) == 0 && len(removed) == 0 {
			return errUnchanged
		}
		t.AssigneeIDs = assignees
		e.record(t, e.entry(actorID, ActionAssigneesSet, "", map[string]string{
			"added":   strings.Join(added, ","),
			"removed": strings.Join(removed, ","),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		notes := notifyUsers(task, actorID, fmt.Sprintf("You were assigned to %q", task.Title), nil, added...)
		e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionAssigneesSet), notes)
	}
	return task, nil
}

// AddBlocker declares blockerID a prerequisite of taskID. Self references and
// cycles are rejected.
func (e *Engine) AddBlocker(ctx context.Context, taskID, blockerID, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("AddBlocker", err) }()

	if taskID == blockerID {
		return nil, invalidf("a task cannot block itself")
	}
	current, err := e.load(ctx, taskID, actorID, models.PermEditTask)
	if err != nil {
		return nil, err
	}
	if current.IsBlockedBy(blockerID) {
		return current, nil
	}
	if _, err := e.sameOrgTask(ctx, current.OrganizationID, blockerID); err != nil {
		return nil, err
	}
	if err := e.detectCycle(ctx, taskID, blockerID); err != nil {
		return nil, err
	}

	task, err = e.mutate(ctx, "AddBlocker", taskID, func(t *models.Task) error {
		if t.IsBlockedBy(blockerID) {
			return errUnchanged
		}
		t.BlockedBy = append(t.BlockedBy, blockerID)
		e.record(t, e.entry(actorID, ActionBlockerAdded, blockerID, map[string]string{"blocker_id": blockerID}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionBlockerAdded), nil)
	return task, nil
}

// RemoveBlocker drops a prerequisite.
func (e *Engine) RemoveBlocker(ctx context.Context, taskID, blockerID, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("RemoveBlocker", err) }()

	if _, err := e.load(ctx, taskID, actorID, models.PermEditTask); err != nil {
		return nil, err
	}
	task, err = e.mutate(ctx, "RemoveBlocker", taskID, func(t *models.Task) error {
		if !t.IsBlockedBy(blockerID) {
			return fmt.Errorf("blocker %s on task %s: %w", blockerID, t.ID, ErrNotFound)
		}
		t.BlockedBy = removeString(t.BlockedBy, blockerID)
		if len(t.BlockedBy) == 0 {
			t.BlockedBy = nil
		}
		e.record(t, e.entry(actorID, ActionBlockerRemoved, blockerID, map[string]string{"blocker_id": blockerID}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionBlockerRemoved), nil)
	return task, nil
}

// detectCycle fails when taskID is reachable from blockerID through BlockedBy edges.
func (e *Engine) detectCycle(ctx context.Context, taskID, blockerID string) error {
	visited := map[string]bool{}
	queue := []string{blockerID}
	for len(queue) > 0 {
		if len(visited) > maxBlockerDepth {
			return invalidf("dependency chain too deep")
		}
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		t, err := e.tasks.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		for _, next := range t.BlockedBy {
			if next == taskID {
				return invalidf("blocking %s on %s would create a cycle", taskID, blockerID)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// AddComment appends a comment and notifies the creator and assignees.
func (e *Engine) AddComment(ctx context.Context, taskID, actorID, body string) (comment models.Comment, err error) {
	defer func() { e.observe("AddComment", err) }()

	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxCommentLength {
		return models.Comment{}, invalidf("comment must be between 1 and %d characters", maxCommentLength)
	}
	if _, err := e.load(ctx, taskID, actorID, models.PermCommentTask); err != nil {
		return models.Comment{}, err
	}

	comment = models.Comment{ID: e.newID(), AuthorID: actorID, Body: body}
	task, err := e.mutate(ctx, "AddComment", taskID, func(t *models.Task) error {
		comment.CreatedAt = e.now()
		t.Comments = append(t.Comments, comment)
		e.record(t, e.entry(actorID, ActionCommentAdded, "", map[string]string{"comment_id": comment.ID}))
		return nil
	})
	if err != nil {
		return models.Comment{}, err
	}

	notes := notifyUsers(task, actorID, fmt.Sprintf("New comment on %q", task.Title),
		map[string]string{"comment_id": comment.ID},
		append([]string{task.CreatedBy}, task.AssigneeIDs...)...)
	payload := eventFor(task, actorID, ActionCommentAdded)
	payload.Meta = map[string]string{"comment_id": comment.ID}
	e.dispatch(ctx, notify.EventCommentAdded, payload, notes)
	return comment, nil
}

// LinkInput points a task at an item in another tool.
type LinkInput struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// AddLink attaches an external link. Adding a URL that is already linked is a no-op.
func (e *Engine) AddLink(ctx context.Context, taskID, actorID string, in LinkInput) (task *models.Task, err error) {
	defer func() { e.observe("AddLink", err) }()

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, invalidf("link provider is required")
	}
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidf("link url must be an absolute http(s) url")
	}
	if _, err := e.load(ctx, taskID, actorID, models.PermEditTask); err != nil {
		return nil, err
	}

	link := models.TaskLink{ID: e.newID(), Provider: provider, URL: u.String(), Title: strings.TrimSpace(in.Title), AddedBy: actorID}
	task, err = e.mutate(ctx, "AddLink", taskID, func(t *models.Task) error {
		for _, l := range t.Links {
			if l.URL == link.URL {
				return errUnchanged
			}
		}
		link.AddedAt = e.now()
		t.Links = append(t.Links, link)
		e.record(t, e.entry(actorID, ActionLinkAdded, link.URL, map[string]string{"link_id": link.ID, "provider": provider}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionLinkAdded), nil)
	return task, nil
}

// RemoveLink detaches an external link.
func (e *Engine) RemoveLink(ctx context.Context, taskID, linkID, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("RemoveLink", err) }()

	if _, err := e.load(ctx, taskID, actorID, models.PermEditTask); err != nil {
		return nil, err
	}
	task, err = e.mutate(ctx, "RemoveLink", taskID, func(t *models.Task) error {
		idx := -1
		for i, l := range t.Links {
			if l.ID == linkID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("link %s on task %s: %w", linkID, t.ID, ErrNotFound)
		}
		removed := t.Links[idx]
		t.Links = append(t.Links[:idx], t.Links[idx+1:]...)
		e.record(t, e.entry(actorID, ActionLinkRemoved, removed.URL, map[string]string{"link_id": linkID}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionLinkRemoved), nil)
	return task, nil
}

// validAssignees dedupes ids and checks each one is a member of orgID.
func (e *Engine) validAssignees(ctx context.Context, orgID string, ids []string) ([]string, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	org, err := e.access.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := org.Member(id); !ok {
			return nil, invalidf("assignee %s is not a member of the organization", id)
		}
	}
	return ids, nil
}

// sameOrgTask loads id and checks it belongs to orgID.
func (e *Engine) sameOrgTask(ctx context.Context, orgID, id string) (*models.Task, error) {
	t, err := e.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OrganizationID != orgID {
		return nil, invalidf("task %s belongs to another organization", id)
	}
	return t, nil
}

// uniqueStrings drops empty and repeated values and sorts the rest.
func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// diffStrings returns the values only in next and the values only in prev.
func diffStrings(prev, next []string) (added, removed []string) {
	in := func(list []string, s string) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}
	for _, s := range next {
		if !in(prev, s) {
			added = append(added, s)
		}
	}
	for _, s := range prev {
		if !in(next, s) {
			removed = append(removed, s)
		}
	}
	return added, removed
}
