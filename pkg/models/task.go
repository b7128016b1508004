package models

import "time"

// Status is a named workflow state of a task.
type Status string

// Default workflow statuses.
const (
	StatusBacklog    Status = "Backlog"
	StatusTodo       Status = "Te Doen"
	StatusInProgress Status = "In Uitvoering"
	StatusInReview   Status = "In Review"
	StatusDone       Status = "Voltooid"
	StatusCancelled  Status = "Geannuleerd"
	StatusArchived   Status = "Gearchiveerd"
)

// Priority of a task
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is the unit of work tracked inside an organization.
type Task struct {
	ID                   string               `json:"id"`
	OrganizationID       string               `json:"organization_id"`
	ProjectID            string               `json:"project_id,omitempty"`
	Title                string               `json:"title"`
	Description          string               `json:"description,omitempty"`
	Status               Status               `json:"status"`
	Priority             Priority             `json:"priority"`
	AssigneeIDs          []string             `json:"assignee_ids,omitempty"`
	Order                int64                `json:"order"`
	BlockedBy            []string             `json:"blocked_by,omitempty"`
	ActiveTimerStartedAt map[string]time.Time `json:"active_timer_started_at,omitempty"`
	TimeLogged           int64                `json:"time_logged"`
	Poll                 *Poll                `json:"poll,omitempty"`
	History              []HistoryEntry       `json:"history,omitempty"`
	Comments             []Comment            `json:"comments,omitempty"`
	Links                []TaskLink           `json:"links,omitempty"`
	CreatedBy            string               `json:"created_by"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	CompletedAt          *time.Time           `json:"completed_at,omitempty"`
	DueDate              *time.Time           `json:"due_date,omitempty"`
}

// IsAssignee reports whether userID is assigned to the task.
func (t *Task) IsAssignee(userID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsBlockedBy reports whether blockerID is a declared prerequisite.
func (t *Task) IsBlockedBy(blockerID string) bool {
	for _, id := range t.BlockedBy {
		if id == blockerID {
			return true
		}
	}
	return false
}

// Poll is embedded in a task.
type Poll struct {
	Question    string       `json:"question"`
	Options     []PollOption `json:"options"`
	IsMultiVote bool         `json:"is_multi_vote"`
	CreatedBy   string       `json:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PollOption is one choice in a poll.
type PollOption struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	VoterIDs []string `json:"voter_ids,omitempty"`
}

// HasVoter reports whether userID voted for this option.
func (o PollOption) HasVoter(userID string) bool {
	for _, v := range o.VoterIDs {
		if v == userID {
			return true
		}
	}
	return false
}

// HistoryEntry is one append-only audit record on a task.
type HistoryEntry struct {
	ID         string            `json:"id"`
	ActorID    string            `json:"actor_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	Details    string            `json:"details,omitempty"`
	FromStatus Status            `json:"from_status,omitempty"`
	ToStatus   Status            `json:"to_status,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Comment left on a task by a member.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskLink points at the same work item in an external tool (source control, issue tracker, ...).
type TaskLink struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	AddedBy  string    `json:"added_by"`
	AddedAt  time.Time `json:"added_at"`
}
