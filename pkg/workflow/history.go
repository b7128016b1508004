package workflow

import (
	"fmt"

	"taskboard-backend/pkg/models"
)

// History actions written by the engine.
const (
	ActionCreated        = "Task created"
	ActionDetailsUpdated = "Details updated"
	ActionAssigneesSet   = "Assignees updated"
	ActionBlockerAdded   = "Blocker added"
	ActionBlockerRemoved = "Blocker removed"
	ActionTimerStarted   = "Timer started"
	ActionTimerStopped   = "Timer stopped"
	ActionPollCreated    = "Poll created"
	ActionPollRemoved    = "Poll removed"
	ActionVoteCast       = "Vote cast"
	ActionVoteRetracted  = "Vote retracted"
	ActionCommentAdded   = "Comment added"
	ActionLinkAdded      = "Link added"
	ActionLinkRemoved    = "Link removed"
	ActionMoved          = "Moved"
)

func statusAction(from, to models.Status) string {
	return fmt.Sprintf("Status changed from %s to %s", from, to)
}

// AppendHistory merges entries into history as an additive union keyed by id.
// Entries already present are left untouched and the list is never rewritten.
// Timestamps are clamped so the list stays non-decreasing.
func AppendHistory(history []models.HistoryEntry, entries ...models.HistoryEntry) []models.HistoryEntry {
	seen := make(map[string]struct{}, len(history))
	for _, h := range history {
		seen[h.ID] = struct{}{}
	}
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		if n := len(history); n > 0 && e.Timestamp.Before(history[n-1].Timestamp) {
			e.Timestamp = history[n-1].Timestamp
		}
		seen[e.ID] = struct{}{}
		history = append(history, e)
	}
	return history
}

// entry builds a history record for actorID at the engine's current time.
func (e *Engine) entry(actorID, action, details string, meta map[string]string) models.HistoryEntry {
	return models.HistoryEntry{
		ID:        e.newID(),
		ActorID:   actorID,
		Timestamp: e.now(),
		Action:    action,
		Details:   details,
		Meta:      meta,
	}
}

// record appends a single history entry to task.
func (e *Engine) record(task *models.Task, h models.HistoryEntry) {
	task.History = AppendHistory(task.History, h)
}
