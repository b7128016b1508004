package workflow

import (
	"context"
	"fmt"
	"strings"

	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/notify"
)

// maxPollOptions bounds the options of a poll.
const maxPollOptions = 20

// ApplyVote toggles userID on optionID and, for single-vote polls, removes
// userID from every other option. It returns the new options slice and
// whether the vote was cast (true) or retracted (false). poll is not modified.
func ApplyVote(poll *models.Poll, optionID, userID string) ([]models.PollOption, bool, error) {
	if poll == nil {
		return nil, false, fmt.Errorf("poll: %w", ErrNotFound)
	}
	target := -1
	for i, opt := range poll.Options {
		if opt.ID == optionID {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, false, fmt.Errorf("poll option %s: %w", optionID, ErrNotFound)
	}

	options := make([]models.PollOption, len(poll.Options))
	cast := false
	for i, opt := range poll.Options {
		voters := append([]string(nil), opt.VoterIDs...)
		switch {
		case i == target && opt.HasVoter(userID):
			voters = removeString(voters, userID)
		case i == target:
			voters = append(voters, userID)
			cast = true
		case !poll.IsMultiVote && opt.HasVoter(userID):
			voters = removeString(voters, userID)
		}
		if len(voters) == 0 {
			voters = nil
		}
		options[i] = models.PollOption{ID: opt.ID, Text: opt.Text, VoterIDs: voters}
	}
	return options, cast, nil
}

// Vote casts or retracts userID's vote on a task poll in one transaction.
func (e *Engine) Vote(ctx context.Context, taskID, optionID, userID string) (err error) {
	defer func() { e.observe("Vote", err) }()

	current, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := e.requireFeature(ctx, current.OrganizationID, userID, models.FeaturePolls); err != nil {
		return err
	}
	if err := e.access.Require(ctx, userID, current.OrganizationID, models.PermVotePoll, scopeOf(current)); err != nil {
		return err
	}

	var cast bool
	task, err := e.mutate(ctx, "Vote", taskID, func(t *models.Task) error {
		options, c, err := ApplyVote(t.Poll, optionID, userID)
		if err != nil {
			return err
		}
		cast = c
		t.Poll.Options = options

		action := ActionVoteRetracted
		if cast {
			action = ActionVoteCast
		}
		e.record(t, e.entry(userID, action, "", map[string]string{"option_id": optionID}))
		return nil
	})
	if err != nil {
		return err
	}

	payload := eventFor(task, userID, ActionVoteRetracted)
	if cast {
		payload.Action = ActionVoteCast
	}
	payload.Meta = map[string]string{"option_id": optionID}
	e.dispatch(ctx, notify.EventPollVoted, payload, nil)
	return nil
}

// PollInput describes a new poll.
type PollInput struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	IsMultiVote bool     `json:"is_multi_vote"`
}

// CreatePoll attaches a poll to a task that has none.
func (e *Engine) CreatePoll(ctx context.Context, taskID, actorID string, in PollInput) (task *models.Task, err error) {
	defer func() { e.observe("CreatePoll", err) }()

	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, invalidf("poll question is required")
	}
	var texts []string
	for _, o := range in.Options {
		if o = strings.TrimSpace(o); o != "" {
			texts = append(texts, o)
		}
	}
	if len(texts) < 2 || len(texts) > maxPollOptions {
		return nil, invalidf("a poll needs between 2 and %d options", maxPollOptions)
	}

	current, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.requireFeature(ctx, current.OrganizationID, actorID, models.FeaturePolls); err != nil {
		return nil, err
	}
	if err := e.access.Require(ctx, actorID, current.OrganizationID, models.PermManagePoll, scopeOf(current)); err != nil {
		return nil, err
	}

	task, err = e.mutate(ctx, "CreatePoll", taskID, func(t *models.Task) error {
		if t.Poll != nil {
			return invalidf("task %s already has a poll", t.ID)
		}
		poll := &models.Poll{
			Question:    question,
			IsMultiVote: in.IsMultiVote,
			CreatedBy:   actorID,
			CreatedAt:   e.now(),
		}
		for _, text := range texts {
			poll.Options = append(poll.Options, models.PollOption{ID: e.newID(), Text: text})
		}
		t.Poll = poll
		e.record(t, e.entry(actorID, ActionPollCreated, question, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionPollCreated), nil)
	return task, nil
}

// RemovePoll detaches the poll from a task.
func (e *Engine) RemovePoll(ctx context.Context, taskID, actorID string) (task *models.Task, err error) {
	defer func() { e.observe("RemovePoll", err) }()

	if _, err := e.load(ctx, taskID, actorID, models.PermManagePoll); err != nil {
		return nil, err
	}
	task, err = e.mutate(ctx, "RemovePoll", taskID, func(t *models.Task) error {
		if t.Poll == nil {
			return fmt.Errorf("poll on task %s: %w", t.ID, ErrNotFound)
		}
		question := t.Poll.Question
		t.Poll = nil
		e.record(t, e.entry(actorID, ActionPollRemoved, question, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, notify.EventTaskUpdated, eventFor(task, actorID, ActionPollRemoved), nil)
	return task, nil
}

// requireFeature fails with ErrFeatureDisabled when the organization switched feature off.
func (e *Engine) requireFeature(ctx context.Context, orgID, actorID, feature string) error {
	org, err := e.organization(ctx, orgID, actorID)
	if err != nil {
		return err
	}
	disabled := false
	switch feature {
	case models.FeaturePolls:
		disabled = org.Features.PollsDisabled
	case models.FeatureTimeTracking:
		disabled = org.Features.TimeTrackingDisabled
	}
	if disabled {
		return fmt.Errorf("%s in %s: %w", feature, orgID, ErrFeatureDisabled)
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
