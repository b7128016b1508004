// Package advisor talks to the external suggestion service: assignee
// suggestions, workload, burnout risk and progress reports. Its answers are
// advisory and never gate a mutation.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskboard-backend/pkg/models"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout  = 10 * time.Second
	maxAttempts     = 3
	initialInterval = 200 * time.Millisecond
	maxErrorBody    = 4 << 10
)

// AssigneeSuggestion ranks a member for a task.
type AssigneeSuggestion struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Workload summarises one member's open work.
type Workload struct {
	UserID        string `json:"user_id"`
	OpenTasks     int    `json:"open_tasks"`
	ActiveTimers  int    `json:"active_timers"`
	LoggedSeconds int64  `json:"logged_seconds"`
}

// BurnoutRisk is the service's estimate for one member.
type BurnoutRisk struct {
	UserID string  `json:"user_id"`
	Level  string  `json:"level"`
	Score  float64 `json:"score"`
}

// Report is a generated progress summary.
type Report struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
}

// Service is the suggestion service contract.
type Service interface {
	SuggestAssignees(ctx context.Context, task *models.Task) ([]AssigneeSuggestion, error)
	Workload(ctx context.Context, orgID string) ([]Workload, error)
	BurnoutRisk(ctx context.Context, orgID string) ([]BurnoutRisk, error)
	Report(ctx context.Context, orgID string, tasks []models.Task) (*Report, error)
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("advisor returned %d: %s", e.Code, e.Body)
}

// Client calls the service over HTTP with JSON bodies.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for baseURL. A zero timeout means 10s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type suggestRequest struct {
	Task *models.Task `json:"task"`
}

type orgRequest struct {
	OrganizationID string        `json:"organization_id"`
	Tasks          []models.Task `json:"tasks,omitempty"`
}

func (c *Client) SuggestAssignees(ctx context.Context, task *models.Task) ([]AssigneeSuggestion, error) {
	var out struct {
		Suggestions []AssigneeSuggestion `json:"suggestions"`
	}
	if err := c.post(ctx, "/suggest-assignees", suggestRequest{Task: task}, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) Workload(ctx context.Context, orgID string) ([]Workload, error) {
	var out struct {
		Members []Workload `json:"members"`
	}
	if err := c.post(ctx, "/workload", orgRequest{OrganizationID: orgID}, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) BurnoutRisk(ctx context.Context, orgID string) ([]BurnoutRisk, error) {
	var out struct {
		Members []BurnoutRisk `json:"members"`
	}
	if err := c.post(ctx, "/burnout", orgRequest{OrganizationID: orgID}, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) Report(ctx context.Context, orgID string, tasks []models.Task) (*Report, error) {
	var out Report
	if err := c.post(ctx, "/report", orgRequest{OrganizationID: orgID, Tasks: tasks}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends in and decodes the answer into out. Transport errors and 5xx
// answers are retried; 4xx answers are not.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal advisor request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
			if resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode advisor response: %w", err))
		}
		return nil
	}, b)
}

// Nop answers every call with nothing. It stands in when no service is configured.
type Nop struct{}

func (Nop) SuggestAssignees(context.Context, *models.Task) ([]AssigneeSuggestion, error) {
	return nil, nil
}
func (Nop) Workload(context.Context, string) ([]Workload, error)       { return nil, nil }
func (Nop) BurnoutRisk(context.Context, string) ([]BurnoutRisk, error) { return nil, nil }
func (Nop) Report(context.Context, string, []models.Task) (*Report, error) {
	return &Report{}, nil
}

// Safe wraps a Service so failures are logged and replaced by empty answers.
type Safe struct {
	inner  Service
	logger *slog.Logger
}

// NewSafe wraps inner. A nil inner behaves like Nop.
func NewSafe(inner Service, logger *slog.Logger) *Safe {
	if inner == nil {
		inner = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{inner: inner, logger: logger}
}

func (s *Safe) warn(call string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("advisor call failed", "call", call, "error", err)
}

func (s *Safe) SuggestAssignees(ctx context.Context, task *models.Task) ([]AssigneeSuggestion, error) {
	out, err := s.inner.SuggestAssignees(ctx, task)
	if err != nil {
		s.warn("suggest_assignees", err)
		return nil, nil
	}
	return out, nil
}

func (s *Safe) Workload(ctx context.Context, orgID string) ([]Workload, error) {
	out, err := s.inner.Workload(ctx, orgID)
	if err != nil {
		s.warn("workload", err)
		return nil, nil
	}
	return out, nil
}

func (s *Safe) BurnoutRisk(ctx context.Context, orgID string) ([]BurnoutRisk, error) {
	out, err := s.inner.BurnoutRisk(ctx, orgID)
	if err != nil {
		s.warn("burnout_risk", err)
		return nil, nil
	}
	return out, nil
}

func (s *Safe) Report(ctx context.Context, orgID string, tasks []models.Task) (*Report, error) {
	out, err := s.inner.Report(ctx, orgID, tasks)
	if err != nil {
		s.warn("report", err)
		return &Report{}, nil
	}
	return out, nil
}
