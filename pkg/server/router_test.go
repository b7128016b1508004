package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code     string   `json:"code"`
		Message  string   `json:"message"`
		Blockers []string `json:"blockers"`
	} `json:"error"`
}

type harness struct {
	t      *testing.T
	app    *App
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		Environment:         "test",
		Port:                "0",
		JWTSecret:           "test-secret",
		AllowedOrigins:      []string{"*"},
		MaxConflictAttempts: 3,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, database.NewLocalDatabase(), logger, metrics.New())
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return &harness{t: t, app: app, server: srv}
}

func (h *harness) token(userID string) string {
	tok, _, err := h.app.Tokens.GenerateAccessToken(userID, userID+"@example.com", time.Hour)
	require.NoError(h.t, err)
	return tok
}

// call sends body as JSON and decodes the response envelope into out when given.
func (h *harness) call(method, path, userID string, body any, out any) (int, envelope) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, rd)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(h.t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env
}

func TestRouter_TaskLifecycle(t *testing.T) {
	h := newHarness(t)

	var org models.Organization
	status, _ := h.call(http.MethodPost, "/api/orgs", "u-owner", map[string]string{"name": "Acme"}, &org)
	require.Equal(t, http.StatusCreated, status)

	status, _ = h.call(http.MethodPut, "/api/orgs/"+org.ID+"/members/u-dev", "u-owner", map[string]string{"role": "member"}, nil)
	require.Equal(t, http.StatusOK, status)

	var project models.Project
	status, _ = h.call(http.MethodPost, "/api/orgs/"+org.ID+"/projects", "u-owner", map[string]string{"name": "Web"}, &project)
	require.Equal(t, http.StatusCreated, status)

	var design, build models.Task
	status, _ = h.call(http.MethodPost, "/api/tasks", "u-owner", map[string]any{
		"organization_id": org.ID, "project_id": project.ID, "title": "Design",
	}, &design)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.StatusTodo, design.Status)

	status, _ = h.call(http.MethodPost, "/api/tasks", "u-owner", map[string]any{
		"organization_id": org.ID, "project_id": project.ID, "title": "Build",
		"blocked_by": []string{design.ID}, "assignee_ids": []string{"u-dev"},
	}, &build)
	require.Equal(t, http.StatusCreated, status)

	status, env := h.call(http.MethodPost, "/api/tasks/"+build.ID+"/status", "u-owner", map[string]string{"status": "Voltooid"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BLOCKED", env.Error.Code)
	assert.Equal(t, []string{design.ID}, env.Error.Blockers)

	status, _ = h.call(http.MethodPost, "/api/tasks/"+design.ID+"/status", "u-owner", map[string]string{"status": "Voltooid"}, nil)
	require.Equal(t, http.StatusOK, status)
	var done models.Task
	status, _ = h.call(http.MethodPost, "/api/tasks/"+build.ID+"/move", "u-owner", map[string]any{
		"status": "Voltooid", "expected_status": "Te Doen",
	}, &done)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.NotNil(t, done.CompletedAt)

	var listed []models.Task
	status, _ = h.call(http.MethodGet, "/api/tasks?organization_id="+org.ID+"&status=Voltooid", "u-dev", nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 2)

	// members may comment but not delete
	status, _ = h.call(http.MethodPost, "/api/tasks/"+build.ID+"/comments", "u-dev", map[string]string{"body": "shipped"}, nil)
	assert.Equal(t, http.StatusCreated, status)
	status, env = h.call(http.MethodDelete, "/api/tasks/"+build.ID, "u-dev", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	status, _ = h.call(http.MethodDelete, "/api/tasks/"+build.ID, "u-owner", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.call(http.MethodGet, "/api/tasks/"+build.ID, "u-owner", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_TimerAndPoll(t *testing.T) {
	h := newHarness(t)

	var org models.Organization
	h.call(http.MethodPost, "/api/orgs", "u-owner", map[string]string{"name": "Acme"}, &org)
	var task models.Task
	status, _ := h.call(http.MethodPost, "/api/tasks", "u-owner", map[string]any{"organization_id": org.ID, "title": "Plan"}, &task)
	require.Equal(t, http.StatusCreated, status)

	var timer struct {
		Started bool `json:"started"`
	}
	status, _ = h.call(http.MethodPost, "/api/tasks/"+task.ID+"/timer", "u-owner", map[string]string{"organization_id": org.ID}, &timer)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, timer.Started)

	var timers []struct {
		UserID string `json:"user_id"`
	}
	h.call(http.MethodGet, "/api/tasks/"+task.ID+"/timers", "u-owner", nil, &timers)
	require.Len(t, timers, 1)
	assert.Equal(t, "u-owner", timers[0].UserID)

	status, _ = h.call(http.MethodPost, "/api/tasks/"+task.ID+"/timer", "u-owner", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var poll models.Poll
	status, _ = h.call(http.MethodPost, "/api/tasks/"+task.ID+"/poll", "u-owner", map[string]any{
		"question": "When?", "options": []string{"Monday", "Friday"},
	}, &poll)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, poll.Options, 2)

	status, _ = h.call(http.MethodPost, "/api/tasks/"+task.ID+"/poll/votes", "u-owner", map[string]string{"option_id": poll.Options[1].ID}, &poll)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"u-owner"}, poll.Options[1].VoterIDs)

	status, _ = h.call(http.MethodPut, "/api/orgs/"+org.ID+"/features/polls", "u-owner", map[string]bool{"enabled": false}, nil)
	require.Equal(t, http.StatusOK, status)
	status, env := h.call(http.MethodPost, "/api/tasks/"+task.ID+"/poll/votes", "u-owner", map[string]string{"option_id": poll.Options[0].ID}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FEATURE_DISABLED", env.Error.Code)

	var suggestions []any
	status, _ = h.call(http.MethodGet, "/api/tasks/"+task.ID+"/suggestions", "u-owner", nil, &suggestions)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, suggestions)
}

func TestRouter_Surface(t *testing.T) {
	h := newHarness(t)

	status, env := h.call(http.MethodGet, "/api/tasks", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = h.call(http.MethodGet, "/api/statuses", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = h.call(http.MethodGet, "/nope", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, _ = h.call(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = h.call(http.MethodPost, "/api/orgs", "u-owner", map[string]any{"name": "Acme", "extra": true}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `taskboard_http_requests_total{method="GET",route="/api/statuses",status="200"} 1`)
}

func TestLoadCatalogs(t *testing.T) {
	roles, statuses, err := LoadCatalogs("")
	require.NoError(t, err)
	assert.NotEmpty(t, roles.Roles())
	assert.True(t, statuses.Valid(models.StatusDone))

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(`
roles:
  - id: reviewer
    name: Reviewer
    permissions: [VIEW_TASK, COMMENT_TASK]
`)), 0o600))
	roles, statuses, err = LoadCatalogs(path)
	require.NoError(t, err)
	_, ok := roles.Role(nil, "reviewer")
	assert.True(t, ok)
	assert.True(t, statuses.Valid(models.StatusTodo))

	_, _, err = LoadCatalogs(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
