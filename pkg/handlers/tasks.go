package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskboard-backend/pkg/advisor"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/middleware"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/utils"
	"taskboard-backend/pkg/workflow"

	chiRoute "github.com/go-chi/chi/v5"
)

// TasksHandler 任务相关接口
type TasksHandler struct {
	engine  *workflow.Engine
	advisor advisor.Service
	logger  *slog.Logger
}

// NewTasksHandler 创建任务处理器. A nil advisor answers with empty suggestions.
func NewTasksHandler(engine *workflow.Engine, adv advisor.Service, logger *slog.Logger) *TasksHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TasksHandler{engine: engine, advisor: advisor.NewSafe(adv, logger), logger: logger}
}

// currentUser writes a 401 and returns false when the request is anonymous.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return user, true
}

// decodeBody writes a 400 and returns false when the body is not valid JSON for v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := utils.ParseJSONBody(r, v); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// POST /api/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		OrganizationID string          `json:"organization_id"`
		ProjectID      string          `json:"project_id"`
		Title          string          `json:"title"`
		Description    string          `json:"description"`
		Status         models.Status   `json:"status"`
		Priority       models.Priority `json:"priority"`
		AssigneeIDs    []string        `json:"assignee_ids"`
		BlockedBy      []string        `json:"blocked_by"`
		DueDate        *time.Time      `json:"due_date"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.CreateTask(r.Context(), user.ID, workflow.NewTask{
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeIDs:    req.AssigneeIDs,
		BlockedBy:      req.BlockedBy,
		DueDate:        req.DueDate,
	})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, task)
}

// GET /api/tasks?organization_id=&project_id=&status=
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	tasks, err := h.engine.ListTasks(r.Context(), user.ID, database.TaskFilter{
		OrganizationID: utils.GetQueryParam(r, "organization_id", ""),
		ProjectID:      utils.GetQueryParam(r, "project_id", ""),
		Status:         models.Status(utils.GetQueryParam(r, "status", "")),
	})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	utils.WriteSuccessResponse(w, tasks)
}

// GET /api/tasks/{taskID}
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.GetTask(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PATCH /api/tasks/{taskID}
func (h *TasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Title        *string          `json:"title"`
		Description  *string          `json:"description"`
		Priority     *models.Priority `json:"priority"`
		DueDate      *time.Time       `json:"due_date"`
		ClearDueDate bool             `json:"clear_due_date"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.UpdateDetails(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, workflow.DetailsPatch{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
		ClearDueDate: req.ClearDueDate,
	})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/tasks/{taskID}
func (h *TasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteTask(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID); err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"deleted": true})
}

// POST /api/tasks/{taskID}/status
func (h *TasksHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Status models.Status `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.ChangeStatus(r.Context(), chiRoute.URLParam(r, "taskID"), req.Status, user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/{taskID}/move
func (h *TasksHandler) MoveTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Status         models.Status `json:"status"`
		ExpectedStatus models.Status `json:"expected_status"`
		Position       *int          `json:"position"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.MoveTask(r.Context(), workflow.MoveRequest{
		TaskID:         chiRoute.URLParam(r, "taskID"),
		ActorID:        user.ID,
		ToStatus:       req.Status,
		ExpectedStatus: req.ExpectedStatus,
		Position:       req.Position,
	})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/reorder
func (h *TasksHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		TaskIDs []string `json:"task_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Reorder(r.Context(), user.ID, req.TaskIDs); err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]int{"reordered": len(req.TaskIDs)})
}

// PUT /api/tasks/{taskID}/assignees
func (h *TasksHandler) SetAssignees(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AssigneeIDs []string `json:"assignee_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.SetAssignees(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, req.AssigneeIDs)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/{taskID}/blockers
func (h *TasksHandler) AddBlocker(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		BlockerID string `json:"blocker_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.AddBlocker(r.Context(), chiRoute.URLParam(r, "taskID"), strings.TrimSpace(req.BlockerID), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/tasks/{taskID}/blockers/{blockerID}
func (h *TasksHandler) RemoveBlocker(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.RemoveBlocker(r.Context(), chiRoute.URLParam(r, "taskID"), chiRoute.URLParam(r, "blockerID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/{taskID}/comments
func (h *TasksHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	comment, err := h.engine.AddComment(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, req.Body)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, comment)
}

// POST /api/tasks/{taskID}/links
func (h *TasksHandler) AddLink(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req workflow.LinkInput
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.AddLink(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, req)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/tasks/{taskID}/links/{linkID}
func (h *TasksHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.RemoveLink(r.Context(), chiRoute.URLParam(r, "taskID"), chiRoute.URLParam(r, "linkID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/{taskID}/timer
func (h *TasksHandler) ToggleTimer(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		OrganizationID string `json:"organization_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		utils.WriteBadRequestResponse(w, "organization_id required")
		return
	}
	res, err := h.engine.ToggleTimer(r.Context(), req.OrganizationID, chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// GET /api/tasks/{taskID}/timers
func (h *TasksHandler) ActiveTimers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.GetTask(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, workflow.ActiveTimers(task))
}

// POST /api/tasks/{taskID}/poll
func (h *TasksHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req workflow.PollInput
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.engine.CreatePoll(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, req)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, task.Poll)
}

// DELETE /api/tasks/{taskID}/poll
func (h *TasksHandler) RemovePoll(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.RemovePoll(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /api/tasks/{taskID}/poll/votes
// Voting for an option the user already chose retracts the vote.
func (h *TasksHandler) Vote(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		OptionID string `json:"option_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	taskID := chiRoute.URLParam(r, "taskID")
	if err := h.engine.Vote(r.Context(), taskID, req.OptionID, user.ID); err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	task, err := h.engine.GetTask(r.Context(), taskID, user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task.Poll)
}

// GET /api/tasks/{taskID}/suggestions
func (h *TasksHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	task, err := h.engine.GetTask(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	suggestions, _ := h.advisor.SuggestAssignees(r.Context(), task)
	if suggestions == nil {
		suggestions = []advisor.AssigneeSuggestion{}
	}
	utils.WriteSuccessResponse(w, suggestions)
}

// GET /api/statuses
func (h *TasksHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, h.engine.Statuses().Statuses())
}
