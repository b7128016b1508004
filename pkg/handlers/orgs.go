package handlers

import (
	"net/http"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/advisor"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/orgs"
	"taskboard-backend/pkg/utils"
	"taskboard-backend/pkg/workflow"

	chiRoute "github.com/go-chi/chi/v5"
)

// OrgsHandler 组织与项目管理接口
type OrgsHandler struct {
	orgs    *orgs.Service
	engine  *workflow.Engine
	catalog *access.Catalog
	advisor advisor.Service
}

// NewOrgsHandler 创建组织处理器
func NewOrgsHandler(svc *orgs.Service, engine *workflow.Engine, catalog *access.Catalog, adv advisor.Service) *OrgsHandler {
	return &OrgsHandler{orgs: svc, engine: engine, catalog: catalog, advisor: advisor.NewSafe(adv, nil)}
}

// POST /api/orgs
func (h *OrgsHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	org, err := h.orgs.CreateOrganization(r.Context(), user.ID, req.Name)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, org)
}

// GET /api/orgs/{orgID}
func (h *OrgsHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.GetOrganization(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// PUT /api/orgs/{orgID}/members/{userID}
func (h *OrgsHandler) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	org, err := h.orgs.SetMemberRole(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, chiRoute.URLParam(r, "userID"), req.Role)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// DELETE /api/orgs/{orgID}/members/{userID}
func (h *OrgsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.RemoveMember(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, chiRoute.URLParam(r, "userID"))
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// PUT /api/orgs/{orgID}/members/{userID}/overrides
func (h *OrgsHandler) SetOverrides(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.PermissionOverrides
	if !decodeBody(w, r, &req) {
		return
	}
	org, err := h.orgs.SetOverrides(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, chiRoute.URLParam(r, "userID"), req)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// GET /api/roles
func (h *OrgsHandler) BuiltinRoles(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, h.catalog.Roles())
}

// PUT /api/orgs/{orgID}/roles/{roleID}
func (h *OrgsHandler) DefineRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string               `json:"name"`
		Permissions models.PermissionSet `json:"permissions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	org, err := h.orgs.DefineRole(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, models.RoleDefinition{
		ID:          chiRoute.URLParam(r, "roleID"),
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// DELETE /api/orgs/{orgID}/roles/{roleID}
func (h *OrgsHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.DeleteRole(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, chiRoute.URLParam(r, "roleID"))
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// PUT /api/orgs/{orgID}/features/{feature}
func (h *OrgsHandler) SetFeature(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	org, err := h.orgs.SetFeature(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, chiRoute.URLParam(r, "feature"), req.Enabled)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, org)
}

// POST /api/orgs/{orgID}/projects
func (h *OrgsHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := h.orgs.CreateProject(r.Context(), chiRoute.URLParam(r, "orgID"), user.ID, req.Name, req.Description)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, project)
}

// PUT /api/projects/{projectID}/roles/{userID}
// An empty role removes the project-level assignment.
func (h *OrgsHandler) SetProjectRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := h.orgs.SetProjectRole(r.Context(), chiRoute.URLParam(r, "projectID"), user.ID, chiRoute.URLParam(r, "userID"), req.Role)
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, project)
}

// insights is the advisor view of an organization.
type insights struct {
	Workload    []advisor.Workload    `json:"workload"`
	BurnoutRisk []advisor.BurnoutRisk `json:"burnout_risk"`
	Report      *advisor.Report       `json:"report"`
}

// GET /api/orgs/{orgID}/insights
// Only tasks the caller may view are sent to the advisor.
func (h *OrgsHandler) Insights(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	orgID := chiRoute.URLParam(r, "orgID")
	tasks, err := h.engine.ListTasks(r.Context(), user.ID, database.TaskFilter{OrganizationID: orgID})
	if err != nil {
		utils.WriteEngineError(w, err)
		return
	}

	out := insights{Workload: []advisor.Workload{}, BurnoutRisk: []advisor.BurnoutRisk{}}
	if wl, _ := h.advisor.Workload(r.Context(), orgID); wl != nil {
		out.Workload = wl
	}
	if br, _ := h.advisor.BurnoutRisk(r.Context(), orgID); br != nil {
		out.BurnoutRisk = br
	}
	out.Report, _ = h.advisor.Report(r.Context(), orgID, tasks)
	utils.WriteSuccessResponse(w, out)
}
