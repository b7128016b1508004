package handlers

import (
	"context"
	"net/http"
	"time"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/utils"
)

// HealthHandler 健康检查接口
type HealthHandler struct {
	db      database.DatabaseInterface
	backend string
	started time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(db database.DatabaseInterface, backend string) *HealthHandler {
	return &HealthHandler{db: db, backend: backend, started: time.Now()}
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":  "ok",
		"backend": h.backend,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if err := h.db.HealthCheck(ctx); err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, status)
		return
	}
	utils.WriteSuccessResponse(w, status)
}
