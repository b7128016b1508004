package server

import (
	"fmt"
	"net/http"
	"time"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/handlers"
	customMiddleware "taskboard-backend/pkg/middleware"
	"taskboard-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies; comments are the largest payload.
const maxBodyBytes = 1 << 20

// NewRouter 创建Chi路由器并注册全部路由
func NewRouter(app *App) *chi.Mux {
	router := chi.NewRouter()
	setupMiddleware(router, app)
	setupRoutes(router, app)
	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, app *App) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(app.Logger, app.Metrics))
	router.Use(customMiddleware.Recovery(app.Logger, app.Config.IsDevelopment()))

	// CORS中间件
	router.Use(customMiddleware.CORS(app.Config.AllowedOrigins))

	// 超时中间件
	router.Use(middleware.Timeout(25 * time.Second))

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if app.Config.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, app *App) {
	// 创建处理器
	healthHandler := handlers.NewHealthHandler(app.DB, database.ResolveBackend(app.Config.Database()))
	tasksHandler := handlers.NewTasksHandler(app.Engine, app.Advisor, app.Logger)
	orgsHandler := handlers.NewOrgsHandler(app.Orgs, app.Engine, app.Catalog, app.Advisor)

	// 健康检查与指标端点
	router.Get("/health", healthHandler.Health)
	router.Method(http.MethodGet, "/metrics", app.Metrics.Handler())

	// 数据库连接池状态端点（调试用）
	if app.Config.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	// API路由组
	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
		r.Use(customMiddleware.ContentTypeJSON())

		// 公开的目录信息
		r.Get("/statuses", tasksHandler.Statuses)
		r.Get("/roles", orgsHandler.BuiltinRoles)

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Auth(app.Tokens, app.Logger))

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", tasksHandler.ListTasks)
				r.Post("/", tasksHandler.CreateTask)
				r.Post("/reorder", tasksHandler.Reorder)

				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", tasksHandler.GetTask)
					r.Patch("/", tasksHandler.UpdateTask)
					r.Delete("/", tasksHandler.DeleteTask)

					r.Post("/status", tasksHandler.ChangeStatus)
					r.Post("/move", tasksHandler.MoveTask)
					r.Put("/assignees", tasksHandler.SetAssignees)
					r.Post("/blockers", tasksHandler.AddBlocker)
					r.Delete("/blockers/{blockerID}", tasksHandler.RemoveBlocker)
					r.Post("/comments", tasksHandler.AddComment)
					r.Post("/links", tasksHandler.AddLink)
					r.Delete("/links/{linkID}", tasksHandler.RemoveLink)

					// 计时器
					r.Post("/timer", tasksHandler.ToggleTimer)
					r.Get("/timers", tasksHandler.ActiveTimers)

					// 投票
					r.Post("/poll", tasksHandler.CreatePoll)
					r.Delete("/poll", tasksHandler.RemovePoll)
					r.Post("/poll/votes", tasksHandler.Vote)

					r.Get("/suggestions", tasksHandler.Suggestions)
				})
			})

			// Organizations & Projects
			r.Route("/orgs", func(r chi.Router) {
				r.Post("/", orgsHandler.CreateOrganization)
				r.Route("/{orgID}", func(r chi.Router) {
					r.Get("/", orgsHandler.GetOrganization)
					r.Put("/members/{userID}", orgsHandler.SetMemberRole)
					r.Delete("/members/{userID}", orgsHandler.RemoveMember)
					r.Put("/members/{userID}/overrides", orgsHandler.SetOverrides)
					r.Put("/roles/{roleID}", orgsHandler.DefineRole)
					r.Delete("/roles/{roleID}", orgsHandler.DeleteRole)
					r.Put("/features/{feature}", orgsHandler.SetFeature)
					r.Post("/projects", orgsHandler.CreateProject)
					r.Get("/insights", orgsHandler.Insights)
				})
			})

			r.Put("/projects/{projectID}/roles/{userID}", orgsHandler.SetProjectRole)
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
