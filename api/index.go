package handler

import (
	"net/http"
	"sync"

	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/server"
	"taskboard-backend/pkg/utils"
)

// 冷启动之间复用的路由与组件
var (
	mu         sync.Mutex
	cachedDB   database.DatabaseInterface
	cachedApp  *server.App
	router     http.Handler
	appMetrics = metrics.New()
)

// Handler 是Serverless函数的入口点
// 所有API端点集中在一个Chi路由器中管理；存储连接变化时重新构建
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg := config.GetCached()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	h, err := currentRouter(r, cfg)
	if err != nil {
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store unavailable", "")
		return
	}
	h.ServeHTTP(w, r)
}

func currentRouter(r *http.Request, cfg *config.Config) (http.Handler, error) {
	mu.Lock()
	defer mu.Unlock()

	// 获取数据库连接（连接池负责复用与重连）
	db, err := database.GetDatabase(r.Context(), cfg.Database())
	if err != nil {
		return nil, err
	}
	if router != nil && db == cachedDB {
		return router, nil
	}

	if cachedApp != nil {
		cachedApp.Close()
	}
	logger := cfg.NewLogger()
	app, err := server.NewApp(r.Context(), cfg, db, logger, appMetrics)
	if err != nil {
		return nil, err
	}
	cachedDB, cachedApp, router = db, app, server.NewRouter(app)
	return router, nil
}
