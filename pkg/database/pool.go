package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// poolMaxIdle is how long a pooled store may sit unused before it is reopened.
const poolMaxIdle = 30 * time.Minute

// DatabasePool 数据库连接池
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式）
// The store is reopened when the configuration changes, when it has been idle
// too long, or when its health check fails. The memory backend is never
// reopened because that would drop its contents.
func GetDatabase(ctx context.Context, config DatabaseConfig) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(ctx, globalPool, config) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		return globalPool.instance, nil
	}

	// 关闭旧连接（如果存在）
	if globalPool != nil && globalPool.instance != nil {
		if err := globalPool.instance.Close(); err != nil {
			slog.Warn("close previous store failed", "error", err)
		}
	}

	instance, err := NewDatabase(ctx, config)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	slog.Info("store opened", "backend", ResolveBackend(config))
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(ctx context.Context, pool *DatabasePool, newConfig DatabaseConfig) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if pool.config != newConfig {
		slog.Info("store configuration changed, reopening")
		return true
	}

	if ResolveBackend(pool.config) == BackendMemory {
		return false
	}

	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > poolMaxIdle
	pool.mu.RUnlock()
	if expired {
		slog.Info("store connection idle too long, reopening")
		return true
	}

	if err := pool.instance.HealthCheck(ctx); err != nil {
		slog.Warn("store health check failed, reopening", "error", err)
		return true
	}

	return false
}

// CloseDatabase 关闭并清空全局连接
func CloseDatabase() error {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return nil
	}
	err := globalPool.instance.Close()
	globalPool = nil
	return err
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"backend":   ResolveBackend(globalPool.config),
		"last_used": lastUsed.Format(time.RFC3339),
		"idle":      time.Since(lastUsed).String(),
	}
}
