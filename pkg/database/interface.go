package database

import (
	"context"
	"fmt"
	"strings"

	"taskboard-backend/pkg/models"
)

// 存储后端名称
const (
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
	BackendMemory   = "memory"
)

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	OrganizationID string
	ProjectID      string
	Status         models.Status
}

// TaskPatch is a cosmetic per-document write applied outside a transaction.
type TaskPatch struct {
	ID    string
	Order int64
}

// TaskTx is the view of the store inside RunTransaction.
// Reads record the document version; PutTask stages a write that only commits
// if the version is still current when the transaction finishes.
type TaskTx interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	PutTask(task *models.Task) error
}

// TaskStore 定义任务文档访问接口
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)

	// RunTransaction runs fn against a fresh TaskTx and commits its staged writes
	// atomically. A lost race returns ErrConflict and nothing is written.
	RunTransaction(ctx context.Context, fn func(tx TaskTx) error) error

	// BatchWrite applies independent per-document order writes. It is not atomic
	// across documents; ids that no longer exist are skipped.
	BatchWrite(ctx context.Context, patches []TaskPatch) error
}

// OrgStore 定义组织与项目访问接口
type OrgStore interface {
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	// UpdateOrganization applies fn to the current document and writes it back atomically.
	UpdateOrganization(ctx context.Context, id string, fn func(org *models.Organization) error) (*models.Organization, error)

	GetProject(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error
	UpdateProject(ctx context.Context, id string, fn func(project *models.Project) error) (*models.Project, error)
}

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	TaskStore
	OrgStore

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Backend      string
	PostgresDSN  string
	NATSURL      string
	BucketPrefix string
}

// ResolveBackend returns the backend NewDatabase would open for config.
// 未显式指定时：PostgreSQL > NATS > 内存
func ResolveBackend(config DatabaseConfig) string {
	backend := strings.ToLower(strings.TrimSpace(config.Backend))
	if backend != "" {
		return backend
	}
	switch {
	case config.PostgresDSN != "":
		return BackendPostgres
	case config.NATSURL != "":
		return BackendNATS
	default:
		return BackendMemory
	}
}

// NewDatabase 根据配置选择数据库实现
func NewDatabase(ctx context.Context, config DatabaseConfig) (DatabaseInterface, error) {
	switch ResolveBackend(config) {
	case BackendPostgres:
		if config.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but POSTGRES_DSN is empty")
		}
		db, err := NewPostgresDatabase(ctx, config.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendNATS:
		if config.NATSURL == "" {
			return nil, fmt.Errorf("nats backend selected but NATS_URL is empty")
		}
		db, err := NewKVDatabase(ctx, config.NATSURL, config.BucketPrefix)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendMemory:
		return NewLocalDatabase(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Backend)
	}
}
