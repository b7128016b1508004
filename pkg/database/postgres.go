package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskboard-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
// Every document lives in a JSONB column next to a version counter; writes
// compare the version they read and bump it, which gives per-document
// optimistic concurrency without row locks held across user code.
type PostgresDatabase struct {
	db     *sql.DB
	logger *slog.Logger
}

// schema 建表语句，Migrate 会按顺序执行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		doc JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		sort_order BIGINT NOT NULL DEFAULT 0,
		doc JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_org_status_order ON tasks (organization_id, status, sort_order)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id)`,
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(ctx context.Context, dsn string) (*PostgresDatabase, error) {
	return newPostgresDatabase(ctx, dsn, slog.Default())
}

func newPostgresDatabase(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresDatabase, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres open failed", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("postgres ping failed", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &PostgresDatabase{db: db, logger: logger}, nil
	}

	return nil, fmt.Errorf("connect postgres: %w: %w", ErrStoreUnavailable, lastErr)
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	// key=value DSNs take space separated params
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// Migrate 创建表结构
func (db *PostgresDatabase) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// classify maps driver errors onto the store sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505": // serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// GetTask 根据ID获取任务
func (db *PostgresDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, _, err := getTaskRow(ctx, db.db, id)
	return task, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTaskRow(ctx context.Context, q queryer, id string) (*models.Task, int64, error) {
	var raw []byte
	var version int64
	if err := q.QueryRowContext(ctx, `SELECT doc, version FROM tasks WHERE id = $1`, id).Scan(&raw, &version); err != nil {
		return nil, 0, classify("get task "+id, err)
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, 0, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, version, nil
}

// CreateTask 创建任务
func (db *PostgresDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	query := `
		INSERT INTO tasks (id, organization_id, project_id, status, sort_order, doc, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, NOW())
	`
	_, err = db.db.ExecContext(ctx, query, task.ID, task.OrganizationID, task.ProjectID,
		string(task.Status), task.Order, doc, task.CreatedAt)
	return classify("create task", err)
}

// DeleteTask 删除任务
func (db *PostgresDatabase) DeleteTask(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return classify("delete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasks 列出匹配过滤条件的任务
func (db *PostgresDatabase) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		where = append(where, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT doc FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sort_order ASC, created_at ASC, id ASC`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("scan task", err)
		}
		var t models.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list tasks", err)
	}
	return tasks, nil
}

// RunTransaction 乐观事务：读取时记录版本，提交时按版本条件更新
func (db *PostgresDatabase) RunTransaction(ctx context.Context, fn func(tx TaskTx) error) error {
	tx := &pgTx{db: db.db, reads: make(map[string]int64), writes: make(map[string]*models.Task)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.writes) == 0 {
		return nil
	}

	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	for id, task := range tx.writes {
		doc, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		res, err := sqlTx.ExecContext(ctx, `
			UPDATE tasks
			SET doc = $1, status = $2, sort_order = $3, project_id = $4, version = version + 1, updated_at = NOW()
			WHERE id = $5 AND version = $6
		`, doc, string(task.Status), task.Order, task.ProjectID, id, tx.reads[id])
		if err != nil {
			return classify("update task", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s changed since read: %w", id, ErrConflict)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

type pgTx struct {
	db     *sql.DB
	reads  map[string]int64
	writes map[string]*models.Task
}

func (tx *pgTx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if staged, ok := tx.writes[id]; ok {
		return staged, nil
	}
	t, version, err := getTaskRow(ctx, tx.db, id)
	if err != nil {
		return nil, err
	}
	tx.reads[id] = version
	return t, nil
}

func (tx *pgTx) PutTask(task *models.Task) error {
	if _, ok := tx.reads[task.ID]; !ok {
		return fmt.Errorf("task %s written without being read in the transaction", task.ID)
	}
	tx.writes[task.ID] = task
	return nil
}

// BatchWrite 批量更新排序
func (db *PostgresDatabase) BatchWrite(ctx context.Context, patches []TaskPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin batch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE tasks
		SET sort_order = $1, doc = jsonb_set(doc, '{order}', to_jsonb($1::bigint)), version = version + 1, updated_at = NOW()
		WHERE id = $2
	`)
	if err != nil {
		return classify("prepare batch", err)
	}
	defer stmt.Close()

	for _, p := range patches {
		if _, err := stmt.ExecContext(ctx, p.Order, p.ID); err != nil {
			return classify("batch write", err)
		}
	}
	return classify("commit batch", tx.Commit())
}

// GetOrganization 获取组织
func (db *PostgresDatabase) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var raw []byte
	err := db.db.QueryRowContext(ctx, `SELECT doc FROM organizations WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		return nil, classify("get organization "+id, err)
	}
	var org models.Organization
	if err := json.Unmarshal(raw, &org); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	return &org, nil
}

// CreateOrganization 创建组织
func (db *PostgresDatabase) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	doc, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("marshal organization: %w", err)
	}
	_, err = db.db.ExecContext(ctx, `INSERT INTO organizations (id, doc, version) VALUES ($1, $2, 1)`, org.ID, doc)
	return classify("create organization", err)
}

// UpdateOrganization 在行锁内读改写组织文档
func (db *PostgresDatabase) UpdateOrganization(ctx context.Context, id string, fn func(org *models.Organization) error) (*models.Organization, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer tx.Rollback()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT doc FROM organizations WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		return nil, classify("get organization "+id, err)
	}
	var org models.Organization
	if err := json.Unmarshal(raw, &org); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	if err := fn(&org); err != nil {
		return nil, err
	}
	org.UpdatedAt = time.Now()
	doc, err := json.Marshal(&org)
	if err != nil {
		return nil, fmt.Errorf("marshal organization: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE organizations SET doc = $1, version = version + 1, updated_at = NOW() WHERE id = $2`, doc, id); err != nil {
		return nil, classify("update organization", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit organization", err)
	}
	return &org, nil
}

// GetProject 获取项目
func (db *PostgresDatabase) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var raw []byte
	err := db.db.QueryRowContext(ctx, `SELECT doc FROM projects WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		return nil, classify("get project "+id, err)
	}
	var p models.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

// CreateProject 创建项目
func (db *PostgresDatabase) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	doc, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO projects (id, organization_id, doc, version) VALUES ($1, $2, $3, 1)`,
		project.ID, project.OrganizationID, doc)
	return classify("create project", err)
}

// UpdateProject 在行锁内读改写项目文档
func (db *PostgresDatabase) UpdateProject(ctx context.Context, id string, fn func(project *models.Project) error) (*models.Project, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer tx.Rollback()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT doc FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		return nil, classify("get project "+id, err)
	}
	var p models.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()
	doc, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("marshal project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET doc = $1, version = version + 1, updated_at = NOW() WHERE id = $2`, doc, id); err != nil {
		return nil, classify("update project", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit project", err)
	}
	return &p, nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	if err := db.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close 关闭数据库连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
