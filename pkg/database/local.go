package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskboard-backend/pkg/models"

	"github.com/google/uuid"
)

// versionedDoc is a JSON document plus the version a CAS write must match.
type versionedDoc struct {
	data    []byte
	version int64
}

// LocalDatabase 本地内存数据库实现
// Documents are kept as JSON so callers never share memory with the store,
// the same way a remote document store behaves.
type LocalDatabase struct {
	mu       sync.RWMutex
	orgs     map[string]versionedDoc
	projects map[string]versionedDoc
	tasks    map[string]versionedDoc
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase() *LocalDatabase {
	return &LocalDatabase{
		orgs:     make(map[string]versionedDoc),
		projects: make(map[string]versionedDoc),
		tasks:    make(map[string]versionedDoc),
	}
}

// GetTask 根据ID获取任务
func (db *LocalDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, _, err := db.readTask(id)
	return task, err
}

func (db *LocalDatabase) readTask(id string) (*models.Task, int64, error) {
	db.mu.RLock()
	doc, ok := db.tasks[id]
	db.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	var t models.Task
	if err := json.Unmarshal(doc.data, &t); err != nil {
		return nil, 0, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, doc.version, nil
}

// CreateTask 创建任务
func (db *LocalDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists: %w", task.ID, ErrConflict)
	}
	db.tasks[task.ID] = versionedDoc{data: data, version: 1}
	return nil
}

// DeleteTask 删除任务
func (db *LocalDatabase) DeleteTask(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(db.tasks, id)
	return nil
}

// ListTasks 列出匹配过滤条件的任务，按 order 排序
func (db *LocalDatabase) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	db.mu.RLock()
	docs := make([][]byte, 0, len(db.tasks))
	for _, doc := range db.tasks {
		docs = append(docs, doc.data)
	}
	db.mu.RUnlock()

	result := make([]models.Task, 0)
	for _, data := range docs {
		var t models.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if matchesFilter(&t, filter) {
			result = append(result, t)
		}
	}
	sortTasks(result)
	return result, nil
}

// RunTransaction 在乐观并发控制下执行事务
func (db *LocalDatabase) RunTransaction(ctx context.Context, fn func(tx TaskTx) error) error {
	tx := &localTx{db: db, reads: make(map[string]int64), writes: make(map[string]*models.Task)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.writes) == 0 {
		return nil
	}

	staged := make(map[string][]byte, len(tx.writes))
	for id, t := range tx.writes {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		staged[id] = data
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for id := range staged {
		current, ok := db.tasks[id]
		if !ok {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		if current.version != tx.reads[id] {
			return fmt.Errorf("task %s changed since read: %w", id, ErrConflict)
		}
	}
	for id, data := range staged {
		db.tasks[id] = versionedDoc{data: data, version: db.tasks[id].version + 1}
	}
	return nil
}

// BatchWrite 批量更新排序字段
func (db *LocalDatabase) BatchWrite(ctx context.Context, patches []TaskPatch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, p := range patches {
		doc, ok := db.tasks[p.ID]
		if !ok {
			continue
		}
		var t models.Task
		if err := json.Unmarshal(doc.data, &t); err != nil {
			return fmt.Errorf("unmarshal task: %w", err)
		}
		t.Order = p.Order
		data, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		db.tasks[p.ID] = versionedDoc{data: data, version: doc.version + 1}
	}
	return nil
}

type localTx struct {
	db     *LocalDatabase
	reads  map[string]int64
	writes map[string]*models.Task
}

func (tx *localTx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if staged, ok := tx.writes[id]; ok {
		return staged, nil
	}
	t, version, err := tx.db.readTask(id)
	if err != nil {
		return nil, err
	}
	tx.reads[id] = version
	return t, nil
}

func (tx *localTx) PutTask(task *models.Task) error {
	if _, ok := tx.reads[task.ID]; !ok {
		return fmt.Errorf("task %s written without being read in the transaction", task.ID)
	}
	tx.writes[task.ID] = task
	return nil
}

// GetOrganization 获取组织
func (db *LocalDatabase) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	db.mu.RLock()
	doc, ok := db.orgs[id]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	var o models.Organization
	if err := json.Unmarshal(doc.data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	return &o, nil
}

// CreateOrganization 创建组织
func (db *LocalDatabase) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	data, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("marshal organization: %w", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.orgs[org.ID]; exists {
		return fmt.Errorf("organization %s already exists: %w", org.ID, ErrConflict)
	}
	db.orgs[org.ID] = versionedDoc{data: data, version: 1}
	return nil
}

// UpdateOrganization 原子更新组织
func (db *LocalDatabase) UpdateOrganization(ctx context.Context, id string, fn func(org *models.Organization) error) (*models.Organization, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	doc, ok := db.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	var o models.Organization
	if err := json.Unmarshal(doc.data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	if err := fn(&o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now()
	data, err := json.Marshal(&o)
	if err != nil {
		return nil, fmt.Errorf("marshal organization: %w", err)
	}
	db.orgs[id] = versionedDoc{data: data, version: doc.version + 1}
	return &o, nil
}

// GetProject 获取项目
func (db *LocalDatabase) GetProject(ctx context.Context, id string) (*models.Project, error) {
	db.mu.RLock()
	doc, ok := db.projects[id]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	var p models.Project
	if err := json.Unmarshal(doc.data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

// CreateProject 创建项目
func (db *LocalDatabase) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.projects[project.ID]; exists {
		return fmt.Errorf("project %s already exists: %w", project.ID, ErrConflict)
	}
	db.projects[project.ID] = versionedDoc{data: data, version: 1}
	return nil
}

// UpdateProject 原子更新项目
func (db *LocalDatabase) UpdateProject(ctx context.Context, id string, fn func(project *models.Project) error) (*models.Project, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	doc, ok := db.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	var p models.Project
	if err := json.Unmarshal(doc.data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()
	data, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("marshal project: %w", err)
	}
	db.projects[id] = versionedDoc{data: data, version: doc.version + 1}
	return &p, nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	return nil
}

// Close 关闭连接
func (db *LocalDatabase) Close() error {
	return nil
}

func matchesFilter(t *models.Task, f TaskFilter) bool {
	if f.OrganizationID != "" && t.OrganizationID != f.OrganizationID {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// sortTasks orders by Order, then creation time, then id so the result is stable.
func sortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
