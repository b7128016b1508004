package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskboard-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucketPrefix prefixes the KV bucket names when none is configured.
const DefaultBucketPrefix = "TASKBOARD"

// kvUpdateAttempts bounds the read-modify-write loop used for org and project updates.
const kvUpdateAttempts = 3

// KVDatabase stores documents in NATS JetStream key-value buckets.
// Each entry revision doubles as the optimistic-concurrency version.
type KVDatabase struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	tasks    jetstream.KeyValue
	orgs     jetstream.KeyValue
	projects jetstream.KeyValue
	logger   *slog.Logger
}

// NewKVDatabase connects to NATS and opens (or creates) the task, organization and project buckets.
func NewKVDatabase(ctx context.Context, url, prefix string) (*KVDatabase, error) {
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	logger := slog.Default()

	nc, err := nats.Connect(url,
		nats.Name("taskboard-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w: %w", ErrStoreUnavailable, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w: %w", ErrStoreUnavailable, err)
	}

	db := &KVDatabase{nc: nc, js: js, logger: logger}
	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{prefix + "_TASKS", &db.tasks},
		{prefix + "_ORGS", &db.orgs},
		{prefix + "_PROJECTS", &db.projects},
	}
	for _, b := range buckets {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("open bucket %s: %w: %w", b.name, ErrStoreUnavailable, err)
		}
		*b.dst = kv
	}

	logger.Info("nats kv store ready", "url", url, "prefix", prefix)
	return db, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Taskboard %s documents", strings.ToLower(name)),
		History:     5,
	})
}

// kvError maps jetstream errors onto the store sentinels.
func kvError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isRevisionMismatch(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (db *KVDatabase) getTaskEntry(ctx context.Context, id string) (*models.Task, uint64, error) {
	entry, err := db.tasks.Get(ctx, id)
	if err != nil {
		return nil, 0, kvError("get task "+id, err)
	}
	var t models.Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, 0, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, entry.Revision(), nil
}

// GetTask 根据ID获取任务
func (db *KVDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, _, err := db.getTaskEntry(ctx, id)
	return t, err
}

// CreateTask 创建任务
func (db *KVDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = db.tasks.Create(ctx, task.ID, data)
	return kvError("create task", err)
}

// DeleteTask 删除任务
func (db *KVDatabase) DeleteTask(ctx context.Context, id string) error {
	if _, err := db.tasks.Get(ctx, id); err != nil {
		return kvError("delete task "+id, err)
	}
	return kvError("delete task "+id, db.tasks.Delete(ctx, id))
}

// ListTasks scans the task bucket. Filtering happens client side.
func (db *KVDatabase) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	keys, err := db.tasks.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []models.Task{}, nil
		}
		return nil, kvError("list tasks", err)
	}

	result := make([]models.Task, 0, len(keys))
	for _, key := range keys {
		t, _, err := db.getTaskEntry(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if matchesFilter(t, filter) {
			result = append(result, *t)
		}
	}
	sortTasks(result)
	return result, nil
}

// RunTransaction writes each staged document with a revision-checked Update.
// Engine transactions stage a single task, so per-key CAS is the whole commit.
func (db *KVDatabase) RunTransaction(ctx context.Context, fn func(tx TaskTx) error) error {
	tx := &kvTx{db: db, reads: make(map[string]uint64), writes: make(map[string]*models.Task)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, task := range tx.writes {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		if _, err := db.tasks.Update(ctx, id, data, tx.reads[id]); err != nil {
			return kvError("update task "+id, err)
		}
	}
	return nil
}

type kvTx struct {
	db     *KVDatabase
	reads  map[string]uint64
	writes map[string]*models.Task
}

func (tx *kvTx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if staged, ok := tx.writes[id]; ok {
		return staged, nil
	}
	t, rev, err := tx.db.getTaskEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.reads[id] = rev
	return t, nil
}

func (tx *kvTx) PutTask(task *models.Task) error {
	if _, ok := tx.reads[task.ID]; !ok {
		return fmt.Errorf("task %s written without being read in the transaction", task.ID)
	}
	tx.writes[task.ID] = task
	return nil
}

// BatchWrite 逐个文档更新排序，单个文档冲突时重读重试
func (db *KVDatabase) BatchWrite(ctx context.Context, patches []TaskPatch) error {
	for _, p := range patches {
		err := db.updateDoc(ctx, db.tasks, p.ID, func(data []byte) ([]byte, error) {
			var t models.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("unmarshal task: %w", err)
			}
			t.Order = p.Order
			return json.Marshal(&t)
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// updateDoc is a get + revision-checked update loop for a single key.
func (db *KVDatabase) updateDoc(ctx context.Context, kv jetstream.KeyValue, key string, fn func([]byte) ([]byte, error)) error {
	var lastErr error
	for attempt := 0; attempt < kvUpdateAttempts; attempt++ {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			return kvError("get "+key, err)
		}
		data, err := fn(entry.Value())
		if err != nil {
			return err
		}
		_, err = kv.Update(ctx, key, data, entry.Revision())
		if err == nil {
			return nil
		}
		if !isRevisionMismatch(err) {
			return kvError("update "+key, err)
		}
		lastErr = err
		db.logger.Debug("kv revision mismatch, retrying", "key", key, "attempt", attempt+1)
	}
	return kvError("update "+key, lastErr)
}

// GetOrganization 获取组织
func (db *KVDatabase) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	entry, err := db.orgs.Get(ctx, id)
	if err != nil {
		return nil, kvError("get organization "+id, err)
	}
	var org models.Organization
	if err := json.Unmarshal(entry.Value(), &org); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	return &org, nil
}

// CreateOrganization 创建组织
func (db *KVDatabase) CreateOrganization(ctx context.Context, org *models.Organization) error {
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
	_, err = db.orgs.Create(ctx, org.ID, data)
	return kvError("create organization", err)
}

// UpdateOrganization 原子更新组织
func (db *KVDatabase) UpdateOrganization(ctx context.Context, id string, fn func(org *models.Organization) error) (*models.Organization, error) {
	var result models.Organization
	err := db.updateDoc(ctx, db.orgs, id, func(data []byte) ([]byte, error) {
		var org models.Organization
		if err := json.Unmarshal(data, &org); err != nil {
			return nil, fmt.Errorf("unmarshal organization: %w", err)
		}
		if err := fn(&org); err != nil {
			return nil, err
		}
		org.UpdatedAt = time.Now()
		result = org
		return json.Marshal(&org)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProject 获取项目
func (db *KVDatabase) GetProject(ctx context.Context, id string) (*models.Project, error) {
	entry, err := db.projects.Get(ctx, id)
	if err != nil {
		return nil, kvError("get project "+id, err)
	}
	var p models.Project
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

// CreateProject 创建项目
func (db *KVDatabase) CreateProject(ctx context.Context, project *models.Project) error {
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
	_, err = db.projects.Create(ctx, project.ID, data)
	return kvError("create project", err)
}

// UpdateProject 原子更新项目
func (db *KVDatabase) UpdateProject(ctx context.Context, id string, fn func(project *models.Project) error) (*models.Project, error) {
	var result models.Project
	err := db.updateDoc(ctx, db.projects, id, func(data []byte) ([]byte, error) {
		var p models.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal project: %w", err)
		}
		if err := fn(&p); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.Now()
		result = p
		return json.Marshal(&p)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Conn exposes the underlying connection so event publishers can share it.
func (db *KVDatabase) Conn() *nats.Conn {
	return db.nc
}

// HealthCheck 健康检查
func (db *KVDatabase) HealthCheck(ctx context.Context) error {
	if !db.nc.IsConnected() {
		return fmt.Errorf("nats status %s: %w", db.nc.Status(), ErrStoreUnavailable)
	}
	if _, err := db.orgs.Status(ctx); err != nil {
		return kvError("bucket status", err)
	}
	return nil
}

// Close 关闭连接
func (db *KVDatabase) Close() error {
	db.nc.Close()
	return nil
}
