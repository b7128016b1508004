package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/database"
)

const devJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 存储配置
	StoreBackend     string
	PostgresDSN      string
	NATSURL          string
	NATSBucketPrefix string

	// JWT配置
	JWTSecret string

	// CORS配置
	AllowedOrigins []string

	// 调试配置
	Debug bool

	// 权限与工作流
	CatalogFile         string
	PermissionCacheTTL  time.Duration
	MaxConflictAttempts int

	// Webhook / 事件
	WebhookURL          string
	WebhookSecret       string
	WebhookTimeout      time.Duration
	EventsSubjectPrefix string

	// 建议服务
	AdvisorURL    string
	AdvisorAPIKey string
}

// LoadConfig 加载配置
func LoadConfig() *Config {
	// 根据环境加载对应的 .env 文件
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	config := &Config{
		Environment:         getEnvWithDefault("ENVIRONMENT", "development"),
		Port:                getEnvWithDefault("PORT", "3000"),
		StoreBackend:        strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))),
		JWTSecret:           getEnvWithDefault("JWT_SECRET", devJWTSecret),
		Debug:               getEnvBool("DEBUG", false),
		CatalogFile:         strings.TrimSpace(os.Getenv("CATALOG_FILE")),
		PermissionCacheTTL:  getEnvDuration("PERMISSION_CACHE_TTL", access.DefaultCacheTTL),
		MaxConflictAttempts: getEnvInt("MAX_CONFLICT_ATTEMPTS", 3),
		WebhookURL:          strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:      getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		EventsSubjectPrefix: getEnvWithDefault("EVENTS_SUBJECT_PREFIX", "taskboard"),
		AdvisorURL:          strings.TrimSpace(os.Getenv("ADVISOR_URL")),
		AdvisorAPIKey:       strings.TrimSpace(os.Getenv("ADVISOR_API_KEY")),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	config.NATSBucketPrefix = getEnvWithDefault("NATS_BUCKET_PREFIX", database.DefaultBucketPrefix)

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	if config.Environment == "production" {
		// 生产环境关闭调试
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Database returns the store settings.
func (c *Config) Database() database.DatabaseConfig {
	return database.DatabaseConfig{
		Backend:      c.StoreBackend,
		PostgresDSN:  c.PostgresDSN,
		NATSURL:      c.NATSURL,
		BucketPrefix: c.NATSBucketPrefix,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == devJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	switch c.StoreBackend {
	case "", database.BackendMemory:
	case database.BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires POSTGRES_DSN")
		}
	case database.BackendNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("STORE_BACKEND=nats requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.IsProduction() && database.ResolveBackend(c.Database()) == database.BackendMemory {
		return fmt.Errorf("production requires POSTGRES_DSN or NATS_URL; the memory store loses data on restart")
	}

	if c.PermissionCacheTTL < 0 {
		return fmt.Errorf("PERMISSION_CACHE_TTL must not be negative")
	}
	if c.MaxConflictAttempts < 1 {
		return fmt.Errorf("MAX_CONFLICT_ATTEMPTS must be at least 1")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_URL requires WEBHOOK_SECRET")
	}
	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// NewLogger returns a JSON logger in production and a text logger otherwise.
func (c *Config) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// 辅助函数

// getEnvWithDefault 获取环境变量，如果不存在则使用默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型的环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt 获取整数类型的环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration 读取时长，接受 "5s" 形式或纯秒数
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// loadEnvFile 加载 .env 文件到环境变量
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // 文件不存在或无法打开，静默返回
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// 移除值两端的引号（如果有）
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		// 只有当环境变量不存在时才设置
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
