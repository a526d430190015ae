package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
	// 鉴权配置
	AuthEnabled bool     // 是否启用鉴权
	AuthDriver  string   // "apikey" 或 "jwt"
	APIKeys     []string // 有效的 API Keys 列表
	JWKSURL     string   // JWKS 端点（jwt 驱动）
	JWTSecret   string   // HMAC 密钥（jwt 驱动，本地验证）
	// 上传与配额
	MaxFileSizeBytes  int64 // 单个文件大小上限
	DefaultQuotaBytes int64 // 每个 owner 的默认字节配额
	StagingDir        string
	// 扫描服务配置
	ScannerBaseURL      string
	ScannerAPIKey       string
	ScanPollInterval    time.Duration
	ScanPollMaxAttempts int
	ScanPollWorkers     int
	// 公共存储配置
	StorageDriver string // "local" 或 "s3"
	StorageDir    string // local 驱动的根目录
	PublicBaseURL string // 对外可访问的文件 URL 前缀
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool // 是否使用 HTTPS
	S3PathStyle   bool // 是否使用路径风格访问（MinIO 需要设为 true）
}

// Load 从环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	storage := envOrDefault("STORAGE_DIR", "./data/public")
	staging := envOrDefault("STAGING_DIR", "./data/staging")

	for _, dir := range []string{storage, staging} {
		if err := ensureDir(dir); err != nil {
			return nil, fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	// 鉴权配置
	authEnabled := parseBoolEnv("AUTH_ENABLED", true)
	authDriver := envOrDefault("AUTH_DRIVER", "apikey")
	if authDriver != "apikey" && authDriver != "jwt" {
		return nil, fmt.Errorf("unknown AUTH_DRIVER %q, expected apikey or jwt", authDriver)
	}
	apiKeys := parseList(os.Getenv("API_KEYS"))
	if len(apiKeys) == 0 {
		// 开发环境默认 key
		apiKeys = []string{"dev-api-key-123456"}
	}

	maxFileSize, err := parseInt64Env("MAX_FILE_SIZE_BYTES", 20*1024*1024)
	if err != nil {
		return nil, err
	}

	defaultQuota, err := parseInt64Env("DEFAULT_QUOTA_BYTES", 512*1024*1024)
	if err != nil {
		return nil, err
	}

	// 扫描服务配置
	scannerBaseURL := envOrDefault("SCANNER_BASE_URL", "https://www.virustotal.com/api/v3")
	scannerAPIKey := os.Getenv("SCANNER_API_KEY")

	pollInterval, err := parseDurationEnv("SCAN_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	pollMaxAttempts, err := parseIntEnv("SCAN_POLL_MAX_ATTEMPTS", 60)
	if err != nil {
		return nil, err
	}

	pollWorkers, err := parseIntEnv("SCAN_POLL_WORKERS", 8)
	if err != nil {
		return nil, err
	}

	storageDriver := envOrDefault("STORAGE_DRIVER", "local")

	return &Config{
		HTTPPort:            port,
		CORSAllowedOrigins:  corsOrigins,
		RateLimitRequests:   rateLimitRequests,
		RateLimitWindow:     rateLimitWindow,
		DBHost:              envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:              dbPort,
		DBUser:              envOrDefault("DB_USER", "scangate"),
		DBPassword:          envOrDefault("DB_PASSWORD", "scangate"),
		DBName:              envOrDefault("DB_NAME", "scangate"),
		DBSSLMode:           envOrDefault("DB_SSL_MODE", "disable"),
		AuthEnabled:         authEnabled,
		AuthDriver:          authDriver,
		APIKeys:             apiKeys,
		JWKSURL:             os.Getenv("JWKS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		MaxFileSizeBytes:    maxFileSize,
		DefaultQuotaBytes:   defaultQuota,
		StagingDir:          staging,
		ScannerBaseURL:      scannerBaseURL,
		ScannerAPIKey:       scannerAPIKey,
		ScanPollInterval:    pollInterval,
		ScanPollMaxAttempts: pollMaxAttempts,
		ScanPollWorkers:     pollWorkers,
		StorageDriver:       storageDriver,
		StorageDir:          storage,
		PublicBaseURL:       envOrDefault("PUBLIC_BASE_URL", "http://localhost:8080/public"),
		S3Endpoint:          envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:         envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:            envOrDefault("S3_BUCKET", "scangate-public"),
		S3Region:            envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:            parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:         parseBoolEnv("S3_PATH_STYLE", true),
	}, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
