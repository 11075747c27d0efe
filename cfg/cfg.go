package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port           string
	Environment    string
	LogLevel       string
	DatabasePath   string
	BlobBackend    string
	UploadDir      string
	S3Bucket       string
	S3Prefix       string
	S3Endpoint     string
	RedisURL       string
	RedisUsername  string
	RedisPassword  Secret
	RedisTimeout   time.Duration
	LRUCacheSize   int
	MaxPasteSize   int64
	MaxTitleLen    int
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	SweepRate      int
	RecentLimit    int
	SearchLimit    int
	ContextTimeout time.Duration
	AllowedOrigins []string
	TrustedProxies []string
	AdminUser      string
	AdminPass      Secret
	MetricsUser    string
	MetricsPass    Secret
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "pastevault.db")
	c.BlobBackend = getEnv("BLOB_BACKEND", "fs")
	c.UploadDir = getEnv("UPLOAD_DIR", "uploads")
	c.S3Bucket = getEnv("S3_BUCKET", "")
	c.S3Prefix = getEnv("S3_PREFIX", "")
	c.S3Endpoint = getEnv("S3_ENDPOINT", "")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	var err error
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 512*1024)
	if err != nil {
		return nil, err
	}
	c.MaxTitleLen, err = getInt("MAX_TITLE_LEN", 255)
	if err != nil {
		return nil, err
	}
	c.SweepInterval, err = getDuration("SWEEP_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	c.SweepGrace, err = getDuration("SWEEP_GRACE", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.SweepRate, err = getInt("SWEEP_RATE", 100)
	if err != nil {
		return nil, err
	}
	c.RecentLimit, err = getInt("RECENT_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	c.SearchLimit, err = getInt("SEARCH_LIMIT", 100)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AdminUser = getEnv("ADMIN_USER", "")
	c.AdminPass = NewSecret(getEnv("ADMIN_PASS", ""))
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	switch c.BlobBackend {
	case "fs":
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR is required for the fs blob backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be fs or s3, got %q", c.BlobBackend)
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxTitleLen <= 0 {
		return errors.New("MAX_TITLE_LEN must be positive")
	}
	if c.SweepInterval < time.Second {
		return errors.New("SWEEP_INTERVAL must be at least 1s")
	}
	if c.SweepGrace < 0 {
		return errors.New("SWEEP_GRACE cannot be negative")
	}
	if c.SweepRate <= 0 {
		return errors.New("SWEEP_RATE must be positive")
	}
	if c.RecentLimit <= 0 || c.SearchLimit <= 0 {
		return errors.New("RECENT_LIMIT and SEARCH_LIMIT must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.AdminUser == "" || c.AdminPass.Value() == "" {
			return errors.New("ADMIN_USER and ADMIN_PASS are required in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.AdminPass.Wipe()
	c.MetricsPass.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
