// Package config provides configuration loading and validation.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// CORS
	AllowedOrigins []string

	// Rate Limiting
	RateLimitRPM       int
	RateLimitBurst     int
	StatusRateLimitRPM int

	// Worker Pool (0 workers = one goroutine per job)
	MaxWorkers   int
	MaxQueueSize int

	// Gallery site (empty SiteDomains accepts any host)
	SiteDomains          []string
	CDNHosts             []string
	SiteScheme           string
	UserAgent            string
	AllowPrivateNetworks bool

	// Timeouts and courtesy delays
	FetchTimeout  time.Duration
	ImageTimeout  time.Duration
	ProbeTimeout  time.Duration
	PageDelay     time.Duration
	WarmupDelay   time.Duration
	DownloadDelay time.Duration

	// Retrieval
	RetryAttempts    int
	RetryBackoff     time.Duration
	ThrottleCooldown time.Duration
	MinImageBytes    int

	// Resolver
	ProbeSizes   bool
	VerifySample int

	// Rendered browser
	BrowserEnabled  bool
	BrowserScrolls  int
	BrowserMaxPages int
	BrowserTimeout  time.Duration
	ChromePath      string

	// Retention
	AlbumCacheTTL   time.Duration
	JobRetention    time.Duration
	JanitorInterval time.Duration

	// R2 Storage
	R2AccountID        string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2BucketName       string
	R2PublicURL        string
	PresignedURLExpiry time.Duration
	R2MaxFileAge       time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		// Server
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		// CORS
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "http://localhost:3000"),

		// Rate Limiting
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 3),
		StatusRateLimitRPM: getEnvInt("STATUS_RATE_LIMIT_RPM", 120),

		// Worker Pool
		MaxWorkers:   getEnvInt("MAX_WORKERS", 0),
		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 20),

		// Gallery site
		SiteDomains:          getEnvList("SITE_DOMAINS", ""),
		CDNHosts:             getEnvList("CDN_HOSTS", "photo.yupoo.com,img.yupoo.com"),
		SiteScheme:           getEnv("SITE_SCHEME", "https"),
		UserAgent:            getEnv("USER_AGENT", defaultUserAgent),
		AllowPrivateNetworks: getEnvBool("ALLOW_PRIVATE_NETWORKS", false),

		// Timeouts and courtesy delays
		FetchTimeout:  getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		ImageTimeout:  getEnvDuration("IMAGE_TIMEOUT", 30*time.Second),
		ProbeTimeout:  getEnvDuration("PROBE_TIMEOUT", 8*time.Second),
		PageDelay:     getEnvDuration("PAGE_DELAY", 300*time.Millisecond),
		WarmupDelay:   getEnvDuration("WARMUP_DELAY", 800*time.Millisecond),
		DownloadDelay: getEnvDuration("DOWNLOAD_DELAY", 100*time.Millisecond),

		// Retrieval
		RetryAttempts:    getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF", 2*time.Second),
		ThrottleCooldown: getEnvDuration("THROTTLE_COOLDOWN", 15*time.Second),
		MinImageBytes:    getEnvInt("MIN_IMAGE_BYTES", 512),

		// Resolver
		ProbeSizes:   getEnvBool("PROBE_SIZES", false),
		VerifySample: getEnvInt("VERIFY_SAMPLE", 0),

		// Rendered browser
		BrowserEnabled:  getEnvBool("BROWSER_ENABLED", true),
		BrowserScrolls:  getEnvInt("BROWSER_SCROLLS", 8),
		BrowserMaxPages: getEnvInt("BROWSER_MAX_PAGES", 20),
		BrowserTimeout:  getEnvDuration("BROWSER_TIMEOUT", 60*time.Second),
		ChromePath:      getEnv("CHROME_PATH", ""),

		// Retention
		AlbumCacheTTL:   getEnvDuration("ALBUM_CACHE_TTL", 30*time.Minute),
		JobRetention:    getEnvDuration("JOB_RETENTION", 2*time.Hour),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", 10*time.Minute),

		// R2 Storage
		R2AccountID:        getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:      getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:  getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:       getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:        getEnv("R2_PUBLIC_URL", ""),
		PresignedURLExpiry: time.Duration(getEnvInt("PRESIGNED_URL_EXPIRY", 15)) * time.Minute,
		R2MaxFileAge:       time.Duration(getEnvInt("R2_MAX_FILE_AGE", 60)) * time.Minute,
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	return cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// R2Enabled reports whether every R2 credential is present.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("250ms", "2s") or bare milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
