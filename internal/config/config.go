package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	LogLevel string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth
	AdminUsername    string
	AdminPassword    string // plaintext in env, hashed with bcrypt on startup
	AdminDisplayName string
	JWTSecret        string

	// Evaluator
	EvaluatorInterval    int // seconds
	MonitorCheckInterval int // seconds
	Timezone             string
	NotifyOnResolve      bool

	// Prometheus scraping (optional): "name=url,name=url"
	ScrapeTargets  string
	ScrapeInterval int // seconds

	// Dispatch
	DispatchWorkers     int
	DispatchQueueSize   int
	DispatchMaxAttempts int
	DispatchBackoffBase int // seconds
	DispatchBackoffMax  int // seconds

	// Redis queue (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisQueueKey string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTimeout  int // seconds

	// Template catalog
	TemplatesFile string
}

func Load() *Config {
	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8097"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "postgres"),
		DBPassword:           getEnv("DB_PASSWORD", ""),
		DBName:               getEnv("DB_NAME", "herald_db"),
		DBSSLMode:            getEnv("DB_SSLMODE", "disable"),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName:     getEnv("ADMIN_DISPLAY_NAME", "Admin"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		EvaluatorInterval:    getEnvInt("EVALUATOR_INTERVAL", 30),
		MonitorCheckInterval: getEnvInt("MONITOR_CHECK_INTERVAL", 30),
		Timezone:             getEnv("TIMEZONE", "UTC"),
		NotifyOnResolve:      getEnvBool("NOTIFY_ON_RESOLVE", false),
		ScrapeTargets:        getEnv("SCRAPE_TARGETS", ""),
		ScrapeInterval:       getEnvInt("SCRAPE_INTERVAL", 30),
		DispatchWorkers:      getEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize:    getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		DispatchMaxAttempts:  getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoffBase:  getEnvInt("DISPATCH_BACKOFF_BASE", 2),
		DispatchBackoffMax:   getEnvInt("DISPATCH_BACKOFF_MAX", 60),
		RedisEnabled:         getEnvBool("REDIS_ENABLED", false),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisQueueKey:        getEnv("REDIS_QUEUE_KEY", "herald:email_queue"),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", "herald@localhost"),
		SMTPTimeout:          getEnvInt("SMTP_TIMEOUT", 10),
		TemplatesFile:        getEnv("TEMPLATES_FILE", ""),
	}
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime behaviour (zero tickers, empty worker pools).
func (c *Config) Validate() error {
	if c.EvaluatorInterval <= 0 {
		return fmt.Errorf("EVALUATOR_INTERVAL must be positive, got %d", c.EvaluatorInterval)
	}
	if c.MonitorCheckInterval <= 0 {
		return fmt.Errorf("MONITOR_CHECK_INTERVAL must be positive, got %d", c.MonitorCheckInterval)
	}
	if c.ScrapeInterval <= 0 {
		return fmt.Errorf("SCRAPE_INTERVAL must be positive, got %d", c.ScrapeInterval)
	}
	if _, err := c.Targets(); err != nil {
		return err
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.DispatchQueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be at least 1, got %d", c.DispatchQueueSize)
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1, got %d", c.DispatchMaxAttempts)
	}
	if c.DispatchBackoffBase <= 0 || c.DispatchBackoffMax < c.DispatchBackoffBase {
		return fmt.Errorf("dispatch backoff out of range: base=%d max=%d", c.DispatchBackoffBase, c.DispatchBackoffMax)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q unknown: want debug|info|warn|error", c.LogLevel)
	}
	return nil
}

// Location resolves Timezone. Variable sentinels and date coercion render in
// this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.DispatchBackoffBase) * time.Second
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.DispatchBackoffMax) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// Target is one entry of SCRAPE_TARGETS.
type Target struct {
	Name string
	URL  string
}

// Targets parses SCRAPE_TARGETS.
func (c *Config) Targets() ([]Target, error) {
	var out []Target
	for _, part := range strings.Split(c.ScrapeTargets, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || !strings.HasPrefix(url, "http") {
			return nil, fmt.Errorf("SCRAPE_TARGETS entry %q: want name=http(s)://host/metrics", part)
		}
		out = append(out, Target{Name: name, URL: url})
	}
	return out, nil
}
