package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/divvyqueue/gateway/internal/db"
)

// Defaults for recognized optional parameters.
const (
	DefaultDatabaseName   = "divvyqueue_prod"
	DefaultSessionTimeout = 3600
	DefaultLogLevel       = "INFO"
	DefaultConfigFile     = "/app/railway-trytond.conf"
	DefaultStaticDir      = "/app/sao"
	DefaultListenAddr     = ":8000"

	DefaultCacheModel  = 200
	DefaultCacheRecord = 2000
	DefaultCacheField  = 100
)

// Config is the immutable deployment snapshot built once at process start.
// It is shared read-only by every component; nothing mutates it afterwards.
type Config struct {
	DatabaseURL  string
	Database     *db.Descriptor // nil when DATABASE_URL is missing or unparseable
	DatabaseName string

	AdminPassword string
	AdminEmail    string
	SecretKey     string
	SessionSecret string

	SessionTimeout int
	FrontendURL    string
	CORSOrigins    []string
	LogLevel       string

	CacheModel  int
	CacheRecord int
	CacheField  int

	// Environment is the platform-provided environment name; "production"
	// flags the deployment for the stricter validation rules.
	Environment string

	HTTPListenAddr string
	ConfigFile     string
	StaticDir      string
	BackendURL     string

	EmailHost     string
	EmailUser     string
	EmailPassword string
}

// Production reports whether the deployment is production-flagged.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load resolves the configuration from the process environment.
func Load() (*Config, *ValidationResult) {
	return Resolve(os.Getenv)
}

// Resolve builds a Config from the given parameter lookup and validates it.
// It never fails past its boundary: every problem becomes a categorized
// finding on the returned ValidationResult, and the caller decides whether
// errors block startup (they do) or warnings alone permit it (they do).
func Resolve(lookup func(string) string) (*Config, *ValidationResult) {
	get := func(key, fallback string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		DatabaseURL:    lookup("DATABASE_URL"),
		DatabaseName:   get("DATABASE_NAME", DefaultDatabaseName),
		AdminPassword:  lookup("ADMIN_PASSWORD"),
		AdminEmail:     lookup("ADMIN_EMAIL"),
		SecretKey:      lookup("SECRET_KEY"),
		SessionSecret:  lookup("SESSION_SECRET"),
		SessionTimeout: DefaultSessionTimeout,
		FrontendURL:    lookup("FRONTEND_URL"),
		CORSOrigins:    splitOrigins(lookup("CORS_ORIGINS")),
		LogLevel:       get("LOG_LEVEL", DefaultLogLevel),
		CacheModel:     intOr(lookup("CACHE_MODEL_SIZE"), DefaultCacheModel),
		CacheRecord:    intOr(lookup("CACHE_RECORD_SIZE"), DefaultCacheRecord),
		CacheField:     intOr(lookup("CACHE_FIELD_SIZE"), DefaultCacheField),
		Environment:    get("RAILWAY_ENVIRONMENT", "unknown"),
		HTTPListenAddr: listenAddr(lookup("PORT")),
		ConfigFile:     get("TRYTON_CONFIG", DefaultConfigFile),
		StaticDir:      get("SAO_DIR", DefaultStaticDir),
		BackendURL:     lookup("TRYTON_BACKEND_URL"),
		EmailHost:      lookup("EMAIL_HOST"),
		EmailUser:      lookup("EMAIL_USER"),
		EmailPassword:  lookup("EMAIL_PASSWORD"),
	}

	if raw := lookup("SESSION_TIMEOUT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.SessionTimeout = n
		}
	}

	if cfg.DatabaseURL != "" {
		if desc, err := db.ParseURL(cfg.DatabaseURL); err == nil {
			cfg.Database = desc
		}
	}

	return cfg, validate(cfg, lookup)
}

// splitOrigins splits a comma-separated origin list, trimming blanks.
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func intOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func listenAddr(port string) string {
	if port == "" {
		return DefaultListenAddr
	}
	return ":" + port
}
