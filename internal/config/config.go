package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// HubConfig holds the central relay's configuration, loaded from the
// environment (.env-friendly via godotenv).
type HubConfig struct {
	NodeEnv      string
	Port         string
	JWTSecret    string
	AdminAPIKey  string
	Database     DatabaseConfig
	RedisURL     string
	TokenTTL     time.Duration
	OfflineTTL   time.Duration
	DefaultRate  int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// LoadHub loads the hub's configuration from the environment, failing fast
// (the caller exits with code 1) when a required variable is missing.
func LoadHub() (*HubConfig, error) {
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("PG_HOST") == "" {
		return nil, fmt.Errorf("DATABASE_URL (or PG_HOST) is required")
	}

	database := DatabaseConfig{
		Host:     getEnv("PG_HOST", "localhost"),
		Port:     getEnv("PG_PORT", "5432"),
		Username: getEnv("PG_USERNAME", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		Database: getEnv("PG_DATABASE", "cdchub"),
		Alter:    getBoolEnv("DB_ALTER", false),
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("DATABASE_URL is invalid")
		}
		database.Host = u.Hostname()
		if p := u.Port(); p != "" {
			database.Port = p
		}
		if u.User != nil {
			database.Username = u.User.Username()
			database.Password, _ = u.User.Password()
		}
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			database.Database = name
		}
	}

	return &HubConfig{
		NodeEnv:     getEnv("NODE_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   jwtSecret,
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
		Database:    database,
		RedisURL:    os.Getenv("REDIS_URL"),
		TokenTTL:    getDurationEnv("TOKEN_TTL", 15*time.Minute),
		OfflineTTL:  getDurationEnv("OFFLINE_TTL", 24*time.Hour),
		DefaultRate: getIntEnv("DEFAULT_RATE_LIMIT_PER_SEC", 50),
	}, nil
}

// BranchConfig holds a branch agent's configuration: its identity, the hub
// it dials out to, and its local database.
type BranchConfig struct {
	TenantID         string
	BranchID         string
	APIKey           string
	HubURL           string
	LocalDatabaseURL string
	TrackedTables    []string
	SyncInterval     time.Duration
	AckTimeout       time.Duration
	MaxRetries       int
	ConflictStrategy string
}

// LoadBranch loads a branch agent's configuration from the environment.
func LoadBranch() (*BranchConfig, error) {
	_ = godotenv.Load()

	required := map[string]string{
		"TENANT_ID":          "",
		"BRANCH_ID":          "",
		"API_KEY":            "",
		"HUB_URL":            "",
		"LOCAL_DATABASE_URL": "",
	}
	for key := range required {
		v := os.Getenv(key)
		if v == "" {
			return nil, fmt.Errorf("%s is required", key)
		}
		required[key] = v
	}

	return &BranchConfig{
		TenantID:         required["TENANT_ID"],
		BranchID:         required["BRANCH_ID"],
		APIKey:           required["API_KEY"],
		HubURL:           required["HUB_URL"],
		LocalDatabaseURL: required["LOCAL_DATABASE_URL"],
		TrackedTables:    splitCSV(getEnv("TRACKED_TABLES", "")),
		SyncInterval:     getDurationEnv("SYNC_INTERVAL", 30*time.Second),
		AckTimeout:       getDurationEnv("ACK_TIMEOUT", 60*time.Second),
		MaxRetries:       getIntEnv("MAX_RETRIES", 10),
		ConflictStrategy: getEnv("CONFLICT_STRATEGY", "last_write_wins"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	return v == "true" || v == "1"
}

func getIntEnv(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultValue
	}
	return n
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
