// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 資格情報ストアの種類
const (
	CredentialStoreMemory   = "memory"
	CredentialStoreFile     = "file"
	CredentialStorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	APIBaseURL  string
	HTTPTimeout time.Duration // 0はタイムアウトなし

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Credential
	CredentialStore string
	CredentialFile  string
	DatabaseURL     string

	// Staff cookie
	CookieJarFile  string
	StaffSessionID string
	StaffCSRFToken string

	// Rate Limit（req/min/client）
	RateLimitGeneral int
	RateLimitLogin   int

	// Dashboard
	StaleSelectionLimit int

	// Logging
	LogLevel slog.Level
}

// Load は.envファイル（存在すれば）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envで上書きしない。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		APIBaseURL:          strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8000"), "/"),
		HTTPTimeout:         getEnvDuration("HTTP_TIMEOUT", 0),
		ServerPort:          getEnvString("SERVER_PORT", "8080"),
		CORSAllowedOrigin:   getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173"),
		CredentialStore:     strings.ToLower(getEnvString("CREDENTIAL_STORE", CredentialStoreFile)),
		CredentialFile:      getEnvString("CREDENTIAL_FILE", ".dentalfront/credentials.json"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		CookieJarFile:       getEnvString("COOKIE_JAR_FILE", ".dentalfront/cookies.json"),
		StaffSessionID:      os.Getenv("STAFF_SESSION_ID"),
		StaffCSRFToken:      os.Getenv("STAFF_CSRF_TOKEN"),
		RateLimitGeneral:    getEnvPositiveInt("RATE_LIMIT_GENERAL", 120),
		RateLimitLogin:      getEnvPositiveInt("RATE_LIMIT_LOGIN", 10),
		StaleSelectionLimit: getEnvNonNegativeInt("STALE_SELECTION_LIMIT", 3),
		LogLevel:            getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.CORSAllowedOrigin, "https://")

	var invalid []string
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid = append(invalid, "API_BASE_URL")
	}
	switch cfg.CredentialStore {
	case CredentialStoreMemory, CredentialStoreFile:
	case CredentialStorePostgres:
		if cfg.DatabaseURL == "" {
			invalid = append(invalid, "DATABASE_URL")
		}
	default:
		invalid = append(invalid, "CREDENTIAL_STORE")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid or missing environment variables: %v", invalid)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvNonNegativeInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i >= 0 {
		return i
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
