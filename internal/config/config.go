// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアの種類。
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// DefaultAuthority はMicrosoft identity platformのマルチテナント用authority。
const DefaultAuthority = "https://login.microsoftonline.com/common"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	// DBConnectAttempts は起動時にDBの疎通を待つ最大試行回数。
	DBConnectAttempts int
	// DBMaxOpenConns はコネクションプールの最大接続数。
	DBMaxOpenConns int

	// OIDC
	OIDCClientID        string
	OIDCClientSecret    string
	OIDCAuthority       string
	OIDCIssuer          string
	OIDCSkipIssuerCheck bool
	OIDCScopes          []string
	OIDCRedirectPath    string
	OIDCLogoutAuthority string
	OIDCExchangeTimeout time.Duration

	// Session
	SessionBackend         string
	RedisURL               string
	SessionMaxAge          time.Duration
	SessionRememberMaxAge  time.Duration
	SessionCleanupInterval time.Duration

	// Blob storage
	BlobBucket       string
	BlobRegion       string
	BlobEndpoint     string
	BlobAccessKey    string
	BlobSecretKey    string
	BlobUsePathStyle bool
	BlobPublicURL    string
	UploadMaxBytes   int64

	// Rate Limit（req/min）
	RateLimitLogin int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足分をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = require("DATABASE_URL")
	cfg.BaseURL = strings.TrimRight(require("BASE_URL"), "/")
	cfg.OIDCClientID = require("OIDC_CLIENT_ID")
	cfg.OIDCClientSecret = require("OIDC_CLIENT_SECRET")
	cfg.DBConnectAttempts = getEnvInt("DB_CONNECT_ATTEMPTS", 5)
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)

	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionBackendPostgres))
	if cfg.SessionBackend == SessionBackendRedis {
		cfg.RedisURL = require("REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.SessionBackend {
	case SessionBackendPostgres, SessionBackendRedis:
	default:
		return nil, fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q",
			SessionBackendPostgres, SessionBackendRedis, cfg.SessionBackend)
	}

	cfg.OIDCAuthority = strings.TrimRight(getEnvString("OIDC_AUTHORITY", DefaultAuthority), "/")
	cfg.OIDCIssuer = getEnvString("OIDC_ISSUER", "")
	// マルチテナントのauthorityではissがテナントごとに異なる
	cfg.OIDCSkipIssuerCheck = getEnvBool("OIDC_SKIP_ISSUER_CHECK", strings.HasSuffix(cfg.OIDCAuthority, "/common"))
	cfg.OIDCScopes = getEnvList("OIDC_SCOPES", []string{"User.Read"})
	cfg.OIDCRedirectPath = getEnvString("OIDC_REDIRECT_PATH", "/getAToken")
	if !strings.HasPrefix(cfg.OIDCRedirectPath, "/") {
		cfg.OIDCRedirectPath = "/" + cfg.OIDCRedirectPath
	}
	cfg.OIDCLogoutAuthority = strings.TrimRight(getEnvString("OIDC_LOGOUT_AUTHORITY", cfg.OIDCAuthority), "/")
	cfg.OIDCExchangeTimeout = getEnvDuration("OIDC_EXCHANGE_TIMEOUT", 10*time.Second)

	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
	cfg.SessionRememberMaxAge = getEnvDuration("SESSION_REMEMBER_MAX_AGE", 365*24*time.Hour)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)

	cfg.BlobBucket = getEnvString("BLOB_BUCKET", "images")
	cfg.BlobRegion = getEnvString("BLOB_REGION", "us-east-1")
	cfg.BlobEndpoint = strings.TrimRight(getEnvString("BLOB_ENDPOINT", ""), "/")
	cfg.BlobAccessKey = getEnvString("BLOB_ACCESS_KEY", "")
	cfg.BlobSecretKey = getEnvString("BLOB_SECRET_KEY", "")
	cfg.BlobUsePathStyle = getEnvBool("BLOB_USE_PATH_STYLE", cfg.BlobEndpoint != "")
	cfg.BlobPublicURL = strings.TrimRight(getEnvString("BLOB_PUBLIC_URL", defaultBlobPublicURL(cfg)), "/")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 5<<20)

	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// defaultBlobPublicURL はBLOB_PUBLIC_URL未指定時の画像URLベースを返す。
func defaultBlobPublicURL(cfg *Config) string {
	if cfg.BlobEndpoint != "" {
		return cfg.BlobEndpoint + "/" + cfg.BlobBucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.BlobBucket, cfg.BlobRegion)
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマまたは空白区切りの値をスライスで返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return defaultVal
	}
	return fields
}
