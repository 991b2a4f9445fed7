package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string

	SessionCookieName   string
	SessionIdleMinutes  int
	SessionAbsoluteHour int
	SessionEncryptKey   string
	CookieSecureMode    string
	TrustProxy          bool
	CORSAllowedOrigins  []string

	BackendURL           string
	BackendTimeoutSec    int
	BackendSessionCookie string

	AuditDBDriver      string
	AuditDBDSN         string
	AuditMigrationPath string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration

	LoginRatePerMinute int
	ResetRatePerMinute int

	LogLevel  string
	LogFormat string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

// Load reads the configuration from the environment. When
// CONSOLE_CONFIG_FILE is set, that file supplies values the environment
// leaves unset.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path := strings.TrimSpace(os.Getenv("CONSOLE_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		ListenAddr:               str(v, "LISTEN_ADDR", ":8080"),
		SessionCookieName:        str(v, "SESSION_COOKIE_NAME", "habilitations_session"),
		SessionIdleMinutes:       integer(v, "SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHour:      integer(v, "SESSION_ABSOLUTE_HOURS", 12),
		SessionEncryptKey:        str(v, "SESSION_ENCRYPT_KEY", "CHANGE_ME_PRODUCTION_SESSION_KEY"),
		CookieSecureMode:         strings.ToLower(str(v, "COOKIE_SECURE_MODE", "")),
		TrustProxy:               boolean(v, "TRUST_PROXY", false),
		CORSAllowedOrigins:       csv(v, "CORS_ALLOWED_ORIGINS"),
		BackendURL:               strings.TrimRight(str(v, "BACKEND_URL", "http://localhost:3000"), "/"),
		BackendTimeoutSec:        integer(v, "BACKEND_TIMEOUT_SEC", 10),
		BackendSessionCookie:     str(v, "BACKEND_SESSION_COOKIE", "accessToken"),
		AuditDBDriver:            strings.ToLower(str(v, "AUDIT_DB_DRIVER", "sqlite")),
		AuditDBDSN:               str(v, "AUDIT_DB_DSN", "./data/audit.db"),
		AuditMigrationPath:       str(v, "AUDIT_MIGRATION_PATH", "migrations/001_init.sql"),
		DBMaxOpenConns:           integer(v, "AUDIT_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           integer(v, "AUDIT_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(integer(v, "AUDIT_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		LoginRatePerMinute:       integer(v, "LOGIN_RATE_PER_MINUTE", 20),
		ResetRatePerMinute:       integer(v, "RESET_RATE_PER_MINUTE", 10),
		LogLevel:                 strings.ToLower(str(v, "LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(str(v, "LOG_FORMAT", "text")),
		HTTPReadTimeoutSec:       integer(v, "HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: integer(v, "HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      integer(v, "HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       integer(v, "HTTP_IDLE_TIMEOUT_SEC", 60),
	}

	if cfg.CookieSecureMode == "" {
		// COOKIE_SECURE predates COOKIE_SECURE_MODE.
		if v.IsSet("COOKIE_SECURE") {
			if boolean(v, "COOKIE_SECURE", false) {
				cfg.CookieSecureMode = "always"
			} else {
				cfg.CookieSecureMode = "never"
			}
		} else {
			cfg.CookieSecureMode = "auto"
		}
	}
	switch cfg.CookieSecureMode {
	case "auto", "always", "never":
	default:
		return Config{}, fmt.Errorf("COOKIE_SECURE_MODE must be one of: auto, always, never")
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHour <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.BackendTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("BACKEND_TIMEOUT_SEC must be positive")
	}
	if !strings.HasPrefix(cfg.BackendURL, "http://") && !strings.HasPrefix(cfg.BackendURL, "https://") {
		return Config{}, fmt.Errorf("BACKEND_URL must be an http(s) URL")
	}
	if strings.TrimSpace(cfg.BackendSessionCookie) == "" {
		return Config{}, fmt.Errorf("BACKEND_SESSION_COOKIE must not be empty")
	}
	switch cfg.AuditDBDriver {
	case "sqlite", "mysql", "pgx":
	default:
		return Config{}, fmt.Errorf("AUDIT_DB_DRIVER must be one of: sqlite, mysql, pgx")
	}
	if cfg.LoginRatePerMinute <= 0 || cfg.ResetRatePerMinute <= 0 {
		return Config{}, fmt.Errorf("rate limits must be positive")
	}
	if strings.TrimSpace(cfg.SessionEncryptKey) == "" ||
		cfg.SessionEncryptKey == "CHANGE_ME_PRODUCTION_SESSION_KEY" ||
		len(cfg.SessionEncryptKey) < 24 {
		return Config{}, fmt.Errorf("SESSION_ENCRYPT_KEY must be set to a strong non-default value (>=24 chars)")
	}
	if cfg.CookieSecureMode == "never" && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("COOKIE_SECURE_MODE=never is allowed only for local listen addresses")
	}
	return cfg, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

// ResolveCookieSecure decides the Secure attribute of cookies set on r.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	switch c.CookieSecureMode {
	case "always":
		return true
	case "never":
		return false
	}
	if r.TLS != nil {
		return true
	}
	if c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return true
	}
	return false
}

func str(v *viper.Viper, k, d string) string {
	if s := strings.TrimSpace(v.GetString(k)); s != "" {
		return s
	}
	return d
}

func integer(v *viper.Viper, k string, d int) int {
	s := strings.TrimSpace(v.GetString(k))
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}

func boolean(v *viper.Viper, k string, d bool) bool {
	s := strings.TrimSpace(v.GetString(k))
	if s == "" {
		return d
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return d
	}
	return b
}

func csv(v *viper.Viper, k string) []string {
	raw := strings.TrimSpace(v.GetString(k))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
