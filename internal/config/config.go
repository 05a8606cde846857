package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Overflow policies for a connection's outbound queue
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDropNewest = "drop_newest"
)

// Config is the system-wide settings tree. Every section is required.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Mail      *MailConfig      `json:"mail"`
	Redis     *RedisConfig     `json:"redis"`
	App       *AppConfig       `json:"app"`
}

// DatabaseConfig selects the store. Path is used by sqlite, DSN by postgres.
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// WebSocketConfig tunes the real-time layer
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
	OverflowPolicy string        `json:"overflow_policy"`

	// RequireAuth rejects sockets without a valid token and membership.
	RequireAuth bool `json:"require_auth"`
	// RequirePersist drops messages the store failed to append instead of relaying them.
	RequirePersist bool `json:"require_persist"`

	// RateLimitPerMinute caps messages per sender. Zero, the default, relays everything.
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	PersistTimeout     time.Duration `json:"persist_timeout"`
}

type AuthConfig struct {
	JWTSecret       string        `json:"jwt_secret"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	ResetTokenTTL   time.Duration `json:"reset_token_ttl"`
}

// MailConfig configures outbound SMTP. An empty SMTPServer disables sending.
type MailConfig struct {
	SMTPServer  string `json:"smtp_server"`
	SMTPPort    int    `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UseTLS      bool   `json:"use_tls"`
	From        string `json:"from"`
	FromName    string `json:"from_name"`
	FrontendURL string `json:"frontend_url"`
}

// RedisConfig is optional. When URL is empty the in-memory cache is used and
// mail is sent inline instead of through the task queue.
type RedisConfig struct {
	URL string `json:"url"`
}

type AppConfig struct {
	Name     string `json:"name"`
	Debug    bool   `json:"debug"`
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns local-development defaults: SQLite on disk, HTTP on
// 8080, 30s heartbeat. The JWT secret is deliberately left empty and must be
// supplied through the environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         "sqlite",
			Path:           "./parley.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
			CORSOrigins:  []string{"http://localhost:3000"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       10 * time.Second,
			BufferSize:         100,
			MaxMessageSize:     1 << 20,
			OverflowPolicy:     OverflowDropOldest,
			RateLimitPerMinute: 0,
			PersistTimeout:     5 * time.Second,
		},
		Auth: &AuthConfig{
			AccessTokenTTL:  30 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			ResetTokenTTL:   15 * time.Minute,
		},
		Mail: &MailConfig{
			SMTPPort:    587,
			UseTLS:      true,
			FromName:    "Chat App",
			FrontendURL: "http://localhost:3000",
		},
		Redis: &RedisConfig{},
		App: &AppConfig{
			Name:     "parley",
			LogLevel: "info",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("database driver must be 'sqlite' or 'postgres'")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.OverflowPolicy != OverflowDropOldest && c.WebSocket.OverflowPolicy != OverflowDropNewest {
		return fmt.Errorf("WebSocket overflow policy must be %q or %q", OverflowDropOldest, OverflowDropNewest)
	}
	if c.WebSocket.RateLimitPerMinute < 0 {
		return fmt.Errorf("WebSocket rate limit cannot be negative")
	}
	if c.WebSocket.PersistTimeout <= 0 {
		return fmt.Errorf("WebSocket persist timeout must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		return fmt.Errorf("auth token lifetimes must be positive")
	}

	if c.Mail == nil {
		return fmt.Errorf("mail configuration is required")
	}
	if c.Mail.SMTPServer != "" && (c.Mail.SMTPPort <= 0 || c.Mail.SMTPPort > 65535) {
		return fmt.Errorf("mail SMTP port must be between 1 and 65535")
	}
	if c.Mail.SMTPServer != "" && c.Mail.From == "" {
		return fmt.Errorf("mail sender address is required when SMTP is configured")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.App == nil {
		return fmt.Errorf("app configuration is required")
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win, and missing files
// are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", existing, err)
	}
	return nil
}

// LoadFromEnv overlays PARLEY_* variables on the defaults. A few unprefixed
// names (DATABASE_URL, JWT_SECRET_KEY, SMTP_*) are honored as fallbacks so
// existing deployment environments keep working. Malformed values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := envString("PARLEY_DATABASE_DRIVER"); v != "" {
		config.Database.Driver = v
	}
	if v := envString("PARLEY_DATABASE_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := envString("PARLEY_DATABASE_DSN", "DATABASE_URL"); v != "" {
		config.Database.DSN = v
		if envString("PARLEY_DATABASE_DRIVER") == "" && isPostgresDSN(v) {
			config.Database.Driver = "postgres"
		}
	}
	envDuration(&config.Database.Timeout, "PARLEY_DATABASE_TIMEOUT")
	envInt(&config.Database.MaxConnections, "PARLEY_DATABASE_MAX_CONNECTIONS")

	envInt(&config.HTTP.Port, "PARLEY_HTTP_PORT")
	if v := envString("PARLEY_HTTP_HOST"); v != "" {
		config.HTTP.Host = v
	}
	envDuration(&config.HTTP.ReadTimeout, "PARLEY_HTTP_READ_TIMEOUT")
	envDuration(&config.HTTP.WriteTimeout, "PARLEY_HTTP_WRITE_TIMEOUT")
	if v := envString("PARLEY_CORS_ORIGINS", "CORS_ORIGINS"); v != "" {
		config.HTTP.CORSOrigins = splitList(v)
	}

	envDuration(&config.WebSocket.PingInterval, "PARLEY_WEBSOCKET_PING_INTERVAL")
	envDuration(&config.WebSocket.ReadTimeout, "PARLEY_WEBSOCKET_READ_TIMEOUT")
	envDuration(&config.WebSocket.WriteTimeout, "PARLEY_WEBSOCKET_WRITE_TIMEOUT")
	envInt(&config.WebSocket.BufferSize, "PARLEY_WEBSOCKET_BUFFER_SIZE")
	if v := envString("PARLEY_WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = size
		}
	}
	if v := envString("PARLEY_WEBSOCKET_OVERFLOW_POLICY"); v != "" {
		config.WebSocket.OverflowPolicy = v
	}
	envBool(&config.WebSocket.RequireAuth, "PARLEY_WEBSOCKET_REQUIRE_AUTH")
	envBool(&config.WebSocket.RequirePersist, "PARLEY_WEBSOCKET_REQUIRE_PERSIST")
	envInt(&config.WebSocket.RateLimitPerMinute, "PARLEY_WEBSOCKET_RATE_LIMIT")
	envDuration(&config.WebSocket.PersistTimeout, "PARLEY_WEBSOCKET_PERSIST_TIMEOUT")

	if v := envString("PARLEY_JWT_SECRET", "JWT_SECRET_KEY"); v != "" {
		config.Auth.JWTSecret = v
	}
	envDuration(&config.Auth.AccessTokenTTL, "PARLEY_ACCESS_TOKEN_TTL")
	envDuration(&config.Auth.RefreshTokenTTL, "PARLEY_REFRESH_TOKEN_TTL")
	envDuration(&config.Auth.ResetTokenTTL, "PARLEY_RESET_TOKEN_TTL")

	if v := envString("PARLEY_SMTP_SERVER", "SMTP_SERVER"); v != "" {
		config.Mail.SMTPServer = v
	}
	envInt(&config.Mail.SMTPPort, "PARLEY_SMTP_PORT", "SMTP_PORT")
	if v := envString("PARLEY_SMTP_USERNAME", "SMTP_USERNAME"); v != "" {
		config.Mail.Username = v
	}
	if v := envString("PARLEY_SMTP_PASSWORD", "SMTP_PASSWORD"); v != "" {
		config.Mail.Password = v
	}
	envBool(&config.Mail.UseTLS, "PARLEY_SMTP_USE_TLS", "SMTP_USE_TLS")
	if v := envString("PARLEY_EMAIL_FROM", "EMAIL_FROM"); v != "" {
		config.Mail.From = v
	}
	if v := envString("PARLEY_EMAIL_FROM_NAME", "EMAIL_FROM_NAME"); v != "" {
		config.Mail.FromName = v
	}
	if v := envString("PARLEY_FRONTEND_URL", "FRONTEND_URL"); v != "" {
		config.Mail.FrontendURL = strings.TrimRight(v, "/")
	}

	if v := envString("PARLEY_REDIS_URL", "REDIS_URL"); v != "" {
		config.Redis.URL = v
	}

	if v := envString("PARLEY_APP_NAME", "APP_NAME"); v != "" {
		config.App.Name = v
	}
	envBool(&config.App.Debug, "PARLEY_DEBUG", "DEBUG")
	if v := envString("PARLEY_LOG_LEVEL"); v != "" {
		config.App.LogLevel = v
	}

	return config
}

// ConfigFile is the on-disk JSON shape. Durations are strings ("30s") so the
// file stays readable.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Mail      *MailConfigFile      `json:"mail"`
	Redis     *RedisConfig         `json:"redis"`
	App       *AppConfig           `json:"app"`
}

type DatabaseConfigFile struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	DSN            string `json:"dsn"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Port         int      `json:"port"`
	ReadTimeout  string   `json:"read_timeout"`
	WriteTimeout string   `json:"write_timeout"`
	Host         string   `json:"host"`
	CORSOrigins  []string `json:"cors_origins"`
}

type WebSocketConfigFile struct {
	PingInterval       string `json:"ping_interval"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	BufferSize         int    `json:"buffer_size"`
	MaxMessageSize     int64  `json:"max_message_size"`
	OverflowPolicy     string `json:"overflow_policy"`
	RequireAuth        *bool  `json:"require_auth"`
	RequirePersist     *bool  `json:"require_persist"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	PersistTimeout     string `json:"persist_timeout"`
}

type AuthConfigFile struct {
	JWTSecret       string `json:"jwt_secret"`
	AccessTokenTTL  string `json:"access_token_ttl"`
	RefreshTokenTTL string `json:"refresh_token_ttl"`
	ResetTokenTTL   string `json:"reset_token_ttl"`
}

type MailConfigFile struct {
	SMTPServer  string `json:"smtp_server"`
	SMTPPort    int    `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UseTLS      *bool  `json:"use_tls"`
	From        string `json:"from"`
	FromName    string `json:"from_name"`
	FrontendURL string `json:"frontend_url"`
}

// LoadFromFile reads a JSON config file over the defaults and validates the result
func LoadFromFile(filepath string) (*Config, error) {
	return loadFileOver(DefaultConfig(), filepath)
}

func loadFileOver(config *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := configFile.Database; f != nil {
		setString(&config.Database.Driver, f.Driver)
		setString(&config.Database.Path, f.Path)
		setString(&config.Database.DSN, f.DSN)
		setDuration(&config.Database.Timeout, f.Timeout)
		setInt(&config.Database.MaxConnections, f.MaxConnections)
	}

	if f := configFile.HTTP; f != nil {
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.Host, f.Host)
		setDuration(&config.HTTP.ReadTimeout, f.ReadTimeout)
		setDuration(&config.HTTP.WriteTimeout, f.WriteTimeout)
		if len(f.CORSOrigins) > 0 {
			config.HTTP.CORSOrigins = f.CORSOrigins
		}
	}

	if f := configFile.WebSocket; f != nil {
		setDuration(&config.WebSocket.PingInterval, f.PingInterval)
		setDuration(&config.WebSocket.ReadTimeout, f.ReadTimeout)
		setDuration(&config.WebSocket.WriteTimeout, f.WriteTimeout)
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		setString(&config.WebSocket.OverflowPolicy, f.OverflowPolicy)
		if f.RequireAuth != nil {
			config.WebSocket.RequireAuth = *f.RequireAuth
		}
		if f.RequirePersist != nil {
			config.WebSocket.RequirePersist = *f.RequirePersist
		}
		setInt(&config.WebSocket.RateLimitPerMinute, f.RateLimitPerMinute)
		setDuration(&config.WebSocket.PersistTimeout, f.PersistTimeout)
	}

	if f := configFile.Auth; f != nil {
		setString(&config.Auth.JWTSecret, f.JWTSecret)
		setDuration(&config.Auth.AccessTokenTTL, f.AccessTokenTTL)
		setDuration(&config.Auth.RefreshTokenTTL, f.RefreshTokenTTL)
		setDuration(&config.Auth.ResetTokenTTL, f.ResetTokenTTL)
	}

	if f := configFile.Mail; f != nil {
		setString(&config.Mail.SMTPServer, f.SMTPServer)
		setInt(&config.Mail.SMTPPort, f.SMTPPort)
		setString(&config.Mail.Username, f.Username)
		setString(&config.Mail.Password, f.Password)
		setString(&config.Mail.From, f.From)
		setString(&config.Mail.FromName, f.FromName)
		setString(&config.Mail.FrontendURL, f.FrontendURL)
		if f.UseTLS != nil {
			config.Mail.UseTLS = *f.UseTLS
		}
	}

	if f := configFile.Redis; f != nil {
		setString(&config.Redis.URL, f.URL)
	}

	if f := configFile.App; f != nil {
		setString(&config.App.Name, f.Name)
		setString(&config.App.LogLevel, f.LogLevel)
		config.App.Debug = f.Debug
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment (.env included) > defaults.
// A file that fails to load is reported and the environment config is kept.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := loadFileOver(config, filepath)
		if err != nil {
			return LoadFromEnv(), err
		}
		config = fileConfig
	}

	return config, nil
}

func envString(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func envInt(dst *int, keys ...string) {
	if v := envString(keys...); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, keys ...string) {
	if v := envString(keys...); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(dst *time.Duration, keys ...string) {
	if v := envString(keys...); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
