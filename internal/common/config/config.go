package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/amoylab/authcore/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAccessTokenValidity applies when a client has no validity configured
	DefaultAccessTokenValidity = 10 * time.Minute
	// DefaultRefreshTokenValidity applies when a client has no validity configured
	DefaultRefreshTokenValidity = 2 * time.Hour
	// DefaultCodeValidity is the lifetime of an authorization code
	DefaultCodeValidity = 5 * time.Minute
	// DefaultRememberMeValidity is the sliding window of a remember-me series
	DefaultRememberMeValidity = 14 * 24 * time.Hour
)

type (
	// AuthServerConfig is the root configuration of the authorization server
	AuthServerConfig struct {
		Server        ServerConfig        `yaml:"server"`
		Logger        LoggerConfig        `yaml:"logger"`
		Storage       StorageConfig       `yaml:"storage"`
		Token         TokenConfig         `yaml:"token"`
		Introspection IntrospectionConfig `yaml:"introspection"`
		Metrics       MetricsConfig       `yaml:"metrics"`
		Tracing       TracingConfig       `yaml:"tracing"`
		Seed          SeedConfig          `yaml:"seed"`
		Notifier      NotifierConfig      `yaml:"notifier"`
	}

	// ServerConfig controls the HTTP listener
	ServerConfig struct {
		Port     int    `yaml:"port"`
		TimeZone string `yaml:"time_zone"` // zone of the system clock, e.g. "UTC"
		// DenyUnmapped rejects requests for paths no secured resource covers
		DenyUnmapped bool   `yaml:"deny_unmapped"`
		PID          string `yaml:"pid"` // pid file, used by the reload command
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// StorageConfig selects the persistence backends
	StorageConfig struct {
		Type     string             `yaml:"type"` // memory or db
		Database DatabaseConfig     `yaml:"database"`
		Tokens   TokenStorageConfig `yaml:"tokens"`
	}

	// TokenStorageConfig optionally moves codes, tokens and remember-me
	// series to a dedicated backend
	TokenStorageConfig struct {
		Type  string      `yaml:"type"` // empty (same as storage.type) or redis
		Redis RedisConfig `yaml:"redis"`
	}

	DatabaseConfig struct {
		Type     string `yaml:"type"`     // mysql, postgres, sqlite
		Host     string `yaml:"host"`     // localhost
		Port     int    `yaml:"port"`     // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user"`     // root (for mysql), postgres (for postgres)
		Password string `yaml:"password"` // password
		DBName   string `yaml:"dbname"`   // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode"`  // disable (for postgres)
	}

	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// Retention keeps expired codes and tokens readable for this long so
		// that "expired" stays distinguishable from "unknown"
		Retention time.Duration `yaml:"retention"`
	}

	// TokenConfig holds lifetimes applied when nothing more specific is set
	TokenConfig struct {
		AccessTokenValidity  time.Duration `yaml:"access_token_validity"`
		RefreshTokenValidity time.Duration `yaml:"refresh_token_validity"`
		CodeValidity         time.Duration `yaml:"code_validity"`
		CodeLength           int           `yaml:"code_length"`
		RememberMeValidity   time.Duration `yaml:"remember_me_validity"`
	}

	// IntrospectionConfig holds the credentials the introspector
	// authenticates itself with
	IntrospectionConfig struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	}

	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig represents OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled"`
		ServiceName string            `yaml:"service_name"`
		Endpoint    string            `yaml:"endpoint"`     // e.g. localhost:4317 or http://localhost:4318
		Protocol    string            `yaml:"protocol"`     // grpc or http
		Insecure    bool              `yaml:"insecure"`     // allow insecure connection
		SamplerRate float64           `yaml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment"`  // env tag: dev/staging/prod
		Headers     map[string]string `yaml:"headers"`
	}

	// NotifierConfig broadcasts secured resource changes to the other
	// instances sharing the catalog
	NotifierConfig struct {
		Type   string      `yaml:"type"`   // empty (disabled) or redis
		Stream string      `yaml:"stream"` // redis stream name
		Redis  RedisConfig `yaml:"redis"`
	}

	// SeedConfig lists catalog entries created at startup when missing
	SeedConfig struct {
		Scopes    []SeedScope    `yaml:"scopes"`
		Clients   []SeedClient   `yaml:"clients"`
		Resources []SeedResource `yaml:"resources"`
	}

	SeedScope struct {
		Code        string `yaml:"code"`
		Description string `yaml:"description"`
		Initialize  bool   `yaml:"initialize"`
	}

	SeedClient struct {
		ID           string   `yaml:"id"`
		Secret       string   `yaml:"secret"`
		Name         string   `yaml:"name"`
		Owner        string   `yaml:"owner"`
		RedirectURIs []string `yaml:"redirect_uris"`
		GrantTypes   []string `yaml:"grant_types"`
		Scopes       []string `yaml:"scopes"`
	}

	SeedResource struct {
		Pattern     string   `yaml:"pattern"`
		Method      string   `yaml:"method"`
		Authorities []string `yaml:"authorities"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*AuthServerConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg AuthServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}
	cfg.SetDefaults()

	return &cfg, cfgPath, nil
}

// SetDefaults fills zero values
func (c *AuthServerConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Tokens.Redis.Retention <= 0 {
		c.Storage.Tokens.Redis.Retention = 24 * time.Hour
	}
	if c.Token.AccessTokenValidity <= 0 {
		c.Token.AccessTokenValidity = DefaultAccessTokenValidity
	}
	if c.Token.RefreshTokenValidity <= 0 {
		c.Token.RefreshTokenValidity = DefaultRefreshTokenValidity
	}
	if c.Token.CodeValidity <= 0 {
		c.Token.CodeValidity = DefaultCodeValidity
	}
	if c.Token.RememberMeValidity <= 0 {
		c.Token.RememberMeValidity = DefaultRememberMeValidity
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "authcore"
	}
	if c.Server.PID == "" {
		c.Server.PID = "authserver.pid"
	}
	if c.Notifier.Stream == "" {
		c.Notifier.Stream = "authcore:resources"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "authserver"
	}
}

// Location resolves the configured clock time zone, falling back to local
func (c *ServerConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return c.getPostgresDSN()
	case "mysql":
		return c.getMySQLDSN()
	case "sqlite":
		// Ensure the directory for the SQLite database exists.
		// If the directory cannot be created, it's a fatal error.
		if c.DBName != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.DBName), 0755); err != nil {
				panic(fmt.Errorf("failed to create directory for sqlite database: %w", err))
			}
		}
		return c.DBName // For SQLite, DBName is the file path
	default:
		return ""
	}
}

// getPostgresDSN returns PostgreSQL connection string
func (c *DatabaseConfig) getPostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// getMySQLDSN returns MySQL connection string
func (c *DatabaseConfig) getMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
