// Package config provides configuration management for the provisioning service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional, or the path given to Load)
// 2. Environment variables (KEYCLOAK_SERVER_URL, KEYCLOAK_REALM, SERVER_PORT, ...)
// 3. Default values
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Keycloak     KeycloakConfig     `mapstructure:"keycloak"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins empty means any origin, matching a bare cors() setup.
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`

	// ValidateResponses enables OpenAPI response validation (debug aid).
	ValidateResponses bool `mapstructure:"validate_responses"`
}

// KeycloakConfig describes the identity provider admin API.
type KeycloakConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	Realm          string        `mapstructure:"realm"`
	AdminUser      string        `mapstructure:"admin_user"`
	AdminPassword  string        `mapstructure:"admin_password"`
	AdminClientID  string        `mapstructure:"admin_client_id"`
	ClientID       string        `mapstructure:"client_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Discovery      bool          `mapstructure:"discovery"`
}

// ProvisioningConfig tunes the provisioning workflow.
type ProvisioningConfig struct {
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
	DefaultRoles        []string      `mapstructure:"default_roles"`
	AdminRole           string        `mapstructure:"admin_role"`
	DefaultUserPassword string        `mapstructure:"default_user_password"`
	ParallelRoles       bool          `mapstructure:"parallel_roles"`
}

// DatabaseConfig contains the optional PostgreSQL audit store settings.
// An empty URL disables persistence.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Enabled reports whether an audit database is configured.
func (c DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// configFile may be empty, in which case config.yaml is searched in the default paths.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/nexaauth-provisioner")
	}

	// keycloak.server_url → KEYCLOAK_SERVER_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Keycloak.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("keycloak.server_url must be an absolute URL, got %q", c.Keycloak.ServerURL)
	}
	if strings.TrimSpace(c.Keycloak.Realm) == "" {
		return fmt.Errorf("keycloak.realm must not be empty")
	}
	if c.Keycloak.AdminUser == "" {
		return fmt.Errorf("keycloak.admin_user must not be empty")
	}
	if c.Keycloak.AdminClientID == "" {
		return fmt.Errorf("keycloak.admin_client_id must not be empty")
	}
	if len(c.Provisioning.DefaultRoles) == 0 {
		return fmt.Errorf("provisioning.default_roles must not be empty")
	}
	if c.Provisioning.StageTimeout <= 0 {
		return fmt.Errorf("provisioning.stage_timeout must be positive")
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", false)
	v.SetDefault("server.validate_responses", false)

	// Keycloak
	v.SetDefault("keycloak.server_url", "http://localhost:8080")
	v.SetDefault("keycloak.realm", "nexaauth")
	v.SetDefault("keycloak.admin_user", "admin")
	v.SetDefault("keycloak.admin_password", "admin")
	v.SetDefault("keycloak.admin_client_id", "admin-cli")
	v.SetDefault("keycloak.client_id", "nexaauth-app")
	v.SetDefault("keycloak.request_timeout", "10s")
	v.SetDefault("keycloak.discovery", false)

	// Provisioning
	v.SetDefault("provisioning.stage_timeout", "15s")
	v.SetDefault("provisioning.default_roles", []string{"orgAdmin", "organizer", "user"})
	v.SetDefault("provisioning.admin_role", "orgAdmin")
	v.SetDefault("provisioning.default_user_password", "testpassword123")
	v.SetDefault("provisioning.parallel_roles", true)

	// Database (audit store, optional)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Worker pool
	v.SetDefault("worker.pool_size", 16)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
