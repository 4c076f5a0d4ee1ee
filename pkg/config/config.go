package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Tenancy configuration
	Tenancy tenancy.Settings

	// Auth configuration
	Auth AuthConfig

	// Keycloak admin configuration
	Keycloak KeycloakConfig

	// Template storage configuration
	Templates TemplateConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORS fallback origins when no gateway terminates CORS in front
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnBoot   bool
}

// RedisConfig holds Redis settings for the tenant validation cache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int

	// CacheTTL bounds how long a tenant validation result is trusted
	CacheTTL time.Duration
	// L1CacheSize is the in-process LRU entry count in front of Redis
	L1CacheSize int
	Enabled     bool
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	// OIDCIssuer enables JWKS-backed verification when set
	OIDCIssuer   string
	OIDCClientID string

	// JWTSecret enables HMAC verification for deployments without OIDC
	JWTSecret string

	// Disabled skips signature verification entirely; claims are still
	// decoded. Only for local development.
	Disabled bool
}

// KeycloakConfig holds the realm provisioning settings
type KeycloakConfig struct {
	Enabled       bool
	URL           string
	AdminUsername string
	AdminPassword string
	AdminRealm    string
	AdminClientID string
	WebClientID   string
	TemplatePath  string
	WatchTemplate bool
	HTTPTimeout   time.Duration
}

// TemplateConfig holds template artifact storage settings
type TemplateConfig struct {
	// StorageType is one of filesystem, s3, or noop
	StorageType    string
	FilesystemRoot string

	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3UsePathStyle   bool
	S3ForcePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Tenancy:       loadTenancyConfig(),
		Auth:          loadAuthConfig(),
		Keycloak:      loadKeycloakConfig(),
		Templates:     loadTemplateConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Host:            getEnv("M8FLOW_HOST", "0.0.0.0"),
		Port:            getEnv("M8FLOW_PORT", "8080"),
		ReadTimeout:     getEnvDuration("M8FLOW_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("M8FLOW_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("M8FLOW_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("M8FLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("M8FLOW_HEALTH_PORT", "9090"),
	}
	if origins := getEnv("M8FLOW_CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}
	return cfg
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("M8FLOW_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("M8FLOW_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("M8FLOW_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("M8FLOW_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		MigrateOnBoot:   getEnvBool("M8FLOW_MIGRATE_ON_BOOT", true),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:         getEnv("M8FLOW_REDIS_URL", ""),
		Password:    getEnv("M8FLOW_REDIS_PASSWORD", ""),
		DB:          getEnvInt("M8FLOW_REDIS_DB", 0),
		PoolSize:    getEnvInt("M8FLOW_REDIS_POOL_SIZE", 10),
		MaxRetries:  getEnvInt("M8FLOW_REDIS_MAX_RETRIES", 3),
		CacheTTL:    getEnvDuration("M8FLOW_TENANT_CACHE_TTL", 5*time.Minute),
		L1CacheSize: getEnvInt("M8FLOW_TENANT_CACHE_SIZE", 1024),
		Enabled:     getEnvBool("M8FLOW_TENANT_CACHE_ENABLED", true),
	}
}

// loadTenancyConfig loads multi-tenancy configuration from environment
func loadTenancyConfig() tenancy.Settings {
	return tenancy.Settings{
		DefaultTenantID:           getEnv("M8FLOW_DEFAULT_TENANT_ID", "default"),
		AllowMissingTenantContext: getEnvBool("M8FLOW_ALLOW_MISSING_TENANT_CONTEXT", false),
		TenantClaim:               getEnv("M8FLOW_TENANT_CLAIM", tenancy.DefaultTenantClaim),
	}
}

// loadAuthConfig loads token verification configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:   getEnv("M8FLOW_OIDC_ISSUER", ""),
		OIDCClientID: getEnv("M8FLOW_OIDC_CLIENT_ID", "m8flow-web"),
		JWTSecret:    getEnv("M8FLOW_JWT_SECRET", ""),
		Disabled:     getEnvBool("M8FLOW_AUTH_DISABLED", false),
	}
}

// loadKeycloakConfig loads Keycloak admin configuration from environment
func loadKeycloakConfig() KeycloakConfig {
	return KeycloakConfig{
		Enabled:       getEnvBool("M8FLOW_KEYCLOAK_ENABLED", false),
		URL:           getEnv("M8FLOW_KEYCLOAK_URL", ""),
		AdminUsername: getEnv("M8FLOW_KEYCLOAK_ADMIN_USERNAME", ""),
		AdminPassword: getEnv("M8FLOW_KEYCLOAK_ADMIN_PASSWORD", ""),
		AdminRealm:    getEnv("M8FLOW_KEYCLOAK_ADMIN_REALM", "master"),
		AdminClientID: getEnv("M8FLOW_KEYCLOAK_ADMIN_CLIENT_ID", "admin-cli"),
		WebClientID:   getEnv("M8FLOW_KEYCLOAK_WEB_CLIENT_ID", "m8flow-web"),
		TemplatePath:  getEnv("M8FLOW_KEYCLOAK_REALM_TEMPLATE", "config/realm-template.json"),
		WatchTemplate: getEnvBool("M8FLOW_KEYCLOAK_WATCH_TEMPLATE", false),
		HTTPTimeout:   getEnvDuration("M8FLOW_KEYCLOAK_HTTP_TIMEOUT", 30*time.Second),
	}
}

// loadTemplateConfig loads template storage configuration from environment
func loadTemplateConfig() TemplateConfig {
	return TemplateConfig{
		StorageType:      getEnv("M8FLOW_TEMPLATE_STORAGE_TYPE", "filesystem"),
		FilesystemRoot:   getEnv("M8FLOW_TEMPLATE_FILESYSTEM_ROOT", "/var/lib/m8flow/templates"),
		S3Endpoint:       getEnv("M8FLOW_S3_ENDPOINT", ""),
		S3Region:         getEnv("M8FLOW_S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("M8FLOW_S3_BUCKET", ""),
		S3AccessKey:      getEnv("M8FLOW_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("M8FLOW_S3_SECRET_KEY", ""),
		S3UsePathStyle:   getEnvBool("M8FLOW_S3_USE_PATH_STYLE", false),
		S3ForcePathStyle: getEnvBool("M8FLOW_S3_FORCE_PATH_STYLE", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("M8FLOW_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("M8FLOW_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("M8FLOW_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("M8FLOW_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("M8FLOW_OTEL_SERVICE_NAME", "m8flow-api"),
		OTelServiceVersion: getEnv("M8FLOW_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("M8FLOW_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Tenancy.DefaultTenantID == "" {
		return fmt.Errorf("default tenant id must not be empty")
	}
	if c.Tenancy.TenantClaim == "" {
		return fmt.Errorf("tenant claim must not be empty")
	}

	if !c.Auth.Disabled && c.Auth.OIDCIssuer == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("either an OIDC issuer or a JWT secret is required unless auth is disabled")
	}

	// Validate template storage config based on type
	switch c.Templates.StorageType {
	case "filesystem":
		if c.Templates.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem template storage")
		}
	case "s3":
		if c.Templates.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 template storage")
		}
	case "noop":
	default:
		return fmt.Errorf("invalid template storage type: %s (must be filesystem, s3, or noop)", c.Templates.StorageType)
	}

	// Validate Keycloak config when realm provisioning is on
	if c.Keycloak.Enabled {
		if c.Keycloak.URL == "" {
			return fmt.Errorf("Keycloak URL is required when realm provisioning is enabled")
		}
		if c.Keycloak.AdminUsername == "" || c.Keycloak.AdminPassword == "" {
			return fmt.Errorf("Keycloak admin credentials are required when realm provisioning is enabled")
		}
		if c.Keycloak.TemplatePath == "" {
			return fmt.Errorf("Keycloak realm template path is required when realm provisioning is enabled")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
