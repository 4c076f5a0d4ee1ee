// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	M8FLOW_HOST="0.0.0.0"
//	M8FLOW_PORT="8080"
//	M8FLOW_HEALTH_PORT="9090"
//	M8FLOW_READ_TIMEOUT="15s"
//	M8FLOW_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	M8FLOW_POSTGRES_URL="postgres://localhost/m8flow"
//	M8FLOW_POSTGRES_MAX_CONNS="25"
//	M8FLOW_MIGRATE_ON_BOOT="true"
//
// Tenancy settings:
//
//	M8FLOW_DEFAULT_TENANT_ID="default"
//	M8FLOW_ALLOW_MISSING_TENANT_CONTEXT="false"
//	M8FLOW_TENANT_CLAIM="m8flow_tenant_id"
//
// Cache settings:
//
//	M8FLOW_TENANT_CACHE_ENABLED="true"
//	M8FLOW_REDIS_URL="redis://localhost:6379"
//	M8FLOW_TENANT_CACHE_TTL="5m"
//
// Keycloak settings:
//
//	M8FLOW_KEYCLOAK_ENABLED="true"
//	M8FLOW_KEYCLOAK_URL="https://keycloak.example.com"
//	M8FLOW_KEYCLOAK_ADMIN_USERNAME="admin"
//	M8FLOW_KEYCLOAK_REALM_TEMPLATE="config/realm-template.json"
//
// Template storage settings:
//
//	M8FLOW_TEMPLATE_STORAGE_TYPE="filesystem"  # filesystem, s3, noop
//	M8FLOW_TEMPLATE_FILESYSTEM_ROOT="/var/lib/m8flow/templates"
//	M8FLOW_S3_BUCKET="m8flow-templates"
//
// Observability settings:
//
//	M8FLOW_LOG_LEVEL="info"  # debug, info, warn, error
//	M8FLOW_METRICS_ENABLED="true"
//	M8FLOW_OTEL_ENABLED="true"
//	M8FLOW_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Default tenant: %s\n", cfg.Tenancy.DefaultTenantID)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/tenancy: Uses tenancy configuration
//   - pkg/observability: Uses observability configuration
package config
