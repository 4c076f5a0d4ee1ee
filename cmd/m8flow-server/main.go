package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AOT-Technologies/m8flow/pkg/api"
	"github.com/AOT-Technologies/m8flow/pkg/boot"
	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/keycloak"
	"github.com/AOT-Technologies/m8flow/pkg/middleware"
	"github.com/AOT-Technologies/m8flow/pkg/migrations"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/scope"
	"github.com/AOT-Technologies/m8flow/pkg/templates"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "m8flow-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	boot.SetPhase(boot.PreBootstrap)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	bootReg := boot.NewRegistry(logger)

	ctx := context.Background()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bootReg.ApplyAll(bootstrapSpecs(ctx, cfg, db, logger), nil); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		redisClient, err = tenants.NewRedisClient(cfg.Redis)
		if err != nil {
			// The cache degrades to L1+database; the limiter fails open.
			logger.WithError(err).Warn("redis unavailable, continuing without it")
		} else {
			defer redisClient.Close()
		}
	}

	tenantSvc := tenants.NewPostgresService(db, cfg.Tenancy.DefaultTenantID)
	tenantCache, err := tenants.NewValidatingCache(tenantSvc, redisClient, cfg.Redis, metrics)
	if err != nil {
		return err
	}

	boot.SetPhase(boot.PostBootstrap)

	parser, err := middleware.NewTokenParser(ctx, cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("configuring token verification: %w", err)
	}
	resolver := tenancy.NewResolver(cfg.Tenancy, parser, tenantCache, logger, metrics)

	tmplStorage, err := templates.NewStorage(cfg.Templates, logger)
	if err != nil {
		return fmt.Errorf("configuring template storage: %w", err)
	}
	templateSvc := templates.NewService(scope.NewDB(db, cfg.Tenancy, logger), tmplStorage, logger, metrics)

	var otel *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otel, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
	}

	var (
		provisioner   api.RealmService
		adminVerifier api.AdminTokenVerifier
		realmStore    *keycloak.TemplateStore
	)
	if cfg.Keycloak.Enabled {
		kcLog := logrus.New()
		kcLog.SetOutput(os.Stdout)

		realmStore, err = keycloak.NewTemplateStore(cfg.Keycloak.TemplatePath, cfg.Keycloak.WebClientID, kcLog)
		if err != nil {
			return fmt.Errorf("loading realm template: %w", err)
		}
		defer realmStore.Close()
		if cfg.Keycloak.WatchTemplate {
			if err := realmStore.Watch(); err != nil {
				logger.WithError(err).Warn("realm template watch unavailable, using the loaded copy")
			}
		}

		admin := keycloak.NewAdminClient(cfg.Keycloak, kcLog)
		provisioner = keycloak.NewProvisioner(admin, realmStore, db, kcLog, metrics)
		adminVerifier = admin
	}

	health := observability.NewHealthChecker(db, redisClient)

	chain := []mux.MiddlewareFunc{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.CORSAllowedOrigins),
		middleware.NewAuthMiddleware(parser, true, logger).Handler,
		middleware.NewTenantContextMiddleware(resolver, logger).Handler,
	}
	if redisClient != nil {
		chain = append(chain, middleware.NewRateLimitMiddleware(redisClient, logger).Handler)
	}

	server := api.NewServer(api.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Tenants:       tenantSvc,
		TenantCache:   tenantCache,
		Templates:     templateSvc,
		Realms:        provisioner,
		AdminVerifier: adminVerifier,
		Health:        health,
		Middleware:    chain,
	})

	boot.SetPhase(boot.AppCreated)

	if err := bootReg.ApplyAll(serverSpecs(ctx, cfg, tenantCache), server); err != nil {
		return err
	}

	var handler http.Handler = server
	if otel != nil {
		handler = otelhttp.NewHandler(handler, "m8flow-api")
	}

	apiSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthSrv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 10 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, apiSrv, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthSrv.Shutdown)
	if otel != nil {
		shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
			return observability.ShutdownOTel(sctx, otel, logger)
		})
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiSrv.Addr).Info("api server listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthSrv.Addr).Info("health server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

// openDatabase connects the Postgres pool with the configured limits.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// serverSpecs lists the startup steps applied against the server instance
// once it exists. These are tracked per instance, not per process.
func serverSpecs(ctx context.Context, cfg *config.Config, cache *tenants.ValidatingCache) []boot.InitSpec {
	return []boot.InitSpec{
		{
			Name:         "warm-tenant-cache",
			MinimumPhase: boot.AppCreated,
			NeedsServer:  true,
			IgnoreErrors: true,
			Apply: func(boot.Target) error {
				_, err := cache.TenantExists(ctx, cfg.Tenancy.DefaultTenantID)
				return err
			},
		},
	}
}

// bootstrapSpecs lists the startup steps run before the server exists.
func bootstrapSpecs(ctx context.Context, cfg *config.Config, db *sql.DB, logger *observability.Logger) []boot.InitSpec {
	return []boot.InitSpec{
		{
			Name: "run-migrations",
			Apply: func(boot.Target) error {
				if !cfg.Database.MigrateOnBoot {
					return boot.ErrUnavailable
				}
				return migrations.RunMigrations(ctx, db, logger)
			},
			Optional: true,
		},
		{
			Name: "ensure-default-tenant",
			Apply: func(boot.Target) error {
				if !cfg.Database.MigrateOnBoot {
					return boot.ErrUnavailable
				}
				return migrations.EnsureDefaultTenant(ctx, db, cfg.Tenancy.DefaultTenantID)
			},
			Optional: true,
		},
	}
}
