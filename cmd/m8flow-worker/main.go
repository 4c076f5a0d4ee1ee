package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/AOT-Technologies/m8flow/pkg/async"
	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/scope"
	"github.com/AOT-Technologies/m8flow/pkg/templates"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

// warmWorkers bounds how many tenant cache lookups run concurrently.
const warmWorkers = 4

func main() {
	purgeSchedule := flag.String("purge-schedule", "@hourly", "Cron schedule for purging soft-deleted templates")
	warmSchedule := flag.String("warm-schedule", "@every 5m", "Cron schedule for warming the tenant cache")
	retention := flag.Duration("retention", 30*24*time.Hour, "How long soft-deleted templates are kept before purging")
	flag.Parse()

	if err := run(*purgeSchedule, *warmSchedule, *retention); err != nil {
		fmt.Fprintf(os.Stderr, "m8flow-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(purgeSchedule, warmSchedule string, retention time.Duration) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	storage, err := templates.NewStorage(cfg.Templates, logger)
	if err != nil {
		return fmt.Errorf("configuring template storage: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		redisClient, err = tenants.NewRedisClient(cfg.Redis)
		if err != nil {
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

	w := &worker{
		scoped:    scope.NewDB(db, cfg.Tenancy, logger),
		tenants:   tenantSvc,
		cache:     tenantCache,
		storage:   storage,
		logger:    logger,
		retention: retention,
	}

	c := cron.New()
	if _, err := c.AddFunc(purgeSchedule, func() { w.purgeDeletedTemplates(ctx) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", purgeSchedule, err)
	}
	if _, err := c.AddFunc(warmSchedule, func() { w.warmTenantCache(ctx) }); err != nil {
		return fmt.Errorf("invalid warm schedule %q: %w", warmSchedule, err)
	}

	logger.WithFields(map[string]any{
		"purge_schedule": purgeSchedule,
		"warm_schedule":  warmSchedule,
		"retention":      retention.String(),
	}).Info("worker started")
	c.Start()

	<-ctx.Done()
	logger.Info("shutting down worker")
	<-c.Stop().Done()
	return nil
}

type worker struct {
	scoped    *scope.DB
	tenants   tenants.Service
	cache     *tenants.ValidatingCache
	storage   templates.Storage
	logger    *observability.Logger
	retention time.Duration
}

// activeTenantIDs lists tenants eligible for maintenance.
func (w *worker) activeTenantIDs(ctx context.Context) ([]string, error) {
	list, err := w.tenants.ListTenants(ctx, tenants.ListOptions{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.TenantID)
	}
	return ids, nil
}

// purgeDeletedTemplates permanently removes soft-deleted template
// versions older than the retention window, including their stored
// files. Each tenant is processed under an explicit background tenant
// binding so the scoped transaction filters to that tenant alone.
func (w *worker) purgeDeletedTemplates(ctx context.Context) {
	ids, err := w.activeTenantIDs(ctx)
	if err != nil {
		w.logger.WithError(err).Error("could not list tenants for template purge")
		return
	}

	// The background tenant is process-wide state, so tenants are purged
	// one at a time.
	cutoff := time.Now().Add(-w.retention)
	for _, tenantID := range ids {
		if err := w.purgeTenantTemplates(ctx, tenantID, cutoff); err != nil {
			w.logger.WithError(err).WithTenant(tenantID).Error("template purge failed")
		}
	}
}

func (w *worker) purgeTenantTemplates(ctx context.Context, tenantID string, cutoff time.Time) error {
	token := tenancy.SetBackgroundTenant(tenantID)
	defer tenancy.ResetBackgroundTenant(token)

	type doomed struct {
		id      int64
		key     string
		version string
		files   []templates.FileEntry
	}

	var purged []doomed
	err := w.scoped.WithTenantTx(ctx, func(tx *scope.Tx) error {
		where, args, _ := tx.Filter("is_deleted = TRUE AND updated_at < $1", []any{cutoff}, 2)
		rows, err := tx.QueryContext(ctx,
			`SELECT id, template_key, version, files FROM m8flow_template WHERE `+where, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d doomed
			var rawFiles []byte
			if err := rows.Scan(&d.id, &d.key, &d.version, &rawFiles); err != nil {
				return err
			}
			if len(rawFiles) > 0 {
				if err := json.Unmarshal(rawFiles, &d.files); err != nil {
					return fmt.Errorf("failed to decode template files: %w", err)
				}
			}
			purged = append(purged, d)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, d := range purged {
			if _, err := tx.ExecContext(ctx, `DELETE FROM m8flow_template WHERE id = $1`, d.id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range purged {
		for _, f := range d.files {
			if err := w.storage.DeleteFile(ctx, tenantID, d.key, d.version, f.FileName); err != nil {
				w.logger.WithError(err).WithTenant(tenantID).WithFields(map[string]any{
					"template_key": d.key,
					"version":      d.version,
					"file":         f.FileName,
				}).Warn("could not delete stored template file")
			}
		}
	}

	if len(purged) > 0 {
		w.logger.WithTenant(tenantID).WithField("count", len(purged)).Info("purged soft-deleted templates")
	}
	return nil
}

// warmTenantCache re-primes the tenant validation cache so request
// paths rarely fall through to the database.
func (w *worker) warmTenantCache(ctx context.Context) {
	ids, err := w.activeTenantIDs(ctx)
	if err != nil {
		w.logger.WithError(err).Error("could not list tenants for cache warm")
		return
	}
	errs := async.Batch(ctx, w.logger, ids, warmWorkers, "tenant cache warm", time.Minute,
		func(ctx context.Context, tenantID string) error {
			w.cache.Invalidate(ctx, tenantID)
			_, err := w.cache.TenantExists(ctx, tenantID)
			return err
		})
	for _, err := range errs {
		w.logger.WithError(err).Warn("cache warm lookup failed")
	}
}
