package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tenant resolution metrics
	TenantResolutionsTotal *prometheus.CounterVec
	TenantResolutionErrors *prometheus.CounterVec
	TenantCacheHitsTotal   *prometheus.CounterVec
	TenantCacheMissesTotal *prometheus.CounterVec

	// Template metrics
	TemplateOperationsTotal   *prometheus.CounterVec
	TemplateOperationDuration *prometheus.HistogramVec

	// Keycloak provisioning metrics
	RealmOperationsTotal  *prometheus.CounterVec
	RealmOperationErrors  *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	TenantsActive  prometheus.Gauge
	TemplatesTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m8flow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_tenant_resolutions_total",
				Help: "Total number of tenant context resolutions",
			},
			[]string{"source"},
		),
		TenantResolutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_tenant_resolution_errors_total",
				Help: "Total number of failed tenant context resolutions",
			},
			[]string{"error_code"},
		),
		TenantCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_tenant_cache_hits_total",
				Help: "Tenant validation cache hits",
			},
			[]string{"layer"},
		),
		TenantCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_tenant_cache_misses_total",
				Help: "Tenant validation cache misses",
			},
			[]string{"layer"},
		),
		TemplateOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_template_operations_total",
				Help: "Total number of template operations",
			},
			[]string{"operation"},
		),
		TemplateOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m8flow_template_operation_duration_seconds",
				Help:    "Template operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RealmOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_realm_operations_total",
				Help: "Total number of Keycloak realm operations",
			},
			[]string{"operation"},
		),
		RealmOperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m8flow_realm_operation_errors_total",
				Help: "Total number of failed Keycloak realm operations",
			},
			[]string{"operation"},
		),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "m8flow_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "m8flow_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		TenantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "m8flow_tenants_active",
			Help: "Number of active tenants",
		}),
		TemplatesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "m8flow_templates_total",
			Help: "Number of templates (all versions, not deleted)",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TenantResolutionsTotal,
		m.TenantResolutionErrors,
		m.TenantCacheHitsTotal,
		m.TenantCacheMissesTotal,
		m.TemplateOperationsTotal,
		m.TemplateOperationDuration,
		m.RealmOperationsTotal,
		m.RealmOperationErrors,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.TenantsActive,
		m.TemplatesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
