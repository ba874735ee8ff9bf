// Package metrics exposes Prometheus collectors for the HTTP surface, the
// generation pipeline and the review workflow.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	imagesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_images_total",
			Help: "Generated images by artifact namespace and outcome",
		},
		[]string{"namespace", "outcome"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_batch_duration_seconds",
			Help:    "Wall-clock duration of a generation batch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"namespace"},
	)

	draftReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_reviews_total",
			Help: "Draft review decisions",
		},
		[]string{"action"}, // approve, reject
	)

	templateUsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "template_uses_total",
			Help: "Total number of template personalisations started",
		},
	)

	databaseConnectionsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "database_connections_in_use",
		Help: "Database connections currently in use",
	})
	databaseConnectionsIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "database_connections_idle",
		Help: "Idle database connections",
	})
	databaseConnectionsMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "database_connections_max",
		Help: "Maximum number of open database connections",
	})
)

var once sync.Once

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		imagesGeneratedTotal,
		batchDuration,
		draftReviewsTotal,
		templateUsesTotal,
		databaseConnectionsInUse,
		databaseConnectionsIdle,
		databaseConnectionsMax,
	)

	// The default registry may already carry runtime collectors.
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler serves the default registry. When db is non-nil its pool stats
// are sampled on every scrape.
func Handler(db *sql.DB) http.Handler {
	h := promhttp.Handler()
	if db == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		UpdateDatabaseConnections(db)
		h.ServeHTTP(w, r)
	})
}

// RecordHTTPRequest records one served request. route is the matched
// route pattern, not the raw path.
func RecordHTTPRequest(method, route string, status int, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordImage counts one generated (or failed) image.
func RecordImage(namespace, outcome string) {
	imagesGeneratedTotal.WithLabelValues(namespace, outcome).Inc()
}

// ObserveBatch records how long a generation batch took.
func ObserveBatch(namespace string, seconds float64) {
	batchDuration.WithLabelValues(namespace).Observe(seconds)
}

// RecordReview counts a draft approval or rejection.
func RecordReview(action string) {
	draftReviewsTotal.WithLabelValues(action).Inc()
}

// RecordTemplateUse counts a started personalisation.
func RecordTemplateUse() {
	templateUsesTotal.Inc()
}

// UpdateDatabaseConnections samples the pool stats of db.
func UpdateDatabaseConnections(db *sql.DB) {
	stats := db.Stats()
	databaseConnectionsInUse.Set(float64(stats.InUse))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))
}
