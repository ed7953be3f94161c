package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Case engine metrics
	casesPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_promoted_total",
			Help: "Total number of reports promoted to cases",
		},
		[]string{"outcome"},
	)

	caseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_transitions_total",
			Help: "Total number of case state transitions applied",
		},
		[]string{"finished"},
	)

	transitionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "case_transition_conflicts_total",
			Help: "Total number of transitions rejected by the optimistic version check",
		},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource_type", "action", "decision"},
	)

	hierarchyRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authority_hierarchy_rebuilds_total",
			Help: "Total number of authority closure rebuilds",
		},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of rendered notifications handed to a sender",
		},
		[]string{"type", "status"},
	)

	eventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Total number of events that could not be published after commit",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware. Paths are labelled with the
// matched chi route pattern to bound cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RecordPromotion records a promote attempt outcome: promoted, no_match,
// ambiguous or already_promoted.
func RecordPromotion(outcome string) {
	casesPromoted.WithLabelValues(outcome).Inc()
}

// RecordTransition records an applied case transition
func RecordTransition(finished bool) {
	caseTransitions.WithLabelValues(strconv.FormatBool(finished)).Inc()
}

// RecordTransitionConflict records a lost optimistic-lock race
func RecordTransitionConflict() {
	transitionConflicts.Inc()
}

// RecordAuthorizationDecision records an authorization decision
func RecordAuthorizationDecision(resourceType, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(resourceType, action, decision).Inc()
}

// RecordHierarchyRebuild records an authority closure rebuild
func RecordHierarchyRebuild() {
	hierarchyRebuilds.Inc()
}

// RecordNotification records a notification hand-off
func RecordNotification(kind string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	notificationsDispatched.WithLabelValues(kind, status).Inc()
}

// RecordPublishFailure records an event that failed to publish
func RecordPublishFailure(eventType string) {
	eventPublishFailures.WithLabelValues(eventType).Inc()
}
