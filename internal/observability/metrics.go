package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

const namespace = "fleet"

// Metrics holds the prometheus collectors of the service
type Metrics struct {
	transitions   *prometheus.CounterVec
	conflicts     prometheus.Counter
	notifications *prometheus.CounterVec
	tripEvents    *prometheus.CounterVec
	tripDistance  prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "workflow_transitions_total",
			Help: "Committed workflow transitions",
		}, []string{"kind", "action", "to_stage"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "assignment_conflicts_total",
			Help: "Assignments refused because a driver, vehicle or request was taken concurrently",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		tripEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trip_events_total",
			Help: "Trip lifecycle and telemetry events",
		}, []string{"type"}),
		tripDistance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "trip_distance_km",
			Help:    "Driven distance of completed trips",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total HTTP requests handled",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) TransitionApplied(kind workflow.Kind, action workflow.Action, to workflow.Stage) {
	m.transitions.WithLabelValues(string(kind), string(action), string(to)).Inc()
}

func (m *Metrics) AssignmentConflict() {
	m.conflicts.Inc()
}

func (m *Metrics) NotificationFailed(channel string) {
	m.notifications.WithLabelValues(channel, "failed").Inc()
}

func (m *Metrics) NotificationDelivered(channel string) {
	m.notifications.WithLabelValues(channel, "delivered").Inc()
}

// Register subscribes the trip collectors to the dispatcher
func (m *Metrics) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll("metrics", m.observe)
}

func (m *Metrics) observe(_ context.Context, evt *event.Event) error {
	if !evt.Type.IsTrip() {
		return nil
	}
	m.tripEvents.WithLabelValues(evt.Type.String()).Inc()
	if evt.Type == event.TypeTripCompleted {
		m.tripDistance.Observe(evt.GetPayloadFloat("distance_km"))
	}
	return nil
}

// GinMiddleware records request counts and latency by route template
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
