package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

func TestMetrics_ServiceCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TransitionApplied(workflow.KindVehicle, workflow.ActionApprove, workflow.StageDGSReview)
	m.TransitionApplied(workflow.KindVehicle, workflow.ActionApprove, workflow.StageDGSReview)
	m.AssignmentConflict()
	m.NotificationDelivered("lark")
	m.NotificationFailed("lark")
	m.NotificationFailed("lark")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("vehicle", "approve", "dgs_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("lark", "delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("lark", "failed")))
}

func TestMetrics_ObservesTripEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	d := dispatcher.NewDispatcher()
	m.Register(d)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeTripStarted, "t1", nil)))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeTripCompleted, "t1",
		map[string]interface{}{"distance_km": 42.0})))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeRequestCreated, "r1", nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tripEvents.WithLabelValues("trip.started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tripEvents.WithLabelValues("trip.completed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.tripEvents))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tripDistance))
}

func TestMetrics_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/requests/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/requests/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/requests/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}
