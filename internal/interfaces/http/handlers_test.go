package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/application/service"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/lock"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type requestBody struct {
	ID            string               `json:"id"`
	CurrentStage  workflow.Stage       `json:"current_stage"`
	Status        workflow.Status      `json:"status"`
	ActionHistory []entity.ActionEntry `json:"action_history"`
}

type resultBody struct {
	Request *requestBody `json:"request"`
	Trip    *entity.Trip `json:"trip"`
}

type testServer struct {
	t             *testing.T
	router        http.Handler
	notifications service.NotificationService
}

func newTestServer(t *testing.T) *testServer {
	ctx := context.Background()
	store := memory.NewStore()
	engine := workflow.NewEngine(workflow.DefaultRegistry())

	users := []*entity.User{
		{ID: "staff1", Name: "Staff One", Roles: []workflow.Role{workflow.RoleStaff}, SupervisorID: "sup1"},
		{ID: "sup1", Name: "Supervisor One", Roles: []workflow.Role{workflow.RoleSupervisor}, IsSupervisor: true},
		{ID: "dgs1", Name: "DGS", Roles: []workflow.Role{workflow.RoleDGS}},
		{ID: "ddgs1", Name: "DDGS", Roles: []workflow.Role{workflow.RoleDDGS}},
		{ID: "ad1", Name: "AD Transport", Roles: []workflow.Role{workflow.RoleADTransport}},
		{ID: "to1", Name: "Transport Officer", Roles: []workflow.Role{workflow.RoleTransportOfficer}},
		{ID: "drv1", Name: "Driver One", Roles: []workflow.Role{workflow.RoleDriver}},
	}
	for _, u := range users {
		require.NoError(t, store.Users().Upsert(ctx, u))
	}
	require.NoError(t, store.Drivers().Upsert(ctx, &entity.Driver{ID: "drv1", Name: "Driver One", Status: entity.DriverActive}))
	require.NoError(t, store.Vehicles().Upsert(ctx, &entity.Vehicle{ID: "v1", PlateNumber: "AA-1", Model: "HiAce", Capacity: 14, Status: entity.VehicleAvailable}))
	require.NoError(t, store.Offices().Upsert(ctx, &entity.Office{ID: "hq", Name: "Head Office", Location: geo.Point{Lat: 9.0301, Lng: 38.7469}}))

	requests := make(map[workflow.Kind]service.RequestService)
	for _, kind := range engine.Registry().Kinds() {
		requests[kind] = service.NewRequestService(kind, engine,
			store.Requests(), store.Users(), store.Offices(), store, nopLogger{})
	}
	notifications := service.NewNotificationService(store.Notifications(), store.Users(), nil, time.Second, nopLogger{})
	t.Cleanup(notifications.Close)

	srv := NewServer(DefaultServerConfig(), Services{
		Requests: requests,
		Assignments: service.NewAssignmentService(engine,
			store.Requests(), store.Trips(), store.Users(), store.Drivers(),
			store.Vehicles(), store.Offices(), lock.NewMemoryLocker(time.Second), store, nopLogger{}),
		Trips: service.NewTripService(engine,
			store.Requests(), store.Trips(), store.Users(), store.Vehicles(),
			store.Offices(), store, nopLogger{}),
		Notifications: notifications,
	}, nopLogger{})

	return &testServer{t: t, router: srv.Router(), notifications: notifications}
}

func (s *testServer) do(method, path, actor string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) result(env envelope) resultBody {
	var out resultBody
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return out
}

func (s *testServer) createVehicleRequest() string {
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	status, env := s.do(http.MethodPost, "/api/requests/vehicle", "staff1", service.CreateRequestInput{
		Purpose: "Field visit",
		Vehicle: &service.VehicleInput{
			OriginOffice:   "hq",
			Destination:    "Adama",
			StartDate:      start,
			EndDate:        start.Add(8 * time.Hour),
			PassengerCount: 2,
		},
	})
	require.Equal(s.t, http.StatusCreated, status, env.Error)
	return s.result(env).Request.ID
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAPI_RequiresActor(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(http.MethodGet, "/api/requests/vehicle", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	id := s.createVehicleRequest()

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   interface{}
		status int
		code   string
	}{
		{"unknown kind", http.MethodGet, "/api/requests/boats", "staff1", nil, http.StatusNotFound, "not_found"},
		{"unknown request", http.MethodGet, "/api/requests/vehicle/nope", "staff1", nil, http.StatusNotFound, "not_found"},
		{"wrong reviewer", http.MethodPost, "/api/requests/vehicle/" + id + "/approve", "ddgs1", nil, http.StatusForbidden, "forbidden"},
		{"invalid payload", http.MethodPost, "/api/requests/vehicle", "staff1", map[string]string{"purpose": ""}, http.StatusBadRequest, "validation"},
		{"resubmit while pending", http.MethodPost, "/api/requests/vehicle/" + id + "/resubmit", "staff1", nil, http.StatusConflict, "invalid_state"},
		{"assign on ict", http.MethodPost, "/api/requests/ict/" + id + "/assign", "to1", nil, http.StatusNotFound, "not_found"},
		{"half window", http.MethodGet, "/api/fleet/drivers/available?start=2026-01-01T08:00:00Z", "to1", nil, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, status, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestAPI_VehicleRequestLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createVehicleRequest()
	base := "/api/requests/vehicle/" + id

	status, env := s.do(http.MethodGet, base, "staff1", nil)
	require.Equal(t, http.StatusOK, status)
	var got requestBody
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, workflow.StageSupervisorReview, got.CurrentStage)
	assert.Equal(t, workflow.StatusPending, got.Status)

	for _, reviewer := range []string{"sup1", "dgs1", "ddgs1", "ad1"} {
		status, env = s.do(http.MethodPost, base+"/approve", reviewer, map[string]string{"comments": "ok"})
		require.Equal(t, http.StatusOK, status, "%s: %s", reviewer, env.Error)
	}
	assert.Equal(t, workflow.StageTransportAssignment, s.result(env).Request.CurrentStage)

	status, env = s.do(http.MethodGet, "/api/fleet/vehicles/available?min_capacity=10", "to1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var vehicles []entity.Vehicle
	require.NoError(t, json.Unmarshal(env.Data, &vehicles))
	require.Len(t, vehicles, 1)
	assert.Equal(t, "v1", vehicles[0].ID)

	status, env = s.do(http.MethodPost, base+"/assign", "to1", map[string]string{
		"driver_id":        "drv1",
		"vehicle_id":       "v1",
		"pickup_office_id": "hq",
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	res := s.result(env)
	assert.Equal(t, workflow.StatusAssigned, res.Request.Status)
	require.NotNil(t, res.Trip)
	tripID := res.Trip.ID

	status, env = s.do(http.MethodGet, base+"/trip", "drv1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = s.do(http.MethodPost, "/api/trips/"+tripID+"/start", "drv1", map[string]interface{}{
		"location": map[string]float64{"lat": 9.0301, "lng": 38.7469},
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, workflow.StatusInProgress, s.result(env).Request.Status)

	status, env = s.do(http.MethodPost, "/api/trips/"+tripID+"/location", "drv1", map[string]float64{"lat": 8.54, "lng": 39.27})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = s.do(http.MethodPost, "/api/trips/"+tripID+"/complete", "drv1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	res = s.result(env)
	assert.Equal(t, workflow.StatusCompleted, res.Request.Status)
	require.NotNil(t, res.Trip.Distance)
	assert.Greater(t, *res.Trip.Distance, 50.0)

	status, env = s.do(http.MethodPost, "/api/trips/"+tripID+"/return", "to1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, workflow.StatusReturned, s.result(env).Request.Status)

	status, env = s.do(http.MethodGet, base+"/history", "staff1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
}

func TestAPI_Notifications(t *testing.T) {
	s := newTestServer(t)
	id := s.createVehicleRequest()
	status, env := s.do(http.MethodPost, "/api/requests/vehicle/"+id+"/reject", "sup1", map[string]string{"reason": "no budget"})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, workflow.StatusRejected, s.result(env).Request.Status)

	// wait for background delivery
	s.notifications.Close()

	q := url.Values{"unread": {"true"}, "limit": {"10"}}
	status, env = s.do(http.MethodGet, "/api/notifications?"+q.Encode(), "staff1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var list []entity.Notification
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.NotEmpty(t, list)

	status, env = s.do(http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "staff1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = s.do(http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "sup1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Code)
}
