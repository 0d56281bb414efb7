package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

type fakeMetrics struct {
	mu        sync.Mutex
	conflicts int
	failed    map[string]int
	delivered map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{failed: map[string]int{}, delivered: map[string]int{}}
}

func (m *fakeMetrics) TransitionApplied(workflow.Kind, workflow.Action, workflow.Stage) {}

func (m *fakeMetrics) AssignmentConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *fakeMetrics) NotificationFailed(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[channel]++
}

func (m *fakeMetrics) NotificationDelivered(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[channel]++
}

var hq = geo.Point{Lat: 9.0301, Lng: 38.7469}

// fixture wires every service over one in-memory store with a movable clock
type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	engine  *workflow.Engine
	metrics *fakeMetrics

	mu  sync.Mutex
	now time.Time

	requests map[workflow.Kind]RequestService
	assign   AssignmentService
	trips    TripService
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.NewStore(),
		engine:  workflow.NewEngine(workflow.DefaultRegistry()),
		metrics: newFakeMetrics(),
		now:     time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
	}

	users := []*entity.User{
		{ID: "staff1", Name: "Staff One", Roles: []workflow.Role{workflow.RoleStaff}, SupervisorID: "sup1"},
		{ID: "staff2", Name: "Staff Two", Roles: []workflow.Role{workflow.RoleStaff}, SupervisorID: "sup1"},
		{ID: "sup1", Name: "Supervisor One", Roles: []workflow.Role{workflow.RoleSupervisor}, IsSupervisor: true},
		{ID: "sup2", Name: "Supervisor Two", Roles: []workflow.Role{workflow.RoleSupervisor}, IsSupervisor: true},
		{ID: "dgs1", Name: "DGS", Roles: []workflow.Role{workflow.RoleDGS}},
		{ID: "ddgs1", Name: "DDGS", Roles: []workflow.Role{workflow.RoleDDGS}},
		{ID: "ad1", Name: "AD Transport", Roles: []workflow.Role{workflow.RoleADTransport}},
		{ID: "to1", Name: "Transport Officer", Roles: []workflow.Role{workflow.RoleTransportOfficer}},
		{ID: "drv1", Name: "Driver One", Roles: []workflow.Role{workflow.RoleDriver}},
		{ID: "drv2", Name: "Driver Two", Roles: []workflow.Role{workflow.RoleDriver}},
		{ID: "icthead", Name: "ICT Head", Roles: []workflow.Role{workflow.RoleICTHead}},
		{ID: "ictofficer", Name: "ICT Officer", Roles: []workflow.Role{workflow.RoleICTOfficer}},
	}
	for _, u := range users {
		require.NoError(t, f.store.Users().Upsert(f.ctx, u))
	}
	for _, id := range []string{"drv1", "drv2"} {
		require.NoError(t, f.store.Drivers().Upsert(f.ctx, &entity.Driver{ID: id, Name: id, Status: entity.DriverActive}))
	}
	require.NoError(t, f.store.Drivers().Upsert(f.ctx, &entity.Driver{ID: "drv3", Name: "drv3", Status: entity.DriverInactive}))
	require.NoError(t, f.store.Vehicles().Upsert(f.ctx, &entity.Vehicle{ID: "v1", PlateNumber: "AA-1", Model: "Corolla", Capacity: 4, Status: entity.VehicleAvailable}))
	require.NoError(t, f.store.Vehicles().Upsert(f.ctx, &entity.Vehicle{ID: "v2", PlateNumber: "AA-2", Model: "HiAce", Capacity: 14, Status: entity.VehicleAvailable}))
	require.NoError(t, f.store.Vehicles().Upsert(f.ctx, &entity.Vehicle{ID: "v3", PlateNumber: "AA-3", Model: "Land Cruiser", Capacity: 7, Status: entity.VehicleMaintenance}))
	require.NoError(t, f.store.Offices().Upsert(f.ctx, &entity.Office{ID: "hq", Name: "Head Office", Location: hq}))

	opts := []Option{WithClock(f.clock), WithMetrics(f.metrics)}
	f.requests = make(map[workflow.Kind]RequestService)
	for _, kind := range f.engine.Registry().Kinds() {
		f.requests[kind] = NewRequestService(kind, f.engine,
			f.store.Requests(), f.store.Users(), f.store.Offices(), f.store, nopLogger{}, opts...)
	}
	f.assign = NewAssignmentService(f.engine,
		f.store.Requests(), f.store.Trips(), f.store.Users(), f.store.Drivers(),
		f.store.Vehicles(), f.store.Offices(), lock.NewMemoryLocker(time.Second), f.store, nopLogger{}, opts...)
	f.trips = NewTripService(f.engine,
		f.store.Requests(), f.store.Trips(), f.store.Users(), f.store.Vehicles(),
		f.store.Offices(), f.store, nopLogger{}, opts...)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) vehicles() RequestService { return f.requests[workflow.KindVehicle] }

// vehicleInput asks for a trip starting in `in` hours and lasting `hours` hours
func (f *fixture) vehicleInput(in, hours, passengers int) CreateRequestInput {
	start := f.clock().Add(time.Duration(in) * time.Hour)
	return CreateRequestInput{
		Purpose: "Field visit",
		Vehicle: &VehicleInput{
			OriginOffice:   "hq",
			Destination:    "Adama",
			StartDate:      start,
			EndDate:        start.Add(time.Duration(hours) * time.Hour),
			PassengerCount: passengers,
		},
	}
}

func (f *fixture) createVehicle(actor string, in CreateRequestInput) *entity.Request {
	res, err := f.vehicles().Create(f.ctx, actor, in)
	require.NoError(f.t, err)
	return res.Request
}

// toAssignment walks a staff1 vehicle request through every review tier
func (f *fixture) toAssignment(in CreateRequestInput) *entity.Request {
	req := f.createVehicle("staff1", in)
	for _, reviewer := range []string{"sup1", "dgs1", "ddgs1", "ad1"} {
		res, err := f.vehicles().Approve(f.ctx, req.ID, reviewer, "")
		require.NoError(f.t, err)
		req = res.Request
	}
	require.Equal(f.t, workflow.StageTransportAssignment, req.CurrentStage)
	return req
}

func (f *fixture) assignInput(requestID, driver, vehicle string) AssignInput {
	return AssignInput{
		RequestID:      requestID,
		DriverID:       driver,
		VehicleID:      vehicle,
		PickupOfficeID: "hq",
		ActorID:        "to1",
	}
}

func (f *fixture) request(id string) *entity.Request {
	req, err := f.store.Requests().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, req)
	return req
}

func (f *fixture) vehicleStatus(id string) entity.VehicleStatus {
	v, err := f.store.Vehicles().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return v.Status
}

func (f *fixture) trip(id string) *entity.Trip {
	trip, err := f.store.Trips().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, trip)
	return trip
}
