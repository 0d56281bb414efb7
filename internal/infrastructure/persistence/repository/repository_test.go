package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/fleet-requests/migrations"
	"github.com/garyjia/fleet-requests/pkg/database"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "fleet.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(migrations.FS))
	return sqlite.NewDB(db.DB, logger)
}

func vehicleRequest(id, requester string, created time.Time) *entity.Request {
	return &entity.Request{
		ID:           id,
		Kind:         workflow.KindVehicle,
		RequesterID:  requester,
		SupervisorID: "sup1",
		Purpose:      "Field visit",
		CurrentStage: workflow.StageSupervisorReview,
		Vehicle: &entity.VehicleDetails{
			OriginOffice:   "hq",
			Destination:    "Adama",
			StartDate:      created.Add(24 * time.Hour),
			EndDate:        created.Add(32 * time.Hour),
			PassengerCount: 2,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRequestRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(newTestDB(t), zap.NewNop())

	req := vehicleRequest("r1", "staff1", t0)
	require.NoError(t, repo.Create(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	err := repo.Create(ctx, vehicleRequest("r1", "staff1", t0))
	assert.True(t, errors.Is(err, port.ErrDuplicate), "got %v", err)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Adama", got.Vehicle.Destination)
	assert.Equal(t, int64(1), got.Version)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.CurrentStage = workflow.StageDGSReview
	got.ActionHistory = append(got.ActionHistory, entity.ActionEntry{
		Action:      workflow.ActionApprove,
		PerformedBy: "sup1",
		PerformedAt: t0.Add(time.Hour),
		Stage:       workflow.StageSupervisorReview,
		ToStage:     workflow.StageDGSReview,
	})
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	stored, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDGSReview, stored.CurrentStage)
	require.Len(t, stored.ActionHistory, 1)
	assert.Equal(t, int64(2), stored.Version)
}

func TestRequestRepository_UpdateConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(newTestDB(t), zap.NewNop())
	require.NoError(t, repo.Create(ctx, vehicleRequest("r1", "staff1", t0)))

	a, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)

	a.CurrentStage = workflow.StageDGSReview
	require.NoError(t, repo.Update(ctx, a))

	b.CurrentStage = workflow.StageRejected
	err = repo.Update(ctx, b)
	assert.True(t, errors.Is(err, port.ErrVersionConflict), "got %v", err)

	ghost := vehicleRequest("ghost", "staff1", t0)
	ghost.Version = 1
	err = repo.Update(ctx, ghost)
	assert.True(t, errors.Is(err, port.ErrNotFound), "got %v", err)
}

func TestRequestRepository_Find(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(newTestDB(t), zap.NewNop())

	own := vehicleRequest("r1", "staff1", t0)
	waiting := vehicleRequest("r2", "staff2", t0.Add(time.Minute))
	waiting.CurrentStage = workflow.StageDGSReview
	acted := vehicleRequest("r3", "staff2", t0.Add(2*time.Minute))
	acted.CurrentStage = workflow.StageRejected
	acted.ActionHistory = []entity.ActionEntry{{Action: workflow.ActionReject, PerformedBy: "dgs1"}}
	driven := vehicleRequest("r4", "staff2", t0.Add(3*time.Minute))
	driven.CurrentStage = workflow.StageAssigned
	driven.Vehicle.AssignedDriverID = "drv1"
	ict := &entity.Request{
		ID: "i1", Kind: workflow.KindICT, RequesterID: "staff1", Purpose: "Laptop",
		CurrentStage: workflow.StageSupervisorReview, CreatedAt: t0, UpdatedAt: t0,
		Items: []entity.RequestItem{{Name: "Laptop", Quantity: 1}},
	}
	for _, r := range []*entity.Request{own, waiting, acted, driven, ict} {
		require.NoError(t, repo.Create(ctx, r))
	}

	ids := func(reqs []*entity.Request) []string {
		out := make([]string, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		query port.RequestQuery
		want  []string
	}{
		{"requester", port.RequestQuery{Kind: workflow.KindVehicle, RequesterID: "staff1"}, []string{"r1"}},
		{"stages", port.RequestQuery{Kind: workflow.KindVehicle, Stages: []workflow.Stage{workflow.StageDGSReview}}, []string{"r2"}},
		{"acted by", port.RequestQuery{Kind: workflow.KindVehicle, ActedBy: "dgs1"}, []string{"r3"}},
		{"driver", port.RequestQuery{Kind: workflow.KindVehicle, AssignedDriverID: "drv1"}, []string{"r4"}},
		{
			"any criterion, newest first",
			port.RequestQuery{Kind: workflow.KindVehicle, Stages: []workflow.Stage{workflow.StageDGSReview}, ActedBy: "dgs1"},
			[]string{"r3", "r2"},
		},
		{"other kind", port.RequestQuery{Kind: workflow.KindICT, RequesterID: "staff1"}, []string{"i1"}},
		{"no criteria", port.RequestQuery{Kind: workflow.KindVehicle}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Find(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestTripRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	requests := NewRequestRepository(db, zap.NewNop())
	trips := NewTripRepository(db, zap.NewNop())

	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, requests.Create(ctx, vehicleRequest(id, "staff1", t0)))
	}

	first := &entity.Trip{
		ID: "t1", RequestID: "r1", DriverID: "drv1", VehicleID: "v1", PickupOfficeID: "hq",
		Status: workflow.TripPending,
		Window: entity.Window{Start: t0.Add(48 * time.Hour), End: t0.Add(50 * time.Hour)},
		CreatedAt: t0, UpdatedAt: t0,
	}
	second := &entity.Trip{
		ID: "t2", RequestID: "r2", DriverID: "drv1", VehicleID: "v2", PickupOfficeID: "hq",
		Status: workflow.TripPending,
		Window: entity.Window{Start: t0.Add(24 * time.Hour), End: t0.Add(26 * time.Hour)},
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, trips.Create(ctx, first))
	require.NoError(t, trips.Create(ctx, second))

	dup := *first
	dup.ID = "t3"
	err := trips.Create(ctx, &dup)
	assert.True(t, errors.Is(err, port.ErrDuplicate), "one trip per request, got %v", err)

	byReq, err := trips.GetByRequestID(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, byReq)
	assert.Equal(t, "t2", byReq.ID)

	list, err := trips.ListByDriver(ctx, "drv1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID, "ordered by window start")

	first.Status = workflow.TripInProgress
	first.Route = append(first.Route, entity.RoutePoint{Point: geo.Point{Lat: 9.03, Lng: 38.74}, Timestamp: t0})
	require.NoError(t, trips.Update(ctx, first))

	running, err := trips.ListByDriver(ctx, "drv1", workflow.TripInProgress)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Len(t, running[0].Route, 1)

	// the schema allows one trip in progress per driver
	second.Status = workflow.TripInProgress
	err = trips.Update(ctx, second)
	assert.True(t, errors.Is(err, port.ErrDuplicate), "got %v", err)

	onVehicle, err := trips.ListByVehicle(ctx, "v2", workflow.TripPending)
	require.NoError(t, err)
	assert.Len(t, onVehicle, 1)
}

func TestUserAndFleetRepositories(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db, zap.NewNop())
	vehicles := NewVehicleRepository(db, zap.NewNop())
	drivers := NewDriverRepository(db, zap.NewNop())
	offices := NewOfficeRepository(db, zap.NewNop())

	require.NoError(t, users.Upsert(ctx, &entity.User{ID: "to1", Name: "Officer", Roles: []workflow.Role{workflow.RoleTransportOfficer}}))
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: "a1", Name: "Admin", Roles: []workflow.Role{workflow.RoleAdmin, workflow.RoleTransportOfficer}}))
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: "s1", Name: "Staff", Roles: []workflow.Role{workflow.RoleStaff}}))

	officers, err := users.ListByRole(ctx, workflow.RoleTransportOfficer)
	require.NoError(t, err)
	assert.Len(t, officers, 2)

	require.NoError(t, users.Upsert(ctx, &entity.User{ID: "s1", Name: "Staff Renamed", Roles: []workflow.Role{workflow.RoleStaff}, LarkOpenID: "ou_1"}))
	u, err := users.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Staff Renamed", u.Name)
	assert.Equal(t, "ou_1", u.LarkOpenID)

	require.NoError(t, vehicles.Upsert(ctx, &entity.Vehicle{ID: "v1", PlateNumber: "AA-1", Capacity: 4, Status: entity.VehicleAvailable}))
	require.NoError(t, vehicles.UpdateStatus(ctx, "v1", entity.VehicleCommitted))
	v, err := vehicles.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, entity.VehicleCommitted, v.Status)
	assert.True(t, errors.Is(vehicles.UpdateStatus(ctx, "v9", entity.VehicleAvailable), port.ErrNotFound))

	require.NoError(t, drivers.Upsert(ctx, &entity.Driver{ID: "drv1", Name: "Driver", Status: entity.DriverActive}))
	all, err := drivers.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	hq := geo.Point{Lat: 9.0301, Lng: 38.7469}
	require.NoError(t, offices.Upsert(ctx, &entity.Office{ID: "hq", Name: "Head Office", Location: hq}))
	o, err := offices.GetByID(ctx, "hq")
	require.NoError(t, err)
	assert.Equal(t, hq, o.Location)
}

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(newTestDB(t), zap.NewNop())

	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, repo.Create(ctx, &entity.Notification{
			ID: id, UserID: "staff1", Type: entity.NotificationRejected,
			Title: "Request rejected", CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Create(ctx, &entity.Notification{ID: "other", UserID: "staff2", Title: "x", CreatedAt: t0}))

	require.NoError(t, repo.MarkRead(ctx, "staff1", "n2"))
	assert.True(t, errors.Is(repo.MarkRead(ctx, "staff2", "n1"), port.ErrNotFound))

	all, err := repo.ListByUser(ctx, "staff1", false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "n3", all[0].ID)

	unread, err := repo.ListByUser(ctx, "staff1", true, 1)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n3", unread[0].ID)
	assert.True(t, unread[0].CreatedAt.Equal(t0.Add(2*time.Minute)))
}
