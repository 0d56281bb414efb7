package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

func newRequest(id, requester string, stage workflow.Stage, created time.Time) *entity.Request {
	return &entity.Request{
		ID:           id,
		Kind:         workflow.KindVehicle,
		RequesterID:  requester,
		CurrentStage: stage,
		CreatedAt:    created,
		Vehicle:      &entity.VehicleDetails{Destination: "Adama"},
	}
}

func TestRequests_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Requests()

	req := newRequest("r1", "u1", workflow.StageSupervisorReview, time.Now())
	require.NoError(t, repo.Create(ctx, req))
	assert.True(t, errors.Is(repo.Create(ctx, req), port.ErrDuplicate))

	a, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)

	a.CurrentStage = workflow.StageDGSReview
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.CurrentStage = workflow.StageRejected
	assert.True(t, errors.Is(repo.Update(ctx, b), port.ErrVersionConflict))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDGSReview, got.CurrentStage)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRequests_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Requests().Create(ctx, newRequest("r1", "u1", workflow.StageDraft, time.Now())))

	got, err := s.Requests().GetByID(ctx, "r1")
	require.NoError(t, err)
	got.Vehicle.Destination = "elsewhere"
	got.ActionHistory = append(got.ActionHistory, entity.ActionEntry{PerformedBy: "x"})

	again, err := s.Requests().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Adama", again.Vehicle.Destination)
	assert.Empty(t, again.ActionHistory)
}

func TestRequests_FindMatchesAnyCriterion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Requests()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	own := newRequest("own", "u1", workflow.StageNeedsCorrection, base)
	waiting := newRequest("waiting", "u2", workflow.StageDGSReview, base.Add(time.Hour))
	acted := newRequest("acted", "u3", workflow.StageDDGSReview, base.Add(2*time.Hour))
	acted.ActionHistory = []entity.ActionEntry{{PerformedBy: "u1"}}
	driving := newRequest("driving", "u4", workflow.StageAssigned, base.Add(3*time.Hour))
	driving.Vehicle.AssignedDriverID = "u1"
	other := newRequest("other", "u5", workflow.StageADTransportReview, base)
	ict := newRequest("ict", "u1", workflow.StageSupervisorReview, base)
	ict.Kind = workflow.KindICT

	for _, r := range []*entity.Request{own, waiting, acted, driving, other, ict} {
		require.NoError(t, repo.Create(ctx, r))
	}

	found, err := repo.Find(ctx, port.RequestQuery{
		Kind:             workflow.KindVehicle,
		RequesterID:      "u1",
		Stages:           []workflow.Stage{workflow.StageDGSReview},
		ActedBy:          "u1",
		AssignedDriverID: "u1",
	})
	require.NoError(t, err)

	var ids []string
	for _, r := range found {
		ids = append(ids, r.ID)
	}
	// newest first
	assert.Equal(t, []string{"driving", "acted", "waiting", "own"}, ids)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Vehicles().Upsert(ctx, &entity.Vehicle{ID: "v1", Status: entity.VehicleAvailable}))
	require.NoError(t, s.Requests().Create(ctx, newRequest("r1", "u1", workflow.StageDraft, time.Now())))

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.Requests().GetByID(txCtx, "r1")
		require.NoError(t, err)
		req.CurrentStage = workflow.StageCancelled
		require.NoError(t, s.Requests().Update(txCtx, req))
		require.NoError(t, s.Trips().Create(txCtx, &entity.Trip{ID: "t1", RequestID: "r1"}))
		require.NoError(t, s.Vehicles().UpdateStatus(txCtx, "v1", entity.VehicleCommitted))

		// nested transactions join the outer one
		return s.WithTransaction(txCtx, func(context.Context) error { return boom })
	})
	assert.Equal(t, boom, err)

	req, err := s.Requests().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDraft, req.CurrentStage)
	assert.Equal(t, int64(1), req.Version)

	trip, err := s.Trips().GetByRequestID(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, trip)

	v, err := s.Vehicles().GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, entity.VehicleAvailable, v.Status)
}

func TestTrips_OneTripPerRequest(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Trips()
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &entity.Trip{ID: "t1", RequestID: "r1", DriverID: "d1", VehicleID: "v1",
		Status: workflow.TripPending, Window: entity.Window{Start: start, End: start.Add(time.Hour)}}))
	err := repo.Create(ctx, &entity.Trip{ID: "t2", RequestID: "r1"})
	assert.True(t, errors.Is(err, port.ErrDuplicate))

	require.NoError(t, repo.Create(ctx, &entity.Trip{ID: "t3", RequestID: "r2", DriverID: "d1", VehicleID: "v2",
		Status: workflow.TripReturned, Window: entity.Window{Start: start.Add(-time.Hour), End: start}}))

	all, err := repo.ListByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t3", all[0].ID)

	live, err := repo.ListByDriver(ctx, "d1", workflow.TripPending, workflow.TripInProgress)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "t1", live[0].ID)
}

func TestNotifications_MarkReadChecksOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Notifications()
	require.NoError(t, repo.Create(ctx, &entity.Notification{ID: "n1", UserID: "u1"}))

	assert.True(t, errors.Is(repo.MarkRead(ctx, "u2", "n1"), port.ErrNotFound))
	require.NoError(t, repo.MarkRead(ctx, "u1", "n1"))

	unread, err := repo.ListByUser(ctx, "u1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
