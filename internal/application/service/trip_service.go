package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// TripService runs assigned trips: start, tracking, completion and vehicle return.
// Every trip status change moves the owning request with it.
type TripService interface {
	Get(ctx context.Context, id, actorID string) (*entity.Trip, error)
	GetByRequest(ctx context.Context, requestID, actorID string) (*entity.Trip, error)
	ListByDriver(ctx context.Context, driverID, actorID string) ([]*entity.Trip, error)
	Start(ctx context.Context, tripID, actorID string, at *geo.Point) (*Result, error)
	// UpdateLocation records a route point. A completed trip that reaches its pickup office is returned automatically.
	UpdateLocation(ctx context.Context, tripID, actorID string, p geo.TimedPoint) (*Result, error)
	Complete(ctx context.Context, tripID, actorID string, at *geo.Point) (*Result, error)
	MarkReturned(ctx context.Context, tripID, actorID string) (*Result, error)
}

// fleetRoles may see every trip
var fleetRoles = []workflow.Role{
	workflow.RoleTransportOfficer,
	workflow.RoleDGS,
	workflow.RoleADTransport,
	workflow.RoleAdmin,
}

type tripServiceImpl struct {
	engine    *workflow.Engine
	requests  port.RequestRepository
	trips     port.TripRepository
	users     port.UserRepository
	vehicles  port.VehicleRepository
	offices   port.OfficeRepository
	txManager port.TransactionManager
	logger    Logger
	opts      options
}

// NewTripService creates a new trip service
func NewTripService(
	engine *workflow.Engine,
	requests port.RequestRepository,
	trips port.TripRepository,
	users port.UserRepository,
	vehicles port.VehicleRepository,
	offices port.OfficeRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) TripService {
	return &tripServiceImpl{
		engine:    engine,
		requests:  requests,
		trips:     trips,
		users:     users,
		vehicles:  vehicles,
		offices:   offices,
		txManager: txManager,
		logger:    logger,
		opts:      newOptions(opts),
	}
}

func (s *tripServiceImpl) Get(ctx context.Context, id, actorID string) (*entity.Trip, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	trip, err := s.loadTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

func (s *tripServiceImpl) GetByRequest(ctx context.Context, requestID, actorID string) (*entity.Trip, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	trip, err := s.trips.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, internal(err, "load trip for request %s", requestID)
	}
	if trip == nil {
		return nil, notFound("no trip for request %s", requestID)
	}
	if err := s.authorizeView(ctx, actor, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

func (s *tripServiceImpl) ListByDriver(ctx context.Context, driverID, actorID string) ([]*entity.Trip, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if actor.ID != driverID && !hasAnyRole(actor.Actor(), fleetRoles) {
		return nil, forbidden("actor %s may not list trips of driver %s", actor.ID, driverID)
	}
	trips, err := s.trips.ListByDriver(ctx, driverID)
	if err != nil {
		return nil, internal(err, "list trips for driver %s", driverID)
	}
	return trips, nil
}

// authorizeView lets the driver, the requester and fleet staff see a trip
func (s *tripServiceImpl) authorizeView(ctx context.Context, actor *entity.User, trip *entity.Trip) error {
	if trip.DriverID == actor.ID || hasAnyRole(actor.Actor(), fleetRoles) {
		return nil
	}
	req, err := s.requests.GetByID(ctx, trip.RequestID)
	if err != nil {
		return internal(err, "load request %s", trip.RequestID)
	}
	if req != nil && (req.RequesterID == actor.ID || req.ActedBy(actor.ID)) {
		return nil
	}
	return notFound("trip %s not found", trip.ID)
}

func (s *tripServiceImpl) Start(ctx context.Context, tripID, actorID string, at *geo.Point) (*Result, error) {
	if at != nil && !at.Valid() {
		return nil, validation("coordinates out of range")
	}
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	trip, req, _, err := s.advance(ctx, tripID, actor.ID, actor.Actor(), workflow.TripEventStart, func(t *entity.Trip, now time.Time) {
		t.StartTime = &now
		if at != nil {
			p := *at
			t.StartLocation.Point = &p
			t.Route = append(t.Route, entity.RoutePoint{Point: p, Timestamp: now})
		}
	}, nil)
	if err != nil {
		return nil, err
	}

	s.opts.publish(ctx, event.NewEvent(event.TypeTripStarted, trip.ID, map[string]interface{}{
		"request_id": trip.RequestID,
		"driver_id":  trip.DriverID,
		"vehicle_id": trip.VehicleID,
	}))
	return &Result{Request: req, Trip: trip, Effects: []Effect{{
		Recipients: append([]string{req.RequesterID}, req.Participants(req.RequesterID, trip.DriverID)...),
		Type:       entity.NotificationTripStarted,
		Title:      "Trip started",
		Body:       fmt.Sprintf("Your trip to %s has started.", req.Vehicle.Destination),
		RelatedID:  req.ID,
	}}}, nil
}

func (s *tripServiceImpl) Complete(ctx context.Context, tripID, actorID string, at *geo.Point) (*Result, error) {
	if at != nil && !at.Valid() {
		return nil, validation("coordinates out of range")
	}
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	trip, req, _, err := s.advance(ctx, tripID, actor.ID, actor.Actor(), workflow.TripEventComplete, func(t *entity.Trip, now time.Time) {
		t.EndTime = &now
		if at != nil {
			p := *at
			t.EndLocation.Point = &p
			t.Route = append(t.Route, entity.RoutePoint{Point: p, Timestamp: now})
		}
		start := now
		if t.StartTime != nil {
			start = *t.StartTime
		}
		stats := geo.Summarize(t.Route, start, now)
		t.Distance = &stats.DistanceKm
		t.Duration = &stats.DurationMinutes
		t.AverageSpeed = &stats.AverageSpeedKmh
	}, nil)
	if err != nil {
		return nil, err
	}

	s.opts.publish(ctx, event.NewEvent(event.TypeTripCompleted, trip.ID, map[string]interface{}{
		"request_id":    trip.RequestID,
		"driver_id":     trip.DriverID,
		"distance_km":   *trip.Distance,
		"duration_min":  *trip.Duration,
		"avg_speed_kmh": *trip.AverageSpeed,
	}))
	return &Result{Request: req, Trip: trip, Effects: []Effect{{
		Recipients: []string{req.RequesterID},
		Roles:      []workflow.Role{workflow.RoleTransportOfficer},
		Type:       entity.NotificationTripCompleted,
		Title:      "Trip completed",
		Body:       fmt.Sprintf("The trip to %s is complete (%.1f km).", req.Vehicle.Destination, *trip.Distance),
		RelatedID:  req.ID,
	}}}, nil
}

func (s *tripServiceImpl) MarkReturned(ctx context.Context, tripID, actorID string) (*Result, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	return s.markReturned(ctx, tripID, actor.ID, actor.Actor())
}

func (s *tripServiceImpl) markReturned(ctx context.Context, tripID, actorID string, actor workflow.Actor) (*Result, error) {
	trip, req, changed, err := s.advance(ctx, tripID, actorID, actor, workflow.TripEventReturn,
		func(t *entity.Trip, now time.Time) { t.ReturnTime = &now },
		s.releaseVehicle,
	)
	if err != nil {
		return nil, err
	}
	// returning twice is harmless
	if !changed {
		return &Result{Request: req, Trip: trip}, nil
	}

	s.opts.publish(ctx, event.NewEvent(event.TypeTripReturned, trip.ID, map[string]interface{}{
		"request_id": trip.RequestID,
		"vehicle_id": trip.VehicleID,
		"actor_id":   actorID,
	}))
	return &Result{Request: req, Trip: trip, Effects: []Effect{{
		Recipients: []string{req.RequesterID},
		Roles:      []workflow.Role{workflow.RoleTransportOfficer},
		Type:       entity.NotificationVehicleReturned,
		Title:      "Vehicle returned",
		Body:       fmt.Sprintf("The vehicle from the trip to %s is back at the pickup office.", req.Vehicle.Destination),
		RelatedID:  req.ID,
	}}}, nil
}

// releaseVehicle makes the vehicle available again once it holds no other live trip.
// It runs inside the return transaction.
func (s *tripServiceImpl) releaseVehicle(ctx context.Context, trip *entity.Trip) error {
	others, err := s.trips.ListByVehicle(ctx, trip.VehicleID, workflow.TripPending, workflow.TripInProgress, workflow.TripCompleted)
	if err != nil {
		return internal(err, "list trips for vehicle %s", trip.VehicleID)
	}
	for _, t := range others {
		if t.ID != trip.ID {
			return nil
		}
	}
	vehicle, err := s.vehicles.GetByID(ctx, trip.VehicleID)
	if err != nil {
		return internal(err, "load vehicle %s", trip.VehicleID)
	}
	if vehicle == nil || vehicle.Status != entity.VehicleCommitted {
		return nil
	}
	if err := s.vehicles.UpdateStatus(ctx, vehicle.ID, entity.VehicleAvailable); err != nil {
		return internal(err, "release vehicle %s", vehicle.ID)
	}
	return nil
}

func (s *tripServiceImpl) UpdateLocation(ctx context.Context, tripID, actorID string, p geo.TimedPoint) (*Result, error) {
	if !p.Valid() {
		return nil, validation("coordinates out of range")
	}
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}

	var trip *entity.Trip
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		trip, err = s.loadTrip(txCtx, tripID)
		if err != nil {
			return err
		}
		if trip.DriverID != actor.ID {
			return forbidden("only the assigned driver may report the trip's location")
		}
		if trip.Status == workflow.TripReturned {
			return nil
		}
		if !trip.Status.AcceptsLocation() {
			return invalidState("trip %s is %s", trip.ID, trip.Status)
		}

		now := s.opts.now()
		if p.Timestamp.IsZero() {
			p.Timestamp = now
		}
		trip.Route = append(trip.Route, p)
		trip.UpdatedAt = now
		if err := s.trips.Update(txCtx, trip); err != nil {
			return fromStore(err, "update trip")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if trip.Status == workflow.TripReturned {
		return &Result{Trip: trip}, nil
	}

	s.opts.publish(ctx, event.NewEvent(event.TypeTripLocation, trip.ID, map[string]interface{}{
		"request_id": trip.RequestID,
		"driver_id":  trip.DriverID,
		"lat":        p.Lat,
		"lng":        p.Lng,
	}))

	if trip.Status == workflow.TripCompleted && s.atPickupOffice(ctx, trip, p.Point) {
		s.logger.Info("Vehicle reached pickup office, returning trip", "trip_id", trip.ID)
		return s.markReturned(ctx, trip.ID, workflow.SystemActorID, workflow.SystemActor())
	}
	return &Result{Trip: trip}, nil
}

func (s *tripServiceImpl) atPickupOffice(ctx context.Context, trip *entity.Trip, p geo.Point) bool {
	office, err := s.offices.GetByID(ctx, trip.PickupOfficeID)
	if err != nil {
		s.logger.Warn("Failed to load pickup office", "office_id", trip.PickupOfficeID, "error", err)
		return false
	}
	if office == nil {
		return false
	}
	return geo.Within(p, office.Location, s.opts.geofenceRadius)
}

// advance moves a trip and its request together. The request action is authorised by the
// engine; the trip state machine must agree with it. after, when set, runs in the same
// transaction once both records are written. A return on an already returned trip changes
// nothing and reports changed=false.
func (s *tripServiceImpl) advance(
	ctx context.Context,
	tripID, actorID string,
	actor workflow.Actor,
	ev workflow.TripEvent,
	apply func(t *entity.Trip, now time.Time),
	after func(ctx context.Context, t *entity.Trip) error,
) (trip *entity.Trip, req *entity.Request, changed bool, err error) {
	var tr workflow.Transition
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		trip, err = s.loadTrip(txCtx, tripID)
		if err != nil {
			return err
		}
		req, err = s.loadRequest(txCtx, trip.RequestID)
		if err != nil {
			return err
		}
		if ev == workflow.TripEventReturn && trip.Status == workflow.TripReturned {
			return nil
		}

		tr, err = s.engine.Evaluate(actor, req.Subject(), ev.RequestAction(), workflow.TransitionContext{})
		if err != nil {
			return fromWorkflow(err)
		}
		next, err := workflow.NextTripStatus(trip.Status, ev)
		if err != nil {
			return newError(KindInvalidState, err, "trip %s is %s", trip.ID, trip.Status)
		}
		if ev == workflow.TripEventStart {
			if err := s.ensureDriverFree(txCtx, trip); err != nil {
				return err
			}
		}

		now := s.opts.now()
		trip.Status = next
		trip.UpdatedAt = now
		apply(trip, now)
		if err := s.trips.Update(txCtx, trip); err != nil {
			return fromStore(err, "update trip")
		}

		req.Record(tr, actorID, "", now)
		if err := s.requests.Update(txCtx, req); err != nil {
			return fromStore(err, "update request")
		}
		if after != nil {
			if err := after(txCtx, trip); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Warn("Trip action refused", "trip_id", tripID, "event", ev, "actor_id", actorID, "error", err)
		return nil, nil, false, err
	}
	if !changed {
		return trip, req, false, nil
	}

	s.logger.Info("Trip advanced",
		"trip_id", trip.ID,
		"request_id", req.ID,
		"status", trip.Status,
		"to_stage", tr.To,
		"actor_id", actorID,
	)
	s.opts.publishTransition(ctx, req, tr, actorID)
	return trip, req, true, nil
}

// ensureDriverFree allows a driver one trip in progress at a time
func (s *tripServiceImpl) ensureDriverFree(ctx context.Context, trip *entity.Trip) error {
	running, err := s.trips.ListByDriver(ctx, trip.DriverID, workflow.TripInProgress)
	if err != nil {
		return internal(err, "list trips for driver %s", trip.DriverID)
	}
	for _, t := range running {
		if t.ID != trip.ID {
			return conflict("driver %s already has trip %s in progress", trip.DriverID, t.ID)
		}
	}
	return nil
}

func (s *tripServiceImpl) loadTrip(ctx context.Context, id string) (*entity.Trip, error) {
	trip, err := s.trips.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load trip %s", id)
	}
	if trip == nil {
		return nil, notFound("trip %s not found", id)
	}
	return trip, nil
}

func (s *tripServiceImpl) loadRequest(ctx context.Context, id string) (*entity.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load request %s", id)
	}
	if req == nil || req.Vehicle == nil {
		return nil, notFound("vehicle request %s not found", id)
	}
	return req, nil
}
