package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/event"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// AssignmentService commits drivers and vehicles to approved vehicle requests
type AssignmentService interface {
	// Assign creates the trip for a request. Replaying the same assignment returns the existing trip.
	Assign(ctx context.Context, in AssignInput) (*Result, error)
	// SwapDriver replaces the driver of a trip that has not started yet
	SwapDriver(ctx context.Context, requestID, driverID, actorID, reason string) (*Result, error)
	// AvailableDrivers lists active drivers free during the window; a nil window only excludes drivers on the road
	AvailableDrivers(ctx context.Context, actorID string, window *entity.Window) ([]*entity.Driver, error)
	// AvailableVehicles lists assignable vehicles free during the window with at least minCapacity seats
	AvailableVehicles(ctx context.Context, actorID string, window *entity.Window, minCapacity int) ([]*entity.Vehicle, error)
}

// dispatcherRoles may assign, reassign and browse fleet availability
var dispatcherRoles = []workflow.Role{workflow.RoleTransportOfficer, workflow.RoleDGS}

type assignmentServiceImpl struct {
	engine    *workflow.Engine
	requests  port.RequestRepository
	trips     port.TripRepository
	users     port.UserRepository
	drivers   port.DriverRepository
	vehicles  port.VehicleRepository
	offices   port.OfficeRepository
	locker    port.Locker
	txManager port.TransactionManager
	logger    Logger
	opts      options
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(
	engine *workflow.Engine,
	requests port.RequestRepository,
	trips port.TripRepository,
	users port.UserRepository,
	drivers port.DriverRepository,
	vehicles port.VehicleRepository,
	offices port.OfficeRepository,
	locker port.Locker,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) AssignmentService {
	return &assignmentServiceImpl{
		engine:    engine,
		requests:  requests,
		trips:     trips,
		users:     users,
		drivers:   drivers,
		vehicles:  vehicles,
		offices:   offices,
		locker:    locker,
		txManager: txManager,
		logger:    logger,
		opts:      newOptions(opts),
	}
}

func (s *assignmentServiceImpl) Assign(ctx context.Context, in AssignInput) (*Result, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := loadActor(ctx, s.users, in.ActorID)
	if err != nil {
		return nil, err
	}
	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	existing, err := s.trips.GetByRequestID(ctx, req.ID)
	if err != nil {
		return nil, internal(err, "load trip for request %s", req.ID)
	}
	if existing != nil {
		return s.replay(actor, req, existing, in)
	}

	decision := s.engine.CanPerformAction(actor.Actor(), req.Subject(), workflow.ActionAssign)
	if !decision.Allowed {
		return nil, fromWorkflow(decision.Err)
	}

	window, _ := req.Window()
	driver, vehicle, office, err := s.loadResources(ctx, in, req)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, driverLockKey(driver.ID), vehicleLockKey(vehicle.ID))
	if err != nil {
		s.opts.metrics.AssignmentConflict()
		return nil, newError(KindConflict, err, "driver or vehicle is being assigned by another request")
	}
	defer release()

	var (
		trip *entity.Trip
		tr   workflow.Transition
	)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		req, err = s.loadRequest(txCtx, in.RequestID)
		if err != nil {
			return err
		}
		tr, err = s.engine.Evaluate(actor.Actor(), req.Subject(), workflow.ActionAssign, workflow.TransitionContext{})
		if err != nil {
			return fromWorkflow(err)
		}

		if err := s.ensureDriverFree(txCtx, driver.ID, &window, ""); err != nil {
			return err
		}
		if err := s.ensureVehicleFree(txCtx, vehicle.ID, &window, ""); err != nil {
			return err
		}

		now := s.opts.now()
		trip = &entity.Trip{
			ID:             uuid.NewString(),
			RequestID:      req.ID,
			DriverID:       driver.ID,
			VehicleID:      vehicle.ID,
			PickupOfficeID: office.ID,
			StartLocation:  entity.Location{Name: office.Name, Point: &office.Location},
			EndLocation:    entity.Location{Name: req.Vehicle.Destination, Point: req.Vehicle.DestinationCoordinates},
			Status:         workflow.TripPending,
			Window:         window,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.trips.Create(txCtx, trip); err != nil {
			return fromStore(err, "create trip")
		}
		if vehicle.Status == entity.VehicleAvailable {
			if err := s.vehicles.UpdateStatus(txCtx, vehicle.ID, entity.VehicleCommitted); err != nil {
				return internal(err, "commit vehicle %s", vehicle.ID)
			}
		}

		req.Vehicle.AssignedDriverID = driver.ID
		req.Vehicle.AssignedVehicleID = vehicle.ID
		req.Vehicle.PickupOffice = office.ID
		req.Record(tr, actor.ID, "", now)
		if err := s.requests.Update(txCtx, req); err != nil {
			return fromStore(err, "update request")
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			s.opts.metrics.AssignmentConflict()
		}
		s.logger.Warn("Assignment refused",
			"request_id", in.RequestID,
			"driver_id", in.DriverID,
			"vehicle_id", in.VehicleID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Request assigned",
		"request_id", req.ID,
		"trip_id", trip.ID,
		"driver_id", driver.ID,
		"vehicle_id", vehicle.ID,
		"override", tr.Override,
	)
	s.opts.publishTransition(ctx, req, tr, actor.ID)
	s.opts.publish(ctx, event.NewEvent(event.TypeRequestAssigned, req.ID, map[string]interface{}{
		"trip_id":    trip.ID,
		"driver_id":  driver.ID,
		"vehicle_id": vehicle.ID,
		"office_id":  office.ID,
	}))

	when := window.Start.Format(time.RFC3339)
	effects := []Effect{
		{
			Recipients: []string{driver.ID},
			Type:       entity.NotificationAssigned,
			Title:      "New trip assigned",
			Body:       fmt.Sprintf("You are driving %s to %s from %s, pickup at %s.", vehicle.PlateNumber, req.Vehicle.Destination, when, office.Name),
			RelatedID:  req.ID,
		},
		{
			Recipients: append([]string{req.RequesterID}, req.Participants(req.RequesterID)...),
			Type:       entity.NotificationAssigned,
			Title:      "Vehicle assigned",
			Body:       fmt.Sprintf("%s (%s) with driver %s will pick up at %s from %s.", vehicle.Model, vehicle.PlateNumber, driver.Name, office.Name, when),
			RelatedID:  req.ID,
		},
	}
	return &Result{Request: req, Trip: trip, Effects: effects}, nil
}

// replay answers a repeated assignment without touching state
func (s *assignmentServiceImpl) replay(actor *entity.User, req *entity.Request, trip *entity.Trip, in AssignInput) (*Result, error) {
	if !hasAnyRole(actor.Actor(), dispatcherRoles) {
		return nil, forbidden("actor %s may not assign vehicles", actor.ID)
	}
	if trip.VehicleID != in.VehicleID || trip.PickupOfficeID != in.PickupOfficeID {
		return nil, conflict("request %s is already assigned", req.ID)
	}
	// a swapped driver still counts as the same assignment
	if trip.DriverID != in.DriverID && !s.swappedFrom(req, in.DriverID) {
		return nil, conflict("request %s is already assigned", req.ID)
	}
	return &Result{Request: req, Trip: trip}, nil
}

func (s *assignmentServiceImpl) swappedFrom(req *entity.Request, driverID string) bool {
	for _, e := range req.ActionHistory {
		if e.Action == workflow.ActionSwapDriver && e.Metadata["previous_driver_id"] == driverID {
			return true
		}
	}
	return false
}

func (s *assignmentServiceImpl) loadResources(ctx context.Context, in AssignInput, req *entity.Request) (*entity.Driver, *entity.Vehicle, *entity.Office, error) {
	driver, err := s.loadDriver(ctx, in.DriverID)
	if err != nil {
		return nil, nil, nil, err
	}

	vehicle, err := s.vehicles.GetByID(ctx, in.VehicleID)
	if err != nil {
		return nil, nil, nil, internal(err, "load vehicle %s", in.VehicleID)
	}
	if vehicle == nil {
		return nil, nil, nil, notFound("vehicle %s not found", in.VehicleID)
	}
	if !vehicle.Status.Assignable() {
		return nil, nil, nil, invalidState("vehicle %s is %s", vehicle.ID, vehicle.Status)
	}
	if vehicle.Capacity < req.Vehicle.PassengerCount {
		return nil, nil, nil, validation("vehicle %s seats %d, request needs %d", vehicle.ID, vehicle.Capacity, req.Vehicle.PassengerCount)
	}

	office, err := s.offices.GetByID(ctx, in.PickupOfficeID)
	if err != nil {
		return nil, nil, nil, internal(err, "load office %s", in.PickupOfficeID)
	}
	if office == nil {
		return nil, nil, nil, notFound("office %s not found", in.PickupOfficeID)
	}
	return driver, vehicle, office, nil
}

func (s *assignmentServiceImpl) loadDriver(ctx context.Context, id string) (*entity.Driver, error) {
	driver, err := s.drivers.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load driver %s", id)
	}
	if driver == nil {
		return nil, notFound("driver %s not found", id)
	}
	if driver.Status != entity.DriverActive {
		return nil, invalidState("driver %s is %s", driver.ID, driver.Status)
	}
	return driver, nil
}

func (s *assignmentServiceImpl) SwapDriver(ctx context.Context, requestID, driverID, actorID, reason string) (*Result, error) {
	if err := requireText("driver_id", driverID); err != nil {
		return nil, err
	}
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if !hasAnyRole(actor.Actor(), dispatcherRoles) {
		return nil, forbidden("actor %s may not reassign drivers", actor.ID)
	}
	driver, err := s.loadDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, driverLockKey(driver.ID))
	if err != nil {
		s.opts.metrics.AssignmentConflict()
		return nil, newError(KindConflict, err, "driver %s is being assigned by another request", driver.ID)
	}
	defer release()

	var (
		req            *entity.Request
		trip           *entity.Trip
		previousDriver string
	)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		req, err = s.loadRequest(txCtx, requestID)
		if err != nil {
			return err
		}
		if req.CurrentStage != workflow.StageAssigned {
			return invalidState("request %s is %s; only assigned requests can change driver", req.ID, req.CurrentStage)
		}
		trip, err = s.trips.GetByRequestID(txCtx, req.ID)
		if err != nil {
			return internal(err, "load trip for request %s", req.ID)
		}
		if trip == nil || trip.Status != workflow.TripPending {
			return invalidState("trip for request %s has already started", req.ID)
		}
		now := s.opts.now()
		if !now.Before(trip.Window.Start) {
			return invalidState("trip for request %s is due; driver can no longer change", req.ID)
		}
		if trip.DriverID == driver.ID {
			return invalidState("driver %s is already assigned", driver.ID)
		}
		if err := s.ensureDriverFree(txCtx, driver.ID, &trip.Window, trip.ID); err != nil {
			return err
		}

		previousDriver = trip.DriverID
		trip.DriverID = driver.ID
		trip.UpdatedAt = now
		if err := s.trips.Update(txCtx, trip); err != nil {
			return fromStore(err, "update trip")
		}

		req.Vehicle.AssignedDriverID = driver.ID
		req.Record(workflow.Transition{
			Kind:   req.Kind,
			From:   req.CurrentStage,
			To:     req.CurrentStage,
			Action: workflow.ActionSwapDriver,
		}, actor.ID, reason, now)
		req.ActionHistory[len(req.ActionHistory)-1].Metadata = map[string]string{
			"previous_driver_id": previousDriver,
			"driver_id":          driver.ID,
		}
		if err := s.requests.Update(txCtx, req); err != nil {
			return fromStore(err, "update request")
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			s.opts.metrics.AssignmentConflict()
		}
		s.logger.Warn("Driver swap refused", "request_id", requestID, "driver_id", driverID, "error", err)
		return nil, err
	}

	s.logger.Info("Driver swapped",
		"request_id", req.ID,
		"trip_id", trip.ID,
		"previous_driver_id", previousDriver,
		"driver_id", driver.ID,
		"actor_id", actor.ID,
	)
	s.opts.publish(ctx, event.NewEvent(event.TypeDriverSwapped, req.ID, map[string]interface{}{
		"trip_id":            trip.ID,
		"previous_driver_id": previousDriver,
		"driver_id":          driver.ID,
	}))

	effects := []Effect{
		{
			Recipients: []string{previousDriver},
			Type:       entity.NotificationDriverChanged,
			Title:      "Trip reassigned",
			Body:       fmt.Sprintf("You are no longer driving the trip to %s.", req.Vehicle.Destination),
			RelatedID:  req.ID,
		},
		{
			Recipients: []string{driver.ID},
			Type:       entity.NotificationAssigned,
			Title:      "New trip assigned",
			Body:       fmt.Sprintf("You are driving to %s from %s.", req.Vehicle.Destination, trip.Window.Start.Format(time.RFC3339)),
			RelatedID:  req.ID,
		},
		{
			Recipients: []string{req.RequesterID},
			Type:       entity.NotificationDriverChanged,
			Title:      "Driver changed",
			Body:       fmt.Sprintf("%s will now drive your trip.", driver.Name),
			RelatedID:  req.ID,
		},
	}
	return &Result{Request: req, Trip: trip, Effects: effects}, nil
}

func (s *assignmentServiceImpl) AvailableDrivers(ctx context.Context, actorID string, window *entity.Window) ([]*entity.Driver, error) {
	if err := s.authorizeDispatcher(ctx, actorID); err != nil {
		return nil, err
	}
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	drivers, err := s.drivers.List(ctx)
	if err != nil {
		return nil, internal(err, "list drivers")
	}

	out := make([]*entity.Driver, 0, len(drivers))
	for _, d := range drivers {
		if d.Status != entity.DriverActive {
			continue
		}
		busy, err := s.driverBusy(ctx, d.ID, window, "")
		if err != nil {
			return nil, err
		}
		if !busy {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *assignmentServiceImpl) AvailableVehicles(ctx context.Context, actorID string, window *entity.Window, minCapacity int) ([]*entity.Vehicle, error) {
	if err := s.authorizeDispatcher(ctx, actorID); err != nil {
		return nil, err
	}
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	vehicles, err := s.vehicles.List(ctx)
	if err != nil {
		return nil, internal(err, "list vehicles")
	}

	out := make([]*entity.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if !v.Status.Assignable() || v.Capacity < minCapacity {
			continue
		}
		busy, err := s.vehicleBusy(ctx, v.ID, window, "")
		if err != nil {
			return nil, err
		}
		if !busy {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *assignmentServiceImpl) authorizeDispatcher(ctx context.Context, actorID string) error {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return err
	}
	if !hasAnyRole(actor.Actor(), dispatcherRoles) {
		return forbidden("actor %s may not browse fleet availability", actor.ID)
	}
	return nil
}

func checkWindow(w *entity.Window) error {
	if w != nil && !w.End.After(w.Start) {
		return validation("window end must be after start")
	}
	return nil
}

func (s *assignmentServiceImpl) ensureDriverFree(ctx context.Context, driverID string, window *entity.Window, exclude string) error {
	busy, err := s.driverBusy(ctx, driverID, window, exclude)
	if err != nil {
		return err
	}
	if busy {
		return conflict("driver %s is not available for the requested window", driverID)
	}
	return nil
}

func (s *assignmentServiceImpl) ensureVehicleFree(ctx context.Context, vehicleID string, window *entity.Window, exclude string) error {
	busy, err := s.vehicleBusy(ctx, vehicleID, window, exclude)
	if err != nil {
		return err
	}
	if busy {
		return conflict("vehicle %s is not available for the requested window", vehicleID)
	}
	return nil
}

// driverBusy: a driver on the road is unavailable for anything; otherwise only overlapping live trips count
func (s *assignmentServiceImpl) driverBusy(ctx context.Context, driverID string, window *entity.Window, exclude string) (bool, error) {
	trips, err := s.trips.ListByDriver(ctx, driverID, workflow.TripPending, workflow.TripInProgress)
	if err != nil {
		return false, internal(err, "list trips for driver %s", driverID)
	}
	for _, t := range trips {
		if t.ID == exclude {
			continue
		}
		if t.Status == workflow.TripInProgress {
			return true, nil
		}
		if window != nil && t.Window.Overlaps(*window) {
			return true, nil
		}
	}
	return false, nil
}

// vehicleBusy: a vehicle is held from assignment until its trip is returned
func (s *assignmentServiceImpl) vehicleBusy(ctx context.Context, vehicleID string, window *entity.Window, exclude string) (bool, error) {
	trips, err := s.trips.ListByVehicle(ctx, vehicleID, workflow.TripPending, workflow.TripInProgress, workflow.TripCompleted)
	if err != nil {
		return false, internal(err, "list trips for vehicle %s", vehicleID)
	}
	for _, t := range trips {
		if t.ID == exclude {
			continue
		}
		if window == nil {
			if t.Status == workflow.TripInProgress {
				return true, nil
			}
			continue
		}
		if t.Window.Overlaps(*window) {
			return true, nil
		}
	}
	return false, nil
}

func (s *assignmentServiceImpl) loadRequest(ctx context.Context, id string) (*entity.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load request %s", id)
	}
	if req == nil || req.Kind != workflow.KindVehicle || req.Vehicle == nil {
		return nil, notFound("vehicle request %s not found", id)
	}
	return req, nil
}

func driverLockKey(id string) string  { return "driver:" + id }
func vehicleLockKey(id string) string { return "vehicle:" + id }

func hasAnyRole(a workflow.Actor, roles []workflow.Role) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}
