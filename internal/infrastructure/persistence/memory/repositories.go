package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

type requestRepository struct{ s *Store }

func (r *requestRepository) Create(ctx context.Context, req *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[req.ID]; ok {
		return fmt.Errorf("request %s: %w", req.ID, port.ErrDuplicate)
	}
	req.Version = 1
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*entity.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.requests[id].Clone(), nil
}

func (r *requestRepository) Update(ctx context.Context, req *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.requests[req.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", req.ID, port.ErrNotFound)
	}
	if stored.Version != req.Version {
		return fmt.Errorf("request %s at version %d: %w", req.ID, req.Version, port.ErrVersionConflict)
	}
	req.Version++
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r *requestRepository) Find(ctx context.Context, q port.RequestQuery) ([]*entity.Request, error) {
	stages := make(map[workflow.Stage]bool, len(q.Stages))
	for _, st := range q.Stages {
		stages[st] = true
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Request
	for _, req := range r.s.requests {
		if q.Kind != "" && req.Kind != q.Kind {
			continue
		}
		if matches(req, q, stages) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matches(req *entity.Request, q port.RequestQuery, stages map[workflow.Stage]bool) bool {
	switch {
	case q.RequesterID != "" && req.RequesterID == q.RequesterID:
		return true
	case stages[req.CurrentStage]:
		return true
	case q.ActedBy != "" && req.ActedBy(q.ActedBy):
		return true
	case q.AssignedDriverID != "" && req.Vehicle != nil && req.Vehicle.AssignedDriverID == q.AssignedDriverID:
		return true
	}
	return false
}

type tripRepository struct{ s *Store }

func (r *tripRepository) Create(ctx context.Context, trip *entity.Trip) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.trips {
		if t.RequestID == trip.RequestID {
			return fmt.Errorf("trip for request %s: %w", trip.RequestID, port.ErrDuplicate)
		}
	}
	if _, ok := r.s.trips[trip.ID]; ok {
		return fmt.Errorf("trip %s: %w", trip.ID, port.ErrDuplicate)
	}
	trip.Version = 1
	r.s.trips[trip.ID] = trip.Clone()
	return nil
}

func (r *tripRepository) GetByID(ctx context.Context, id string) (*entity.Trip, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.trips[id].Clone(), nil
}

func (r *tripRepository) GetByRequestID(ctx context.Context, requestID string) (*entity.Trip, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.trips {
		if t.RequestID == requestID {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (r *tripRepository) Update(ctx context.Context, trip *entity.Trip) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.trips[trip.ID]
	if !ok {
		return fmt.Errorf("trip %s: %w", trip.ID, port.ErrNotFound)
	}
	if stored.Version != trip.Version {
		return fmt.Errorf("trip %s at version %d: %w", trip.ID, trip.Version, port.ErrVersionConflict)
	}
	trip.Version++
	r.s.trips[trip.ID] = trip.Clone()
	return nil
}

func (r *tripRepository) ListByDriver(ctx context.Context, driverID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error) {
	return r.list(func(t *entity.Trip) bool { return t.DriverID == driverID }, statuses), nil
}

func (r *tripRepository) ListByVehicle(ctx context.Context, vehicleID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error) {
	return r.list(func(t *entity.Trip) bool { return t.VehicleID == vehicleID }, statuses), nil
}

func (r *tripRepository) list(match func(*entity.Trip) bool, statuses []workflow.TripStatus) []*entity.Trip {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Trip
	for _, t := range r.s.trips {
		if !match(t) || !hasStatus(t.Status, statuses) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Window.Start.Before(out[j].Window.Start)
	})
	return out
}

func hasStatus(s workflow.TripStatus, statuses []workflow.TripStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

type userRepository struct{ s *Store }

func (r *userRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *userRepository) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.User
	for _, u := range r.s.users {
		if u.Actor().HasRole(role) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *userRepository) Upsert(ctx context.Context, user *entity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func cloneUser(u *entity.User) *entity.User {
	c := *u
	c.Roles = append([]workflow.Role(nil), u.Roles...)
	return &c
}

type driverRepository struct{ s *Store }

func (r *driverRepository) GetByID(ctx context.Context, id string) (*entity.Driver, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (r *driverRepository) List(ctx context.Context) ([]*entity.Driver, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*entity.Driver, 0, len(r.s.drivers))
	for _, d := range r.s.drivers {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *driverRepository) Upsert(ctx context.Context, driver *entity.Driver) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *driver
	r.s.drivers[driver.ID] = &c
	return nil
}

type vehicleRepository struct{ s *Store }

func (r *vehicleRepository) GetByID(ctx context.Context, id string) (*entity.Vehicle, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.vehicles[id]
	if !ok {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (r *vehicleRepository) List(ctx context.Context) ([]*entity.Vehicle, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*entity.Vehicle, 0, len(r.s.vehicles))
	for _, v := range r.s.vehicles {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *vehicleRepository) UpdateStatus(ctx context.Context, id string, status entity.VehicleStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", id, port.ErrNotFound)
	}
	c := *v
	c.Status = status
	r.s.vehicles[id] = &c
	return nil
}

func (r *vehicleRepository) Upsert(ctx context.Context, vehicle *entity.Vehicle) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *vehicle
	r.s.vehicles[vehicle.ID] = &c
	return nil
}

type officeRepository struct{ s *Store }

func (r *officeRepository) GetByID(ctx context.Context, id string) (*entity.Office, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.offices[id]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

func (r *officeRepository) List(ctx context.Context) ([]*entity.Office, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*entity.Office, 0, len(r.s.offices))
	for _, o := range r.s.offices {
		c := *o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *officeRepository) Upsert(ctx context.Context, office *entity.Office) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *office
	r.s.offices[office.ID] = &c
	return nil
}

type notificationRepository struct{ s *Store }

func (r *notificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, port.ErrDuplicate)
	}
	c := *n
	r.s.notifications[n.ID] = &c
	return nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Notification
	for _, n := range r.s.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %s: %w", id, port.ErrNotFound)
	}
	c := *n
	c.Read = true
	r.s.notifications[id] = &c
	return nil
}
