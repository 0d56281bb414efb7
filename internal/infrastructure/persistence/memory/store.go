package memory

import (
	"context"
	"sync"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
)

type contextKey string

const txKey contextKey = "memory_tx"

// Store is an in-process implementation of every repository port.
// Records are cloned on the way in and out so callers never share state with the store.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	requests      map[string]*entity.Request
	trips         map[string]*entity.Trip
	users         map[string]*entity.User
	drivers       map[string]*entity.Driver
	vehicles      map[string]*entity.Vehicle
	offices       map[string]*entity.Office
	notifications map[string]*entity.Notification
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		requests:      make(map[string]*entity.Request),
		trips:         make(map[string]*entity.Trip),
		users:         make(map[string]*entity.User),
		drivers:       make(map[string]*entity.Driver),
		vehicles:      make(map[string]*entity.Vehicle),
		offices:       make(map[string]*entity.Office),
		notifications: make(map[string]*entity.Notification),
	}
}

// WithTransaction implements port.TransactionManager. Transactions are serialised;
// request, trip and vehicle records written by a failed transaction are restored.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	txCtx := context.WithValue(ctx, txKey, true)

	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	requests map[string]*entity.Request
	trips    map[string]*entity.Trip
	vehicles map[string]*entity.Vehicle
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		requests: make(map[string]*entity.Request, len(s.requests)),
		trips:    make(map[string]*entity.Trip, len(s.trips)),
		vehicles: make(map[string]*entity.Vehicle, len(s.vehicles)),
	}
	// stored records are replaced, never mutated, so sharing pointers is safe
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.trips {
		snap.trips[k] = v
	}
	for k, v := range s.vehicles {
		snap.vehicles[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = snap.requests
	s.trips = snap.trips
	s.vehicles = snap.vehicles
}

// Repositories returns typed views of the store
func (s *Store) Requests() port.RequestRepository           { return &requestRepository{s} }
func (s *Store) Trips() port.TripRepository                 { return &tripRepository{s} }
func (s *Store) Users() port.UserRepository                 { return &userRepository{s} }
func (s *Store) Drivers() port.DriverRepository             { return &driverRepository{s} }
func (s *Store) Vehicles() port.VehicleRepository           { return &vehicleRepository{s} }
func (s *Store) Offices() port.OfficeRepository             { return &officeRepository{s} }
func (s *Store) Notifications() port.NotificationRepository { return &notificationRepository{s} }

var _ port.TransactionManager = (*Store)(nil)
