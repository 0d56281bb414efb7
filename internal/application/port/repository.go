package port

import (
	"context"
	"errors"

	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

var (
	// ErrVersionConflict is returned by Update when the stored version no longer matches
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a uniqueness constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound is returned by writes addressing a record that does not exist
	ErrNotFound = errors.New("record not found")
)

// RequestQuery selects candidate requests of one kind. Non-empty criteria are OR-ed:
// a request matches if any of them holds.
type RequestQuery struct {
	Kind             workflow.Kind
	RequesterID      string
	Stages           []workflow.Stage
	ActedBy          string
	AssignedDriverID string
}

// RequestRepository defines persistence operations for Request.
// Getters return (nil, nil) when the record does not exist.
type RequestRepository interface {
	Create(ctx context.Context, req *entity.Request) error
	GetByID(ctx context.Context, id string) (*entity.Request, error)

	// Update writes the whole request if its version is unchanged and bumps the version.
	// Stage, action history and correction history are written together.
	Update(ctx context.Context, req *entity.Request) error

	Find(ctx context.Context, q RequestQuery) ([]*entity.Request, error)
}

// TripRepository defines persistence operations for Trip
type TripRepository interface {
	// Create fails with ErrDuplicate if a trip already exists for the request
	Create(ctx context.Context, trip *entity.Trip) error
	GetByID(ctx context.Context, id string) (*entity.Trip, error)
	GetByRequestID(ctx context.Context, requestID string) (*entity.Trip, error)
	Update(ctx context.Context, trip *entity.Trip) error
	ListByDriver(ctx context.Context, driverID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error)
	ListByVehicle(ctx context.Context, vehicleID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error)
}

// UserRepository is the identity and role provider
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error)
	Upsert(ctx context.Context, user *entity.User) error
}

// DriverRepository defines lookups over the driver registry
type DriverRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Driver, error)
	List(ctx context.Context) ([]*entity.Driver, error)
	Upsert(ctx context.Context, driver *entity.Driver) error
}

// VehicleRepository defines lookups over the vehicle registry
type VehicleRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Vehicle, error)
	List(ctx context.Context) ([]*entity.Vehicle, error)
	UpdateStatus(ctx context.Context, id string, status entity.VehicleStatus) error
	Upsert(ctx context.Context, vehicle *entity.Vehicle) error
}

// OfficeRepository defines lookups over the office registry
type OfficeRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Office, error)
	List(ctx context.Context) ([]*entity.Office, error)
	Upsert(ctx context.Context, office *entity.Office) error
}

// NotificationRepository stores notifications for later reading
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serialises work on a set of keys across requests or processes
type Locker interface {
	// Acquire locks every key or none; release must be called exactly once
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}
