package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
)

// TripRepository implements port.TripRepository
type TripRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sqlite.DB, logger *zap.Logger) port.TripRepository {
	return &TripRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a trip; the unique request_id column enforces one trip per request
func (r *TripRepository) Create(ctx context.Context, trip *entity.Trip) error {
	trip.Version = 1
	payload, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}

	query := `
		INSERT INTO trips (
			id, request_id, driver_id, vehicle_id, status,
			window_start, payload, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		trip.ID,
		trip.RequestID,
		trip.DriverID,
		trip.VehicleID,
		string(trip.Status),
		formatTime(trip.Window.Start),
		string(payload),
		trip.Version,
		formatTime(trip.CreatedAt),
		formatTime(trip.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create trip",
			zap.String("trip_id", trip.ID),
			zap.String("request_id", trip.RequestID),
			zap.Error(err))
		return wrapWrite(err, "failed to create trip for request %s", trip.RequestID)
	}
	return nil
}

// GetByID retrieves a trip by ID
func (r *TripRepository) GetByID(ctx context.Context, id string) (*entity.Trip, error) {
	return r.getOne(ctx, `SELECT payload, version FROM trips WHERE id = ?`, id)
}

// GetByRequestID retrieves the trip of a request
func (r *TripRepository) GetByRequestID(ctx context.Context, requestID string) (*entity.Trip, error) {
	return r.getOne(ctx, `SELECT payload, version FROM trips WHERE request_id = ?`, requestID)
}

func (r *TripRepository) getOne(ctx context.Context, query, arg string) (*entity.Trip, error) {
	trip, err := scanTrip(r.db.Executor(ctx).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip %s: %w", arg, err)
	}
	return trip, nil
}

// Update rewrites the trip when the stored version still matches and bumps trip.Version
func (r *TripRepository) Update(ctx context.Context, trip *entity.Trip) error {
	next := *trip
	next.Version = trip.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}

	query := `
		UPDATE trips
		SET driver_id = ?, vehicle_id = ?, status = ?, window_start = ?,
			payload = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx, query,
		trip.DriverID,
		trip.VehicleID,
		string(trip.Status),
		formatTime(trip.Window.Start),
		string(payload),
		next.Version,
		formatTime(trip.UpdatedAt),
		trip.ID,
		trip.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update trip", zap.String("trip_id", trip.ID), zap.Error(err))
		return wrapWrite(err, "failed to update trip %s", trip.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return casFailure(ctx, exec, "trips", trip.ID)
	}

	trip.Version = next.Version
	return nil
}

// ListByDriver returns the driver's trips ordered by window start, optionally filtered by status
func (r *TripRepository) ListByDriver(ctx context.Context, driverID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error) {
	return r.list(ctx, "driver_id", driverID, statuses)
}

// ListByVehicle returns the vehicle's trips ordered by window start, optionally filtered by status
func (r *TripRepository) ListByVehicle(ctx context.Context, vehicleID string, statuses ...workflow.TripStatus) ([]*entity.Trip, error) {
	return r.list(ctx, "vehicle_id", vehicleID, statuses)
}

func (r *TripRepository) list(ctx context.Context, column, id string, statuses []workflow.TripStatus) ([]*entity.Trip, error) {
	query := `SELECT payload, version FROM trips WHERE ` + column + ` = ?`
	args := []interface{}{id}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY window_start ASC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips by %s: %w", column, err)
	}
	defer rows.Close()

	var out []*entity.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		out = append(out, trip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trips: %w", err)
	}
	return out, nil
}

func scanTrip(row rowScanner) (*entity.Trip, error) {
	var (
		payload string
		version int64
	)
	if err := row.Scan(&payload, &version); err != nil {
		return nil, err
	}
	var trip entity.Trip
	if err := json.Unmarshal([]byte(payload), &trip); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trip: %w", err)
	}
	trip.Version = version
	return &trip, nil
}

var _ port.TripRepository = (*TripRepository)(nil)
