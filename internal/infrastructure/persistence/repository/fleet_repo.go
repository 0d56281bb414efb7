package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
)

// DriverRepository implements port.DriverRepository
type DriverRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDriverRepository creates a new driver repository
func NewDriverRepository(db *sqlite.DB, logger *zap.Logger) port.DriverRepository {
	return &DriverRepository{db: db, logger: logger}
}

const driverColumns = `id, name, phone, license_number, office_id, status`

func (r *DriverRepository) GetByID(ctx context.Context, id string) (*entity.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = ?`
	d, err := scanDriver(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver %s: %w", id, err)
	}
	return d, nil
}

func (r *DriverRepository) List(ctx context.Context) ([]*entity.Driver, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	defer rows.Close()

	var out []*entity.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DriverRepository) Upsert(ctx context.Context, d *entity.Driver) error {
	query := `
		INSERT INTO drivers (` + driverColumns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			license_number = excluded.license_number,
			office_id = excluded.office_id,
			status = excluded.status
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		d.ID, d.Name, d.Phone, d.LicenseNumber, d.OfficeID, string(d.Status))
	if err != nil {
		r.logger.Error("Failed to upsert driver", zap.String("driver_id", d.ID), zap.Error(err))
		return wrapWrite(err, "failed to upsert driver %s", d.ID)
	}
	return nil
}

func scanDriver(row rowScanner) (*entity.Driver, error) {
	var (
		d      entity.Driver
		status string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.LicenseNumber, &d.OfficeID, &status); err != nil {
		return nil, err
	}
	d.Status = entity.DriverStatus(status)
	return &d, nil
}

// VehicleRepository implements port.VehicleRepository
type VehicleRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewVehicleRepository creates a new vehicle repository
func NewVehicleRepository(db *sqlite.DB, logger *zap.Logger) port.VehicleRepository {
	return &VehicleRepository{db: db, logger: logger}
}

const vehicleColumns = `id, plate_number, model, capacity, status`

func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*entity.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = ?`
	v, err := scanVehicle(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle %s: %w", id, err)
	}
	return v, nil
}

func (r *VehicleRepository) List(ctx context.Context) ([]*entity.Vehicle, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var out []*entity.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateStatus sets the availability status of a vehicle
func (r *VehicleRepository) UpdateStatus(ctx context.Context, id string, status entity.VehicleStatus) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE vehicles SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		r.logger.Error("Failed to update vehicle status",
			zap.String("vehicle_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update vehicle status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("vehicle %s: %w", id, port.ErrNotFound)
	}
	return nil
}

func (r *VehicleRepository) Upsert(ctx context.Context, v *entity.Vehicle) error {
	query := `
		INSERT INTO vehicles (` + vehicleColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plate_number = excluded.plate_number,
			model = excluded.model,
			capacity = excluded.capacity,
			status = excluded.status
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		v.ID, v.PlateNumber, v.Model, v.Capacity, string(v.Status))
	if err != nil {
		r.logger.Error("Failed to upsert vehicle", zap.String("vehicle_id", v.ID), zap.Error(err))
		return wrapWrite(err, "failed to upsert vehicle %s", v.ID)
	}
	return nil
}

func scanVehicle(row rowScanner) (*entity.Vehicle, error) {
	var (
		v      entity.Vehicle
		status string
	)
	if err := row.Scan(&v.ID, &v.PlateNumber, &v.Model, &v.Capacity, &status); err != nil {
		return nil, err
	}
	v.Status = entity.VehicleStatus(status)
	return &v, nil
}

// OfficeRepository implements port.OfficeRepository
type OfficeRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewOfficeRepository creates a new office repository
func NewOfficeRepository(db *sqlite.DB, logger *zap.Logger) port.OfficeRepository {
	return &OfficeRepository{db: db, logger: logger}
}

const officeColumns = `id, name, address, lat, lng`

func (r *OfficeRepository) GetByID(ctx context.Context, id string) (*entity.Office, error) {
	query := `SELECT ` + officeColumns + ` FROM offices WHERE id = ?`
	o, err := scanOffice(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get office %s: %w", id, err)
	}
	return o, nil
}

func (r *OfficeRepository) List(ctx context.Context) ([]*entity.Office, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `SELECT `+officeColumns+` FROM offices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offices: %w", err)
	}
	defer rows.Close()

	var out []*entity.Office
	for rows.Next() {
		o, err := scanOffice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan office: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OfficeRepository) Upsert(ctx context.Context, o *entity.Office) error {
	query := `
		INSERT INTO offices (` + officeColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			lat = excluded.lat,
			lng = excluded.lng
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		o.ID, o.Name, o.Address, o.Location.Lat, o.Location.Lng)
	if err != nil {
		r.logger.Error("Failed to upsert office", zap.String("office_id", o.ID), zap.Error(err))
		return wrapWrite(err, "failed to upsert office %s", o.ID)
	}
	return nil
}

func scanOffice(row rowScanner) (*entity.Office, error) {
	var o entity.Office
	if err := row.Scan(&o.ID, &o.Name, &o.Address, &o.Location.Lat, &o.Location.Lng); err != nil {
		return nil, err
	}
	return &o, nil
}

var (
	_ port.DriverRepository  = (*DriverRepository)(nil)
	_ port.VehicleRepository = (*VehicleRepository)(nil)
	_ port.OfficeRepository  = (*OfficeRepository)(nil)
)
