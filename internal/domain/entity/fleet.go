package entity

import "github.com/garyjia/fleet-requests/internal/domain/geo"

// VehicleStatus is the availability state of a fleet vehicle
type VehicleStatus string

const (
	VehicleAvailable           VehicleStatus = "available"
	VehicleCommitted           VehicleStatus = "committed"
	VehicleMaintenance         VehicleStatus = "maintenance"
	VehiclePermanentlyAssigned VehicleStatus = "permanently_assigned"
)

// Assignable reports whether the vehicle may be given to a trip at all; time windows are checked separately
func (s VehicleStatus) Assignable() bool {
	return s == VehicleAvailable || s == VehicleCommitted
}

// Vehicle is a fleet vehicle
type Vehicle struct {
	ID          string        `json:"id"`
	PlateNumber string        `json:"plate_number"`
	Model       string        `json:"model"`
	Capacity    int           `json:"capacity"`
	Status      VehicleStatus `json:"status"`
}

// DriverStatus is the employment state of a driver
type DriverStatus string

const (
	DriverActive   DriverStatus = "active"
	DriverInactive DriverStatus = "inactive"
)

// Driver is a fleet driver. A driver's ID is the ID of the user account they act with.
type Driver struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone"`
	LicenseNumber string       `json:"license_number"`
	OfficeID      string       `json:"office_id,omitempty"`
	Status        DriverStatus `json:"status"`
}

// Office is a pickup and return point
type Office struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Location geo.Point `json:"location"`
}
