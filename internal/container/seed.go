package container

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Seed is the directory data loaded from storage.seed_file
type Seed struct {
	Users    []SeedUser    `mapstructure:"users"`
	Drivers  []SeedDriver  `mapstructure:"drivers"`
	Vehicles []SeedVehicle `mapstructure:"vehicles"`
	Offices  []SeedOffice  `mapstructure:"offices"`
}

type SeedUser struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	Email        string   `mapstructure:"email"`
	Roles        []string `mapstructure:"roles"`
	IsSupervisor bool     `mapstructure:"is_supervisor"`
	SupervisorID string   `mapstructure:"supervisor_id"`
	Department   string   `mapstructure:"department"`
	LarkOpenID   string   `mapstructure:"lark_open_id"`
}

type SeedDriver struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Phone         string `mapstructure:"phone"`
	LicenseNumber string `mapstructure:"license_number"`
	OfficeID      string `mapstructure:"office_id"`
	Status        string `mapstructure:"status"`
}

type SeedVehicle struct {
	ID          string `mapstructure:"id"`
	PlateNumber string `mapstructure:"plate_number"`
	Model       string `mapstructure:"model"`
	Capacity    int    `mapstructure:"capacity"`
	Status      string `mapstructure:"status"`
}

type SeedOffice struct {
	ID      string  `mapstructure:"id"`
	Name    string  `mapstructure:"name"`
	Address string  `mapstructure:"address"`
	Lat     float64 `mapstructure:"lat"`
	Lng     float64 `mapstructure:"lng"`
}

// LoadSeed reads a seed file
func LoadSeed(path string) (*Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	return &seed, nil
}

// Apply upserts the seed into the repositories. Drivers default to active and vehicles to available.
func (s *Seed) Apply(ctx context.Context, repos *RepositoryBundle, logger *zap.Logger) error {
	for _, o := range s.Offices {
		office := &entity.Office{ID: o.ID, Name: o.Name, Address: o.Address, Location: geo.Point{Lat: o.Lat, Lng: o.Lng}}
		if !office.Location.Valid() {
			return fmt.Errorf("office %s: coordinates out of range", o.ID)
		}
		if err := repos.Offices.Upsert(ctx, office); err != nil {
			return fmt.Errorf("office %s: %w", o.ID, err)
		}
	}

	for _, u := range s.Users {
		roles := make([]workflow.Role, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, workflow.Role(r))
		}
		user := &entity.User{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			Roles:        roles,
			IsSupervisor: u.IsSupervisor,
			SupervisorID: u.SupervisorID,
			Department:   u.Department,
			LarkOpenID:   u.LarkOpenID,
		}
		if err := repos.Users.Upsert(ctx, user); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}

	for _, d := range s.Drivers {
		status := entity.DriverStatus(d.Status)
		if status == "" {
			status = entity.DriverActive
		}
		driver := &entity.Driver{
			ID:            d.ID,
			Name:          d.Name,
			Phone:         d.Phone,
			LicenseNumber: d.LicenseNumber,
			OfficeID:      d.OfficeID,
			Status:        status,
		}
		if err := repos.Drivers.Upsert(ctx, driver); err != nil {
			return fmt.Errorf("driver %s: %w", d.ID, err)
		}
	}

	for _, v := range s.Vehicles {
		status := entity.VehicleStatus(v.Status)
		if status == "" {
			status = entity.VehicleAvailable
		}
		vehicle := &entity.Vehicle{
			ID:          v.ID,
			PlateNumber: v.PlateNumber,
			Model:       v.Model,
			Capacity:    v.Capacity,
			Status:      status,
		}
		if err := repos.Vehicles.Upsert(ctx, vehicle); err != nil {
			return fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
	}

	logger.Info("Seed applied",
		zap.Int("users", len(s.Users)),
		zap.Int("drivers", len(s.Drivers)),
		zap.Int("vehicles", len(s.Vehicles)),
		zap.Int("offices", len(s.Offices)),
	)
	return nil
}
