package entity

import (
	"time"

	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Window is a half-open time interval [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open windows intersect. Windows that only touch do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Location is a named place with optional coordinates
type Location struct {
	Name  string     `json:"name"`
	Point *geo.Point `json:"point,omitempty"`
}

// RoutePoint is one recorded position of a trip
type RoutePoint = geo.TimedPoint

// Trip is the execution record of an assigned vehicle request. It is never deleted.
type Trip struct {
	ID             string              `json:"id"`
	RequestID      string              `json:"request_id"`
	DriverID       string              `json:"driver_id"`
	VehicleID      string              `json:"vehicle_id"`
	PickupOfficeID string              `json:"pickup_office_id"`
	StartLocation  Location            `json:"start_location"`
	EndLocation    Location            `json:"end_location"`
	Status         workflow.TripStatus `json:"status"`
	Route          []RoutePoint        `json:"route"`
	Window         Window              `json:"window"`
	StartTime      *time.Time          `json:"start_time,omitempty"`
	EndTime        *time.Time          `json:"end_time,omitempty"`
	ReturnTime     *time.Time          `json:"return_time,omitempty"`
	Distance       *float64            `json:"distance,omitempty"`
	Duration       *float64            `json:"duration,omitempty"`
	AverageSpeed   *float64            `json:"average_speed,omitempty"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Clone returns a deep copy
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	c.Route = append([]RoutePoint(nil), t.Route...)
	c.StartLocation = t.StartLocation.clone()
	c.EndLocation = t.EndLocation.clone()
	c.StartTime = cloneTime(t.StartTime)
	c.EndTime = cloneTime(t.EndTime)
	c.ReturnTime = cloneTime(t.ReturnTime)
	c.Distance = cloneFloat(t.Distance)
	c.Duration = cloneFloat(t.Duration)
	c.AverageSpeed = cloneFloat(t.AverageSpeed)
	return &c
}

func (l Location) clone() Location {
	if l.Point != nil {
		p := *l.Point
		l.Point = &p
	}
	return l
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
