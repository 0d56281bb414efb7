package port

import (
	"context"

	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
)

// DistanceCalculator estimates road distance between two points, in kilometres
type DistanceCalculator interface {
	CalculateDistance(ctx context.Context, from, to geo.Point) (float64, error)
}

// Geocoder resolves addresses to coordinates and back
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
	ReverseGeocode(ctx context.Context, p geo.Point) (string, error)
}

// NotificationChannel delivers a stored notification over one medium (chat, socket, ...)
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, user *entity.User, n *entity.Notification) error
}
