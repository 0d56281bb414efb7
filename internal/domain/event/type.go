package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestCreated      Type = "request.created"
	TypeRequestTransitioned Type = "request.transitioned"
	TypeRequestAssigned     Type = "request.assigned"
	TypeDriverSwapped       Type = "request.driver_swapped"
	TypeTripStarted         Type = "trip.started"
	TypeTripLocation        Type = "trip.location_updated"
	TypeTripCompleted       Type = "trip.completed"
	TypeTripReturned        Type = "trip.returned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeRequestTransitioned,
		TypeRequestAssigned,
		TypeDriverSwapped,
		TypeTripStarted,
		TypeTripLocation,
		TypeTripCompleted,
		TypeTripReturned:
		return true
	default:
		return false
	}
}

// IsTrip reports whether the event concerns trip execution
func (t Type) IsTrip() bool {
	switch t {
	case TypeTripStarted, TypeTripLocation, TypeTripCompleted, TypeTripReturned:
		return true
	}
	return false
}
