package workflow

// TripStatus is the execution state of a trip
type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripReturned   TripStatus = "returned"
)

// IsValid returns true if the status is a known trip status
func (s TripStatus) IsValid() bool {
	switch s {
	case TripPending, TripInProgress, TripCompleted, TripReturned:
		return true
	}
	return false
}

// IsTerminal returns true if no further trip transitions are possible
func (s TripStatus) IsTerminal() bool {
	return s == TripReturned
}

// TripEvent drives the trip state machine
type TripEvent string

const (
	TripEventStart    TripEvent = "start"
	TripEventComplete TripEvent = "complete"
	TripEventReturn   TripEvent = "return"
)

// requestActionForTrip maps each trip event onto the vehicle request action it mirrors
var requestActionForTrip = map[TripEvent]Action{
	TripEventStart:    ActionStartTrip,
	TripEventComplete: ActionCompleteTrip,
	TripEventReturn:   ActionReturnVehicle,
}

// RequestAction returns the vehicle request action that accompanies a trip event
func (e TripEvent) RequestAction() Action {
	return requestActionForTrip[e]
}

var tripTable = func() *Table[TripStatus, TripEvent, struct{}] {
	b := NewBuilder[TripStatus, TripEvent, struct{}](TripStatus.IsValid)
	b.Configure(TripPending).Permit(TripEventStart, TripInProgress)
	b.Configure(TripInProgress).Permit(TripEventComplete, TripCompleted)
	b.Configure(TripCompleted).Permit(TripEventReturn, TripReturned)
	return b.Build()
}()

// NextTripStatus returns the status a trip moves to on the event
func NextTripStatus(from TripStatus, event TripEvent) (TripStatus, error) {
	return tripTable.Resolve(from, event, struct{}{})
}

// AcceptsLocation reports whether route points may be recorded in the status.
// Completed trips keep recording so the return to the pickup office can be detected.
func (s TripStatus) AcceptsLocation() bool {
	return s == TripInProgress || s == TripCompleted
}
