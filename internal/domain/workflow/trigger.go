package workflow

// Action is a user or system operation that may move a request to another stage.
type Action string

const (
	ActionSubmit        Action = "submit"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionSendBack      Action = "send_back"
	ActionCancel        Action = "cancel"
	ActionResubmit      Action = "resubmit"
	ActionAssign        Action = "assign"
	ActionAccept        Action = "accept"
	ActionStartTrip     Action = "start_trip"
	ActionCompleteTrip  Action = "complete_trip"
	ActionReturnVehicle Action = "return_vehicle"
	ActionFulfill       Action = "fulfill"

	// ActionSwapDriver only appears in the audit history; it never changes the stage
	ActionSwapDriver Action = "swap_driver"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// requesterActions may only be performed by the request's original requester.
var requesterActions = map[Action]bool{
	ActionSubmit:   true,
	ActionCancel:   true,
	ActionResubmit: true,
}

// IsRequesterAction reports whether only the requester may perform the action
func (a Action) IsRequesterAction() bool {
	return requesterActions[a]
}
