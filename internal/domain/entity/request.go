package entity

import (
	"time"

	"github.com/garyjia/fleet-requests/internal/domain/geo"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// ActionEntry is one audit record; exactly one is appended per stage change
type ActionEntry struct {
	Action      workflow.Action   `json:"action"`
	PerformedBy string            `json:"performed_by"`
	PerformedAt time.Time         `json:"performed_at"`
	Stage       workflow.Stage    `json:"stage"`
	ToStage     workflow.Stage    `json:"to_stage"`
	Notes       string            `json:"notes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CorrectionEntry records one send-back and its resolution
type CorrectionEntry struct {
	Stage             workflow.Stage `json:"stage"`
	RequestedBy       string         `json:"requested_by"`
	RequestedAt       time.Time      `json:"requested_at"`
	CorrectionNote    string         `json:"correction_note"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResubmissionCount int            `json:"resubmission_count"`
}

// VehicleDetails is the payload of a vehicle request
type VehicleDetails struct {
	OriginOffice           string     `json:"origin_office"`
	Destination            string     `json:"destination"`
	DestinationCoordinates *geo.Point `json:"destination_coordinates,omitempty"`
	StartDate              time.Time  `json:"start_date"`
	EndDate                time.Time  `json:"end_date"`
	PassengerCount         int        `json:"passenger_count"`
	ParticipantIDs         []string   `json:"participant_ids,omitempty"`
	AssignedDriverID       string     `json:"assigned_driver_id,omitempty"`
	AssignedVehicleID      string     `json:"assigned_vehicle_id,omitempty"`
	PickupOffice           string     `json:"pickup_office,omitempty"`
	EstimatedDistance      *float64   `json:"estimated_distance,omitempty"`
}

// RequestItem is one line of an ICT or store request
type RequestItem struct {
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	Specification string `json:"specification,omitempty"`
}

// Request is a resource request of any kind. CurrentStage is the only workflow state;
// the display status is derived from it on read.
type Request struct {
	ID           string         `json:"id"`
	Kind         workflow.Kind  `json:"kind"`
	RequesterID  string         `json:"requester_id"`
	SupervisorID string         `json:"supervisor_id,omitempty"`
	Department   string         `json:"department,omitempty"`
	Purpose      string         `json:"purpose"`
	CurrentStage workflow.Stage `json:"current_stage"`

	ActionHistory     []ActionEntry     `json:"action_history"`
	CorrectionHistory []CorrectionEntry `json:"correction_history"`

	RejectionReason    string     `json:"rejection_reason,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	RejectedBy         string     `json:"rejected_by,omitempty"`
	CorrectionNote     string     `json:"correction_note,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`

	Vehicle *VehicleDetails `json:"vehicle,omitempty"`
	Items   []RequestItem   `json:"items,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status returns the display status derived from the current stage
func (r *Request) Status() workflow.Status {
	return workflow.DisplayStatus(r.CurrentStage)
}

// Subject returns the view of the request used for permission checks
func (r *Request) Subject() workflow.Subject {
	s := workflow.Subject{
		Kind:         r.Kind,
		Stage:        r.CurrentStage,
		RequesterID:  r.RequesterID,
		SupervisorID: r.SupervisorID,
	}
	if r.Vehicle != nil {
		s.AssignedDriverID = r.Vehicle.AssignedDriverID
	}
	return s
}

// Record moves the request to a new stage and appends the matching audit entry
func (r *Request) Record(tr workflow.Transition, actorID, notes string, at time.Time) {
	entry := ActionEntry{
		Action:      tr.Action,
		PerformedBy: actorID,
		PerformedAt: at,
		Stage:       tr.From,
		ToStage:     tr.To,
		Notes:       notes,
	}
	if tr.Override != "" {
		entry.Metadata = map[string]string{"override": tr.Override}
	}
	r.ActionHistory = append(r.ActionHistory, entry)
	r.CurrentStage = tr.To
	r.UpdatedAt = at
}

// LatestCorrection returns the most recent correction entry, or nil
func (r *Request) LatestCorrection() *CorrectionEntry {
	if len(r.CorrectionHistory) == 0 {
		return nil
	}
	return &r.CorrectionHistory[len(r.CorrectionHistory)-1]
}

// InterruptedAt returns the stage the request left by its latest send-back or rejection
func (r *Request) InterruptedAt() workflow.Stage {
	for i := len(r.ActionHistory) - 1; i >= 0; i-- {
		switch r.ActionHistory[i].Action {
		case workflow.ActionSendBack, workflow.ActionReject:
			return r.ActionHistory[i].Stage
		}
	}
	return ""
}

// ActedBy returns true if the user appears in the action history
func (r *Request) ActedBy(userID string) bool {
	for _, e := range r.ActionHistory {
		if e.PerformedBy == userID {
			return true
		}
	}
	return false
}

// Participants returns every user id in the action history except the given ones, deduplicated
func (r *Request) Participants(except ...string) []string {
	seen := make(map[string]bool, len(except))
	for _, id := range except {
		seen[id] = true
	}
	var ids []string
	for _, e := range r.ActionHistory {
		if e.PerformedBy == "" || e.PerformedBy == workflow.SystemActorID || seen[e.PerformedBy] {
			continue
		}
		seen[e.PerformedBy] = true
		ids = append(ids, e.PerformedBy)
	}
	return ids
}

// Window returns the requested time window of a vehicle request
func (r *Request) Window() (Window, bool) {
	if r.Vehicle == nil {
		return Window{}, false
	}
	return Window{Start: r.Vehicle.StartDate, End: r.Vehicle.EndDate}, true
}

// Clone returns a deep copy
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.ActionHistory = make([]ActionEntry, len(r.ActionHistory))
	for i, e := range r.ActionHistory {
		c.ActionHistory[i] = e
		if e.Metadata != nil {
			c.ActionHistory[i].Metadata = make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				c.ActionHistory[i].Metadata[k] = v
			}
		}
	}
	c.CorrectionHistory = make([]CorrectionEntry, len(r.CorrectionHistory))
	for i, e := range r.CorrectionHistory {
		c.CorrectionHistory[i] = e
		if e.ResolvedAt != nil {
			t := *e.ResolvedAt
			c.CorrectionHistory[i].ResolvedAt = &t
		}
	}
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	if r.Vehicle != nil {
		v := *r.Vehicle
		v.ParticipantIDs = append([]string(nil), r.Vehicle.ParticipantIDs...)
		if r.Vehicle.DestinationCoordinates != nil {
			p := *r.Vehicle.DestinationCoordinates
			v.DestinationCoordinates = &p
		}
		if r.Vehicle.EstimatedDistance != nil {
			d := *r.Vehicle.EstimatedDistance
			v.EstimatedDistance = &d
		}
		c.Vehicle = &v
	}
	c.Items = append([]RequestItem(nil), r.Items...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
