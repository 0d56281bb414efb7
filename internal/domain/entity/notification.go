package entity

import "time"

// NotificationType classifies a stored notification
type NotificationType string

const (
	NotificationSubmitted        NotificationType = "request_submitted"
	NotificationActionRequired   NotificationType = "action_required"
	NotificationApproved         NotificationType = "request_approved"
	NotificationRejected         NotificationType = "request_rejected"
	NotificationSentBack         NotificationType = "request_sent_back"
	NotificationResubmitted      NotificationType = "request_resubmitted"
	NotificationCancelled        NotificationType = "request_cancelled"
	NotificationAssigned         NotificationType = "trip_assigned"
	NotificationDriverChanged    NotificationType = "driver_changed"
	NotificationTripStarted      NotificationType = "trip_started"
	NotificationTripCompleted    NotificationType = "trip_completed"
	NotificationVehicleReturned  NotificationType = "vehicle_returned"
	NotificationRequestFulfilled NotificationType = "request_fulfilled"
)

// Notification is a message stored for a user; delivery channels fan out from it
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	RelatedID string           `json:"related_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
