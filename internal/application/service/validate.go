package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/fleet-requests/internal/domain/geo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// VehicleInput is the payload of a vehicle request
type VehicleInput struct {
	OriginOffice           string     `json:"origin_office" validate:"required"`
	Destination            string     `json:"destination" validate:"required,max=255"`
	DestinationCoordinates *geo.Point `json:"destination_coordinates"`
	StartDate              time.Time  `json:"start_date" validate:"required"`
	EndDate                time.Time  `json:"end_date" validate:"required,gtfield=StartDate"`
	PassengerCount         int        `json:"passenger_count" validate:"min=1"`
	ParticipantIDs         []string   `json:"participant_ids" validate:"omitempty,unique,dive,required"`
}

// ItemInput is one line of an ICT or store request
type ItemInput struct {
	Name          string `json:"name" validate:"required,max=255"`
	Quantity      int    `json:"quantity" validate:"min=1"`
	Specification string `json:"specification" validate:"max=1000"`
}

// CreateRequestInput is the authoring payload. Vehicle is required for vehicle
// requests, Items for ICT and store requests.
type CreateRequestInput struct {
	Purpose string        `json:"purpose" validate:"required,max=1000"`
	Vehicle *VehicleInput `json:"vehicle" validate:"omitempty"`
	Items   []ItemInput   `json:"items" validate:"omitempty,dive"`
}

// AssignInput names the resources committed to a vehicle request
type AssignInput struct {
	RequestID      string `json:"-" validate:"required"`
	DriverID       string `json:"driver_id" validate:"required"`
	VehicleID      string `json:"vehicle_id" validate:"required"`
	PickupOfficeID string `json:"pickup_office_id" validate:"required"`
	ActorID        string `json:"-" validate:"required"`
}

// validateStruct runs tag validation and converts failures into a Validation error
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return internal(err, "validate input")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return newError(KindValidation, err, "%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Namespace(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicates", fe.Namespace())
	default:
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validation("%s is required", field)
	}
	return nil
}
