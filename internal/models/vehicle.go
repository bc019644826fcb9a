package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VehicleStatus is the coarse-grained condition stored on a vehicle. It is
// overwritten after every reading that carries status flags.
type VehicleStatus string

const (
	StatusNormalEmission   VehicleStatus = "NORMAL_EMISSION"
	StatusTopPolluting     VehicleStatus = "TOP_POLLUTING"
	StatusUnderMaintenance VehicleStatus = "UNDER_MAINTENANCE"
)

// IsValidVehicleStatus reports whether s is one of the known statuses.
func IsValidVehicleStatus(s VehicleStatus) bool {
	switch s {
	case StatusNormalEmission, StatusTopPolluting, StatusUnderMaintenance:
		return true
	default:
		return false
	}
}

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID         string             `bson:"owner_id" json:"owner_id"`
	PlateNumber     string             `bson:"plate_number" json:"plate_number"`
	DeviceIDs       []string           `bson:"device_ids,omitempty" json:"device_ids,omitempty"`
	Type            string             `bson:"type" json:"type"` // "ICE" or "EV"
	Make            string             `bson:"make" json:"make"`
	Model           string             `bson:"model" json:"model"`
	Year            int                `bson:"year" json:"year"`
	CurrentLocation Location           `bson:"current_location" json:"current_location"`
	Status          VehicleStatus      `bson:"status" json:"status"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}
