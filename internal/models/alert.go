package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AlertType names the dimension that triggered an alert.
type AlertType string

const (
	AlertLowFuel         AlertType = "LOW_FUEL"
	AlertHighConsumption AlertType = "HIGH_CONSUMPTION"
	AlertPoorEfficiency  AlertType = "POOR_EFFICIENCY"
	AlertHighEmission    AlertType = "HIGH_EMISSION"
	AlertSpeeding        AlertType = "SPEEDING"
	AlertEngineOverheat  AlertType = "ENGINE_OVERHEAT"
	AlertEngineFault     AlertType = "ENGINE_FAULT"
	AlertDeviceOffline   AlertType = "DEVICE_OFFLINE"
)

// AlertSeverity ranks alerts; CRITICAL sorts before WARNING.
type AlertSeverity string

const (
	SeverityNone     AlertSeverity = "NONE"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is a persisted notification produced when a reading crosses a threshold.
type Alert struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Type             AlertType          `bson:"type" json:"type"`
	Severity         AlertSeverity      `bson:"severity" json:"severity"`
	Title            string             `bson:"title" json:"title"`
	Message          string             `bson:"message" json:"message"`
	TriggerValue     string             `bson:"trigger_value" json:"trigger_value"`
	TriggerThreshold string             `bson:"trigger_threshold" json:"trigger_threshold"`
	VehicleID        string             `bson:"vehicle_id" json:"vehicle_id"`
	UserID           string             `bson:"user_id" json:"user_id"`
	PlateNumber      string             `bson:"plate_number" json:"plate_number"`
	ReadingID        string             `bson:"reading_id,omitempty" json:"reading_id,omitempty"`
	IsRead           bool               `bson:"is_read" json:"is_read"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
}
