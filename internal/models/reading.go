package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReadingKind identifies which sensor family produced a reading.
type ReadingKind string

const (
	KindFuel     ReadingKind = "fuel"
	KindEmission ReadingKind = "emission"
	KindGPS      ReadingKind = "gps"
	KindOBD      ReadingKind = "obd"
)

// ReadingKinds lists every supported kind in a stable order.
var ReadingKinds = []ReadingKind{KindFuel, KindEmission, KindGPS, KindOBD}

// IsValidReadingKind checks if a kind is supported
func IsValidReadingKind(kind ReadingKind) bool {
	switch kind {
	case KindFuel, KindEmission, KindGPS, KindOBD:
		return true
	default:
		return false
	}
}

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lon float64 `bson:"lon" json:"lon"`
}

// FuelData holds the numeric fields of a fuel reading.
type FuelData struct {
	FuelLevel       float64 `bson:"fuel_level" json:"fuel_level"`             // percent of tank
	FuelConsumption float64 `bson:"fuel_consumption" json:"fuel_consumption"` // L/100km
}

// EmissionData holds the exhaust gas analyser values.
type EmissionData struct {
	CO2  float64 `bson:"co2" json:"co2"` // percent
	CO   float64 `bson:"co" json:"co"`   // percent
	O2   float64 `bson:"o2" json:"o2"`   // percent
	HC   float64 `bson:"hc" json:"hc"`   // ppm
	NOx  float64 `bson:"nox" json:"nox"` // ppm
	PM25 float64 `bson:"pm25" json:"pm25"`
}

// GPSData holds a position fix.
type GPSData struct {
	Location Location `bson:"location" json:"location"`
	Speed    float64  `bson:"speed" json:"speed"`     // km/h
	Heading  float64  `bson:"heading" json:"heading"` // degrees
}

// OBDData holds on-board diagnostics values.
type OBDData struct {
	EngineRPM   float64  `bson:"engine_rpm" json:"engine_rpm"`
	CoolantTemp float64  `bson:"coolant_temp" json:"coolant_temp"` // °C
	EngineLoad  float64  `bson:"engine_load" json:"engine_load"`   // percent
	FaultCodes  []string `bson:"fault_codes,omitempty" json:"fault_codes,omitempty"`
}

// Reading is one timestamped telemetry sample. Exactly one of the kind
// specific payloads is set, matching Kind.
type Reading struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind        ReadingKind        `bson:"kind" json:"kind"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
	VehicleID   string             `bson:"vehicle_id" json:"vehicle_id"`
	DeviceID    string             `bson:"device_id" json:"device_id"`
	PlateNumber string             `bson:"plate_number" json:"plate_number"`

	Fuel     *FuelData     `bson:"fuel,omitempty" json:"fuel,omitempty"`
	Emission *EmissionData `bson:"emission,omitempty" json:"emission,omitempty"`
	GPS      *GPSData      `bson:"gps,omitempty" json:"gps,omitempty"`
	OBD      *OBDData      `bson:"obd,omitempty" json:"obd,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// StatisticsPeriod names a rolling window ending now.
type StatisticsPeriod string

const (
	PeriodDay   StatisticsPeriod = "day"
	PeriodWeek  StatisticsPeriod = "week"
	PeriodMonth StatisticsPeriod = "month"
)

// ReadingFilter selects readings for listing and statistics. Zero values
// mean "not filtered".
type ReadingFilter struct {
	Kind        ReadingKind      `json:"kind"`
	VehicleID   string           `json:"vehicle_id,omitempty"`
	DeviceID    string           `json:"device_id,omitempty"`
	PlateNumber string           `json:"plate_number,omitempty"`
	Period      StatisticsPeriod `json:"period,omitempty"`
	Start       time.Time        `json:"start,omitempty"`
	End         time.Time        `json:"end,omitempty"`
	Limit       int64            `json:"limit,omitempty"`
}
