package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// VehicleCollection defines the vehicle operations used outside the engine.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) (models.Vehicle, error)
	FindVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
}

// AlertCollection defines the alert operations used by the API and the
// offline sweep.
type AlertCollection interface {
	SaveAlerts(ctx context.Context, alerts []models.Alert) error
	FindAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
}

// AlertFilter narrows an alert query. Zero fields are ignored.
type AlertFilter struct {
	UserID     string
	VehicleID  string
	UnreadOnly bool
	Since      time.Time
	Limit      int64
}

// ReadingTimes reports the newest reading timestamp per vehicle.
type ReadingTimes interface {
	LatestReadingTimes(ctx context.Context) (map[string]time.Time, error)
}
