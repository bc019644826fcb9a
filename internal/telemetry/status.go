package telemetry

import "github.com/ukydev/fleet-telemetry/internal/models"

// DeriveStatus maps the latest reading's flags onto a vehicle status. The
// first matching row wins:
//
//	low fuel and high consumption  -> UNDER_MAINTENANCE
//	engine fault                   -> UNDER_MAINTENANCE
//	high consumption or emission   -> TOP_POLLUTING
//	otherwise                      -> NORMAL_EMISSION
//
// Only the most recent reading is considered.
func DeriveStatus(flags StatusFlags) models.VehicleStatus {
	switch {
	case flags.LowFuel && flags.HighConsumption:
		return models.StatusUnderMaintenance
	case flags.EngineFault:
		return models.StatusUnderMaintenance
	case flags.HighConsumption, flags.HighEmission:
		return models.StatusTopPolluting
	default:
		return models.StatusNormalEmission
	}
}
