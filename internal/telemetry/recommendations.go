package telemetry

import "github.com/ukydev/fleet-telemetry/internal/models"

// EfficiencyTips is the static advice attached when consumption reaches the
// warning threshold.
var EfficiencyTips = []string{
	"Check tyre pressure regularly",
	"Avoid rapid acceleration and hard braking",
	"Reduce idling time",
	"Remove excess weight from the vehicle",
	"Keep up with scheduled engine maintenance",
}

// Recommendations are advisory hints returned with an ingestion result.
type Recommendations struct {
	RefuelingSuggested     bool     `json:"refueling_suggested"`
	MaintenanceRecommended bool     `json:"maintenance_recommended"`
	EmissionInspection     bool     `json:"emission_inspection,omitempty"`
	SpeedAdvisory          bool     `json:"speed_advisory,omitempty"`
	EfficiencyTips         []string `json:"efficiency_tips,omitempty"`
}

// buildRecommendations reads the alerts the reading qualifies for, before any
// cooldown, so the advice does not depend on what was recently raised.
func buildRecommendations(c Classification, alerts []models.Alert) Recommendations {
	rec := Recommendations{RefuelingSuggested: c.Flags.LowFuel}
	if c.Flags.HighConsumption {
		rec.EfficiencyTips = append([]string(nil), EfficiencyTips...)
	}
	if c.Flags.EngineFault {
		rec.MaintenanceRecommended = true
	}
	for _, a := range alerts {
		switch a.Type {
		case models.AlertHighConsumption:
			if a.Severity == models.SeverityCritical {
				rec.MaintenanceRecommended = true
			}
		case models.AlertHighEmission:
			rec.EmissionInspection = true
		case models.AlertSpeeding:
			rec.SpeedAdvisory = true
		}
	}
	return rec
}
