package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

type alertText struct {
	critical string
	warning  string
	label    string
}

var alertTexts = map[models.AlertType]alertText{
	models.AlertLowFuel:         {"Critical Fuel Level", "Low Fuel Level", "fuel level"},
	models.AlertHighConsumption: {"Critical Fuel Consumption", "High Fuel Consumption", "fuel consumption"},
	models.AlertPoorEfficiency:  {"Very Poor Fuel Efficiency", "Poor Fuel Efficiency", "fuel efficiency"},
	models.AlertHighEmission:    {"High CO2 Emission", "Elevated CO2 Emission", "CO2 emission"},
	models.AlertSpeeding:        {"Speed Limit Exceeded", "Approaching Speed Limit", "speed"},
	models.AlertEngineOverheat:  {"Engine Overheating", "High Coolant Temperature", "coolant temperature"},
	models.AlertDeviceOffline:   {"Device Offline", "Device Not Reporting", "time since last reading"},
}

type check struct {
	param Parameter
	value float64
}

func checksFor(r models.Reading) []check {
	switch r.Kind {
	case models.KindFuel:
		return []check{
			{ParamFuelLevel, r.Fuel.FuelLevel},
			{ParamFuelConsumption, r.Fuel.FuelConsumption},
		}
	case models.KindEmission:
		return []check{{ParamEmissionCO2, r.Emission.CO2}}
	case models.KindGPS:
		return []check{{ParamSpeed, r.GPS.Speed}}
	case models.KindOBD:
		return []check{{ParamCoolantTemp, r.OBD.CoolantTemp}}
	}
	return nil
}

// AlertGenerator turns threshold crossings into alert drafts. Drafts are
// not deduplicated against earlier alerts.
type AlertGenerator struct {
	catalog *Catalog
	now     func() time.Time
}

// NewAlertGenerator creates a generator over the given catalog.
func NewAlertGenerator(catalog *Catalog) *AlertGenerator {
	return &AlertGenerator{catalog: catalog, now: time.Now}
}

// Generate evaluates every dimension of the reading. Per dimension at most
// one alert is produced: critical is checked first and suppresses the
// warning check. The result is ordered CRITICAL before WARNING.
func (g *AlertGenerator) Generate(r models.Reading, v *models.Vehicle) ([]models.Alert, error) {
	plate := r.PlateNumber
	if plate == "" && v != nil {
		plate = v.PlateNumber
	}

	var alerts []models.Alert
	for _, c := range checksFor(r) {
		rule, err := g.catalog.Get(c.param)
		if err != nil {
			return nil, err
		}
		a, ok := g.evaluate(rule, c.value, plate, v)
		if !ok {
			continue
		}
		stampReading(&a, r)
		alerts = append(alerts, a)
	}

	if r.Kind == models.KindOBD && len(r.OBD.FaultCodes) > 0 {
		alerts = append(alerts, g.faultAlert(r, plate, v))
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) > severityRank(alerts[j].Severity)
	})
	return alerts, nil
}

// GenerateOffline evaluates the device_offline rule for a vehicle that last
// reported at lastSeen.
func (g *AlertGenerator) GenerateOffline(v *models.Vehicle, lastSeen, now time.Time) ([]models.Alert, error) {
	rule, err := g.catalog.Get(ParamDeviceOffline)
	if err != nil {
		return nil, err
	}
	minutes := now.Sub(lastSeen).Minutes()
	a, ok := g.evaluate(rule, minutes, v.PlateNumber, v)
	if !ok {
		return nil, nil
	}
	a.Message = fmt.Sprintf("%s (last reading at %s)", a.Message, lastSeen.UTC().Format(time.RFC3339))
	return []models.Alert{a}, nil
}

func (g *AlertGenerator) evaluate(rule ThresholdRule, value float64, plate string, v *models.Vehicle) (models.Alert, bool) {
	sev, bound := severityOf(rule, value)
	if sev == models.SeverityNone {
		return models.Alert{}, false
	}

	text, ok := alertTexts[rule.AlertType]
	if !ok {
		text = alertText{critical: string(rule.AlertType), warning: string(rule.AlertType), label: string(rule.Parameter)}
	}
	title := text.warning
	if sev == models.SeverityCritical {
		title = text.critical
	}

	trigger := fmt.Sprintf("%.1f%s", value, rule.Unit)
	threshold := rule.Describe(bound)
	a := models.Alert{
		Type:             rule.AlertType,
		Severity:         sev,
		Title:            title,
		Message:          fmt.Sprintf("Vehicle %s %s is %s, %s threshold is %s", plate, text.label, trigger, strings.ToLower(string(sev)), threshold),
		TriggerValue:     trigger,
		TriggerThreshold: threshold,
		PlateNumber:      plate,
		CreatedAt:        g.now(),
	}
	if v != nil {
		a.VehicleID = v.ID.Hex()
		a.UserID = v.OwnerID
	}
	return a, true
}

func (g *AlertGenerator) faultAlert(r models.Reading, plate string, v *models.Vehicle) models.Alert {
	codes := strings.Join(r.OBD.FaultCodes, ",")
	a := models.Alert{
		Type:             models.AlertEngineFault,
		Severity:         models.SeverityWarning,
		Title:            "Engine Fault Codes Reported",
		Message:          fmt.Sprintf("Vehicle %s reported diagnostic trouble codes %s", plate, codes),
		TriggerValue:     codes,
		TriggerThreshold: "any fault code",
		PlateNumber:      plate,
		CreatedAt:        g.now(),
	}
	if v != nil {
		a.VehicleID = v.ID.Hex()
		a.UserID = v.OwnerID
	}
	stampReading(&a, r)
	return a
}

// stampReading links an alert to the reading that raised it.
func stampReading(a *models.Alert, r models.Reading) {
	if r.VehicleID != "" {
		a.VehicleID = r.VehicleID
	}
	if !r.ID.IsZero() {
		a.ReadingID = r.ID.Hex()
	}
}

func severityRank(s models.AlertSeverity) int {
	switch s {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}
