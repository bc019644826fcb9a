package telemetry

import (
	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// LevelStatus buckets a reading relative to its rule.
type LevelStatus string

const (
	LevelLow    LevelStatus = "LOW"
	LevelNormal LevelStatus = "NORMAL"
	LevelHigh   LevelStatus = "HIGH"
)

// EfficiencyStatus buckets fuel consumption.
type EfficiencyStatus string

const (
	EfficiencyEfficient EfficiencyStatus = "EFFICIENT"
	EfficiencyNormal    EfficiencyStatus = "NORMAL"
	EfficiencyPoor      EfficiencyStatus = "POOR"
)

// EstimateConfig carries the constants behind the advisory figures.
type EstimateConfig struct {
	TankCapacityLiters    float64
	AssumedEfficiencyKmpl float64
	FuelPricePerLiter     float64
}

// DefaultEstimates returns a 50 L tank, 8 km/L and 1.5 per litre.
func DefaultEstimates() EstimateConfig {
	return EstimateConfig{TankCapacityLiters: 50, AssumedEfficiencyKmpl: 8, FuelPricePerLiter: 1.5}
}

// StatusFlags are the per-reading facts the status deriver looks at.
type StatusFlags struct {
	LowFuel         bool `json:"low_fuel"`
	HighConsumption bool `json:"high_consumption"`
	HighEmission    bool `json:"high_emission"`
	EngineFault     bool `json:"engine_fault"`
}

// Classification is derived from a reading and the current catalog. It is
// never stored.
type Classification struct {
	Kind             models.ReadingKind `json:"kind"`
	LevelStatus      LevelStatus        `json:"level_status"`
	EfficiencyStatus EfficiencyStatus   `json:"efficiency_status,omitempty"`
	EstimatedRange   float64            `json:"estimated_range"`
	CostEstimate     float64            `json:"cost_estimate"`
	Flags            StatusFlags        `json:"flags"`
	// UpdatesStatus is false for kinds that carry no status flags (GPS).
	UpdatesStatus bool `json:"-"`
}

// Classifier maps readings onto buckets. It holds no mutable state.
type Classifier struct {
	catalog   *Catalog
	estimates EstimateConfig
}

// NewClassifier creates a classifier over the given catalog.
func NewClassifier(catalog *Catalog, estimates EstimateConfig) *Classifier {
	return &Classifier{catalog: catalog, estimates: estimates}
}

// Catalog returns the rules the classifier evaluates against.
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

func severityOf(r ThresholdRule, v float64) (models.AlertSeverity, float64) {
	if r.Critical != nil && r.crosses(v, *r.Critical) {
		return models.SeverityCritical, *r.Critical
	}
	if r.Warning != nil && r.crosses(v, *r.Warning) {
		return models.SeverityWarning, *r.Warning
	}
	return models.SeverityNone, 0
}

func favourable(r ThresholdRule, v float64) bool {
	if r.Favourable == nil {
		return false
	}
	if r.Direction == Below {
		return v >= *r.Favourable
	}
	return v <= *r.Favourable
}

// Severity evaluates critical first, then warning.
func (c *Classifier) Severity(p Parameter, value float64) (models.AlertSeverity, error) {
	r, err := c.catalog.Get(p)
	if err != nil {
		return models.SeverityNone, err
	}
	sev, _ := severityOf(r, value)
	return sev, nil
}

// Level classifies value as LOW, NORMAL or HIGH. The adverse side of a
// below-rule is LOW and of an above-rule HIGH; a value exactly on a bound
// counts as crossed.
func (c *Classifier) Level(p Parameter, value float64) (LevelStatus, error) {
	r, err := c.catalog.Get(p)
	if err != nil {
		return "", err
	}
	adverse, good := LevelHigh, LevelLow
	if r.Direction == Below {
		adverse, good = LevelLow, LevelHigh
	}
	if sev, _ := severityOf(r, value); sev != models.SeverityNone {
		return adverse, nil
	}
	if favourable(r, value) {
		return good, nil
	}
	return LevelNormal, nil
}

// Efficiency classifies a consumption figure in L/100km.
func (c *Classifier) Efficiency(consumption float64) (EfficiencyStatus, error) {
	cr, err := c.catalog.Get(ParamFuelConsumption)
	if err != nil {
		return "", err
	}
	er, err := c.catalog.Get(ParamFuelEfficiency)
	if err != nil {
		return "", err
	}
	if sev, _ := severityOf(cr, consumption); sev != models.SeverityNone {
		return EfficiencyPoor, nil
	}
	if consumption <= 0 {
		return EfficiencyNormal, nil
	}
	kmpl := 100 / consumption
	if sev, _ := severityOf(er, kmpl); sev != models.SeverityNone {
		return EfficiencyPoor, nil
	}
	if favourable(er, kmpl) {
		return EfficiencyEfficient, nil
	}
	return EfficiencyNormal, nil
}

// EstimatedRange is the advisory distance left in km.
func (c *Classifier) EstimatedRange(fuelLevel float64) float64 {
	return round(fuelLevel/100*c.estimates.TankCapacityLiters*c.estimates.AssumedEfficiencyKmpl, 2)
}

// CostEstimate is the advisory fuel cost per kilometre driven.
func (c *Classifier) CostEstimate(consumption float64) float64 {
	return round(consumption/100*c.estimates.FuelPricePerLiter, 2)
}

// Classify derives the classification of a validated reading.
func (c *Classifier) Classify(r models.Reading) (Classification, error) {
	out := Classification{Kind: r.Kind, UpdatesStatus: true}
	var err error

	switch r.Kind {
	case models.KindFuel:
		if out.LevelStatus, err = c.Level(ParamFuelLevel, r.Fuel.FuelLevel); err != nil {
			return Classification{}, err
		}
		if out.EfficiencyStatus, err = c.Efficiency(r.Fuel.FuelConsumption); err != nil {
			return Classification{}, err
		}
		out.EstimatedRange = c.EstimatedRange(r.Fuel.FuelLevel)
		out.CostEstimate = c.CostEstimate(r.Fuel.FuelConsumption)
		if out.Flags.LowFuel, err = c.crossed(ParamFuelLevel, r.Fuel.FuelLevel); err != nil {
			return Classification{}, err
		}
		if out.Flags.HighConsumption, err = c.crossed(ParamFuelConsumption, r.Fuel.FuelConsumption); err != nil {
			return Classification{}, err
		}

	case models.KindEmission:
		if out.LevelStatus, err = c.Level(ParamEmissionCO2, r.Emission.CO2); err != nil {
			return Classification{}, err
		}
		if out.Flags.HighEmission, err = c.crossed(ParamEmissionCO2, r.Emission.CO2); err != nil {
			return Classification{}, err
		}

	case models.KindGPS:
		if out.LevelStatus, err = c.Level(ParamSpeed, r.GPS.Speed); err != nil {
			return Classification{}, err
		}
		out.UpdatesStatus = false

	case models.KindOBD:
		if out.LevelStatus, err = c.Level(ParamCoolantTemp, r.OBD.CoolantTemp); err != nil {
			return Classification{}, err
		}
		sev, err := c.Severity(ParamCoolantTemp, r.OBD.CoolantTemp)
		if err != nil {
			return Classification{}, err
		}
		out.Flags.EngineFault = sev == models.SeverityCritical || len(r.OBD.FaultCodes) > 0

	default:
		return Classification{}, validationErrorf("unknown reading kind %q", r.Kind)
	}
	return out, nil
}

func (c *Classifier) crossed(p Parameter, value float64) (bool, error) {
	sev, err := c.Severity(p, value)
	return sev != models.SeverityNone, err
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
