package telemetry

import (
	"fmt"
	"sort"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Parameter names a measured dimension that has a threshold rule.
type Parameter string

const (
	ParamFuelConsumption Parameter = "fuel_consumption"
	ParamFuelLevel       Parameter = "fuel_level"
	ParamFuelEfficiency  Parameter = "fuel_efficiency"
	ParamEmissionCO2     Parameter = "emission_co2"
	ParamSpeed           Parameter = "speed"
	ParamCoolantTemp     Parameter = "coolant_temp"
	ParamDeviceOffline   Parameter = "device_offline"
)

// Direction tells on which side of a bound a value is adverse.
type Direction string

const (
	Above Direction = "above" // value >= bound is adverse
	Below Direction = "below" // value <= bound is adverse
)

// ThresholdRule is the configured boundary set for one parameter. Warning,
// Critical and Favourable are optional; comparisons are inclusive.
type ThresholdRule struct {
	Parameter  Parameter        `json:"parameter" bson:"parameter"`
	Unit       string           `json:"unit" bson:"unit"`
	Direction  Direction        `json:"direction" bson:"direction"`
	MinValue   float64          `json:"min_value" bson:"min_value"`
	MaxValue   float64          `json:"max_value" bson:"max_value"`
	Warning    *float64         `json:"warning,omitempty" bson:"warning,omitempty"`
	Critical   *float64         `json:"critical,omitempty" bson:"critical,omitempty"`
	Favourable *float64         `json:"favourable,omitempty" bson:"favourable,omitempty"`
	NoiseFloor float64          `json:"noise_floor" bson:"noise_floor"`
	AlertType  models.AlertType `json:"alert_type" bson:"alert_type"`
}

// crosses reports whether value is on the adverse side of bound.
func (r ThresholdRule) crosses(value, bound float64) bool {
	if r.Direction == Below {
		return value <= bound
	}
	return value >= bound
}

// InRange reports whether value lies inside the accepted input range.
func (r ThresholdRule) InRange(value float64) bool {
	return value >= r.MinValue && value <= r.MaxValue
}

// Validate checks every bound against the accepted range and that the
// critical bound is at least as adverse as the warning bound.
func (r ThresholdRule) Validate() error {
	for name, v := range map[string]*float64{"warning": r.Warning, "critical": r.Critical, "favourable": r.Favourable} {
		if v != nil && !r.InRange(*v) {
			return validationErrorf("%s %s %.2f is outside [%.0f, %.0f]", r.Parameter, name, *v, r.MinValue, r.MaxValue)
		}
	}
	if r.Warning != nil && r.Critical != nil && !r.crosses(*r.Critical, *r.Warning) {
		return validationErrorf("%s critical %.2f is less severe than warning %.2f", r.Parameter, *r.Critical, *r.Warning)
	}
	return nil
}

// Describe renders a bound the way alerts quote it, e.g. "<= 10.0%".
func (r ThresholdRule) Describe(bound float64) string {
	op := ">="
	if r.Direction == Below {
		op = "<="
	}
	return fmt.Sprintf("%s %.1f%s", op, bound, r.Unit)
}

func f(v float64) *float64 { return &v }

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return f(*p)
}

func (r ThresholdRule) clone() ThresholdRule {
	r.Warning = clonePtr(r.Warning)
	r.Critical = clonePtr(r.Critical)
	r.Favourable = clonePtr(r.Favourable)
	return r
}

// DefaultRules returns the stock rule set.
func DefaultRules() []ThresholdRule {
	return []ThresholdRule{
		{Parameter: ParamFuelConsumption, Unit: " L/100km", Direction: Above, MinValue: 0, MaxValue: 50,
			Warning: f(15), Critical: f(20), NoiseFloor: 0.5, AlertType: models.AlertHighConsumption},
		{Parameter: ParamFuelLevel, Unit: "%", Direction: Below, MinValue: 0, MaxValue: 100,
			Warning: f(10), Critical: f(5), Favourable: f(80), NoiseFloor: 5, AlertType: models.AlertLowFuel},
		{Parameter: ParamFuelEfficiency, Unit: " km/L", Direction: Below, MinValue: 0, MaxValue: 100,
			Warning: f(5), Favourable: f(12), NoiseFloor: 0.5, AlertType: models.AlertPoorEfficiency},
		{Parameter: ParamEmissionCO2, Unit: "%", Direction: Above, MinValue: 0, MaxValue: 100,
			Critical: f(4.0), NoiseFloor: 0.2, AlertType: models.AlertHighEmission},
		{Parameter: ParamSpeed, Unit: " km/h", Direction: Above, MinValue: 0, MaxValue: 400,
			Critical: f(60), NoiseFloor: 5, AlertType: models.AlertSpeeding},
		{Parameter: ParamCoolantTemp, Unit: "°C", Direction: Above, MinValue: -40, MaxValue: 200,
			Warning: f(100), Critical: f(110), NoiseFloor: 2, AlertType: models.AlertEngineOverheat},
		{Parameter: ParamDeviceOffline, Unit: " min", Direction: Above, MinValue: 0, MaxValue: 1e9,
			Warning: f(30), Critical: f(120), AlertType: models.AlertDeviceOffline},
	}
}

// Catalog is an immutable set of threshold rules keyed by parameter. It is
// passed explicitly to everything that classifies, so tests can swap rules.
type Catalog struct {
	rules map[Parameter]ThresholdRule
}

// NewCatalog builds a catalog; a later rule for the same parameter replaces
// an earlier one.
func NewCatalog(rules ...ThresholdRule) *Catalog {
	c := &Catalog{rules: make(map[Parameter]ThresholdRule, len(rules))}
	for _, r := range rules {
		c.rules[r.Parameter] = r.clone()
	}
	return c
}

// DefaultCatalog returns a catalog with DefaultRules.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultRules()...)
}

// Get looks up the rule for p. A missing rule is a programming or
// deployment error and is reported as ErrInternal.
func (c *Catalog) Get(p Parameter) (ThresholdRule, error) {
	if c != nil {
		if r, ok := c.rules[p]; ok {
			return r.clone(), nil
		}
	}
	return ThresholdRule{}, fmt.Errorf("%w: no threshold configured for %q", ErrInternal, p)
}

// WithOverrides returns a new catalog with the given rules replacing the
// existing ones. The receiver is left untouched.
func (c *Catalog) WithOverrides(overrides ...ThresholdRule) *Catalog {
	merged := make([]ThresholdRule, 0, len(c.rules)+len(overrides))
	merged = append(merged, c.Rules()...)
	merged = append(merged, overrides...)
	return NewCatalog(merged...)
}

// Rules returns the rules sorted by parameter name.
func (c *Catalog) Rules() []ThresholdRule {
	out := make([]ThresholdRule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}

// Subset returns the rules for the given parameters, skipping unknown ones.
func (c *Catalog) Subset(params ...Parameter) []ThresholdRule {
	out := make([]ThresholdRule, 0, len(params))
	for _, p := range params {
		if r, ok := c.rules[p]; ok {
			out = append(out, r.clone())
		}
	}
	return out
}
