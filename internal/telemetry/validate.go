package telemetry

import (
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ValidateReading rejects readings that must never reach persistence:
// unknown kinds, missing ids, missing or mismatched payloads and numbers
// outside the accepted range of their rule.
func ValidateReading(r models.Reading, catalog *Catalog) error {
	if !models.IsValidReadingKind(r.Kind) {
		return validationErrorf("unsupported reading kind %q", r.Kind)
	}
	if r.VehicleID == "" {
		return validationErrorf("vehicle_id is required")
	}
	if !primitive.IsValidObjectID(r.VehicleID) {
		return validationErrorf("vehicle_id %q is not a valid id", r.VehicleID)
	}

	payloads := 0
	for _, set := range []bool{r.Fuel != nil, r.Emission != nil, r.GPS != nil, r.OBD != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return validationErrorf("a %s reading must carry exactly one payload, got %d", r.Kind, payloads)
	}

	switch r.Kind {
	case models.KindFuel:
		if r.Fuel == nil {
			return validationErrorf("fuel payload is required")
		}
		if err := checkRange(catalog, ParamFuelLevel, "fuel_level", r.Fuel.FuelLevel); err != nil {
			return err
		}
		return checkRange(catalog, ParamFuelConsumption, "fuel_consumption", r.Fuel.FuelConsumption)

	case models.KindEmission:
		e := r.Emission
		if e == nil {
			return validationErrorf("emission payload is required")
		}
		if err := checkRange(catalog, ParamEmissionCO2, "co2", e.CO2); err != nil {
			return err
		}
		for name, v := range map[string]float64{"co": e.CO, "o2": e.O2} {
			if err := checkBounds(name, v, 0, 100); err != nil {
				return err
			}
		}
		for name, v := range map[string]float64{"hc": e.HC, "nox": e.NOx, "pm25": e.PM25} {
			if err := checkBounds(name, v, 0, math.MaxFloat64); err != nil {
				return err
			}
		}

	case models.KindGPS:
		g := r.GPS
		if g == nil {
			return validationErrorf("gps payload is required")
		}
		if err := checkRange(catalog, ParamSpeed, "speed", g.Speed); err != nil {
			return err
		}
		if err := checkBounds("lat", g.Location.Lat, -90, 90); err != nil {
			return err
		}
		if err := checkBounds("lon", g.Location.Lon, -180, 180); err != nil {
			return err
		}
		return checkBounds("heading", g.Heading, 0, 360)

	case models.KindOBD:
		o := r.OBD
		if o == nil {
			return validationErrorf("obd payload is required")
		}
		if err := checkRange(catalog, ParamCoolantTemp, "coolant_temp", o.CoolantTemp); err != nil {
			return err
		}
		if err := checkBounds("engine_rpm", o.EngineRPM, 0, 20000); err != nil {
			return err
		}
		return checkBounds("engine_load", o.EngineLoad, 0, 100)
	}
	return nil
}

func checkRange(catalog *Catalog, p Parameter, field string, v float64) error {
	rule, err := catalog.Get(p)
	if err != nil {
		return err
	}
	return checkBounds(field, v, rule.MinValue, rule.MaxValue)
}

func checkBounds(field string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return validationErrorf("%s must be a finite number", field)
	}
	if v < lo || v > hi {
		return validationErrorf("%s %.2f is outside [%g, %g]", field, v, lo, hi)
	}
	return nil
}
