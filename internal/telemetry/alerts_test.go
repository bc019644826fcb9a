package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

const testVehicleHex = "507f1f77bcf86cd799439011"

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func testVehicle() *models.Vehicle {
	id, _ := primitive.ObjectIDFromHex(testVehicleHex)
	return &models.Vehicle{ID: id, OwnerID: "owner-1", PlateNumber: "RAA123A", Status: models.StatusNormalEmission}
}

func newTestGenerator() *AlertGenerator {
	g := NewAlertGenerator(DefaultCatalog())
	g.now = func() time.Time { return fixedNow }
	return g
}

func fuelReading(level, consumption float64) models.Reading {
	return models.Reading{
		Kind:      models.KindFuel,
		VehicleID: testVehicleHex,
		Timestamp: fixedNow,
		Fuel:      &models.FuelData{FuelLevel: level, FuelConsumption: consumption},
	}
}

func TestAlertGenerator_NoDoubleAlertPerDimension(t *testing.T) {
	alerts, err := newTestGenerator().Generate(fuelReading(50, 25), testVehicle())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, models.AlertHighConsumption, a.Type)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, "Critical Fuel Consumption", a.Title)
	assert.Equal(t, "25.0 L/100km", a.TriggerValue)
	assert.Equal(t, ">= 20.0 L/100km", a.TriggerThreshold)
	assert.Equal(t, testVehicleHex, a.VehicleID)
	assert.Equal(t, "owner-1", a.UserID)
	assert.Equal(t, "RAA123A", a.PlateNumber)
	assert.False(t, a.IsRead)
	assert.Equal(t, fixedNow, a.CreatedAt)
	assert.Contains(t, a.Message, "RAA123A")
}

func TestAlertGenerator_MultipleDimensions(t *testing.T) {
	alerts, err := newTestGenerator().Generate(fuelReading(3, 22), testVehicle())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, models.AlertLowFuel, alerts[0].Type)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "<= 5.0%", alerts[0].TriggerThreshold)
	assert.Equal(t, models.AlertHighConsumption, alerts[1].Type)
	assert.Equal(t, models.SeverityCritical, alerts[1].Severity)
}

func TestAlertGenerator_CriticalOrderedFirst(t *testing.T) {
	alerts, err := newTestGenerator().Generate(fuelReading(8, 21), testVehicle())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, models.AlertHighConsumption, alerts[0].Type)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, models.AlertLowFuel, alerts[1].Type)
	assert.Equal(t, models.SeverityWarning, alerts[1].Severity)
	assert.Equal(t, "Low Fuel Level", alerts[1].Title)
}

func TestAlertGenerator_Boundaries(t *testing.T) {
	g := newTestGenerator()

	tests := []struct {
		name     string
		reading  models.Reading
		expected []models.AlertSeverity
	}{
		{"healthy reading", fuelReading(50, 9), nil},
		{"level exactly 10 warns", fuelReading(10, 9), []models.AlertSeverity{models.SeverityWarning}},
		{"level exactly 5 is critical", fuelReading(5, 9), []models.AlertSeverity{models.SeverityCritical}},
		{"consumption exactly 15 warns", fuelReading(50, 15), []models.AlertSeverity{models.SeverityWarning}},
		{"consumption exactly 20 is critical", fuelReading(50, 20), []models.AlertSeverity{models.SeverityCritical}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts, err := g.Generate(tt.reading, testVehicle())
			require.NoError(t, err)
			var got []models.AlertSeverity
			for _, a := range alerts {
				got = append(got, a.Severity)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAlertGenerator_OtherKinds(t *testing.T) {
	g := newTestGenerator()
	v := testVehicle()

	co2, err := g.Generate(models.Reading{Kind: models.KindEmission, Emission: &models.EmissionData{CO2: 4.2}}, v)
	require.NoError(t, err)
	require.Len(t, co2, 1)
	assert.Equal(t, models.AlertHighEmission, co2[0].Type)

	speed, err := g.Generate(models.Reading{Kind: models.KindGPS, GPS: &models.GPSData{Speed: 59.9}}, v)
	require.NoError(t, err)
	assert.Empty(t, speed)

	speed, err = g.Generate(models.Reading{Kind: models.KindGPS, GPS: &models.GPSData{Speed: 60}}, v)
	require.NoError(t, err)
	require.Len(t, speed, 1)
	assert.Equal(t, models.AlertSpeeding, speed[0].Type)

	obd, err := g.Generate(models.Reading{Kind: models.KindOBD, OBD: &models.OBDData{CoolantTemp: 112, FaultCodes: []string{"P0300", "P0171"}}}, v)
	require.NoError(t, err)
	require.Len(t, obd, 2)
	assert.Equal(t, models.AlertEngineOverheat, obd[0].Type)
	assert.Equal(t, models.SeverityCritical, obd[0].Severity)
	assert.Equal(t, models.AlertEngineFault, obd[1].Type)
	assert.Equal(t, "P0300,P0171", obd[1].TriggerValue)
}

func TestAlertGenerator_LinksReading(t *testing.T) {
	r := fuelReading(3, 9)
	r.ID = primitive.NewObjectID()
	r.PlateNumber = "RBB999B"

	alerts, err := newTestGenerator().Generate(r, testVehicle())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, r.ID.Hex(), alerts[0].ReadingID)
	assert.Equal(t, "RBB999B", alerts[0].PlateNumber)
}

func TestAlertGenerator_Offline(t *testing.T) {
	g := newTestGenerator()
	v := testVehicle()

	alerts, err := g.GenerateOffline(v, fixedNow.Add(-3*time.Hour), fixedNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertDeviceOffline, alerts[0].Type)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "180.0 min", alerts[0].TriggerValue)

	alerts, err = g.GenerateOffline(v, fixedNow.Add(-45*time.Minute), fixedNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)

	alerts, err = g.GenerateOffline(v, fixedNow.Add(-10*time.Minute), fixedNow)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertGenerator_MissingRule(t *testing.T) {
	g := NewAlertGenerator(NewCatalog())
	_, err := g.Generate(fuelReading(3, 22), testVehicle())
	assert.True(t, errors.Is(err, ErrInternal))
}
