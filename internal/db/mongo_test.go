package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// testDatabase returns a scratch database, or skips when MONGO_URI is unset.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	client, err := ConnectMongo(uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	database := client.Database("test_fleet_telemetry")
	require.NoError(t, database.Drop(context.Background()))
	return database
}

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo("mongodb://bad:uri")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestMongoStore_NilCollections(t *testing.T) {
	ctx := context.Background()
	s := &MongoStore{}

	_, err := s.SaveReading(ctx, models.Reading{})
	assert.ErrorIs(t, err, errNilCollection)
	_, err = s.QueryReadings(ctx, models.ReadingFilter{Kind: models.KindFuel})
	assert.ErrorIs(t, err, errNilCollection)
	_, err = s.FindVehicle(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, errNilCollection)
	assert.ErrorIs(t, s.UpdateVehicleStatus(ctx, primitive.NewObjectID().Hex(), models.StatusNormalEmission), errNilCollection)
	assert.ErrorIs(t, s.SaveAlerts(ctx, []models.Alert{{}}), errNilCollection)
	_, err = s.FindAlerts(ctx, AlertFilter{})
	assert.ErrorIs(t, err, errNilCollection)
	_, err = s.LatestReadingTimes(ctx)
	assert.ErrorIs(t, err, errNilCollection)
}

func TestReadingQuery(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	q := readingQuery(models.ReadingFilter{
		Kind:        models.KindFuel,
		VehicleID:   "507f1f77bcf86cd799439011",
		PlateNumber: "RAA123A",
		Start:       start,
		End:         end,
	})
	assert.Equal(t, bson.M{
		"kind":         models.KindFuel,
		"deleted_at":   nil,
		"vehicle_id":   "507f1f77bcf86cd799439011",
		"plate_number": "RAA123A",
		"timestamp":    bson.M{"$gte": start, "$lte": end},
	}, q)

	q = readingQuery(models.ReadingFilter{Kind: models.KindGPS})
	assert.Equal(t, bson.M{"kind": models.KindGPS, "deleted_at": nil}, q)
}

func TestAlertQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := alertQuery(AlertFilter{UserID: "owner-1", UnreadOnly: true, Since: since})
	assert.Equal(t, bson.M{
		"user_id":    "owner-1",
		"is_read":    false,
		"created_at": bson.M{"$gte": since},
	}, q)
	assert.Empty(t, alertQuery(AlertFilter{}))
}

func TestMongoStore_Integration(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()
	store := NewMongoStore(database)
	require.NoError(t, store.EnsureIndexes(ctx))

	vehicle, err := store.InsertVehicle(ctx, models.Vehicle{OwnerID: "owner-1", PlateNumber: "RAA123A"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNormalEmission, vehicle.Status)

	found, err := store.FindVehicle(ctx, vehicle.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "RAA123A", found.PlateNumber)

	_, err = store.FindVehicle(ctx, primitive.NewObjectID().Hex())
	assert.True(t, errors.Is(err, telemetry.ErrNotFound))

	ts := time.Now().UTC().Truncate(time.Millisecond)
	for i, level := range []float64{40, 30} {
		_, err := store.SaveReading(ctx, models.Reading{
			Kind:      models.KindFuel,
			VehicleID: vehicle.ID.Hex(),
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Fuel:      &models.FuelData{FuelLevel: level, FuelConsumption: 9},
		})
		require.NoError(t, err)
	}

	readings, err := store.QueryReadings(ctx, models.ReadingFilter{
		Kind:      models.KindFuel,
		VehicleID: vehicle.ID.Hex(),
		Start:     ts.Add(-time.Hour),
		End:       ts.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 40.0, readings[0].Fuel.FuelLevel)

	latest, err := store.LatestReadingTimes(ctx)
	require.NoError(t, err)
	assert.True(t, latest[vehicle.ID.Hex()].Equal(ts.Add(time.Minute)))

	require.NoError(t, store.UpdateVehicleStatus(ctx, vehicle.ID.Hex(), models.StatusTopPolluting))
	found, err = store.FindVehicle(ctx, vehicle.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusTopPolluting, found.Status)

	err = store.UpdateVehicleStatus(ctx, primitive.NewObjectID().Hex(), models.StatusTopPolluting)
	assert.True(t, errors.Is(err, telemetry.ErrNotFound))

	require.NoError(t, store.SaveAlerts(ctx, []models.Alert{
		{Type: models.AlertLowFuel, Severity: models.SeverityWarning, UserID: "owner-1", VehicleID: vehicle.ID.Hex(), CreatedAt: ts},
		{Type: models.AlertSpeeding, Severity: models.SeverityCritical, UserID: "owner-2", CreatedAt: ts},
	}))
	alerts, err := store.FindAlerts(ctx, AlertFilter{UserID: "owner-1"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertLowFuel, alerts[0].Type)
}

func TestThresholdStore_Integration(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()
	store := &ThresholdStore{Collection: database.Collection(ThresholdsCollection)}

	rule, err := telemetry.DefaultCatalog().Get(telemetry.ParamSpeed)
	require.NoError(t, err)
	limit := 80.0
	rule.Critical = &limit
	require.NoError(t, store.SaveRule(ctx, rule))
	require.NoError(t, store.SaveRule(ctx, rule), "saving twice upserts")

	rules, err := store.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	catalog, err := store.Catalog(ctx, telemetry.DefaultCatalog())
	require.NoError(t, err)
	got, err := catalog.Get(telemetry.ParamSpeed)
	require.NoError(t, err)
	assert.Equal(t, 80.0, *got.Critical)
}

func TestThresholdStore_NilCollection(t *testing.T) {
	s := &ThresholdStore{}
	_, err := s.LoadRules(context.Background())
	assert.ErrorIs(t, err, errNilCollection)
}
