package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

const simVehicleHex = "507f1f77bcf86cd799439011"

func TestHaversineKm(t *testing.T) {
	london := models.Location{Lat: 51.5074, Lon: -0.1278}
	paris := models.Location{Lat: 48.8566, Lon: 2.3522}

	assert.InDelta(t, 343.5, haversineKm(london, paris), 2)
	assert.Zero(t, haversineKm(london, london))
}

func TestBearing(t *testing.T) {
	origin := models.Location{Lat: 0, Lon: 0}
	assert.InDelta(t, 0, bearing(origin, models.Location{Lat: 1, Lon: 0}), 0.01)
	assert.InDelta(t, 90, bearing(origin, models.Location{Lat: 0, Lon: 1}), 0.01)
	assert.InDelta(t, 270, bearing(origin, models.Location{Lat: 0, Lon: -1}), 0.01)
}

func TestJitterLocation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := cities[0]
	for i := 0; i < 100; i++ {
		loc := jitterLocation(rng, base, 500)
		// Corners of the jitter box sit at most 500*sqrt(2) m away.
		assert.LessOrEqual(t, haversineKm(base, loc), 0.75)
	}
}

func TestVehicleState_Step(t *testing.T) {
	s := newVehicleState(simVehicleHex, "sim-device-1", 42)
	start := s.Position
	fuel := s.FuelPct

	var km float64
	for i := 0; i < 30; i++ {
		km += s.step(time.Minute)
		assert.GreaterOrEqual(t, s.SpeedKmh, 10.0)
		assert.LessOrEqual(t, s.SpeedKmh, 95.0)
		assert.GreaterOrEqual(t, s.CoolantC, 70.0)
		assert.LessOrEqual(t, s.CoolantC, 115.0)
	}

	assert.Greater(t, km, 0.0)
	assert.NotEqual(t, start, s.Position)
	if s.FuelPct < fuel {
		assert.InDelta(t, fuel-km*0.4, s.FuelPct, 1e-6)
	}
}

func TestVehicleState_ReadingsAreValid(t *testing.T) {
	catalog := telemetry.DefaultCatalog()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for seed := int64(0); seed < 20; seed++ {
		s := newVehicleState(simVehicleHex, "sim-device-1", seed)
		for i := 0; i < 10; i++ {
			s.step(30 * time.Second)
			readings := s.readings(now)
			require.Len(t, readings, len(models.ReadingKinds))
			for j, r := range readings {
				assert.Equal(t, models.ReadingKinds[j], r.Kind)
				assert.Equal(t, "sim-device-1", r.DeviceID)
				assert.Equal(t, now, r.Timestamp)
				assert.NoError(t, telemetry.ValidateReading(r, catalog), "seed %d kind %s", seed, r.Kind)
			}
		}
	}
}

func TestClient_SendReading(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		auth  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		var reading models.Reading
		if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"alerts_generated": 1, "vehicle_status": "TOP_POLLUTING"})
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL + "/api", Token: "sim-token", HTTP: server.Client()}
	s := newVehicleState(simVehicleHex, "sim-device-1", 7)
	for _, r := range s.readings(time.Now()) {
		require.NoError(t, client.SendReading(context.Background(), r))
	}

	assert.Equal(t, []string{"/api/telemetry/fuel", "/api/telemetry/emission", "/api/telemetry/gps", "/api/telemetry/obd"}, paths)
	assert.Equal(t, "Bearer sim-token", auth)
}

func TestClient_SendReading_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, HTTP: server.Client()}
	err := client.SendReading(context.Background(), models.Reading{Kind: models.KindFuel, VehicleID: simVehicleHex})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestClient_CreateVehicle(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		var body map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/vehicles", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": simVehicleHex})
		}))
		defer server.Close()

		client := &Client{BaseURL: server.URL + "/api", HTTP: server.Client()}
		id, err := client.CreateVehicle(context.Background(), rand.New(rand.NewSource(3)), "sim-device-9")
		require.NoError(t, err)
		assert.Equal(t, simVehicleHex, id)
		assert.Equal(t, []interface{}{"sim-device-9"}, body["device_ids"])
		assert.Equal(t, "ICE", body["type"])
	})

	t.Run("missing id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := &Client{BaseURL: server.URL, HTTP: server.Client()}
		_, err := client.CreateVehicle(context.Background(), rand.New(rand.NewSource(3)), "d")
		assert.Error(t, err)
	})

	t.Run("forbidden", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Insufficient permissions", http.StatusForbidden)
		}))
		defer server.Close()

		client := &Client{BaseURL: server.URL, HTTP: server.Client()}
		_, err := client.CreateVehicle(context.Background(), rand.New(rand.NewSource(3)), "d")
		assert.Error(t, err)
	})
}

func TestSimulateVehicle_StopsWithContext(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, HTTP: server.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		simulateVehicle(ctx, client, newVehicleState(simVehicleHex, "", 1), 20*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("simulateVehicle did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, count, 0)
}

func TestSplitIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitIDs(" a, ,b,"))
	assert.Nil(t, splitIDs(""))
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SIM_TEST_INT", "7")
	assert.Equal(t, 7, envInt("SIM_TEST_INT", 3, 1))

	t.Setenv("SIM_TEST_INT", "0")
	assert.Equal(t, 3, envInt("SIM_TEST_INT", 3, 1))

	t.Setenv("SIM_TEST_INT", "x")
	assert.Equal(t, 3, envInt("SIM_TEST_INT", 3, 1))
}
