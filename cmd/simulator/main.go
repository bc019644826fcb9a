package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Cities the simulated fleet starts from.
var cities = []models.Location{
	{Lat: 51.5074, Lon: -0.1278},  // London
	{Lat: 40.4168, Lon: -3.7038},  // Madrid
	{Lat: 48.8566, Lon: 2.3522},   // Paris
	{Lat: 52.5200, Lon: 13.4050},  // Berlin
	{Lat: -1.2921, Lon: 36.8219},  // Nairobi
	{Lat: 41.0082, Lon: 28.9784},  // Istanbul
	{Lat: 43.6532, Lon: -79.3832}, // Toronto
	{Lat: 19.0760, Lon: 72.8777},  // Mumbai
}

func jitterLocation(rng *rand.Rand, base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rng.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func haversineKm(a, b models.Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

// bearing returns the initial heading from a to b in degrees [0, 360).
func bearing(a, b models.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// VehicleState is the simulated condition of one vehicle.
type VehicleState struct {
	VehicleID string
	DeviceID  string
	Position  models.Location
	Waypoint  models.Location
	Heading   float64
	SpeedKmh  float64
	FuelPct   float64
	CoolantC  float64
	rng       *rand.Rand
}

func newVehicleState(vehicleID, deviceID string, seed int64) *VehicleState {
	rng := rand.New(rand.NewSource(seed))
	start := jitterLocation(rng, cities[rng.Intn(len(cities))], 500)
	s := &VehicleState{
		VehicleID: vehicleID,
		DeviceID:  deviceID,
		Position:  start,
		SpeedKmh:  30 + rng.Float64()*30,
		FuelPct:   50 + rng.Float64()*50,
		CoolantC:  85 + rng.Float64()*5,
		rng:       rng,
	}
	s.planWaypoint()
	return s
}

// planWaypoint picks the next target a few kilometres away.
func (s *VehicleState) planWaypoint() {
	s.Waypoint = jitterLocation(s.rng, s.Position, 5000)
	s.Heading = bearing(s.Position, s.Waypoint)
}

// step advances the vehicle by one tick and burns fuel for the distance.
func (s *VehicleState) step(tick time.Duration) (km float64) {
	s.SpeedKmh += (s.rng.Float64()*2 - 1) * 4
	s.SpeedKmh = math.Max(10, math.Min(s.SpeedKmh, 95))

	km = s.SpeedKmh * tick.Hours()
	left := haversineKm(s.Position, s.Waypoint)
	if left <= km || left == 0 {
		s.Position = s.Waypoint
		s.planWaypoint()
	} else {
		s.Position = lerp(s.Position, s.Waypoint, km/left)
	}

	s.FuelPct -= km * 0.4
	if s.FuelPct < 3 {
		s.FuelPct = 100
	}
	s.CoolantC += (s.rng.Float64()*2 - 1) * 1.5
	s.CoolantC = math.Max(70, math.Min(s.CoolantC, 115))
	return km
}

// readings produces one reading of every kind from the current state.
func (s *VehicleState) readings(now time.Time) []models.Reading {
	base := models.Reading{VehicleID: s.VehicleID, DeviceID: s.DeviceID, Timestamp: now}

	// Faster driving burns more per 100 km.
	consumption := 6 + s.SpeedKmh*0.08 + s.rng.Float64()*2
	co2 := 2 + s.SpeedKmh*0.02 + s.rng.Float64()

	fuel := base
	fuel.Kind = models.KindFuel
	fuel.Fuel = &models.FuelData{
		FuelLevel:       round2(s.FuelPct),
		FuelConsumption: round2(consumption),
	}

	emission := base
	emission.Kind = models.KindEmission
	emission.Emission = &models.EmissionData{
		CO2:  round2(co2),
		CO:   round2(0.1 + s.rng.Float64()*0.5),
		O2:   round2(1 + s.rng.Float64()*2),
		HC:   round2(50 + s.rng.Float64()*100),
		NOx:  round2(100 + s.rng.Float64()*200),
		PM25: round2(s.rng.Float64() * 20),
	}

	gps := base
	gps.Kind = models.KindGPS
	gps.GPS = &models.GPSData{Location: s.Position, Speed: round2(s.SpeedKmh), Heading: round2(s.Heading)}

	obd := base
	obd.Kind = models.KindOBD
	obd.OBD = &models.OBDData{
		EngineRPM:   round2(800 + s.SpeedKmh*30),
		CoolantTemp: round2(s.CoolantC),
		EngineLoad:  round2(math.Min(100, 20+s.SpeedKmh*0.6)),
	}
	if s.rng.Intn(50) == 0 {
		obd.OBD.FaultCodes = []string{"P0300"}
	}

	return []models.Reading{fuel, emission, gps, obd}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Client posts to the fleet API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST %s failed with status: %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateVehicle registers a vehicle with one device and returns its id.
func (c *Client) CreateVehicle(ctx context.Context, rng *rand.Rand, deviceID string) (string, error) {
	makes := []string{"Toyota", "Isuzu", "Ford", "Mitsubishi", "Nissan"}
	bodies := []string{"Hilux", "D-Max", "Transit", "Canter", "Navara"}
	i := rng.Intn(len(makes))

	vehicle := map[string]interface{}{
		"plate_number": fmt.Sprintf("SIM %03d%c", rng.Intn(1000), 'A'+rune(rng.Intn(26))),
		"device_ids":   []string{deviceID},
		"type":         "ICE",
		"make":         makes[i],
		"model":        bodies[i],
		"year":         2018 + rng.Intn(7),
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/vehicles", vehicle, &created); err != nil {
		return "", fmt.Errorf("failed to create vehicle: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("invalid vehicle ID in response")
	}

	log.WithFields(log.Fields{
		"vehicle_id": created.ID,
		"device_id":  deviceID,
		"make":       makes[i],
		"model":      bodies[i],
	}).Info("Created vehicle")
	return created.ID, nil
}

// SendReading posts one reading to the ingest endpoint of its kind.
func (c *Client) SendReading(ctx context.Context, reading models.Reading) error {
	var result struct {
		AlertsGenerated int                  `json:"alerts_generated"`
		VehicleStatus   models.VehicleStatus `json:"vehicle_status"`
	}
	if err := c.post(ctx, "/telemetry/"+string(reading.Kind), reading, &result); err != nil {
		return err
	}
	entry := log.WithFields(log.Fields{
		"vehicle_id": reading.VehicleID,
		"kind":       reading.Kind,
		"alerts":     result.AlertsGenerated,
	})
	if result.VehicleStatus != "" {
		entry = entry.WithField("vehicle_status", result.VehicleStatus)
	}
	entry.Debug("Sent reading")
	return nil
}

func simulateVehicle(ctx context.Context, client *Client, s *VehicleState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			s.step(interval)
			for _, r := range s.readings(now.UTC()) {
				if err := client.SendReading(ctx, r); err != nil {
					log.WithError(err).WithFields(log.Fields{"vehicle_id": s.VehicleID, "kind": r.Kind}).Error("Failed to send reading")
				}
			}
		}
	}
}

// splitIDs parses a comma separated list, skipping blanks.
func splitIDs(v string) []string {
	var ids []string
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func envInt(key string, fallback, min int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			return n
		}
	}
	return fallback
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	client := &Client{
		BaseURL: strings.TrimRight(apiURL, "/"),
		Token:   os.Getenv("SIM_AUTH_TOKEN"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	fleetSize := envInt("FLEET_SIZE", 5, 1)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2, 1)) * time.Second

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    client.BaseURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))

	// Existing vehicles report without a device id; new ones get one each.
	var states []*VehicleState
	if ids := splitIDs(os.Getenv("FLEET_VEHICLE_IDS")); len(ids) > 0 {
		for i, id := range ids {
			states = append(states, newVehicleState(id, "", seed+int64(i)))
		}
	} else {
		for i := 0; i < fleetSize; i++ {
			deviceID := fmt.Sprintf("sim-device-%d", i+1)
			vehicleID, err := client.CreateVehicle(ctx, rng, deviceID)
			if err != nil {
				log.WithError(err).Error("Failed to create vehicle")
				continue
			}
			states = append(states, newVehicleState(vehicleID, deviceID, seed+int64(i)))
		}
	}

	log.WithField("vehicles", len(states)).Info("Fleet ready")
	if len(states) == 0 {
		log.Error("No vehicles available. Ensure SIM_AUTH_TOKEN is valid and API is reachable. Exiting.")
		return
	}

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func(s *VehicleState) {
			defer wg.Done()
			simulateVehicle(ctx, client, s, interval)
		}(s)
	}

	log.Info("Telemetry simulation started")
	wg.Wait()
	log.Info("Telemetry simulation stopped")
}
