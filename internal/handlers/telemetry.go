package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// Engine is the part of telemetry.Engine the HTTP layer uses.
type Engine interface {
	RecordReading(ctx context.Context, reading models.Reading) (*telemetry.IngestionResult, error)
	Statistics(ctx context.Context, filter models.ReadingFilter) (*telemetry.StatisticsReport, error)
	ListReadings(ctx context.Context, filter models.ReadingFilter) ([]models.Reading, error)
	Catalog() *telemetry.Catalog
}

// ThresholdSaver persists rule changes for the next catalog build.
type ThresholdSaver interface {
	SaveRule(ctx context.Context, rule telemetry.ThresholdRule) error
}

// TelemetryHandler serves ingestion, readings, statistics, alerts and
// thresholds.
type TelemetryHandler struct {
	engine     Engine
	alerts     db.AlertCollection
	vehicles   db.VehicleCollection
	thresholds ThresholdSaver
}

// NewTelemetryHandler creates a telemetry handler. vehicles scopes owners
// to their own vehicles. thresholds may be nil, which makes threshold
// updates unavailable.
func NewTelemetryHandler(engine Engine, alerts db.AlertCollection, vehicles db.VehicleCollection, thresholds ThresholdSaver) *TelemetryHandler {
	return &TelemetryHandler{engine: engine, alerts: alerts, vehicles: vehicles, thresholds: thresholds}
}

// ownerScope lets owners reach only their own vehicles. A foreign vehicle
// reports ErrNotFound, the same as a missing one. Other roles pass.
func (h *TelemetryHandler) ownerScope(ctx context.Context, vehicleID string) error {
	claims, ok := middleware.GetUserFromContext(ctx)
	if !ok || claims.Role != models.RoleOwner {
		return nil
	}
	if vehicleID == "" {
		return badRequest("vehicle_id is required")
	}
	if h.vehicles == nil {
		return fmt.Errorf("%w: vehicle lookup unavailable", telemetry.ErrInternal)
	}
	vehicle, err := h.vehicles.FindVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	if vehicle == nil || vehicle.OwnerID != claims.UserID {
		return fmt.Errorf("%w: vehicle %s", telemetry.ErrNotFound, vehicleID)
	}
	return nil
}

// Ingest records one reading of the kind named in the path.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	kind := models.ReadingKind(r.PathValue("kind"))
	if !models.IsValidReadingKind(kind) {
		http.Error(w, "Unknown reading kind", http.StatusNotFound)
		return
	}

	var reading models.Reading
	if !decodeBody(w, r, &reading) {
		return
	}
	if reading.Kind != "" && reading.Kind != kind {
		http.Error(w, "Reading kind does not match path", http.StatusBadRequest)
		return
	}
	reading.Kind = kind
	reading.DeletedAt = nil

	// Device tokens always ingest as their own device.
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok && claims.DeviceID != "" {
		reading.DeviceID = claims.DeviceID
	}
	if err := h.ownerScope(r.Context(), reading.VehicleID); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.engine.RecordReading(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListReadings returns readings of one kind matching the query.
func (h *TelemetryHandler) ListReadings(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ownerScope(r.Context(), filter.VehicleID); err != nil {
		writeError(w, err)
		return
	}
	readings, err := h.engine.ListReadings(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// Statistics returns the aggregated statistics of one kind.
func (h *TelemetryHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ownerScope(r.Context(), filter.VehicleID); err != nil {
		writeError(w, err)
		return
	}
	report, err := h.engine.Statistics(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Body())
}

// Alerts lists alerts. Owners only see alerts of their own vehicles.
func (h *TelemetryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := db.AlertFilter{
		VehicleID:  q.Get("vehicle_id"),
		UnreadOnly: q.Get("unread") == "true",
		Limit:      100,
	}
	if claims.Role == models.RoleOwner {
		filter.UserID = claims.UserID
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "since must be an RFC3339 time", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.alerts.FindAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Thresholds returns the active threshold rules.
func (h *TelemetryHandler) Thresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Catalog().Rules())
}

// UpdateThreshold stores a replacement rule for the parameter in the path.
// The running catalog is immutable, so the rule applies from the next start.
func (h *TelemetryHandler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	if h.thresholds == nil {
		http.Error(w, "Threshold updates are not available", http.StatusNotImplemented)
		return
	}
	param := telemetry.Parameter(r.PathValue("parameter"))
	current, err := h.engine.Catalog().Get(param)
	if err != nil {
		http.Error(w, "Unknown parameter", http.StatusNotFound)
		return
	}

	var update struct {
		Warning    *float64 `json:"warning"`
		Critical   *float64 `json:"critical"`
		Favourable *float64 `json:"favourable"`
	}
	if !decodeBody(w, r, &update) {
		return
	}
	current.Warning, current.Critical, current.Favourable = update.Warning, update.Critical, update.Favourable
	if err := current.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.thresholds.SaveRule(r.Context(), current); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, current)
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func filterFromRequest(r *http.Request) (models.ReadingFilter, error) {
	q := r.URL.Query()
	filter := models.ReadingFilter{
		Kind:        models.ReadingKind(r.PathValue("kind")),
		VehicleID:   q.Get("vehicle_id"),
		DeviceID:    q.Get("device_id"),
		PlateNumber: q.Get("plate_number"),
		Period:      models.StatisticsPeriod(q.Get("period")),
	}
	for name, dst := range map[string]*time.Time{"start": &filter.Start, "end": &filter.End} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, badRequest(name + " must be an RFC3339 time")
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, badRequest("limit must be an integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func (e badRequest) Unwrap() error { return telemetry.ErrValidation }

// writeError maps engine error classes to status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, telemetry.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.WithError(err).Error("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}
