package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Store is the persistence collaborator of the engine. Implementations
// wrap ErrNotFound when a referenced vehicle does not exist.
type Store interface {
	SaveReading(ctx context.Context, reading models.Reading) (models.Reading, error)
	FindVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicleStatus(ctx context.Context, vehicleID string, status models.VehicleStatus) error
	SaveAlerts(ctx context.Context, alerts []models.Alert) error
	QueryReadings(ctx context.Context, filter models.ReadingFilter) ([]models.Reading, error)
}

// Suppressor decides whether an alert may fire, e.g. to apply a cooldown
// per vehicle and alert type. The engine runs without one by default.
// Allow claims the slot for the pair; Release gives back a slot whose
// alert was never stored.
type Suppressor interface {
	Allow(ctx context.Context, vehicleID string, alertType models.AlertType) (bool, error)
	Release(ctx context.Context, vehicleID string, alertType models.AlertType) error
}

// SuppressAlerts drops the alerts s does not allow. On error every slot
// claimed so far is released. A nil s allows everything.
func SuppressAlerts(ctx context.Context, s Suppressor, alerts []models.Alert) ([]models.Alert, error) {
	if s == nil || len(alerts) == 0 {
		return alerts, nil
	}
	kept := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		ok, err := s.Allow(ctx, a.VehicleID, a.Type)
		if err != nil {
			ReleaseAlerts(ctx, s, kept)
			return nil, internalError("alert cooldown", err)
		}
		if ok {
			kept = append(kept, a)
		}
	}
	return kept, nil
}

// ReleaseAlerts frees the cooldown slots of alerts that could not be
// stored, so the next qualifying reading raises them again.
func ReleaseAlerts(ctx context.Context, s Suppressor, alerts []models.Alert) {
	if s == nil {
		return
	}
	for _, a := range alerts {
		if err := s.Release(ctx, a.VehicleID, a.Type); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"vehicle_id": a.VehicleID,
				"type":       a.Type,
			}).Warn("Failed to release alert cooldown")
		}
	}
}

// Stage names the steps of one ingestion run.
type Stage string

const (
	StageReceived      Stage = "RECEIVED"
	StageValidated     Stage = "VALIDATED"
	StagePersisted     Stage = "PERSISTED"
	StageClassified    Stage = "CLASSIFIED"
	StageAlerts        Stage = "ALERTS_EVALUATED"
	StageStatusUpdated Stage = "VEHICLE_STATUS_UPDATED"
	StageResponseBuilt Stage = "RESPONSE_BUILT"
)

// AlertSummary is the short form of an alert in an ingestion result.
type AlertSummary struct {
	Type     models.AlertType     `json:"type"`
	Title    string               `json:"title"`
	Severity models.AlertSeverity `json:"severity"`
}

// IngestionResult is returned for every successfully ingested reading.
type IngestionResult struct {
	IngestionID      string               `json:"ingestion_id"`
	Stored           models.Reading       `json:"stored"`
	LevelStatus      LevelStatus          `json:"level_status"`
	EfficiencyStatus EfficiencyStatus     `json:"efficiency_status,omitempty"`
	EstimatedRange   float64              `json:"estimated_range"`
	CostEstimate     float64              `json:"cost_estimate"`
	VehicleStatus    models.VehicleStatus `json:"vehicle_status,omitempty"`
	AlertsGenerated  int                  `json:"alerts_generated"`
	Alerts           []AlertSummary       `json:"alerts"`
	Recommendations  Recommendations      `json:"recommendations"`
}

// Engine runs the ingestion pipeline and statistics queries. It keeps no
// per-vehicle state and is safe for concurrent use. Two readings for the
// same vehicle processed at once race on the status write; the later write
// wins regardless of reading time.
type Engine struct {
	store      Store
	classifier *Classifier
	alerts     *AlertGenerator
	aggregator *Aggregator
	suppressor Suppressor
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSuppressor enables alert suppression.
func WithSuppressor(s Suppressor) Option {
	return func(e *Engine) { e.suppressor = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.alerts.now = now
	}
}

// NewEngine wires the engine components around one catalog.
func NewEngine(store Store, catalog *Catalog, estimates EstimateConfig, opts ...Option) *Engine {
	classifier := NewClassifier(catalog, estimates)
	e := &Engine{
		store:      store,
		classifier: classifier,
		alerts:     NewAlertGenerator(catalog),
		aggregator: NewAggregator(classifier),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the rules the engine evaluates against.
func (e *Engine) Catalog() *Catalog {
	return e.classifier.catalog
}

// Alerts returns the engine's alert generator.
func (e *Engine) Alerts() *AlertGenerator {
	return e.alerts
}

// RecordReading runs one reading through validation, persistence,
// classification, alerting and the vehicle status update. A failing step
// stops the run; earlier side effects are not rolled back, so a reading
// can be stored without its alerts.
func (e *Engine) RecordReading(ctx context.Context, reading models.Reading) (*IngestionResult, error) {
	id := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"ingestion_id": id,
		"vehicle_id":   reading.VehicleID,
		"kind":         reading.Kind,
	})
	stage := func(s Stage) { logger.WithField("stage", s).Debug("Ingestion stage") }
	stage(StageReceived)

	if reading.Timestamp.IsZero() {
		reading.Timestamp = e.now()
	}
	if err := ValidateReading(reading, e.classifier.catalog); err != nil {
		logger.WithError(err).Warn("Rejected reading")
		return nil, err
	}

	vehicle, err := e.store.FindVehicle(ctx, reading.VehicleID)
	if err != nil {
		return nil, internalError("find vehicle", err)
	}
	if vehicle == nil {
		return nil, fmt.Errorf("%w: vehicle %s", ErrNotFound, reading.VehicleID)
	}
	if reading.DeviceID != "" && len(vehicle.DeviceIDs) > 0 && !contains(vehicle.DeviceIDs, reading.DeviceID) {
		return nil, fmt.Errorf("%w: device %s is not registered to vehicle %s", ErrNotFound, reading.DeviceID, reading.VehicleID)
	}
	if reading.PlateNumber == "" {
		reading.PlateNumber = vehicle.PlateNumber
	}
	stage(StageValidated)

	stored, err := e.store.SaveReading(ctx, reading)
	if err != nil {
		logger.WithError(err).Error("Failed to persist reading")
		return nil, internalError("save reading", err)
	}
	stage(StagePersisted)

	classification, err := e.classifier.Classify(stored)
	if err != nil {
		return nil, err
	}
	stage(StageClassified)

	generated, err := e.alerts.Generate(stored, vehicle)
	if err != nil {
		return nil, err
	}
	alerts, err := SuppressAlerts(ctx, e.suppressor, generated)
	if err != nil {
		return nil, err
	}
	if len(alerts) > 0 {
		if err := e.store.SaveAlerts(ctx, alerts); err != nil {
			logger.WithError(err).Error("Failed to persist alerts")
			ReleaseAlerts(ctx, e.suppressor, alerts)
			return nil, internalError("save alerts", err)
		}
		for _, a := range alerts {
			logger.WithFields(log.Fields{"type": a.Type, "severity": a.Severity}).Info(a.Title)
		}
	}
	stage(StageAlerts)

	var status models.VehicleStatus
	if classification.UpdatesStatus {
		status = DeriveStatus(classification.Flags)
		if err := e.store.UpdateVehicleStatus(ctx, reading.VehicleID, status); err != nil {
			logger.WithError(err).Error("Failed to update vehicle status")
			return nil, internalError("update vehicle status", err)
		}
	}
	stage(StageStatusUpdated)

	result := &IngestionResult{
		IngestionID:      id,
		Stored:           stored,
		LevelStatus:      classification.LevelStatus,
		EfficiencyStatus: classification.EfficiencyStatus,
		EstimatedRange:   classification.EstimatedRange,
		CostEstimate:     classification.CostEstimate,
		VehicleStatus:    status,
		AlertsGenerated:  len(alerts),
		Alerts:           make([]AlertSummary, 0, len(alerts)),
		Recommendations:  buildRecommendations(classification, generated),
	}
	for _, a := range alerts {
		result.Alerts = append(result.Alerts, AlertSummary{Type: a.Type, Title: a.Title, Severity: a.Severity})
	}
	stage(StageResponseBuilt)
	return result, nil
}

// StatisticsReport wraps the per-kind statistics of one query.
type StatisticsReport struct {
	Kind     models.ReadingKind
	Fuel     *FuelStatistics
	Emission *EmissionStatistics
	GPS      *GPSStatistics
	OBD      *OBDStatistics
}

// Body returns the statistics value for the report's kind.
func (r *StatisticsReport) Body() interface{} {
	switch r.Kind {
	case models.KindFuel:
		return r.Fuel
	case models.KindEmission:
		return r.Emission
	case models.KindGPS:
		return r.GPS
	default:
		return r.OBD
	}
}

// Statistics validates the filter, queries the window and aggregates it.
// An empty window yields an all-zero report.
func (e *Engine) Statistics(ctx context.Context, filter models.ReadingFilter) (*StatisticsReport, error) {
	window, err := ResolveWindow(filter, e.now())
	if err != nil {
		return nil, err
	}
	filter.Start, filter.End = window.Start, window.End

	readings, err := e.store.QueryReadings(ctx, filter)
	if err != nil {
		return nil, internalError("query readings", err)
	}

	report := &StatisticsReport{Kind: filter.Kind}
	switch filter.Kind {
	case models.KindFuel:
		s, err := e.aggregator.Fuel(readings, window)
		if err != nil {
			return nil, err
		}
		report.Fuel = &s
	case models.KindEmission:
		s, err := e.aggregator.Emission(readings, window)
		if err != nil {
			return nil, err
		}
		report.Emission = &s
	case models.KindGPS:
		s, err := e.aggregator.GPS(readings, window)
		if err != nil {
			return nil, err
		}
		report.GPS = &s
	case models.KindOBD:
		s, err := e.aggregator.OBD(readings, window)
		if err != nil {
			return nil, err
		}
		report.OBD = &s
	}
	return report, nil
}

// ListReadings validates the filter and returns the matching readings,
// oldest first.
func (e *Engine) ListReadings(ctx context.Context, filter models.ReadingFilter) ([]models.Reading, error) {
	window, err := ResolveWindow(filter, e.now())
	if err != nil {
		return nil, err
	}
	filter.Start, filter.End = window.Start, window.End
	readings, err := e.store.QueryReadings(ctx, filter)
	if err != nil {
		return nil, internalError("query readings", err)
	}
	return sortedByTime(readings), nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
