package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// DefaultSchedule runs the sweep every quarter hour.
const DefaultSchedule = "@every 15m"

// Source is what the sweep reads from and writes to.
type Source interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	LatestReadingTimes(ctx context.Context) (map[string]time.Time, error)
	SaveAlerts(ctx context.Context, alerts []models.Alert) error
}

// OfflineMonitor raises DEVICE_OFFLINE alerts for vehicles whose devices
// stopped reporting. Vehicles that never reported are skipped.
type OfflineMonitor struct {
	source     Source
	alerts     *telemetry.AlertGenerator
	suppressor telemetry.Suppressor
	timeout    time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

// NewOfflineMonitor creates a monitor. suppressor may be nil.
func NewOfflineMonitor(source Source, alerts *telemetry.AlertGenerator, suppressor telemetry.Suppressor) *OfflineMonitor {
	return &OfflineMonitor{
		source:     source,
		alerts:     alerts,
		suppressor: suppressor,
		timeout:    time.Minute,
		now:        time.Now,
	}
}

// Sweep checks every vehicle once and returns the number of alerts saved.
func (m *OfflineMonitor) Sweep(ctx context.Context) (int, error) {
	vehicles, err := m.source.ListVehicles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list vehicles: %w", err)
	}
	latest, err := m.source.LatestReadingTimes(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest readings: %w", err)
	}

	now := m.now()
	var out []models.Alert
	for i := range vehicles {
		v := &vehicles[i]
		lastSeen, ok := latest[v.ID.Hex()]
		if !ok {
			continue
		}
		alerts, err := m.alerts.GenerateOffline(v, lastSeen, now)
		if err != nil {
			return 0, err
		}
		out = append(out, alerts...)
	}

	out, err = telemetry.SuppressAlerts(ctx, m.suppressor, out)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	if err := m.source.SaveAlerts(ctx, out); err != nil {
		telemetry.ReleaseAlerts(ctx, m.suppressor, out)
		return 0, fmt.Errorf("save offline alerts: %w", err)
	}
	for _, a := range out {
		log.WithFields(log.Fields{
			"vehicle_id": a.VehicleID,
			"severity":   a.Severity,
			"trigger":    a.TriggerValue,
		}).Warn(a.Title)
	}
	return len(out), nil
}

// Start schedules the sweep. An empty schedule uses DefaultSchedule.
func (m *OfflineMonitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		n, err := m.Sweep(ctx)
		if err != nil {
			log.WithError(err).Error("Offline sweep failed")
			return
		}
		log.WithField("alerts", n).Debug("Offline sweep finished")
	})
	if err != nil {
		return fmt.Errorf("schedule offline sweep %q: %w", schedule, err)
	}
	m.cron = c
	c.Start()
	log.WithField("schedule", schedule).Info("Offline sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *OfflineMonitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}
