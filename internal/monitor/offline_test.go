package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

var sweepTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Vehicle), args.Error(1)
}

func (m *MockSource) LatestReadingTimes(ctx context.Context) (map[string]time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]time.Time), args.Error(1)
}

func (m *MockSource) SaveAlerts(ctx context.Context, alerts []models.Alert) error {
	args := m.Called(ctx, alerts)
	return args.Error(0)
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, vehicleID string, t models.AlertType) (bool, error) {
	return false, nil
}

func (denyAll) Release(ctx context.Context, vehicleID string, t models.AlertType) error {
	return nil
}

// onceCooldown lets each vehicle alert once until its slot is released.
type onceCooldown struct {
	claimed  map[string]bool
	released []string
}

func (c *onceCooldown) Allow(ctx context.Context, vehicleID string, t models.AlertType) (bool, error) {
	if c.claimed[vehicleID] {
		return false, nil
	}
	c.claimed[vehicleID] = true
	return true, nil
}

func (c *onceCooldown) Release(ctx context.Context, vehicleID string, t models.AlertType) error {
	delete(c.claimed, vehicleID)
	c.released = append(c.released, vehicleID)
	return nil
}

func newTestMonitor(source Source, suppressor telemetry.Suppressor) *OfflineMonitor {
	m := NewOfflineMonitor(source, telemetry.NewAlertGenerator(telemetry.DefaultCatalog()), suppressor)
	m.now = func() time.Time { return sweepTime }
	return m
}

func TestOfflineMonitor_Sweep(t *testing.T) {
	offline := models.Vehicle{ID: primitive.NewObjectID(), OwnerID: "owner-1", PlateNumber: "RAA001A"}
	stale := models.Vehicle{ID: primitive.NewObjectID(), OwnerID: "owner-2", PlateNumber: "RAA002A"}
	fresh := models.Vehicle{ID: primitive.NewObjectID(), PlateNumber: "RAA003A"}
	silent := models.Vehicle{ID: primitive.NewObjectID(), PlateNumber: "RAA004A"}

	source := new(MockSource)
	source.On("ListVehicles", mock.Anything).Return([]models.Vehicle{offline, stale, fresh, silent}, nil)
	source.On("LatestReadingTimes", mock.Anything).Return(map[string]time.Time{
		offline.ID.Hex(): sweepTime.Add(-3 * time.Hour),
		stale.ID.Hex():   sweepTime.Add(-45 * time.Minute),
		fresh.ID.Hex():   sweepTime.Add(-5 * time.Minute),
	}, nil)

	var saved []models.Alert
	source.On("SaveAlerts", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).([]models.Alert)
	}).Return(nil)

	n, err := newTestMonitor(source, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, saved, 2)

	assert.Equal(t, models.AlertDeviceOffline, saved[0].Type)
	assert.Equal(t, models.SeverityCritical, saved[0].Severity)
	assert.Equal(t, "owner-1", saved[0].UserID)
	assert.Equal(t, "180.0 min", saved[0].TriggerValue)

	assert.Equal(t, models.SeverityWarning, saved[1].Severity)
	assert.Equal(t, stale.ID.Hex(), saved[1].VehicleID)
	source.AssertExpectations(t)
}

func TestOfflineMonitor_SweepNothingToSave(t *testing.T) {
	v := models.Vehicle{ID: primitive.NewObjectID()}
	source := new(MockSource)
	source.On("ListVehicles", mock.Anything).Return([]models.Vehicle{v}, nil)
	source.On("LatestReadingTimes", mock.Anything).Return(map[string]time.Time{v.ID.Hex(): sweepTime.Add(-4 * time.Hour)}, nil)

	n, err := newTestMonitor(source, denyAll{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	source.AssertNotCalled(t, "SaveAlerts", mock.Anything, mock.Anything)
}

func TestOfflineMonitor_SaveFailureReleasesCooldown(t *testing.T) {
	v := models.Vehicle{ID: primitive.NewObjectID(), PlateNumber: "RAA005A"}
	source := new(MockSource)
	source.On("ListVehicles", mock.Anything).Return([]models.Vehicle{v}, nil)
	source.On("LatestReadingTimes", mock.Anything).Return(map[string]time.Time{v.ID.Hex(): sweepTime.Add(-4 * time.Hour)}, nil)
	source.On("SaveAlerts", mock.Anything, mock.Anything).Return(errors.New("mongo down")).Once()
	source.On("SaveAlerts", mock.Anything, mock.Anything).Return(nil).Once()

	cooldown := &onceCooldown{claimed: map[string]bool{}}
	m := newTestMonitor(source, cooldown)

	_, err := m.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{v.ID.Hex()}, cooldown.released)

	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "alert fires again after the failed save")
	source.AssertExpectations(t)
}

func TestOfflineMonitor_SweepErrors(t *testing.T) {
	source := new(MockSource)
	source.On("ListVehicles", mock.Anything).Return([]models.Vehicle{}, errors.New("mongo down"))

	_, err := newTestMonitor(source, nil).Sweep(context.Background())
	assert.Error(t, err)
}

func TestOfflineMonitor_StartRejectsBadSchedule(t *testing.T) {
	m := newTestMonitor(new(MockSource), nil)
	assert.Error(t, m.Start("every now and then"))
	m.Stop()
}

func TestOfflineMonitor_StartStop(t *testing.T) {
	m := newTestMonitor(new(MockSource), nil)
	require.NoError(t, m.Start(""))
	m.Stop()
}
