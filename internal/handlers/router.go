package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// RouterConfig carries everything the HTTP routes are built from.
type RouterConfig struct {
	Auth            *AuthHandler
	Telemetry       *TelemetryHandler
	Vehicles        *VehicleHandler
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     *middleware.RateLimitMiddleware
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter registers the API routes behind authentication and rate
// limiting.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	guard := func(action string, h http.HandlerFunc) http.Handler {
		return cfg.AuthMiddleware.RequirePermission(action)(h)
	}

	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("POST /api/auth/login", cfg.Auth.Login)
	mux.HandleFunc("POST /api/auth/register", cfg.Auth.Register)
	mux.HandleFunc("GET /api/auth/profile", cfg.Auth.GetProfile)
	mux.Handle("POST /api/auth/device-token", guard(models.ActionIngestTelemetry, cfg.Auth.DeviceToken))

	if cfg.Vehicles != nil {
		mux.Handle("POST /api/vehicles", guard(models.ActionManageVehicles, cfg.Vehicles.Create))
		mux.Handle("GET /api/vehicles", guard(models.ActionViewTelemetry, cfg.Vehicles.List))
		mux.Handle("GET /api/vehicles/{id}", guard(models.ActionViewTelemetry, cfg.Vehicles.Get))
	}

	mux.Handle("POST /api/telemetry/{kind}", guard(models.ActionIngestTelemetry, cfg.Telemetry.Ingest))
	mux.Handle("GET /api/telemetry/{kind}", guard(models.ActionViewTelemetry, cfg.Telemetry.ListReadings))
	mux.Handle("GET /api/telemetry/{kind}/statistics", guard(models.ActionViewStatistics, cfg.Telemetry.Statistics))
	mux.Handle("GET /api/alerts", guard(models.ActionViewAlerts, cfg.Telemetry.Alerts))
	mux.Handle("GET /api/thresholds", guard(models.ActionViewThresholds, cfg.Telemetry.Thresholds))
	mux.Handle("PUT /api/thresholds/{parameter}", guard(models.ActionManageThresholds, cfg.Telemetry.UpdateThreshold))

	var h http.Handler = mux
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = cfg.RateLimiter.RateLimit(cfg.RateLimit, cfg.RateLimitWindow)(h)
	}
	return cfg.AuthMiddleware.Authenticate(h)
}
