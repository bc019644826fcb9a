package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-telemetry/internal/auth"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

func tokenFor(t *testing.T, s *auth.Service, role models.Role) string {
	t.Helper()
	token, err := s.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "testuser", Role: role})
	assert.NoError(t, err)
	return token
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService := auth.NewService("test-secret", time.Hour)
	middleware := NewAuthMiddleware(authService)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/telemetry/fuel", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, models.RoleOwner))
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetUserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "testuser", claims.Username)
			assert.Equal(t, models.RoleOwner, claims.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("device token", func(t *testing.T) {
		token, err := authService.GenerateDeviceToken("owner-1", "dev-7")
		assert.NoError(t, err)
		req := httptest.NewRequest("POST", "/api/telemetry/gps", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var got *models.Claims
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = GetUserFromContext(r.Context())
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		if assert.NotNil(t, got) {
			assert.Equal(t, "dev-7", got.DeviceID)
		}
	})

	for name, header := range map[string]string{
		"missing authorization header": "",
		"invalid token":                "Bearer invalid-token",
		"wrong scheme":                 "Basic abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/telemetry/fuel", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.False(t, handlerCalled)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	t.Run("skip auth path", func(t *testing.T) {
		for _, path := range []string{"/api/auth/login", "/health"} {
			req := httptest.NewRequest("POST", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled, path)
		}
	})
}

func TestAuthMiddleware_RequirePermission(t *testing.T) {
	middleware := NewAuthMiddleware(auth.NewService("test-secret", time.Hour))

	tests := []struct {
		name     string
		claims   *models.Claims
		action   string
		wantCode int
	}{
		{"device may ingest", &models.Claims{Role: models.RoleDevice, DeviceID: "dev-1"}, models.ActionIngestTelemetry, http.StatusOK},
		{"device may not read statistics", &models.Claims{Role: models.RoleDevice, DeviceID: "dev-1"}, models.ActionViewStatistics, http.StatusForbidden},
		{"viewer may read statistics", &models.Claims{Role: models.RoleViewer}, models.ActionViewStatistics, http.StatusOK},
		{"viewer may not ingest", &models.Claims{Role: models.RoleViewer}, models.ActionIngestTelemetry, http.StatusForbidden},
		{"manager may not manage users", &models.Claims{Role: models.RoleManager}, models.ActionManageUsers, http.StatusForbidden},
		{"no claims", nil, models.ActionViewAlerts, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/alerts", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			middleware.RequirePermission(tt.action)(handler).ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	middleware.now = func() time.Time { return now }

	calls := 0
	handler := middleware.RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	serve := func(remote string, claims *models.Claims) int {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = remote
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve("192.168.1.2:12345", nil))
	assert.Equal(t, http.StatusTooManyRequests, serve("192.168.1.2:12345", nil))
	assert.Equal(t, http.StatusOK, serve("192.168.1.3:12345", nil), "other IPs have their own budget")

	device := &models.Claims{Role: models.RoleDevice, DeviceID: "dev-1"}
	assert.Equal(t, http.StatusOK, serve("192.168.1.2:12345", device), "principals are keyed separately from IPs")
	assert.Equal(t, http.StatusTooManyRequests, serve("192.168.1.9:1", device))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusOK, serve("192.168.1.2:12345", nil), "window slides")
	assert.Equal(t, 4, calls)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

func TestGetUserFromContext(t *testing.T) {
	claims := &models.Claims{
		UserID:   "test-id",
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	retrieved, ok := GetUserFromContext(WithClaims(context.Background(), claims))
	assert.True(t, ok)
	assert.Equal(t, claims, retrieved)

	_, ok = GetUserFromContext(context.Background())
	assert.False(t, ok)
}
